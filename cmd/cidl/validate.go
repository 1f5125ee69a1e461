package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pthm/cidl/internal/prompt"
)

var validateSchema string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a CIDL document",
	Long:  `Parse a CIDL document and run semantic analysis on it.`,
	Example: `  # Validate a specific document
  cidl validate --schema build/cidl.json

  # Validate using config file settings
  cidl validate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaPath := resolveString(validateSchema, cfg.Schema)

		s, blobs, err := loadSchema(schemaPath)
		if err != nil {
			return err
		}

		if quiet {
			return nil
		}
		out := cmd.OutOrStdout()
		prompt.Printf(out, prompt.OK, "Schema is valid. Found %d models:", len(s.Models))
		for _, m := range s.Models {
			_, _ = fmt.Fprintf(out, "  - %s (%d attributes, %d navigation properties, %d data sources)\n",
				m.Name, len(m.Attributes), len(m.NavigationProperties), len(m.DataSources))
		}
		if len(s.Poos) > 0 || len(s.Services) > 0 {
			_, _ = fmt.Fprintf(out, "  %d plain old objects, %d services\n", len(s.Poos), len(s.Services))
		}
		if blobs.Len() > 0 {
			prompt.Printf(out, prompt.Muted, "Blob-bearing: %s", strings.Join(blobs.Names(), ", "))
		}
		prompt.Printf(out, prompt.Muted, "Schema hash: %d", s.Hash)
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateSchema, "schema", "", "path to the CIDL document")
}
