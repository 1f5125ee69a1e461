package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pthm/cidl/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Info())
	},
}
