package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pthm/cidl/internal/cli"
	"github.com/pthm/cidl/internal/doctor"
	"github.com/pthm/cidl/internal/prompt"
)

var (
	doctorDB      string
	doctorSchema  string
	doctorDir     string
	doctorVerbose bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks",
	Long:  `Run health checks on the schema document, migration files and database.`,
	Example: `  # Check files only
  cidl doctor

  # Check a database too, with verbose output
  cidl doctor --db file:pets.db --verbose`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaPath := resolveString(doctorSchema, cfg.Schema)
		dir := resolveString(doctorDir, cfg.Migrations.Dir)
		verboseFlag := resolveBool(doctorVerbose, cfg.Doctor.Verbose)

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		d := doctor.New(schemaPath, dir)
		if doctorDB != "" || cfg.HasDatabase() {
			db, dialect, err := openDB(ctx, doctorDB)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			d.WithDatabase(db, dialect)
		}

		if !quiet {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), prompt.Heading("cidl doctor - Health Check"))
		}

		report, err := d.Run(ctx)
		if err != nil {
			return cli.GeneralError("running doctor", err)
		}

		report.PrintStyled(cmd.OutOrStdout(), verboseFlag, styleStatus)

		if report.HasErrors() {
			return cli.GeneralError("health checks failed", nil)
		}
		return nil
	},
}

func init() {
	f := doctorCmd.Flags()
	f.StringVar(&doctorDB, "db", "", "database URL")
	f.StringVar(&doctorSchema, "schema", "", "path to the CIDL document")
	f.StringVar(&doctorDir, "dir", "", "migrations directory")
	f.BoolVar(&doctorVerbose, "verbose", false, "show detailed output")
}

func styleStatus(s doctor.Status, symbol string) string {
	switch s {
	case doctor.StatusPass:
		return prompt.OK(symbol)
	case doctor.StatusWarn:
		return prompt.Warn(symbol)
	case doctor.StatusFail:
		return prompt.Error(symbol)
	}
	return symbol
}
