package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pthm/cidl/internal/cli"
	"github.com/pthm/cidl/internal/prompt"
	"github.com/pthm/cidl/pkg/migrator"
	"github.com/pthm/cidl/pkg/schema"
)

var (
	statusDB     string
	statusSchema string
	statusDir    string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current schema status",
	Long: `Compare the schema hash of the CIDL document with the latest migration
snapshot and, when a database is configured, with the last applied revision.`,
	Example: `  # Check files only
  cidl status

  # Check a database too
  cidl status --db postgres://localhost/pets`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaPath := resolveString(statusSchema, cfg.Schema)
		dir := resolveString(statusDir, cfg.Migrations.Dir)

		s, _, err := loadSchema(schemaPath)
		if err != nil {
			return err
		}
		next := schema.ToMigrationsAst(s)
		out := cmd.OutOrStdout()

		_, _ = fmt.Fprintf(out, "Schema:       %s (hash %d)\n", schemaPath, next.Hash)
		if err := fileStatus(out, dir, next); err != nil {
			return err
		}

		if statusDB == "" && !cfg.HasDatabase() {
			return nil
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return dbStatus(ctx, out, next)
	},
}

func init() {
	f := statusCmd.Flags()
	f.StringVar(&statusDB, "db", "", "database URL")
	f.StringVar(&statusSchema, "schema", "", "path to the CIDL document")
	f.StringVar(&statusDir, "dir", "", "migrations directory")
}

func fileStatus(out io.Writer, dir string, next *schema.MigrationsAst) error {
	prev, latest, err := migrator.LatestSnapshot(dir)
	if err != nil {
		return cli.MigrationError("reading latest snapshot", err)
	}
	if latest == nil {
		_, _ = fmt.Fprintf(out, "Migrations:   %s\n", prompt.Warn("none in "+dir))
		return nil
	}
	state := prompt.OK("up to date")
	if prev.Hash != next.Hash {
		state = prompt.Warn("schema has unrecorded changes")
	}
	_, _ = fmt.Fprintf(out, "Migrations:   %04d_%s, %s\n", latest.Seq, latest.Name, state)
	return nil
}

func dbStatus(ctx context.Context, out io.Writer, next *schema.MigrationsAst) error {
	db, dialect, err := openDB(ctx, statusDB)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	st, err := migrator.NewMigrator(db, migrator.WithDialect(dialect)).GetStatus(ctx, next)
	if err != nil {
		return cli.GeneralError("getting status", err)
	}

	switch {
	case !st.Tracked:
		_, _ = fmt.Fprintf(out, "Database:     %s\n", prompt.Warn("no migration applied"))
	case st.UpToDate:
		_, _ = fmt.Fprintf(out, "Database:     %q at %s, %s\n", st.Last.Name, st.Last.AppliedAt, prompt.OK("up to date"))
	default:
		_, _ = fmt.Fprintf(out, "Database:     %q at %s, %s\n", st.Last.Name, st.Last.AppliedAt, prompt.Warn("behind the schema"))
	}
	return nil
}
