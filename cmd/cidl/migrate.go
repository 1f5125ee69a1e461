package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/cidl/internal/cli"
	"github.com/pthm/cidl/internal/prompt"
	"github.com/pthm/cidl/pkg/analyzer"
	"github.com/pthm/cidl/pkg/migrator"
	"github.com/pthm/cidl/pkg/schema"
)

var (
	migrateName    string
	migrateSchema  string
	migrateDir     string
	migrateDialect string
	migrateDB      string
	migrateApply   bool
	migrateDryRun  bool
	migrateForce   bool
	migrateRenames string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Write or apply the next migration",
	Long: `Diff the CIDL document against the previous revision.

Without a database the previous revision is the latest snapshot in the
migrations directory, and the next NNNN_<name>.sql/.json pair is written there.
With --db (or --apply and a configured database) the previous revision is read
from the cidl_migrations table and the statements are applied in one transaction.

Entities whose content is unchanged but whose name differs are renamed. When
more than one removed entity matches, the rename policy decides: prompt asks,
never treats the entity as new, fail stops.`,
	Example: `  # Write the first migration
  cidl migrate --name init

  # Preview the next migration
  cidl migrate --name add_toys --dry-run

  # Apply to a database
  cidl migrate --db file:pets.db --name add_toys

  # Non-interactive run in CI
  cidl migrate --name add_toys --renames fail`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaPath := resolveString(migrateSchema, cfg.Schema)
		decisions, err := decisionSource(resolveString(migrateRenames, cfg.Migrations.Renames))
		if err != nil {
			return err
		}

		s, _, err := loadSchema(schemaPath)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if migrateDB != "" || migrateApply {
			return runMigrateDB(ctx, cmd.OutOrStdout(), s, decisions)
		}
		return runMigrateFiles(cmd.OutOrStdout(), s, decisions)
	},
}

func init() {
	f := migrateCmd.Flags()
	f.StringVar(&migrateName, "name", "", "migration name")
	f.StringVar(&migrateSchema, "schema", "", "path to the CIDL document")
	f.StringVar(&migrateDir, "dir", "", "migrations directory")
	f.StringVar(&migrateDialect, "dialect", "", "dialect of written files: sqlite or postgres")
	f.StringVar(&migrateDB, "db", "", "database URL; applies to the database instead of writing files")
	f.BoolVar(&migrateApply, "apply", false, "apply to the configured database")
	f.BoolVar(&migrateDryRun, "dry-run", false, "output migration SQL without writing or applying")
	f.BoolVar(&migrateForce, "force", false, "record a revision even if the schema is unchanged")
	f.StringVar(&migrateRenames, "renames", "", "rename policy: prompt, never or fail")
}

// classify maps migration failures to exit codes.
func classify(err error) error {
	if analyzer.IsSemanticErr(err) {
		return cli.SchemaParseError("analyzing schema", describe(err))
	}
	return cli.MigrationError("migration failed", err)
}

func runMigrateFiles(out io.Writer, s *schema.Schema, decisions migrator.DecisionSource) error {
	dir := resolveString(migrateDir, cfg.Migrations.Dir)
	dialectName := migrateDialect
	if dialectName == "" {
		var err error
		if dialectName, err = cfg.ResolvedDialect(); err != nil {
			return cli.ConfigError("migrations.dialect", err)
		}
	}
	dialect, err := migrator.DialectFor(dialectName)
	if err != nil {
		return cli.ConfigError("migrations.dialect", err)
	}

	prev, latest, err := migrator.LatestSnapshot(dir)
	if err != nil {
		return cli.MigrationError("reading latest snapshot", err)
	}

	next := schema.ToMigrationsAst(s)
	if prev != nil && prev.Hash == next.Hash && !migrateForce {
		if !quiet {
			prompt.Printf(out, prompt.Muted, "Schema unchanged since %04d_%s, no migration written.", latest.Seq, latest.Name)
		}
		return nil
	}

	plan, err := migrator.BuildPlan(prev, next, decisions, migrator.DiffOptions{Dialect: dialect, Logger: &log})
	if err != nil {
		return classify(err)
	}
	statements := plan.Statements(dialect)

	if migrateDryRun {
		_, _ = fmt.Fprint(out, migrator.FormatSQL(dialect, next.Hash, statements))
		return nil
	}

	name := migrateName
	if name == "" {
		if prev != nil {
			return cli.ConfigError("--name is required", nil)
		}
		name = "init"
	}

	mf, err := migrator.WriteMigration(dir, name, dialect, statements, next)
	if err != nil {
		return cli.MigrationError("writing migration", err)
	}
	log.Info().Str("sql", mf.SQLPath).Int("statements", len(statements)).Msg("migration written")

	if !quiet {
		prompt.Printf(out, prompt.OK, "Wrote %s", mf.SQLPath)
		printSummary(out, plan)
	}
	return nil
}

func runMigrateDB(ctx context.Context, out io.Writer, s *schema.Schema, decisions migrator.DecisionSource) error {
	db, dialect, err := openDB(ctx, migrateDB)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	opts := migrator.MigrateOptions{
		Name:      resolveString(migrateName, "migration"),
		Force:     migrateForce,
		Decisions: decisions,
	}
	if migrateDryRun {
		opts.DryRun = out
		if !quiet {
			_, _ = fmt.Fprintln(os.Stderr, "-- Dry-run mode: SQL will be output but not applied")
			_, _ = fmt.Fprintln(os.Stderr, "")
		}
	}

	m := migrator.NewMigrator(db, migrator.WithDialect(dialect), migrator.WithLogger(log))
	res, err := m.Migrate(ctx, schema.ToMigrationsAst(s), opts)
	if err != nil {
		return classify(err)
	}

	if migrateDryRun || quiet {
		return nil
	}
	if res.Skipped {
		prompt.Printf(out, prompt.Muted, "Schema unchanged, migration skipped.")
		prompt.Printf(out, prompt.Muted, "Use --force to record a revision anyway.")
		return nil
	}
	prompt.Printf(out, prompt.OK, "Applied %d statement(s).", len(res.Statements))
	printSummary(out, res.Plan)
	return nil
}

func printSummary(out io.Writer, p *migrator.Plan) {
	lines := p.Summary()
	if len(lines) == 0 {
		prompt.Printf(out, prompt.Muted, "  no changes")
		return
	}
	for _, line := range lines {
		_, _ = fmt.Fprintf(out, "  %s\n", line)
	}
}
