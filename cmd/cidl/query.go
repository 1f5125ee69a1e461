package main

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/pthm/cidl/internal/cli"
	"github.com/pthm/cidl/pkg/migrator"
	"github.com/pthm/cidl/pkg/orm"
	"github.com/pthm/cidl/pkg/schema"
)

var (
	queryDB string
	queryID string
)

var queryCmd = &cobra.Command{
	Use:   "query <Model> <DataSource>",
	Short: "Print a data source as JSON",
	Long: `Select from a data source view and print the materialized objects.
Models and include trees come from the database's last applied revision.`,
	Example: `  # Every person with their dogs
  cidl query Person withDogs --db file:pets.db

  # One dog with its owner
  cidl query Dog withOwner --id 12`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		db, dialect, err := openDB(ctx, queryDB)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		ast, err := appliedRevision(ctx, db, dialect)
		if err != nil {
			return err
		}

		model, dataSource := args[0], args[1]
		var result any
		if queryID == "" {
			result, err = orm.QueryDataSource(ctx, db, dialect, ast, model, dataSource)
		} else {
			var id any
			if id, err = orm.ParseKey(ast, model, queryID); err == nil {
				result, err = orm.GetDataSource(ctx, db, dialect, ast, model, dataSource, id)
			}
		}
		if err != nil {
			return cli.GeneralError("querying "+migrator.ViewName(model, dataSource), err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	f := queryCmd.Flags()
	f.StringVar(&queryDB, "db", "", "database URL")
	f.StringVar(&queryID, "id", "", "primary key of a single root object")
}

// appliedRevision returns the snapshot of the last migration applied to db.
func appliedRevision(ctx context.Context, db *sql.DB, dialect migrator.Dialect) (*schema.MigrationsAst, error) {
	last, err := migrator.NewMigrator(db, migrator.WithDialect(dialect)).LastMigration(ctx)
	if err != nil {
		return nil, cli.MigrationError("reading last revision", err)
	}
	if last == nil {
		return nil, cli.MigrationError("no migration has been applied; run 'cidl migrate --db' first", nil)
	}
	return last.Snapshot, nil
}
