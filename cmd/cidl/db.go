package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/pthm/cidl/internal/cli"
	"github.com/pthm/cidl/internal/database"
	"github.com/pthm/cidl/internal/logger"
	"github.com/pthm/cidl/internal/prompt"
	"github.com/pthm/cidl/pkg/analyzer"
	"github.com/pthm/cidl/pkg/migrator"
	"github.com/pthm/cidl/pkg/parser"
	"github.com/pthm/cidl/pkg/schema"
)

// resolveDSN gets the database DSN from flag or config.
func resolveDSN(flagDSN string) (string, error) {
	if flagDSN != "" {
		return flagDSN, nil
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return "", cli.ConfigError("database configuration", err)
	}
	if dsn == "" {
		return "", cli.ConfigError("database URL is required (use --db or set database.url in config)", nil)
	}
	return dsn, nil
}

// openDB connects with the configured driver and returns the matching
// dialect.
func openDB(ctx context.Context, flagDSN string) (*sql.DB, migrator.Dialect, error) {
	dsn, err := resolveDSN(flagDSN)
	if err != nil {
		return nil, nil, err
	}
	driver := driverFor(cfg.Database.Driver, dsn)
	name, err := database.Dialect(driver)
	if err != nil {
		return nil, nil, cli.ConfigError("database.driver", err)
	}
	dialect, err := migrator.DialectFor(name)
	if err != nil {
		return nil, nil, cli.ConfigError("database.driver", err)
	}

	db, err := database.Open(ctx, driver, dsn)
	if err != nil {
		return nil, nil, cli.DBConnectError("connecting to database", err)
	}
	log.Debug().Str("driver", driver).Str("dialect", dialect.Name()).Msg("database connected")
	return db, dialect, nil
}

// driverFor switches a SQLite driver to pgx when the DSN is a PostgreSQL URL.
func driverFor(driver, dsn string) string {
	if d, err := database.Dialect(driver); err == nil && d == database.SQLite &&
		(strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")) {
		return database.Pgx
	}
	return driver
}

// loadSchema parses and analyzes the document at path.
func loadSchema(path string) (*schema.Schema, analyzer.BlobSet, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, analyzer.BlobSet{}, cli.SchemaParseError(fmt.Sprintf("schema not found: %s", path), nil)
	}
	s, err := parser.ParseSchema(path)
	if err != nil {
		return nil, analyzer.BlobSet{}, cli.SchemaParseError("parsing schema", err)
	}
	blobs, err := analyzer.Analyze(s)
	if err != nil {
		return nil, analyzer.BlobSet{}, cli.SchemaParseError("analyzing schema", describe(err))
	}
	return s, blobs, nil
}

// describe appends the suggestion of a semantic error.
func describe(err error) error {
	se, ok := analyzer.AsSemanticError(err)
	if !ok || se.Suggestion() == "" {
		return err
	}
	return fmt.Errorf("%w\n  hint: %s", err, se.Suggestion())
}

// decisionSource resolves the rename policy. "prompt" asks on the terminal
// and falls back to line prompts when stdin is not one.
func decisionSource(policy string) (migrator.DecisionSource, error) {
	if policy == "" || policy == "prompt" {
		return prompt.New(prompt.WithAccessible(!logger.IsTerminal(os.Stdin))), nil
	}
	ds, err := migrator.RenamePolicy(policy)
	if err != nil {
		return nil, cli.ConfigError("migrations.renames", err)
	}
	return ds, nil
}
