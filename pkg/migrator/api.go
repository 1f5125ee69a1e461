package migrator

import (
	"context"
	"fmt"

	"github.com/pthm/cidl/pkg/analyzer"
	"github.com/pthm/cidl/pkg/parser"
	"github.com/pthm/cidl/pkg/schema"
)

// Migrate parses a CIDL document, validates it and applies it to the
// database in one operation. This is the recommended high-level API for most
// applications.
//
// The function is idempotent - safe to call on every application startup.
// Migration workflow:
//  1. Reads and parses the document at schemaPath
//  2. Runs semantic analysis
//  3. Diffs the snapshot against the last revision in cidl_migrations
//  4. Applies the statements and the new tracking row atomically
//
// Example usage on application startup:
//
//	if _, err := migrator.Migrate(ctx, db, "cidl.json", migrator.MigrateOptions{Name: "startup"}); err != nil {
//	    log.Fatalf("migration failed: %v", err)
//	}
//
// For embedded documents (no file I/O), use MigrateFromString.
func Migrate(ctx context.Context, db Execer, schemaPath string, opts MigrateOptions, migratorOpts ...Option) (*Result, error) {
	s, err := parser.ParseSchema(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	return MigrateSchema(ctx, db, s, opts, migratorOpts...)
}

// MigrateFromString parses document content and applies it to the database.
// Useful for testing or when the document is embedded in the application binary:
//
//	//go:embed cidl.json
//	var embeddedSchema string
//
//	_, err := migrator.MigrateFromString(ctx, db, embeddedSchema, migrator.MigrateOptions{})
func MigrateFromString(ctx context.Context, db Execer, content string, opts MigrateOptions, migratorOpts ...Option) (*Result, error) {
	s, err := parser.ParseSchemaString(content)
	if err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	return MigrateSchema(ctx, db, s, opts, migratorOpts...)
}

// MigrateSchema analyzes a parsed schema and applies it.
func MigrateSchema(ctx context.Context, db Execer, s *schema.Schema, opts MigrateOptions, migratorOpts ...Option) (*Result, error) {
	if _, err := analyzer.Analyze(s); err != nil {
		return nil, err
	}
	return NewMigrator(db, migratorOpts...).Migrate(ctx, schema.ToMigrationsAst(s), opts)
}
