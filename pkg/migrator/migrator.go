package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pthm/cidl/pkg/schema"
)

// TrackingTable records every applied revision with its snapshot.
const TrackingTable = "cidl_migrations"

// MigrateOptions controls migration behavior.
type MigrateOptions struct {
	// Name labels the revision in the tracking table.
	Name string

	// DryRun outputs SQL to the provided writer without applying changes to the database.
	// If nil, migration proceeds normally.
	DryRun io.Writer

	// Force records the revision even when the schema hash is unchanged.
	Force bool

	// Decisions resolves ambiguous renames. Defaults to FailOnDilemma.
	Decisions DecisionSource
}

// MigrationRecord represents a row in the cidl_migrations table.
type MigrationRecord struct {
	ID         int64
	Name       string
	SchemaHash uint64
	Snapshot   *schema.MigrationsAst
	AppliedAt  string
}

// Result describes what Migrate did.
type Result struct {
	// Skipped is set when the database already matched the schema.
	Skipped bool

	// Previous is the revision the statements were diffed against, nil for
	// the first migration.
	Previous *MigrationRecord

	Plan       *Plan
	Statements []string
}

// Migrator applies schema revisions to a database and tracks them.
// The migrator is idempotent - safe to run on every application startup.
//
// # Usage
//
//	s, _ := parser.ParseSchema("cidl.json")
//	m := migrator.NewMigrator(db, migrator.WithDialect(migrator.SQLite{}))
//	res, err := m.Migrate(ctx, schema.ToMigrationsAst(s), migrator.MigrateOptions{Name: "init"})
//
// The previous revision is read from the tracking table, diffed against the
// new snapshot, and the statements plus the new tracking row are applied in
// one transaction when the Execer supports BeginTx.
type Migrator struct {
	db      Execer
	dialect Dialect
	log     zerolog.Logger
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithDialect selects the DDL dialect. Defaults to SQLite.
func WithDialect(d Dialect) Option {
	return func(m *Migrator) { m.dialect = d }
}

// WithLogger sets the logger. Defaults to a disabled logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Migrator) { m.log = l }
}

// NewMigrator creates a new schema migrator.
// The Execer is typically *sql.DB but can be *sql.Tx for testing.
func NewMigrator(db Execer, opts ...Option) *Migrator {
	m := &Migrator{db: db, dialect: SQLite{}, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dialect returns the dialect statements are rendered in.
func (m *Migrator) Dialect() Dialect {
	return m.dialect
}

func (m *Migrator) placeholder(n int) string {
	if m.dialect.Name() == "postgres" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (m *Migrator) migrationsDDL() string {
	if m.dialect.Name() == "postgres" {
		return `CREATE TABLE IF NOT EXISTS cidl_migrations (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  schema_hash TEXT NOT NULL,
  snapshot TEXT NOT NULL,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`
	}
	return `CREATE TABLE IF NOT EXISTS cidl_migrations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  schema_hash TEXT NOT NULL,
  snapshot TEXT NOT NULL,
  applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);`
}

func (m *Migrator) trackingTableExists(ctx context.Context, db Execer) (bool, error) {
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'cidl_migrations'`
	if m.dialect.Name() == "postgres" {
		query = `
		SELECT COUNT(*) FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relname = 'cidl_migrations'
		AND n.nspname = current_schema()`
	}
	var n int
	if err := db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return false, fmt.Errorf("checking %s table: %w", TrackingTable, err)
	}
	return n > 0, nil
}

// LastMigration returns the most recent migration record, or nil if none exists.
func (m *Migrator) LastMigration(ctx context.Context) (*MigrationRecord, error) {
	return m.lastMigration(ctx, m.db)
}

func (m *Migrator) lastMigration(ctx context.Context, db Execer) (*MigrationRecord, error) {
	exists, err := m.trackingTableExists(ctx, db)
	if err != nil || !exists {
		return nil, err
	}

	var (
		rec      MigrationRecord
		hash     string
		snapshot string
	)
	err = db.QueryRowContext(ctx, `
		SELECT id, name, schema_hash, snapshot, applied_at
		FROM cidl_migrations
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&rec.ID, &rec.Name, &hash, &snapshot, &rec.AppliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last migration: %w", err)
	}

	rec.SchemaHash, err = strconv.ParseUint(hash, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: migration %d: invalid schema hash %q", ErrMigration, rec.ID, hash)
	}
	rec.Snapshot, err = DecodeSnapshot([]byte(snapshot))
	if err != nil {
		return nil, fmt.Errorf("migration %d: %w", rec.ID, err)
	}
	return &rec, nil
}

// Plan diffs the last applied revision against next without touching the
// database.
func (m *Migrator) Plan(ctx context.Context, next *schema.MigrationsAst, decisions DecisionSource) (*Plan, *MigrationRecord, error) {
	last, err := m.LastMigration(ctx)
	if err != nil {
		return nil, nil, err
	}
	var prev *schema.MigrationsAst
	if last != nil {
		prev = last.Snapshot
	}
	p, err := BuildPlan(prev, next, decisions, DiffOptions{Dialect: m.dialect, Logger: &m.log})
	if err != nil {
		return nil, nil, err
	}
	return p, last, nil
}

// Migrate brings the database to next. See MigrateOptions for dry-run and
// force behaviour.
func (m *Migrator) Migrate(ctx context.Context, next *schema.MigrationsAst, opts MigrateOptions) (*Result, error) {
	p, last, err := m.Plan(ctx, next, opts.Decisions)
	if err != nil {
		return nil, err
	}
	res := &Result{Previous: last, Plan: p, Statements: p.Statements(m.dialect)}

	if last != nil && last.SchemaHash == next.Hash && !opts.Force && opts.DryRun == nil {
		m.log.Info().Uint64("schema_hash", next.Hash).Msg("schema unchanged, skipping migration")
		res.Skipped = true
		return res, nil
	}

	name := opts.Name
	if name == "" {
		name = "migration"
	}
	snapshot, err := EncodeSnapshot(next)
	if err != nil {
		return nil, err
	}

	if opts.DryRun != nil {
		m.outputDryRun(opts.DryRun, last, next, name, res.Statements, snapshot)
		return res, nil
	}

	apply := func(db Execer) error {
		if err := m.applyMigrationsDDL(ctx, db); err != nil {
			return err
		}
		for i, stmt := range res.Statements {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("applying statement %d: %w\n%s", i+1, err, stmt)
			}
		}
		return m.insertMigrationRecord(ctx, db, name, next.Hash, snapshot)
	}

	// Apply everything atomically
	if txer, ok := m.db.(interface {
		BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	}); ok {
		tx, err := txer.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("starting transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := apply(tx); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing migration: %w", err)
		}
	} else {
		// Fall back to non-transactional (for *sql.Conn)
		if err := apply(m.db); err != nil {
			return nil, err
		}
	}

	m.log.Info().
		Str("name", name).
		Int("statements", len(res.Statements)).
		Uint64("schema_hash", next.Hash).
		Msg("migration applied")
	return res, nil
}

// Status compares the database's last revision with a snapshot.
type Status struct {
	// Tracked is set once the tracking table holds at least one revision.
	Tracked bool

	Last *MigrationRecord

	// UpToDate is set when the last revision has the snapshot's hash.
	UpToDate bool
}

// GetStatus returns the current migration status.
// Useful for health checks or migration diagnostics.
func (m *Migrator) GetStatus(ctx context.Context, next *schema.MigrationsAst) (*Status, error) {
	last, err := m.LastMigration(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{Tracked: last != nil, Last: last}
	st.UpToDate = last != nil && next != nil && last.SchemaHash == next.Hash
	return st, nil
}

// applyMigrationsDDL creates the cidl_migrations table if it doesn't exist.
func (m *Migrator) applyMigrationsDDL(ctx context.Context, db Execer) error {
	if _, err := db.ExecContext(ctx, m.migrationsDDL()); err != nil {
		return fmt.Errorf("applying migrations DDL: %w", err)
	}
	return nil
}

// insertMigrationRecord records the migration in cidl_migrations.
func (m *Migrator) insertMigrationRecord(ctx context.Context, db Execer, name string, hash uint64, snapshot []byte) error {
	query := fmt.Sprintf(`INSERT INTO cidl_migrations (name, schema_hash, snapshot) VALUES (%s, %s, %s)`,
		m.placeholder(1), m.placeholder(2), m.placeholder(3))
	if _, err := db.ExecContext(ctx, query, name, strconv.FormatUint(hash, 10), string(snapshot)); err != nil {
		return fmt.Errorf("inserting migration record: %w", err)
	}
	return nil
}

// outputDryRun writes the migration SQL to the provided writer.
func (m *Migrator) outputDryRun(w io.Writer, last *MigrationRecord, next *schema.MigrationsAst, name string, statements []string, snapshot []byte) {
	previous := "none"
	if last != nil {
		previous = fmt.Sprintf("%d (%s)", last.SchemaHash, last.Name)
	}

	// Header
	_, _ = fmt.Fprintf(w, "-- cidl migration (dry-run)\n")
	_, _ = fmt.Fprintf(w, "-- Dialect: %s\n", m.dialect.Name())
	_, _ = fmt.Fprintf(w, "-- Previous schema hash: %s\n", previous)
	_, _ = fmt.Fprintf(w, "-- Schema hash: %d\n", next.Hash)
	_, _ = fmt.Fprintf(w, "\n")

	// Migrations DDL
	_, _ = fmt.Fprintf(w, "-- ============================================================\n")
	_, _ = fmt.Fprintf(w, "-- DDL: Migration Tracking Table\n")
	_, _ = fmt.Fprintf(w, "-- ============================================================\n\n")
	_, _ = fmt.Fprintf(w, "%s\n\n", m.migrationsDDL())

	// Schema changes
	_, _ = fmt.Fprintf(w, "-- ============================================================\n")
	_, _ = fmt.Fprintf(w, "-- Schema Changes (%d statements)\n", len(statements))
	_, _ = fmt.Fprintf(w, "-- ============================================================\n\n")
	for _, stmt := range statements {
		_, _ = fmt.Fprintf(w, "%s\n\n", stmt)
	}

	// Migration record
	_, _ = fmt.Fprintf(w, "-- ============================================================\n")
	_, _ = fmt.Fprintf(w, "-- Migration Record\n")
	_, _ = fmt.Fprintf(w, "-- ============================================================\n\n")
	_, _ = fmt.Fprintf(w, "INSERT INTO cidl_migrations (name, schema_hash, snapshot)\n")
	_, _ = fmt.Fprintf(w, "VALUES (%s, '%d', %s);\n", quoteLiteral(name), next.Hash, quoteLiteral(string(snapshot)))
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
