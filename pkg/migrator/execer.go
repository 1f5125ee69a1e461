package migrator

import (
	"context"
	"database/sql"
)

// Execer is the minimal interface needed to read the tracking table and
// apply migration statements. Implemented by *sql.DB, *sql.Tx, and *sql.Conn.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
