// Package database opens the databases cidl migrates and queries.
//
// Three drivers are registered:
//
//   - sqlite: pure Go modernc.org/sqlite by default, mattn/go-sqlite3 when
//     built with -tags cgo_sqlite (requires CGO_ENABLED=1)
//   - postgres: github.com/lib/pq
//   - pgx: github.com/jackc/pgx/v5 through its database/sql adapter
//
// Use Open instead of sql.Open so the SQLite build variant and its
// foreign key pragma are picked up.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/lib/pq"              // registers "postgres"
)

// Driver names accepted by Open.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
	Pgx      = "pgx"
)

// ErrUnknownDriver is returned for a driver name Open does not know.
var ErrUnknownDriver = errors.New("cidl/database: unknown driver")

// Open opens and pings a database.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	name, dsn, err := resolve(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	if name == sqliteDriverName {
		// One connection: in-memory databases are per connection, and
		// SQLite serializes writers anyway.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", driver, err)
	}
	return db, nil
}

// Dialect maps a driver name to the migrator dialect that speaks to it.
func Dialect(driver string) (string, error) {
	switch normalize(driver) {
	case SQLite:
		return "sqlite", nil
	case Postgres, Pgx:
		return "postgres", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
}

func normalize(driver string) string {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3", "d1":
		return SQLite
	case "postgres", "postgresql", "pq":
		return Postgres
	case "pgx":
		return Pgx
	}
	return driver
}

func resolve(driver, dsn string) (string, string, error) {
	switch normalize(driver) {
	case SQLite:
		return sqliteDriverName, SQLiteDSN(dsn), nil
	case Postgres:
		return "postgres", dsn, nil
	case Pgx:
		return "pgx", dsn, nil
	}
	return "", "", fmt.Errorf("%w: %q (expected sqlite, postgres or pgx)", ErrUnknownDriver, driver)
}

// SQLiteDSN adds the driver specific parameter enabling foreign keys to a
// SQLite path or URI, unless the caller already set one.
func SQLiteDSN(dsn string) string {
	if dsn == "" {
		dsn = ":memory:"
	}
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + sqliteForeignKeys
}

// SQLiteDriver reports the registered SQLite driver name and build variant.
func SQLiteDriver() (name, variant string) {
	return sqliteDriverName, sqliteDriverType
}

// ScanRows reads all rows from the result set and returns them as a slice
// of maps, where each key is the column name and each value is the Go-native
// representation of the DB value.
//
// The returned slice is always non-nil (empty slice on zero rows).
// ScanRows always closes the rows.
func ScanRows(rows *sql.Rows) ([]map[string]any, error) {
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading column names: %w", err)
	}

	result := make([]map[string]any, 0)
	for rows.Next() {
		// Allocate scan targets as *any so the driver can write any type.
		dest := make([]any, len(columns))
		destPtrs := make([]any, len(columns))
		for i := range dest {
			destPtrs[i] = &dest[i]
		}
		if err := rows.Scan(destPtrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = dest[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return result, nil
}
