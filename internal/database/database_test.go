package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteDSN(t *testing.T) {
	_, variant := SQLiteDriver()
	got := SQLiteDSN("app.db")
	assert.Contains(t, got, "app.db?")
	assert.Contains(t, got, "foreign_keys")

	assert.Contains(t, SQLiteDSN("file:app.db?mode=rwc"), "mode=rwc&")
	assert.Equal(t, "x.db?_pragma=foreign_keys(0)", SQLiteDSN("x.db?_pragma=foreign_keys(0)"))
	assert.Contains(t, SQLiteDSN(""), ":memory:")
	assert.NotEmpty(t, variant)
}

func TestDialect(t *testing.T) {
	for driver, want := range map[string]string{"sqlite": "sqlite", "d1": "sqlite", "postgres": "postgres", "pgx": "postgres"} {
		got, err := Dialect(driver)
		require.NoError(t, err, driver)
		assert.Equal(t, want, got, driver)
	}
	_, err := Dialect("mysql")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestOpenAndScanRows(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.ExecContext(ctx, `CREATE TABLE dogs (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO dogs (id, name) VALUES (1, 'Rex'), (2, 'Fido')`)
	require.NoError(t, err)

	rows, err := db.QueryContext(ctx, `SELECT id, name FROM dogs ORDER BY id`)
	require.NoError(t, err)
	got, err := ScanRows(rows)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.EqualValues(t, 1, got[0]["id"])
	assert.Equal(t, "Rex", got[0]["name"])

	rows, err = db.QueryContext(ctx, `SELECT id FROM dogs WHERE id > 10`)
	require.NoError(t, err)
	got, err = ScanRows(rows)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}
