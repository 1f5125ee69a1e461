//go:build cgo_sqlite

// CGO SQLite driver using mattn/go-sqlite3.
// This is used when the cgo_sqlite build tag is set.
//
// Build with: go build -tags cgo_sqlite
// Requires: CGO_ENABLED=1
package database

import (
	_ "github.com/mattn/go-sqlite3" // registers "sqlite3"
)

const (
	sqliteDriverName  = "sqlite3"
	sqliteDriverType  = "cgo"
	sqliteForeignKeys = "_foreign_keys=on"
)
