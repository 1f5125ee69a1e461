//go:build !cgo_sqlite

package database

import (
	_ "modernc.org/sqlite" // registers "sqlite"
)

const (
	sqliteDriverName  = "sqlite"
	sqliteDriverType  = "purego"
	sqliteForeignKeys = "_pragma=foreign_keys(1)"
)
