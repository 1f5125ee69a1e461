package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/cidl/internal/cli"
)

// project creates a repository root holding cidl.json and switches to it.
func project(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))

	doc, err := os.ReadFile("../../pkg/parser/testdata/petstore.json")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "cidl.json"), doc, 0o644))

	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(oldCwd) })
	require.NoError(t, os.Chdir(root))
	return root
}

// run executes the CLI with fresh flag state.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgFile, verbose, quiet = "", 0, false
	validateSchema = ""
	migrateName, migrateSchema, migrateDir, migrateDialect, migrateDB, migrateRenames = "", "", "", "", "", ""
	migrateApply, migrateDryRun, migrateForce = false, false, false
	statusDB, statusSchema, statusDir = "", "", ""
	doctorDB, doctorSchema, doctorDir, doctorVerbose = "", "", "", false
	queryDB, queryID = "", ""
	configShowSource = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *cli.ExitError
	require.ErrorAs(t, err, &exitErr)
	return exitErr.Code
}

func TestValidate(t *testing.T) {
	project(t)

	out, err := run(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema is valid. Found 2 models")
	assert.Contains(t, out, "- Dog (2 attributes, 1 navigation properties, 1 data sources)")
	assert.Contains(t, out, "Blob-bearing: ")
}

func TestValidate_SemanticError(t *testing.T) {
	root := project(t)
	doc := `{"version":"0.1.0","project_name":"x","models":{"Dog":{"name":"Dog",
"primary_key":{"name":"id","cidl_type":"Integer"},
"attributes":[{"name":"ownerId","cidl_type":"Integer","foreign_key_reference":"Person"}],
"navigation_properties":[]}}}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.json"), []byte(doc), 0o644))

	_, err := run(t, "validate", "--schema", "broken.json")
	require.Error(t, err)
	assert.Equal(t, cli.ExitSchemaParse, exitCode(t, err))

	_, err = run(t, "validate", "--schema", "missing.json")
	assert.Equal(t, cli.ExitSchemaParse, exitCode(t, err))
}

func TestMigrate_Files(t *testing.T) {
	root := project(t)

	out, err := run(t, "migrate", "--renames", "never")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join("migrations", "0001_init.sql"))
	assert.Contains(t, out, "create table Person")

	sql, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.sql"))
	require.NoError(t, err)
	assert.Contains(t, string(sql), `CREATE TABLE "Person" (`)
	assert.Contains(t, string(sql), "-- Dialect: sqlite")

	out, err = run(t, "migrate", "--renames", "never")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema unchanged since 0001_init")

	out, err = run(t, "migrate", "--dry-run", "--force", "--dialect", "postgres")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "-- cidl migration\n-- Dialect: postgres"))
	assert.Contains(t, out, "-- no changes")

	files, err := filepath.Glob(filepath.Join(root, "migrations", "*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	out, err = run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "0001_init")
	assert.Contains(t, out, "up to date")

	_, err = run(t, "migrate", "--renames", "sometimes")
	assert.Equal(t, cli.ExitConfig, exitCode(t, err))
}

func TestMigrate_DatabaseAndQuery(t *testing.T) {
	root := project(t)
	dsn := "file:" + filepath.Join(root, "pets.db")

	out, err := run(t, "query", "Person", "withDogs", "--db", dsn)
	require.Error(t, err)
	assert.Equal(t, cli.ExitMigration, exitCode(t, err))
	assert.Empty(t, out)

	out, err = run(t, "migrate", "--db", dsn, "--name", "init", "--renames", "fail")
	require.NoError(t, err)
	assert.Contains(t, out, "Applied")

	out, err = run(t, "query", "Person", "withDogs", "--db", dsn)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)

	out, err = run(t, "query", "Dog", "withOwner", "--db", dsn, "--id", "1")
	require.NoError(t, err)
	assert.Equal(t, "null\n", out)

	out, err = run(t, "status", "--db", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, `Database:     "init"`)
	assert.Contains(t, out, "up to date")

	out, err = run(t, "doctor", "--db", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "All 2 views present")
}

func TestConfigShow(t *testing.T) {
	root := project(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "cidl.yaml"), []byte("migrations:\n  dir: db/migrations\n"), 0o644))

	out, err := run(t, "config", "show", "--source")
	require.NoError(t, err)
	assert.Contains(t, out, "Config file: ")
	assert.Contains(t, out, "schema: cidl.json")
	assert.Contains(t, out, "dir: db/migrations")
	assert.Contains(t, out, "driver: sqlite")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "cidl "))
}
