//go:build integration

package migrator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/cidl/internal/testutil"
	"github.com/pthm/cidl/pkg/migrator"
	"github.com/pthm/cidl/pkg/schema"
	"github.com/pthm/cidl/pkg/schema/schematest"
)

func TestMigrator_Postgres(t *testing.T) {
	ctx := context.Background()
	db := testutil.PostgresDB(t)
	m := migrator.NewMigrator(db, migrator.WithDialect(migrator.Postgres{}))

	v1 := schematest.Ast(petModels()...)
	_, err := m.Migrate(ctx, v1, migrator.MigrateOptions{Name: "init"})
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO "Person" ("id", "name") VALUES (1, 'Ann')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO "Dog" ("id", "name", "ownerId") VALUES (10, NULL, 1)`)
	require.NoError(t, err)

	v2 := schematest.Ast(petModels()...)
	v2.Models[1].Attributes[0].Type = schema.Text
	v2.Models[1].Attributes[1].Name = "keeperId"
	v2.Models[1].NavigationProperties[0].Kind = schema.OneToOne{Reference: "keeperId"}
	v2.Models[0].NavigationProperties[0].Kind = schema.OneToMany{Reference: "keeperId"}
	v2.Rehash()

	res, err := m.Migrate(ctx, v2, migrator.MigrateOptions{Name: "keeper"})
	require.NoError(t, err)
	assert.Contains(t, res.Statements, `ALTER TABLE "Dog" RENAME CONSTRAINT "Dog_ownerId_fkey" TO "Dog_keeperId_fkey";`)

	rows := query(t, db, `SELECT * FROM "Person.withDogs"`)
	require.Len(t, rows, 1)
	assert.Equal(t, "", rows[0]["dogs.name"])
	assert.EqualValues(t, 1, rows[0]["dogs.keeperId"])

	res, err = m.Migrate(ctx, v2, migrator.MigrateOptions{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}
