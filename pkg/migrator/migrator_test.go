package migrator_test

import (
	"bytes"
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/cidl/internal/database"
	"github.com/pthm/cidl/internal/testutil"
	"github.com/pthm/cidl/pkg/analyzer"
	"github.com/pthm/cidl/pkg/migrator"
	"github.com/pthm/cidl/pkg/schema"
	"github.com/pthm/cidl/pkg/schema/schematest"
)

func petModels(dogExtra ...func(*schematest.ModelBuilder)) []schema.Model {
	person := schematest.NewModel("Person").
		Attr("name", schema.Text).
		OneToMany("dogs", "Dog", "ownerId").
		DataSource("withDogs", schema.IncludeTree{"dogs": {}}).
		Build()
	dog := schematest.NewModel("Dog").
		Attr("name", schema.NullableOf(schema.Text)).
		FK("ownerId", schema.Integer, "Person").
		OneToOne("owner", "Person", "ownerId")
	for _, f := range dogExtra {
		f(dog)
	}
	return []schema.Model{person, dog.Build()}
}

func query(t *testing.T, db *sql.DB, q string, args ...any) []map[string]any {
	t.Helper()
	rows, err := db.QueryContext(context.Background(), q, args...)
	require.NoError(t, err)
	out, err := database.ScanRows(rows)
	require.NoError(t, err)
	return out
}

func TestMigrator_SQLiteLifecycle(t *testing.T) {
	ctx := context.Background()
	db := testutil.SQLiteDB(t)
	m := migrator.NewMigrator(db)

	last, err := m.LastMigration(ctx)
	require.NoError(t, err)
	assert.Nil(t, last, "no tracking table yet")

	v1 := schematest.Ast(petModels()...)
	res, err := m.Migrate(ctx, v1, migrator.MigrateOptions{Name: "init"})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Nil(t, res.Previous)
	assert.NotEmpty(t, res.Statements)

	last, err = m.LastMigration(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "init", last.Name)
	assert.Equal(t, v1.Hash, last.SchemaHash)
	assert.Equal(t, v1.Hash, last.Snapshot.Hash)

	_, err = db.ExecContext(ctx, `INSERT INTO "Person" ("id", "name") VALUES (1, 'Ann'), (2, 'Bo')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO "Dog" ("id", "name", "ownerId") VALUES (10, 'Rex', 1), (11, NULL, 1)`)
	require.NoError(t, err)

	rows := query(t, db, `SELECT * FROM "Person.withDogs" ORDER BY "id", "dogs.id"`)
	require.Len(t, rows, 3)
	assert.EqualValues(t, 10, rows[0]["dogs.id"])
	assert.Nil(t, rows[2]["dogs.id"], "Bo has no dogs")

	t.Run("unchanged schema is skipped", func(t *testing.T) {
		res, err := m.Migrate(ctx, v1, migrator.MigrateOptions{Name: "again"})
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Empty(t, res.Statements)
	})

	t.Run("force records the revision", func(t *testing.T) {
		res, err := m.Migrate(ctx, v1, migrator.MigrateOptions{Name: "forced", Force: true})
		require.NoError(t, err)
		assert.False(t, res.Skipped)
		assert.Empty(t, res.Statements)

		last, err := m.LastMigration(ctx)
		require.NoError(t, err)
		assert.Equal(t, "forced", last.Name)
	})

	t.Run("rebuild keeps rows", func(t *testing.T) {
		v2 := schematest.Ast(petModels(func(b *schematest.ModelBuilder) {
			b.Attr("tricks", schema.Integer)
		})...)
		// Dog.name becomes required: a rebuild on SQLite.
		v2.Models[1].Attributes[0].Type = schema.Text
		v2.Rehash()

		res, err := m.Migrate(ctx, v2, migrator.MigrateOptions{Name: "tricks"})
		require.NoError(t, err)
		require.Len(t, res.Plan.Alters, 1)
		assert.True(t, res.Plan.Alters[0].NeedsRebuild())

		dogs := query(t, db, `SELECT "id", "name", "tricks" FROM "Dog" ORDER BY "id"`)
		require.Len(t, dogs, 2)
		assert.Equal(t, "Rex", dogs[0]["name"])
		assert.Equal(t, "", dogs[1]["name"])
		assert.EqualValues(t, 0, dogs[1]["tricks"])

		st, err := m.GetStatus(ctx, v2)
		require.NoError(t, err)
		assert.True(t, st.Tracked)
		assert.True(t, st.UpToDate)

		st, err = m.GetStatus(ctx, v1)
		require.NoError(t, err)
		assert.False(t, st.UpToDate)
	})

	t.Run("column rename keeps data", func(t *testing.T) {
		prev, err := m.LastMigration(ctx)
		require.NoError(t, err)
		v3 := *prev.Snapshot
		v3.Models = append([]schema.Model(nil), prev.Snapshot.Models...)
		v3.Models[0].Attributes = []schema.Attribute{{Name: "fullName", Type: schema.Text}}
		v3.Rehash()

		_, err = m.Migrate(ctx, &v3, migrator.MigrateOptions{Name: "rename"})
		require.NoError(t, err)
		people := query(t, db, `SELECT "fullName" FROM "Person" WHERE "id" = 1`)
		require.Len(t, people, 1)
		assert.Equal(t, "Ann", people[0]["fullName"])
	})
}

func TestMigrator_RebuildParentWithChildRows(t *testing.T) {
	ctx := context.Background()
	db := testutil.SQLiteDB(t)
	m := migrator.NewMigrator(db)

	models := func(name schema.CidlType) []schema.Model {
		person := schematest.NewModel("Person").
			Attr("name", name).
			OneToMany("dogs", "Dog", "ownerId").
			ManyToMany("clubs", "Club", "Membership").
			Build()
		dog := schematest.NewModel("Dog").
			FK("ownerId", schema.Integer, "Person").
			OneToOne("owner", "Person", "ownerId").
			Build()
		club := schematest.NewModel("Club").
			Attr("title", schema.Text).
			ManyToMany("members", "Person", "Membership").
			Build()
		return []schema.Model{person, dog, club}
	}

	_, err := m.Migrate(ctx, schematest.Ast(models(schema.Text)...), migrator.MigrateOptions{Name: "init"})
	require.NoError(t, err)
	for _, q := range []string{
		`INSERT INTO "Person" ("id", "name") VALUES (1, 'Ann')`,
		`INSERT INTO "Dog" ("id", "ownerId") VALUES (10, 1)`,
		`INSERT INTO "Club" ("id", "title") VALUES (5, 'Chess')`,
		`INSERT INTO "Membership" ("Club_id", "Person_id") VALUES (5, 1)`,
	} {
		_, err := db.ExecContext(ctx, q)
		require.NoError(t, err)
	}

	// Person.name becomes optional, which SQLite can only do by rebuilding
	// the table that Dog and Membership reference.
	res, err := m.Migrate(ctx, schematest.Ast(models(schema.NullableOf(schema.Text))...), migrator.MigrateOptions{Name: "optional name"})
	require.NoError(t, err)
	require.Len(t, res.Plan.Alters, 1)
	assert.True(t, res.Plan.Alters[0].NeedsRebuild())

	people := query(t, db, `SELECT "id", "name" FROM "Person"`)
	require.Len(t, people, 1)
	assert.Equal(t, "Ann", people[0]["name"])
	assert.Len(t, query(t, db, `SELECT * FROM "Dog" WHERE "ownerId" = 1`), 1)
	assert.Len(t, query(t, db, `SELECT * FROM "Membership"`), 1, "junction rows survive the rebuild")

	refs := query(t, db, `SELECT "table" FROM pragma_foreign_key_list('Dog')`)
	require.Len(t, refs, 1)
	assert.Equal(t, "Person", refs[0]["table"])
	assert.Empty(t, query(t, db, `PRAGMA foreign_key_check`))

	var leftovers int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE name LIKE '\_cidl\_%' ESCAPE '\'`).Scan(&leftovers))
	assert.Zero(t, leftovers)

	_, err = db.ExecContext(ctx, `DELETE FROM "Person" WHERE "id" = 1`)
	assert.Error(t, err, "Dog still references Person")
}

func TestMigrator_DryRun(t *testing.T) {
	ctx := context.Background()
	db := testutil.SQLiteDB(t)
	m := migrator.NewMigrator(db)

	var buf bytes.Buffer
	res, err := m.Migrate(ctx, schematest.Ast(petModels()...), migrator.MigrateOptions{Name: "it's new", DryRun: &buf})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Statements)

	out := buf.String()
	assert.Contains(t, out, "-- cidl migration (dry-run)")
	assert.Contains(t, out, "-- Previous schema hash: none")
	assert.Contains(t, out, "CREATE TABLE IF NOT EXISTS cidl_migrations")
	assert.Contains(t, out, `CREATE TABLE "Person"`)
	assert.Contains(t, out, `CREATE VIEW "Person.withDogs"`)
	assert.Contains(t, out, "VALUES ('it''s new'")

	last, err := m.LastMigration(ctx)
	require.NoError(t, err)
	assert.Nil(t, last, "dry run leaves the database alone")
}

func TestMigrator_FailedStatementRollsBack(t *testing.T) {
	ctx := context.Background()
	db := testutil.SQLiteDB(t)
	_, err := db.ExecContext(ctx, `CREATE TABLE "Person" ("id" INTEGER PRIMARY KEY)`)
	require.NoError(t, err)

	_, err = migrator.NewMigrator(db).Migrate(ctx, schematest.Ast(petModels()...), migrator.MigrateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "applying statement 1")

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE name IN ('Dog', 'cidl_migrations')`).Scan(&n))
	assert.Zero(t, n)
}

func TestMigrate_FromFile(t *testing.T) {
	ctx := context.Background()
	db := testutil.SQLiteDB(t)

	res, err := migrator.Migrate(ctx, db, "../parser/testdata/petstore.json", migrator.MigrateOptions{Name: "petstore"})
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	_, err = db.ExecContext(ctx, `INSERT INTO "Person" ("id", "name") VALUES (1, 'Ann')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO "Dog" ("id", "name", "ownerId") VALUES (7, 'Rex', 1)`)
	require.NoError(t, err)

	rows := query(t, db, `SELECT * FROM "Dog.withOwner"`)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ann", rows[0]["owner.name"])

	res, err = migrator.Migrate(ctx, db, "../parser/testdata/petstore.json", migrator.MigrateOptions{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestMigrateFromString_SemanticError(t *testing.T) {
	doc := `{
  "version": "0.1.0",
  "project_name": "broken",
  "models": {
    "Dog": {
      "name": "Dog",
      "primary_key": { "name": "id", "cidl_type": "Integer" },
      "attributes": [ { "name": "ownerId", "cidl_type": "Integer", "foreign_key_reference": "Person" } ],
      "navigation_properties": []
    }
  }
}`
	_, err := migrator.MigrateFromString(context.Background(), testutil.SQLiteDB(t), doc, migrator.MigrateOptions{})
	require.Error(t, err)
	assert.True(t, analyzer.IsSemanticErr(err))
}
