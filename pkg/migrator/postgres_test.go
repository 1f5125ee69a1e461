package migrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/cidl/pkg/schema"
	"github.com/pthm/cidl/pkg/schema/schematest"
)

func pgDiff(t *testing.T, prev, next *schema.MigrationsAst, decisions DecisionSource) []string {
	t.Helper()
	stmts, err := Diff(prev, next, decisions, DiffOptions{Dialect: Postgres{}})
	require.NoError(t, err)
	return stmts
}

func TestPostgres_CreateTables(t *testing.T) {
	stmts := pgDiff(t, nil, schematest.Ast(person().Attr("avatar", schema.NullableOf(schema.Blob)).Build(), dog("Person").Build()), nil)
	assert.Equal(t, []string{
		"CREATE TABLE \"Person\" (\n  \"id\" BIGINT PRIMARY KEY,\n  \"name\" TEXT NOT NULL,\n  \"avatar\" BYTEA\n);",
		"CREATE TABLE \"Dog\" (\n  \"id\" BIGINT PRIMARY KEY,\n  \"ownerId\" BIGINT NOT NULL,\n" +
			"  CONSTRAINT \"Dog_ownerId_fkey\" FOREIGN KEY (\"ownerId\") REFERENCES \"Person\" (\"id\")\n);",
	}, stmts)
}

func TestPostgres_DeferredKeys(t *testing.T) {
	a := schematest.NewModel("A").FK("bId", schema.NullableOf(schema.Integer), "B").Build()
	b := schematest.NewModel("B").FK("aId", schema.Integer, "A").Build()

	stmts := pgDiff(t, nil, schematest.Ast(a, b), nil)
	require.Len(t, stmts, 3)
	assert.Equal(t, "CREATE TABLE \"B\" (\n  \"id\" BIGINT PRIMARY KEY,\n  \"aId\" BIGINT NOT NULL\n);", stmts[0])
	assert.Contains(t, stmts[1], `CONSTRAINT "A_bId_fkey" FOREIGN KEY ("bId") REFERENCES "B" ("id")`)
	assert.Equal(t, `ALTER TABLE "B" ADD CONSTRAINT "B_aId_fkey" FOREIGN KEY ("aId") REFERENCES "A" ("id");`, stmts[2])
}

func TestPostgres_RenamesCarryConstraints(t *testing.T) {
	prev := schematest.Ast(person().Build(), dog("Person").Build())

	t.Run("table", func(t *testing.T) {
		next := schematest.Ast(person().Build(), schematest.NewModel("Hound").FK("ownerId", schema.Integer, "Person").Build())
		assert.Equal(t, []string{
			`ALTER TABLE "Dog" RENAME TO "Hound";`,
			`ALTER TABLE "Hound" RENAME CONSTRAINT "Dog_ownerId_fkey" TO "Hound_ownerId_fkey";`,
		}, pgDiff(t, prev, next, NewScripted()))
	})

	t.Run("column", func(t *testing.T) {
		next := schematest.Ast(person().Build(), dog("Person").Build())
		next.Models[1].Attributes[0].Name = "keeperId"
		next.Rehash()
		assert.Equal(t, []string{
			`ALTER TABLE "Dog" RENAME COLUMN "ownerId" TO "keeperId";`,
			`ALTER TABLE "Dog" RENAME CONSTRAINT "Dog_ownerId_fkey" TO "Dog_keeperId_fkey";`,
		}, pgDiff(t, prev, next, NewScripted()))
	})
}

func TestPostgres_AlterColumn(t *testing.T) {
	prev := schematest.Ast(schematest.NewModel("Person").Attr("nickname", schema.NullableOf(schema.Text)).Attr("score", schema.Integer).Build())
	next := schematest.Ast(schematest.NewModel("Person").Attr("nickname", schema.Text).Attr("score", schema.NullableOf(schema.Real)).Build())

	stmts := pgDiff(t, prev, next, nil)
	assert.Equal(t, []string{
		`UPDATE "Person" SET "nickname" = '' WHERE "nickname" IS NULL;`,
		`ALTER TABLE "Person" ALTER COLUMN "nickname" SET NOT NULL;`,
		`ALTER TABLE "Person" ALTER COLUMN "score" TYPE DOUBLE PRECISION USING "score"::DOUBLE PRECISION;`,
		`ALTER TABLE "Person" ALTER COLUMN "score" DROP NOT NULL;`,
	}, stmts)
}

func TestPostgres_AddForeignKeyColumn(t *testing.T) {
	prev := schematest.Ast(person().Build(), schematest.NewModel("Dog").Build())
	next := schematest.Ast(person().Build(), dog("Person").Build())

	stmts := pgDiff(t, prev, next, nil)
	assert.Equal(t, []string{
		`ALTER TABLE "Dog" ADD COLUMN "ownerId" BIGINT NOT NULL DEFAULT 0;`,
		`ALTER TABLE "Dog" ADD CONSTRAINT "Dog_ownerId_fkey" FOREIGN KEY ("ownerId") REFERENCES "Person" ("id");`,
	}, stmts)
}

func TestPostgres_DropTablesTogether(t *testing.T) {
	prev := schematest.Ast(person().Build(), dog("Person").Build())
	next := schematest.Ast(schematest.NewModel("Cat").Attr("lives", schema.Integer).Build())

	stmts := pgDiff(t, prev, next, nil)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], `CREATE TABLE "Cat"`)
	assert.Equal(t, `DROP TABLE "Dog", "Person";`, stmts[1])
}

func TestPostgres_Junction(t *testing.T) {
	student := schematest.NewModel("Student").ManyToMany("courses", "Course", "Enrollment").Build()
	course := schematest.NewModel("Course").ManyToMany("students", "Student", "Enrollment").Build()

	stmts := pgDiff(t, nil, schematest.Ast(student, course), nil)
	require.Len(t, stmts, 3)
	assert.Equal(t, "CREATE TABLE \"Enrollment\" (\n"+
		"  \"Course_id\" BIGINT NOT NULL REFERENCES \"Course\" (\"id\") ON DELETE CASCADE,\n"+
		"  \"Student_id\" BIGINT NOT NULL REFERENCES \"Student\" (\"id\") ON DELETE CASCADE,\n"+
		"  PRIMARY KEY (\"Course_id\", \"Student_id\")\n);", stmts[2])
}

func TestPostgres_RetypedPrimaryKeyRelinksReferences(t *testing.T) {
	prev := schematest.Ast(person().Build(), dog("Person").Build())

	t.Run("surviving reference", func(t *testing.T) {
		next := schematest.Ast(
			person().PK("id", schema.Text).Build(),
			schematest.NewModel("Dog").FK("ownerId", schema.Text, "Person").Build(),
		)
		stmts := pgDiff(t, prev, next, NewScripted())
		require.Len(t, stmts, 4)
		assert.Equal(t, `ALTER TABLE "Dog" DROP CONSTRAINT IF EXISTS "Dog_ownerId_fkey";`, stmts[0])
		assert.ElementsMatch(t, []string{
			`ALTER TABLE "Person" ALTER COLUMN "id" TYPE TEXT USING "id"::TEXT;`,
			`ALTER TABLE "Dog" ALTER COLUMN "ownerId" TYPE TEXT USING "ownerId"::TEXT;`,
		}, stmts[1:3])
		assert.Equal(t, `ALTER TABLE "Dog" ADD CONSTRAINT "Dog_ownerId_fkey" FOREIGN KEY ("ownerId") REFERENCES "Person" ("id");`, stmts[3])
	})

	t.Run("dropped referencing table", func(t *testing.T) {
		next := schematest.Ast(person().PK("id", schema.Text).Build())
		assert.Equal(t, []string{
			`ALTER TABLE "Dog" DROP CONSTRAINT IF EXISTS "Dog_ownerId_fkey";`,
			`ALTER TABLE "Person" ALTER COLUMN "id" TYPE TEXT USING "id"::TEXT;`,
			`DROP TABLE "Dog";`,
		}, pgDiff(t, prev, next, NewScripted()))
	})

	t.Run("created referencing table", func(t *testing.T) {
		next := schematest.Ast(
			person().PK("id", schema.Text).Build(),
			schematest.NewModel("Dog").FK("ownerId", schema.Text, "Person").Build(),
			schematest.NewModel("Cat").FK("ownerId", schema.Text, "Person").Build(),
		)
		stmts := pgDiff(t, prev, next, NewScripted())
		require.NotEmpty(t, stmts)
		assert.Equal(t, "CREATE TABLE \"Cat\" (\n  \"id\" BIGINT PRIMARY KEY,\n  \"ownerId\" TEXT NOT NULL\n);", stmts[0])
		assert.Contains(t, stmts, `ALTER TABLE "Cat" ADD CONSTRAINT "Cat_ownerId_fkey" FOREIGN KEY ("ownerId") REFERENCES "Person" ("id");`)
	})
}
