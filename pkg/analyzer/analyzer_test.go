package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/cidl/pkg/schema"
	"github.com/pthm/cidl/pkg/schema/schematest"
)

func requireKind(t *testing.T, err error, kind ErrorKind) *SemanticError {
	t.Helper()
	require.Error(t, err)
	assert.True(t, IsSemanticErr(err))
	se, ok := AsSemanticError(err)
	require.True(t, ok, "expected *SemanticError, got %T", err)
	require.Equal(t, kind, se.Kind, "error: %v", err)
	return se
}

func TestAnalyze_ValidSchema(t *testing.T) {
	s := schematest.Schema(
		schematest.NewModel("Person").
			Attr("name", schema.Text).
			OneToMany("dogs", "Dog", "ownerId").
			DataSource("withDogs", schema.IncludeTree{"dogs": {"owner": {}}}).
			Build(),
		schematest.NewModel("Dog").
			FK("ownerId", schema.Integer, "Person").
			OneToOne("owner", "Person", "ownerId").
			Build(),
	)

	blobs, err := Analyze(s)
	require.NoError(t, err)
	assert.Zero(t, blobs.Len())
}

func TestAnalyze_ModelCycle(t *testing.T) {
	build := func(backRef schema.CidlType) *schema.Schema {
		return schematest.Schema(
			schematest.NewModel("A").FK("bId", schema.Integer, "B").Build(),
			schematest.NewModel("B").FK("cId", schema.Integer, "C").Build(),
			schematest.NewModel("C").FK("aId", backRef, "A").Build(),
		)
	}

	t.Run("non-nullable cycle", func(t *testing.T) {
		_, err := Analyze(build(schema.Integer))
		se := requireKind(t, err, CyclicalDependency)
		assert.Equal(t, []string{"A", "B", "C"}, se.Cycle)
		assert.Equal(t, "A → B → C → A", se.Context)
	})

	t.Run("nullable back-reference", func(t *testing.T) {
		_, err := Analyze(build(schema.NullableOf(schema.Integer)))
		assert.NoError(t, err)
	})

	t.Run("self reference", func(t *testing.T) {
		s := schematest.Schema(schematest.NewModel("Node").FK("parentId", schema.Integer, "Node").Build())
		_, err := Analyze(s)
		se := requireKind(t, err, CyclicalDependency)
		assert.Equal(t, []string{"Node"}, se.Cycle)
	})
}

func TestAnalyze_ServiceCycle(t *testing.T) {
	s := schematest.Schema()
	s.Env = &schema.Env{Name: "Env", Bindings: []string{"db"}}
	s.Services = []schema.Service{
		{Name: "A", Attributes: []schema.ServiceAttribute{{Name: "b", Injected: "B"}, {Name: "env", Injected: "Env"}}},
		{Name: "B", Attributes: []schema.ServiceAttribute{{Name: "a", Injected: "A"}}},
	}

	_, err := Analyze(s)
	se := requireKind(t, err, CyclicalDependency)
	assert.Equal(t, []string{"A", "B"}, se.Cycle)

	s.Services[1].Attributes = []schema.ServiceAttribute{{Name: "db", Injected: "db"}}
	_, err = Analyze(s)
	assert.NoError(t, err)
}

func TestAnalyze_ManyToMany(t *testing.T) {
	t.Run("two reciprocal sides", func(t *testing.T) {
		s := schematest.Schema(
			schematest.NewModel("Student").ManyToMany("courses", "Course", "StudentsCourses").Build(),
			schematest.NewModel("Course").ManyToMany("students", "Student", "StudentsCourses").Build(),
		)
		_, err := Analyze(s)
		assert.NoError(t, err)
	})

	t.Run("three models", func(t *testing.T) {
		s := schematest.Schema(
			schematest.NewModel("A").ManyToMany("bs", "B", "Shared").Build(),
			schematest.NewModel("B").ManyToMany("as", "A", "Shared").Build(),
			schematest.NewModel("C").ManyToMany("as", "A", "Shared").Build(),
		)
		_, err := Analyze(s)
		requireKind(t, err, ExtraneousManyToManyReferences)
	})

	t.Run("one side", func(t *testing.T) {
		s := schematest.Schema(
			schematest.NewModel("A").ManyToMany("bs", "B", "Lonely").Build(),
			schematest.NewModel("B").Build(),
		)
		_, err := Analyze(s)
		requireKind(t, err, MissingManyToManyReference)
	})

	t.Run("sides not pointing at each other", func(t *testing.T) {
		s := schematest.Schema(
			schematest.NewModel("A").ManyToMany("bs", "C", "AB").Build(),
			schematest.NewModel("B").ManyToMany("as", "A", "AB").Build(),
			schematest.NewModel("C").Build(),
		)
		_, err := Analyze(s)
		requireKind(t, err, MismatchedNavigationPropertyTypes)
	})
}

func TestAnalyze_Violations(t *testing.T) {
	tests := []struct {
		name    string
		models  []schema.Model
		kind    ErrorKind
		context string
	}{
		{
			name:    "unknown foreign key target",
			models:  []schema.Model{schematest.NewModel("Dog").FK("ownerId", schema.Integer, "Person").Build()},
			kind:    UnknownModelReference,
			context: "Dog.ownerId references Person",
		},
		{
			name:    "nullable primary key",
			models:  []schema.Model{schematest.NewModel("A").PK("id", schema.NullableOf(schema.Integer)).Build()},
			kind:    NullPrimaryKey,
			context: "A.id",
		},
		{
			name:   "model typed primary key",
			models: []schema.Model{schematest.NewModel("A").PK("id", schema.ModelType("A")).Build()},
			kind:   InvalidSqlType,
		},
		{
			name:    "null attribute",
			models:  []schema.Model{schematest.NewModel("A").Attr("nothing", schema.Null).Build()},
			kind:    NullSqlType,
			context: "A.nothing",
		},
		{
			name:   "injected attribute",
			models: []schema.Model{schematest.NewModel("A").Attr("env", schema.InjectType("Env")).Build()},
			kind:   UnexpectedInject,
		},
		{
			name:   "array attribute",
			models: []schema.Model{schematest.NewModel("A").Attr("tags", schema.ArrayOf(schema.Text)).Build()},
			kind:   InvalidSqlType,
		},
		{
			name: "foreign key type mismatch",
			models: []schema.Model{
				schematest.NewModel("Person").PK("id", schema.Text).Build(),
				schematest.NewModel("Dog").FK("ownerId", schema.Integer, "Person").Build(),
			},
			kind: MismatchedForeignKeyTypes,
		},
		{
			name: "one-to-one reference missing",
			models: []schema.Model{
				schematest.NewModel("Person").Build(),
				schematest.NewModel("Dog").OneToOne("owner", "Person", "ownerId").Build(),
			},
			kind:    InvalidNavigationPropertyReference,
			context: `Dog.owner: Dog has no attribute "ownerId"`,
		},
		{
			name: "one-to-one reference without foreign key",
			models: []schema.Model{
				schematest.NewModel("Person").Build(),
				schematest.NewModel("Dog").Attr("ownerId", schema.Integer).OneToOne("owner", "Person", "ownerId").Build(),
			},
			kind: MismatchedNavigationPropertyTypes,
		},
		{
			name: "one-to-many reference on wrong model",
			models: []schema.Model{
				schematest.NewModel("Person").FK("dogId", schema.Integer, "Dog").OneToMany("dogs", "Dog", "dogId").Build(),
				schematest.NewModel("Dog").Build(),
			},
			kind:    InvalidNavigationPropertyReference,
			context: `Person.dogs: Dog has no attribute "dogId"`,
		},
		{
			name: "one-to-many reference to another model",
			models: []schema.Model{
				schematest.NewModel("Person").OneToMany("dogs", "Dog", "kennelId").Build(),
				schematest.NewModel("Kennel").Build(),
				schematest.NewModel("Dog").FK("kennelId", schema.Integer, "Kennel").Build(),
			},
			kind:    MismatchedNavigationPropertyTypes,
			context: "Person.dogs: Dog.kennelId must reference Person",
		},
		{
			name: "unknown include tree key",
			models: []schema.Model{
				schematest.NewModel("Person").DataSource("all", schema.IncludeTree{"cats": {}}).Build(),
			},
			kind:    UnknownIncludeTreeReference,
			context: `Person.all: Person has no navigation property "cats"`,
		},
		{
			name: "unknown nested include tree key",
			models: []schema.Model{
				schematest.NewModel("Person").
					OneToMany("dogs", "Dog", "ownerId").
					DataSource("all", schema.IncludeTree{"dogs": {"fleas": {}}}).
					Build(),
				schematest.NewModel("Dog").FK("ownerId", schema.Integer, "Person").Build(),
			},
			kind:    UnknownIncludeTreeReference,
			context: `Person.all.dogs: Dog has no navigation property "fleas"`,
		},
		{
			name: "method returns unknown model",
			models: []schema.Model{
				schematest.NewModel("Person").Method(schema.Method{
					Name: "best", HttpVerb: schema.HttpGet, ReturnType: schema.ModelType("Cat"),
				}).Build(),
			},
			kind: UnknownObjectReference,
		},
		{
			name: "method injects unknown binding",
			models: []schema.Model{
				schematest.NewModel("Person").Method(schema.Method{
					Name: "save", HttpVerb: schema.HttpPost, ReturnType: schema.Void,
					Parameters: []schema.NamedType{{Name: "db", Type: schema.InjectType("Db")}},
				}).Build(),
			},
			kind: UnknownInjectReference,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Analyze(schematest.Schema(tt.models...))
			se := requireKind(t, err, tt.kind)
			if tt.context != "" {
				assert.Equal(t, tt.context, se.Context)
			}
			assert.NotEmpty(t, se.Description())
			assert.NotEmpty(t, se.Suggestion())
		})
	}
}

func TestAnalyze_CheckOrder(t *testing.T) {
	// Both a null primary key and a model cycle: the primary key check runs first.
	s := schematest.Schema(
		schematest.NewModel("A").PK("id", schema.NullableOf(schema.Integer)).FK("bId", schema.Integer, "B").Build(),
		schematest.NewModel("B").FK("aId", schema.Integer, "A").Build(),
	)
	_, err := Analyze(s)
	requireKind(t, err, NullPrimaryKey)
}

func TestAnalyze_BlobReachability(t *testing.T) {
	s := schematest.Schema(
		schematest.NewModel("Person").
			Attr("name", schema.Text).
			FK("photoId", schema.NullableOf(schema.Integer), "Photo").
			OneToOne("photo", "Photo", "photoId").
			Build(),
		schematest.NewModel("Photo").
			Attr("data", schema.NullableOf(schema.Blob)).
			FK("ownerId", schema.NullableOf(schema.Integer), "Person").
			OneToOne("owner", "Person", "ownerId").
			Build(),
		schematest.NewModel("Album").
			OneToMany("people", "Person", "albumId").
			Build(),
		schematest.NewModel("Tag").Attr("label", schema.Text).Build(),
	)
	s.Models[0].Attributes = append(s.Models[0].Attributes, schema.Attribute{
		Name: "albumId", Type: schema.NullableOf(schema.Integer), ForeignKey: "Album",
	})
	s.Poos = []schema.PlainOldObject{
		{Name: "Gallery", Attributes: []schema.NamedType{{Name: "albums", Type: schema.ArrayOf(schema.ModelType("Album"))}}},
		{Name: "Thumbnail", Attributes: []schema.NamedType{{Name: "bytes", Type: schema.Blob}}},
		{Name: "Caption", Attributes: []schema.NamedType{{Name: "text", Type: schema.Text}}},
		{Name: "Card", Attributes: []schema.NamedType{{Name: "thumb", Type: schema.NullableOf(schema.ObjectType("Thumbnail"))}}},
	}
	s.Rehash()

	blobs, err := Analyze(s)
	require.NoError(t, err)
	assert.Equal(t, []string{"Album", "Card", "Gallery", "Person", "Photo", "Thumbnail"}, blobs.Names())
	assert.True(t, blobs.Has("Person"))
	assert.False(t, blobs.Has("Tag"))
	assert.False(t, blobs.Has("Caption"))
}

func TestSemanticError_Format(t *testing.T) {
	err := semantic(NullPrimaryKey, "%s.%s", "Dog", "id")
	assert.Equal(t, "NullPrimaryKey: a primary key cannot be nullable (Dog.id)", err.Error())
	assert.Equal(t, "ErrorKind(99)", ErrorKind(99).String())
}
