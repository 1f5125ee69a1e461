package parser

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/cidl/pkg/schema"
)

func TestParseSchema_Petstore(t *testing.T) {
	s, err := ParseSchema(filepath.Join("testdata", "petstore.json"))
	require.NoError(t, err)

	assert.Equal(t, "petstore", s.ProjectName)
	require.Len(t, s.Models, 2)
	assert.Equal(t, "Person", s.Models[0].Name, "document order must be preserved")
	assert.Equal(t, "Dog", s.Models[1].Name)

	person, ok := s.Model("Person")
	require.True(t, ok)
	require.Len(t, person.Methods, 1)
	assert.Equal(t, schema.HttpPost, person.Methods[0].HttpVerb)
	assert.True(t, person.Methods[0].Parameters[0].Type.Equal(schema.InjectType("Env")))

	ds, ok := person.DataSource("withDogs")
	require.True(t, ok)
	assert.Contains(t, ds.Tree, "dogs")

	assert.Len(t, s.Services, 2)
	require.NotNil(t, s.Env)
	assert.Equal(t, []string{"db"}, s.Env.Bindings)

	assert.NotZero(t, s.Hash)
	assert.Equal(t, schema.HashModels(s.Models), s.Hash)
	assert.NotZero(t, person.NavigationProperties[0].Hash)
}

func TestParseSchemaString_YAML(t *testing.T) {
	doc := `
version: "1"
project_name: kennel
models:
  Kennel:
    primary_key: {name: id, cidl_type: Text}
    attributes:
      - name: city
        cidl_type: {Nullable: Text}
    navigation_properties: []
`
	s, err := ParseSchemaString(doc)
	require.NoError(t, err)
	require.Len(t, s.Models, 1)

	k := s.Models[0]
	assert.Equal(t, "Kennel", k.Name)
	assert.True(t, k.PrimaryKey.Type.Equal(schema.Text))
	assert.True(t, k.Attributes[0].Type.IsNullable())
}

func TestParseSchemaString_StructuralErrors(t *testing.T) {
	tests := map[string]string{
		"invalid json": `{"models": `,
		"missing primary key": `{"models": {"A": {"attributes": []}}}`,
		"duplicate attribute": `{"models": {"A": {"primary_key": {"name": "id", "cidl_type": "Integer"},
			"attributes": [{"name": "x", "cidl_type": "Text"}, {"name": "x", "cidl_type": "Integer"}]}}}`,
		"attribute shadows primary key": `{"models": {"A": {"primary_key": {"name": "id", "cidl_type": "Integer"},
			"attributes": [{"name": "id", "cidl_type": "Text"}]}}}`,
		"duplicate model key": `{"models": {"A": {"primary_key": {"name": "id", "cidl_type": "Integer"}},
			"A": {"primary_key": {"name": "id", "cidl_type": "Integer"}}}}`,
		"unknown crud": `{"models": {"A": {"primary_key": {"name": "id", "cidl_type": "Integer"}, "cruds": ["UPSERT"]}}}`,
		"unknown verb": `{"models": {"A": {"primary_key": {"name": "id", "cidl_type": "Integer"},
			"methods": {"m": {"http_verb": "FETCH", "return_type": "Void"}}}}}`,
		"unknown type": `{"models": {"A": {"primary_key": {"name": "id", "cidl_type": "Uuid"}}}}`,
		"empty injection": `{"models": {}, "services": {"S": {"attributes": [{"var_name": "x", "injected": ""}]}}}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSchemaString(doc)
			require.Error(t, err)
			assert.True(t, schema.IsMalformedSchemaErr(err), "got %v", err)
		})
	}
}

func TestParseSchema_MissingFile(t *testing.T) {
	_, err := ParseSchema(filepath.Join(t.TempDir(), "cidl.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading schema file")
}
