package schema_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/cidl/pkg/schema"
)

func TestCidlType_WireForm(t *testing.T) {
	tests := []struct {
		wire string
		want schema.CidlType
	}{
		{`"Integer"`, schema.Integer},
		{`{"Nullable":"Text"}`, schema.NullableOf(schema.Text)},
		{`{"Inject":"Env"}`, schema.InjectType("Env")},
		{`{"Array":{"Model":"Dog"}}`, schema.ArrayOf(schema.ModelType("Dog"))},
	}
	for _, tt := range tests {
		t.Run(tt.wire, func(t *testing.T) {
			var got schema.CidlType
			require.NoError(t, json.Unmarshal([]byte(tt.wire), &got))
			assert.True(t, tt.want.Equal(got), "got %s", got)

			out, err := json.Marshal(got)
			require.NoError(t, err)
			assert.JSONEq(t, tt.wire, string(out))
		})
	}
}

func TestCidlType_RejectsUnknownTags(t *testing.T) {
	for _, wire := range []string{`"Decimal"`, `{"Map":"Text"}`, `{"Nullable":"Text","Array":"Text"}`, `"Nullable"`} {
		var got schema.CidlType
		err := json.Unmarshal([]byte(wire), &got)
		require.Error(t, err, wire)
		assert.True(t, schema.IsMalformedSchemaErr(err), wire)
	}
}

func TestCidlType_Helpers(t *testing.T) {
	n := schema.NullableOf(schema.Blob)
	assert.True(t, n.IsNullable())
	assert.True(t, n.IsBlob())
	assert.False(t, n.IsPrimitive())
	assert.True(t, n.Root().IsPrimitive())
	assert.Equal(t, "Nullable<Blob>", n.String())

	kind, name, ok := schema.ArrayOf(schema.NullableOf(schema.ObjectType("Address"))).Referenced()
	require.True(t, ok)
	assert.Equal(t, schema.KindObject, kind)
	assert.Equal(t, "Address", name)
}

func TestSchema_PreservesModelOrder(t *testing.T) {
	doc := `{
		"version": "1", "project_name": "zoo",
		"models": {
			"Zebra": {"name": "Zebra", "primary_key": {"name": "id", "cidl_type": "Integer"}, "attributes": [], "navigation_properties": []},
			"Aardvark": {"primary_key": {"name": "id", "cidl_type": "Integer"}, "attributes": [], "navigation_properties": []}
		}
	}`
	var s schema.Schema
	require.NoError(t, json.Unmarshal([]byte(doc), &s))
	require.Len(t, s.Models, 2)
	assert.Equal(t, "Zebra", s.Models[0].Name)
	assert.Equal(t, "Aardvark", s.Models[1].Name)

	out, err := json.Marshal(s)
	require.NoError(t, err)
	var again schema.Schema
	require.NoError(t, json.Unmarshal(out, &again))
	assert.Equal(t, "Zebra", again.Models[0].Name)
}

func TestSchema_RejectsKeyNameMismatch(t *testing.T) {
	doc := `{"models": {"Dog": {"name": "Cat", "primary_key": {"name": "id", "cidl_type": "Integer"}}}}`
	var s schema.Schema
	err := json.Unmarshal([]byte(doc), &s)
	require.Error(t, err)
	assert.True(t, schema.IsMalformedSchemaErr(err))
}

func TestNavigationProperty_JSON(t *testing.T) {
	wire := `{"var_name":"courses","model_name":"Course","kind":{"ManyToMany":{"unique_id":"StudentsCourses"}}}`
	var n schema.NavigationProperty
	require.NoError(t, json.Unmarshal([]byte(wire), &n))
	assert.Equal(t, schema.ManyToMany{UniqueID: "StudentsCourses"}, n.Kind)
	assert.True(t, schema.IsMany(n.Kind))

	err := json.Unmarshal([]byte(`{"var_name":"x","model_name":"Y","kind":{"OneToFew":{}}}`), &n)
	assert.True(t, schema.IsMalformedSchemaErr(err))
}
