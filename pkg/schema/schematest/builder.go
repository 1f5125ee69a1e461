// Package schematest provides builders for schema fixtures in tests.
package schematest

import "github.com/pthm/cidl/pkg/schema"

// ModelBuilder assembles a schema.Model. New models start with an Integer
// primary key named "id".
type ModelBuilder struct {
	m schema.Model
}

// NewModel starts a model.
func NewModel(name string) *ModelBuilder {
	return &ModelBuilder{m: schema.Model{
		Name:       name,
		PrimaryKey: schema.PrimaryKey{Name: "id", Type: schema.Integer},
	}}
}

// PK replaces the primary key.
func (b *ModelBuilder) PK(name string, t schema.CidlType) *ModelBuilder {
	b.m.PrimaryKey = schema.PrimaryKey{Name: name, Type: t}
	return b
}

// Attr adds a plain column.
func (b *ModelBuilder) Attr(name string, t schema.CidlType) *ModelBuilder {
	b.m.Attributes = append(b.m.Attributes, schema.Attribute{Name: name, Type: t})
	return b
}

// FK adds a column referencing target's primary key.
func (b *ModelBuilder) FK(name string, t schema.CidlType, target string) *ModelBuilder {
	b.m.Attributes = append(b.m.Attributes, schema.Attribute{Name: name, Type: t, ForeignKey: target})
	return b
}

// OneToOne adds a navigation through reference on this model.
func (b *ModelBuilder) OneToOne(name, target, reference string) *ModelBuilder {
	return b.nav(name, target, schema.OneToOne{Reference: reference})
}

// OneToMany adds a navigation through reference on target.
func (b *ModelBuilder) OneToMany(name, target, reference string) *ModelBuilder {
	return b.nav(name, target, schema.OneToMany{Reference: reference})
}

// ManyToMany adds one side of a junction.
func (b *ModelBuilder) ManyToMany(name, target, uniqueID string) *ModelBuilder {
	return b.nav(name, target, schema.ManyToMany{UniqueID: uniqueID})
}

func (b *ModelBuilder) nav(name, target string, kind schema.NavigationKind) *ModelBuilder {
	b.m.NavigationProperties = append(b.m.NavigationProperties, schema.NavigationProperty{
		Name: name, ModelName: target, Kind: kind,
	})
	return b
}

// DataSource adds a named include tree.
func (b *ModelBuilder) DataSource(name string, tree schema.IncludeTree) *ModelBuilder {
	b.m.DataSources = append(b.m.DataSources, schema.DataSource{Name: name, Tree: tree})
	return b
}

// Method adds a method.
func (b *ModelBuilder) Method(m schema.Method) *ModelBuilder {
	b.m.Methods = append(b.m.Methods, m)
	return b
}

// Build returns the model.
func (b *ModelBuilder) Build() schema.Model {
	return b.m
}

// Schema returns a hashed schema holding models.
func Schema(models ...schema.Model) *schema.Schema {
	s := &schema.Schema{Version: "test", ProjectName: "test", Models: models}
	s.Rehash()
	return s
}

// Ast returns a hashed migration snapshot holding models.
func Ast(models ...schema.Model) *schema.MigrationsAst {
	return schema.ToMigrationsAst(Schema(models...))
}
