package migrator

import (
	"fmt"
	"strings"

	"github.com/pthm/cidl/pkg/schema"
)

// Dialect renders a Plan's changes as DDL for one database family.
type Dialect interface {
	// Name is the configuration name of the dialect.
	Name() string

	// Quote quotes an identifier.
	Quote(ident string) string

	// ColumnType maps a primitive type (nullable wrappers stripped) to a
	// column type.
	ColumnType(t schema.CidlType) string

	// DefaultLiteral is the value given to existing rows when a non-null
	// column is added.
	DefaultLiteral(t schema.CidlType) string

	Preamble(p *Plan) []string
	CreateTable(p *Plan, m *schema.Model) []string
	AddDeferredKeys(p *Plan) []string
	UnlinkKeys(p *Plan) []string
	RelinkKeys(p *Plan) []string
	RenameTable(p *Plan, r Rename) []string
	RenameColumn(table string, r Rename) string
	AlterTable(p *Plan, a *TableAlter) []string
	CreateJunction(j schema.Junction) []string
	DropTables(names []string) []string
	DropView(name string) string
}

// DialectFor returns the dialect registered under name. The empty name
// selects SQLite.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "", "sqlite", "sqlite3", "d1":
		return SQLite{}, nil
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, name)
}

// Statements renders the plan in execution order:
//
//  1. dialect preamble
//  2. drop every previous view
//  3. drop removed or rebuilt junction tables
//  4. rename tables, then junction tables
//  5. create tables, parents first, then constraints deferred by cycles
//  6. alter surviving tables, unlinking foreign keys to retyped primary
//     keys around the alters
//  7. create junction tables
//  8. drop removed tables, children first
//  9. create every current view
func (p *Plan) Statements(d Dialect) []string {
	if p.Empty() {
		return nil
	}

	var out []string
	out = append(out, d.Preamble(p)...)
	for _, v := range p.DropViews {
		out = append(out, d.DropView(v))
	}
	if len(p.DropJunctions) > 0 {
		names := make([]string, len(p.DropJunctions))
		for i, j := range p.DropJunctions {
			names[i] = j.Name
		}
		out = append(out, d.DropTables(names)...)
	}
	for _, r := range p.TableRenames {
		out = append(out, d.RenameTable(p, r)...)
	}
	for _, j := range p.JunctionChanges {
		if j.Old != j.New {
			out = append(out, d.RenameTable(p, Rename{Old: j.Old, New: j.New})...)
		}
		for _, c := range j.Columns {
			out = append(out, d.RenameColumn(j.New, c))
		}
	}
	for _, m := range p.CreateTables {
		out = append(out, d.CreateTable(p, m)...)
	}
	out = append(out, d.AddDeferredKeys(p)...)
	out = append(out, d.UnlinkKeys(p)...)
	for _, a := range p.Alters {
		out = append(out, d.AlterTable(p, a)...)
	}
	out = append(out, d.RelinkKeys(p)...)
	for _, j := range p.CreateJunctions {
		out = append(out, d.CreateJunction(j)...)
	}
	if len(p.DropTables) > 0 {
		names := make([]string, len(p.DropTables))
		for i, m := range p.DropTables {
			names[i] = m.Name
		}
		out = append(out, d.DropTables(names)...)
	}
	for _, v := range p.CreateViews {
		out = append(out, createView(d, p.New, v))
	}
	return out
}

// columnDef renders `"name" TYPE [NOT NULL]`.
func columnDef(d Dialect, a schema.Attribute) string {
	def := d.Quote(a.Name) + " " + d.ColumnType(a.Type.Root())
	if !a.Type.IsNullable() {
		def += " NOT NULL"
	}
	return def
}

// addedColumnDef renders a column added to a populated table: non-null
// columns get a default so existing rows stay valid.
func addedColumnDef(d Dialect, a schema.Attribute) string {
	def := columnDef(d, a)
	if !a.Type.IsNullable() {
		def += " DEFAULT " + d.DefaultLiteral(a.Type.Root())
	}
	return def
}

// referenceClause renders `REFERENCES "Parent" ("id")`.
func referenceClause(d Dialect, models *schema.MigrationsAst, target string) string {
	pk := "id"
	if m, ok := models.Model(target); ok {
		pk = m.PrimaryKey.Name
	}
	return fmt.Sprintf("REFERENCES %s (%s)", d.Quote(target), d.Quote(pk))
}

// junctionAlias names the junction table joined for a many-to-many path.
func junctionAlias(path string) string {
	return path + "$junction"
}

// createView renders the view for a data source. Root columns keep their
// names; included columns are aliased with their dotted navigation path
// ("dogs.id", "dogs.owner.name") so rows can be materialized directly.
func createView(d Dialect, models *schema.MigrationsAst, v View) string {
	var cols, joins []string
	rootAlias := v.Model.Name

	var walk func(m *schema.Model, alias, prefix string, tree schema.IncludeTree)
	walk = func(m *schema.Model, alias, prefix string, tree schema.IncludeTree) {
		cols = append(cols, fmt.Sprintf("%s.%s AS %s", d.Quote(alias), d.Quote(m.PrimaryKey.Name), d.Quote(prefix+m.PrimaryKey.Name)))
		for _, a := range m.Attributes {
			cols = append(cols, fmt.Sprintf("%s.%s AS %s", d.Quote(alias), d.Quote(a.Name), d.Quote(prefix+a.Name)))
		}

		for _, key := range tree.Keys() {
			nav, ok := m.Navigation(key)
			if !ok {
				continue
			}
			target, ok := models.Model(nav.ModelName)
			if !ok {
				continue
			}
			path := prefix + nav.Name
			switch k := nav.Kind.(type) {
			case schema.OneToOne:
				joins = append(joins, fmt.Sprintf("LEFT JOIN %s AS %s ON %s.%s = %s.%s",
					d.Quote(target.Name), d.Quote(path),
					d.Quote(path), d.Quote(target.PrimaryKey.Name),
					d.Quote(alias), d.Quote(k.Reference)))
			case schema.OneToMany:
				joins = append(joins, fmt.Sprintf("LEFT JOIN %s AS %s ON %s.%s = %s.%s",
					d.Quote(target.Name), d.Quote(path),
					d.Quote(path), d.Quote(k.Reference),
					d.Quote(alias), d.Quote(m.PrimaryKey.Name)))
			case schema.ManyToMany:
				jt := junctionAlias(path)
				joins = append(joins,
					fmt.Sprintf("LEFT JOIN %s AS %s ON %s.%s = %s.%s",
						d.Quote(k.UniqueID), d.Quote(jt),
						d.Quote(jt), d.Quote(schema.JunctionColumn(m.Name)),
						d.Quote(alias), d.Quote(m.PrimaryKey.Name)),
					fmt.Sprintf("LEFT JOIN %s AS %s ON %s.%s = %s.%s",
						d.Quote(target.Name), d.Quote(path),
						d.Quote(path), d.Quote(target.PrimaryKey.Name),
						d.Quote(jt), d.Quote(schema.JunctionColumn(target.Name))))
			}
			walk(target, path, path+".", tree[key])
		}
	}
	walk(v.Model, rootAlias, "", v.Source.Tree)

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE VIEW %s AS\nSELECT\n  %s\nFROM %s", d.Quote(v.Name), strings.Join(cols, ",\n  "), d.Quote(v.Model.Name))
	for _, j := range joins {
		b.WriteString("\n")
		b.WriteString(j)
	}
	b.WriteString(";")
	return b.String()
}
