package migrator

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/pthm/cidl/pkg/schema"
)

// Postgres renders DDL for PostgreSQL. Foreign keys are named
// "<table>_<column>_fkey" so later revisions can drop them, and tables that
// reference each other are linked after all of them exist.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Quote(ident string) string {
	return pq.QuoteIdentifier(ident)
}

func (Postgres) ColumnType(t schema.CidlType) string {
	switch t.Kind {
	case schema.KindInteger:
		return "BIGINT"
	case schema.KindReal:
		return "DOUBLE PRECISION"
	case schema.KindBlob:
		return "BYTEA"
	case schema.KindBoolean:
		return "BOOLEAN"
	}
	return "TEXT"
}

func (Postgres) DefaultLiteral(t schema.CidlType) string {
	switch t.Kind {
	case schema.KindInteger, schema.KindReal:
		return "0"
	case schema.KindBlob:
		return "''::bytea"
	case schema.KindBoolean:
		return "false"
	}
	return "''"
}

func (Postgres) Preamble(*Plan) []string { return nil }

func fkName(table, column string) string {
	return table + "_" + column + "_fkey"
}

func (d Postgres) CreateTable(p *Plan, m *schema.Model) []string {
	deferred := make(map[string]bool)
	for _, fk := range p.DeferredKeys {
		if fk.Table == m.Name {
			deferred[fk.Column.Name] = true
		}
	}
	for _, fk := range p.RelinkKeys {
		if fk.Table == m.Name {
			deferred[fk.Column.Name] = true
		}
	}

	lines := []string{fmt.Sprintf("%s %s PRIMARY KEY", d.Quote(m.PrimaryKey.Name), d.ColumnType(m.PrimaryKey.Type))}
	for _, a := range m.Attributes {
		lines = append(lines, columnDef(d, a))
	}
	for _, a := range m.Attributes {
		if a.ForeignKey != "" && !deferred[a.Name] {
			lines = append(lines, d.constraint(p.New, m.Name, a))
		}
	}
	return []string{fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", d.Quote(m.Name), strings.Join(lines, ",\n  "))}
}

func (d Postgres) constraint(models *schema.MigrationsAst, table string, a schema.Attribute) string {
	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) %s",
		d.Quote(fkName(table, a.Name)), d.Quote(a.Name), referenceClause(d, models, a.ForeignKey))
}

func (d Postgres) addConstraint(models *schema.MigrationsAst, table string, a schema.Attribute) string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s;", d.Quote(table), d.constraint(models, table, a))
}

func (d Postgres) AddDeferredKeys(p *Plan) []string {
	var out []string
	for _, fk := range p.DeferredKeys {
		if !p.Relinked(fk.Table, fk.Column.Name) {
			out = append(out, d.addConstraint(p.New, fk.Table, fk.Column))
		}
	}
	return out
}

// UnlinkKeys drops the foreign keys referencing a primary key that changes
// type. Postgres refuses to retype a referenced column.
func (d Postgres) UnlinkKeys(p *Plan) []string {
	var out []string
	for _, k := range p.UnlinkKeys {
		out = append(out, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s;",
			d.Quote(k.Table), d.Quote(fkName(k.Table, k.Column))))
	}
	return out
}

func (d Postgres) RelinkKeys(p *Plan) []string {
	var out []string
	for _, fk := range p.RelinkKeys {
		out = append(out, d.addConstraint(p.New, fk.Table, fk.Column))
	}
	return out
}

// RenameTable renames the table and the foreign key constraints named after it.
func (d Postgres) RenameTable(p *Plan, r Rename) []string {
	out := []string{fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", d.Quote(r.Old), d.Quote(r.New))}
	if old, ok := p.Old.Model(r.Old); ok {
		for _, a := range old.Attributes {
			if a.ForeignKey != "" {
				out = append(out, d.renameConstraint(r.New, fkName(r.Old, a.Name), fkName(r.New, a.Name)))
			}
		}
	}
	return out
}

func (d Postgres) renameConstraint(table, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME CONSTRAINT %s TO %s;", d.Quote(table), d.Quote(from), d.Quote(to))
}

func (d Postgres) RenameColumn(table string, r Rename) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s;", d.Quote(table), d.Quote(r.Old), d.Quote(r.New))
}

func (d Postgres) AlterTable(p *Plan, a *TableAlter) []string {
	table := d.Quote(a.Table)
	var out []string

	pk := a.New.PrimaryKey
	if a.PrimaryKeyRenamed || (a.PrimaryKeyRetyped && a.Old.PrimaryKey.Name != pk.Name) {
		out = append(out, d.RenameColumn(a.Table, Rename{Old: a.Old.PrimaryKey.Name, New: pk.Name}))
	}
	if a.PrimaryKeyRetyped {
		out = append(out, d.alterType(a.Table, pk.Name, pk.Type))
	}

	for _, r := range a.Renames {
		out = append(out, d.RenameColumn(a.Table, r))
		if old, ok := a.Old.Attribute(r.Old); ok && old.ForeignKey != "" && !p.Unlinked(a.Table, r.Old) {
			out = append(out, d.renameConstraint(a.Table, fkName(a.Table, r.Old), fkName(a.Table, r.New)))
		}
	}
	for _, c := range a.Dropped {
		out = append(out, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", table, d.Quote(c.Name)))
	}
	for _, c := range a.Altered {
		out = append(out, d.alterColumn(p, a.Table, c)...)
	}
	for _, c := range a.Added {
		out = append(out, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", table, addedColumnDef(d, c)))
		if c.ForeignKey != "" && !p.Relinked(a.Table, c.Name) {
			out = append(out, d.addConstraint(p.New, a.Table, c))
		}
	}
	return out
}

func (d Postgres) alterType(table, column string, t schema.CidlType) string {
	typ := d.ColumnType(t.Root())
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s;",
		d.Quote(table), d.Quote(column), typ, d.Quote(column), typ)
}

func (d Postgres) alterColumn(p *Plan, table string, c AlteredColumn) []string {
	var out []string
	name := d.Quote(c.New.Name)

	if c.Old.ForeignKey != "" && !p.Unlinked(table, c.Old.Name) {
		out = append(out, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s;",
			d.Quote(table), d.Quote(fkName(table, c.New.Name))))
	}
	if !c.Old.Type.Root().Equal(c.New.Type.Root()) {
		out = append(out, d.alterType(table, c.New.Name, c.New.Type))
	}
	switch {
	case c.Old.Type.IsNullable() && !c.New.Type.IsNullable():
		def := d.DefaultLiteral(c.New.Type.Root())
		out = append(out,
			fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL;", d.Quote(table), name, def, name),
			fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", d.Quote(table), name))
	case !c.Old.Type.IsNullable() && c.New.Type.IsNullable():
		out = append(out, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL;", d.Quote(table), name))
	}
	if c.New.ForeignKey != "" && !p.Relinked(table, c.New.Name) {
		out = append(out, d.addConstraint(p.New, table, c.New))
	}
	return out
}

func (d Postgres) CreateJunction(j schema.Junction) []string {
	var lines, keys []string
	for _, side := range j.Sides {
		lines = append(lines, fmt.Sprintf("%s %s NOT NULL REFERENCES %s (%s) ON DELETE CASCADE",
			d.Quote(side.Column), d.ColumnType(side.PrimaryKey.Type), d.Quote(side.Model), d.Quote(side.PrimaryKey.Name)))
		keys = append(keys, d.Quote(side.Column))
	}
	lines = append(lines, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(keys, ", ")))
	return []string{fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", d.Quote(j.Name), strings.Join(lines, ",\n  "))}
}

// DropTables drops every table in one statement so tables referencing each
// other go together.
func (d Postgres) DropTables(names []string) []string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.Quote(n)
	}
	return []string{fmt.Sprintf("DROP TABLE %s;", strings.Join(quoted, ", "))}
}

func (d Postgres) DropView(name string) string {
	return fmt.Sprintf("DROP VIEW IF EXISTS %s;", d.Quote(name))
}
