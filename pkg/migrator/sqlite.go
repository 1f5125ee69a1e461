package migrator

import (
	"fmt"
	"strings"

	"github.com/pthm/cidl/pkg/schema"
)

// SQLite renders DDL for SQLite and Cloudflare D1. Foreign keys are declared
// inline (SQLite accepts forward references), and changes ALTER TABLE cannot
// express are applied by rebuilding the table.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (SQLite) ColumnType(t schema.CidlType) string {
	switch t.Kind {
	case schema.KindInteger, schema.KindBoolean:
		return "INTEGER"
	case schema.KindReal:
		return "REAL"
	case schema.KindBlob:
		return "BLOB"
	}
	return "TEXT"
}

func (SQLite) DefaultLiteral(t schema.CidlType) string {
	switch t.Kind {
	case schema.KindInteger, schema.KindBoolean:
		return "0"
	case schema.KindReal:
		return "0.0"
	case schema.KindBlob:
		return "X''"
	}
	return "''"
}

// Preamble defers foreign key enforcement to commit when tables are rebuilt
// or dropped, since both briefly orphan referencing rows.
func (d SQLite) Preamble(p *Plan) []string {
	needed := len(p.DropTables) > 0
	for _, a := range p.Alters {
		if a.NeedsRebuild() {
			needed = true
		}
	}
	if !needed {
		return nil
	}
	return []string{"PRAGMA defer_foreign_keys = ON;"}
}

func (d SQLite) CreateTable(p *Plan, m *schema.Model) []string {
	return []string{d.createTable(p.New, m.Name, m)}
}

func (d SQLite) createTable(models *schema.MigrationsAst, name string, m *schema.Model) string {
	lines := []string{fmt.Sprintf("%s %s NOT NULL PRIMARY KEY", d.Quote(m.PrimaryKey.Name), d.ColumnType(m.PrimaryKey.Type))}
	for _, a := range m.Attributes {
		lines = append(lines, columnDef(d, a))
	}
	for _, a := range m.Attributes {
		if a.ForeignKey != "" {
			lines = append(lines, fmt.Sprintf("FOREIGN KEY (%s) %s", d.Quote(a.Name), referenceClause(d, models, a.ForeignKey)))
		}
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", d.Quote(name), strings.Join(lines, ",\n  "))
}

// AddDeferredKeys returns nothing: inline foreign keys may name tables that
// do not exist yet.
func (SQLite) AddDeferredKeys(*Plan) []string { return nil }

// UnlinkKeys returns nothing: a retyped primary key rebuilds its table, and
// the keys referencing it are left in place.
func (SQLite) UnlinkKeys(*Plan) []string { return nil }

func (SQLite) RelinkKeys(*Plan) []string { return nil }

func (d SQLite) RenameTable(_ *Plan, r Rename) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", d.Quote(r.Old), d.Quote(r.New))}
}

func (d SQLite) RenameColumn(table string, r Rename) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s;", d.Quote(table), d.Quote(r.Old), d.Quote(r.New))
}

func (d SQLite) AlterTable(p *Plan, a *TableAlter) []string {
	if a.NeedsRebuild() {
		return d.rebuild(p, a)
	}

	var out []string
	if a.PrimaryKeyRenamed {
		out = append(out, d.RenameColumn(a.Table, Rename{Old: a.Old.PrimaryKey.Name, New: a.New.PrimaryKey.Name}))
	}
	for _, r := range a.Renames {
		out = append(out, d.RenameColumn(a.Table, r))
	}
	for _, c := range a.Dropped {
		out = append(out, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", d.Quote(a.Table), d.Quote(c.Name)))
	}
	for _, c := range a.Added {
		out = append(out, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", d.Quote(a.Table), addedColumnDef(d, c)))
	}
	return out
}

// rebuild copies the table aside, drops it, and creates it again under its
// own name before copying the rows back. The table is never renamed, so
// foreign keys held by other tables keep naming it. Dropping the table
// cascades into its junction tables, so their rows are copied aside too.
// Rows referencing the table only balance out under deferred foreign keys.
func (d SQLite) rebuild(p *Plan, a *TableAlter) []string {
	old := "_cidl_old_" + a.Table

	var cols, exprs []string
	add := func(name string, t schema.CidlType) {
		cols = append(cols, d.Quote(name))
		exprs = append(exprs, d.sourceExpr(a, name, t))
	}
	add(a.New.PrimaryKey.Name, a.New.PrimaryKey.Type)
	for _, c := range a.New.Attributes {
		add(c.Name, c.Type)
	}

	out := []string{fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s;", d.Quote(old), d.Quote(a.Table))}
	for _, j := range a.Junctions {
		out = append(out, fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s;", d.Quote(keepName(j.Name)), d.Quote(j.Name)))
	}
	out = append(out,
		fmt.Sprintf("DROP TABLE %s;", d.Quote(a.Table)),
		d.createTable(p.New, a.Table, a.New),
		fmt.Sprintf("INSERT INTO %s (%s)\nSELECT %s FROM %s;",
			d.Quote(a.Table), strings.Join(cols, ", "), strings.Join(exprs, ", "), d.Quote(old)),
	)
	for _, j := range a.Junctions {
		keep := d.Quote(keepName(j.Name))
		out = append(out,
			fmt.Sprintf("INSERT INTO %s SELECT * FROM %s;", d.Quote(j.Name), keep),
			fmt.Sprintf("DROP TABLE %s;", keep),
		)
	}
	return append(out, fmt.Sprintf("DROP TABLE %s;", d.Quote(old)))
}

func keepName(junction string) string {
	return "_cidl_keep_" + junction
}

// sourceExpr selects the value for a rebuilt column from the old table.
func (d SQLite) sourceExpr(a *TableAlter, name string, t schema.CidlType) string {
	src, ok := a.SourceColumn(name)
	if !ok {
		if t.IsNullable() {
			return "NULL"
		}
		return d.DefaultLiteral(t.Root())
	}
	if t.IsNullable() {
		return d.Quote(src)
	}
	return fmt.Sprintf("COALESCE(%s, %s)", d.Quote(src), d.DefaultLiteral(t.Root()))
}

func (d SQLite) CreateJunction(j schema.Junction) []string {
	var lines, keys, refs []string
	for _, side := range j.Sides {
		lines = append(lines, fmt.Sprintf("%s %s NOT NULL", d.Quote(side.Column), d.ColumnType(side.PrimaryKey.Type)))
		keys = append(keys, d.Quote(side.Column))
		refs = append(refs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE CASCADE",
			d.Quote(side.Column), d.Quote(side.Model), d.Quote(side.PrimaryKey.Name)))
	}
	lines = append(lines, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(keys, ", ")))
	lines = append(lines, refs...)
	return []string{fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", d.Quote(j.Name), strings.Join(lines, ",\n  "))}
}

func (d SQLite) DropTables(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = fmt.Sprintf("DROP TABLE %s;", d.Quote(n))
	}
	return out
}

func (d SQLite) DropView(name string) string {
	return fmt.Sprintf("DROP VIEW IF EXISTS %s;", d.Quote(name))
}
