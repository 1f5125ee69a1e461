package migrator

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pthm/cidl/pkg/schema"
)

// Rename pairs an entity's previous name with its new one.
type Rename struct {
	Old string
	New string
}

// AlteredColumn is a column present under the same (or renamed) name in both
// revisions whose type, nullability or foreign key changed.
type AlteredColumn struct {
	Old schema.Attribute
	New schema.Attribute
}

// TableAlter collects the column changes to a table that exists in both
// revisions. Table is the new name; renames of the table itself have
// already been applied when the alter runs.
type TableAlter struct {
	Table   string
	Old     *schema.Model
	New     *schema.Model
	Renames []Rename
	Added   []schema.Attribute
	Dropped []schema.Attribute
	Altered []AlteredColumn

	// PrimaryKeyRenamed is set when only the key column's name changed.
	PrimaryKeyRenamed bool
	// PrimaryKeyRetyped is set when the key column's type changed.
	PrimaryKeyRetyped bool

	// Junctions are the existing junction tables with a side on this table.
	// A rebuild keeps their rows.
	Junctions []schema.Junction

	// source maps each new column to the old column holding its data.
	source map[string]string
}

// Empty reports whether the table is unchanged at column level.
func (a *TableAlter) Empty() bool {
	return len(a.Renames) == 0 && len(a.Added) == 0 && len(a.Dropped) == 0 &&
		len(a.Altered) == 0 && !a.PrimaryKeyRenamed && !a.PrimaryKeyRetyped
}

// NeedsRebuild reports whether the change cannot be expressed with ADD,
// DROP and RENAME COLUMN alone: altered columns, a retyped key, or foreign
// key columns coming or going.
func (a *TableAlter) NeedsRebuild() bool {
	if len(a.Altered) > 0 || a.PrimaryKeyRetyped {
		return true
	}
	for _, attr := range a.Added {
		if attr.ForeignKey != "" {
			return true
		}
	}
	for _, attr := range a.Dropped {
		if attr.ForeignKey != "" {
			return true
		}
	}
	return false
}

// SourceColumn returns the old column that feeds new column name, if any.
func (a *TableAlter) SourceColumn(name string) (string, bool) {
	src, ok := a.source[name]
	return src, ok
}

// JunctionChange renames a junction table and/or its columns. Old equals
// New when only the columns follow a renamed model.
type JunctionChange struct {
	Old     string
	New     string
	Columns []Rename
}

// ForeignKey is a foreign key column whose constraint is added after every
// table exists, because it closes a cycle among created tables.
type ForeignKey struct {
	Table  string
	Column schema.Attribute
}

// KeyRef names an existing foreign key by its table's name after table
// renames and its column's name before column renames.
type KeyRef struct {
	Table  string
	Column string
}

// View is a data source materialized as a database view.
type View struct {
	Name   string
	Model  *schema.Model
	Source schema.DataSource
}

// ViewName names the view backing a model's data source.
func ViewName(model, dataSource string) string {
	return model + "." + dataSource
}

// Plan is the dialect independent result of diffing two snapshots.
// Statements renders it in execution order.
type Plan struct {
	Old *schema.MigrationsAst
	New *schema.MigrationsAst

	DropViews       []string
	DropJunctions   []schema.Junction
	TableRenames    []Rename
	JunctionChanges []JunctionChange
	CreateTables    []*schema.Model // parents first
	DeferredKeys    []ForeignKey
	UnlinkKeys      []KeyRef
	RelinkKeys      []ForeignKey
	Alters          []*TableAlter
	CreateJunctions []schema.Junction
	DropTables      []*schema.Model // children first
	CreateViews     []View
}

// Empty reports whether the plan changes nothing.
func (p *Plan) Empty() bool {
	return len(p.DropViews) == 0 && len(p.DropJunctions) == 0 && len(p.TableRenames) == 0 &&
		len(p.JunctionChanges) == 0 && len(p.CreateTables) == 0 && len(p.Alters) == 0 &&
		len(p.CreateJunctions) == 0 && len(p.DropTables) == 0 && len(p.CreateViews) == 0
}

// Summary lists the plan's changes, one line each, for display.
func (p *Plan) Summary() []string {
	var out []string
	for _, m := range p.CreateTables {
		out = append(out, "create table "+m.Name)
	}
	for _, r := range p.TableRenames {
		out = append(out, fmt.Sprintf("rename table %s to %s", r.Old, r.New))
	}
	for _, a := range p.Alters {
		for _, r := range a.Renames {
			out = append(out, fmt.Sprintf("rename column %s.%s to %s", a.Table, r.Old, r.New))
		}
		for _, c := range a.Added {
			out = append(out, fmt.Sprintf("add column %s.%s", a.Table, c.Name))
		}
		for _, c := range a.Altered {
			out = append(out, fmt.Sprintf("alter column %s.%s", a.Table, c.New.Name))
		}
		for _, c := range a.Dropped {
			out = append(out, fmt.Sprintf("drop column %s.%s", a.Table, c.Name))
		}
		if a.PrimaryKeyRenamed || a.PrimaryKeyRetyped {
			out = append(out, fmt.Sprintf("change primary key of %s", a.Table))
		}
	}
	for _, j := range p.JunctionChanges {
		if j.Old != j.New {
			out = append(out, fmt.Sprintf("rename junction %s to %s", j.Old, j.New))
		}
	}
	for _, j := range p.DropJunctions {
		out = append(out, "drop junction "+j.Name)
	}
	for _, j := range p.CreateJunctions {
		out = append(out, "create junction "+j.Name)
	}
	for _, m := range p.DropTables {
		out = append(out, "drop table "+m.Name)
	}
	if len(p.CreateViews) > 0 || len(p.DropViews) > 0 {
		out = append(out, fmt.Sprintf("recreate views (%d dropped, %d created)", len(p.DropViews), len(p.CreateViews)))
	}
	return out
}

type planner struct {
	old, new  *schema.MigrationsAst
	decisions DecisionSource
	log       zerolog.Logger

	// modelRenames maps every surviving old model name to its new name.
	modelRenames map[string]string
}

func (pl *planner) build() (*Plan, error) {
	p := &Plan{Old: pl.old, New: pl.new}

	pairs, err := pl.planTables(p)
	if err != nil {
		return nil, err
	}
	for _, pair := range pairs {
		alter, err := pl.diffColumns(pair[0], pair[1])
		if err != nil {
			return nil, err
		}
		if !alter.Empty() {
			p.Alters = append(p.Alters, alter)
		}
	}
	if err := pl.planJunctions(p); err != nil {
		return nil, err
	}
	keptJunctions(p)
	retargetKeys(p)
	pl.planViews(p)
	return p, nil
}

// keptJunctions records on each alter the junction tables that exist before
// and after the migration and reference the altered table.
func keptJunctions(p *Plan) {
	if len(p.Alters) == 0 {
		return
	}
	junctions, err := schema.Junctions(p.New.Models)
	if err != nil {
		return
	}
	created := make(map[string]bool, len(p.CreateJunctions))
	for _, j := range p.CreateJunctions {
		created[j.Name] = true
	}
	for _, a := range p.Alters {
		for _, j := range junctions {
			if created[j.Name] {
				continue
			}
			if j.Sides[0].Model == a.Table || j.Sides[1].Model == a.Table {
				a.Junctions = append(a.Junctions, j)
			}
		}
	}
}

// retargetKeys collects the foreign keys that reference a primary key
// changing type. The existing ones are unlinked before any table is altered
// and the current ones linked again after.
func retargetKeys(p *Plan) {
	retyped := make(map[string]bool)
	for _, a := range p.Alters {
		if a.PrimaryKeyRetyped {
			retyped[a.Table] = true
		}
	}
	if len(retyped) == 0 {
		return
	}
	renamed := make(map[string]string, len(p.TableRenames))
	for _, r := range p.TableRenames {
		renamed[r.Old] = r.New
	}
	current := func(name string) string {
		if n, ok := renamed[name]; ok {
			return n
		}
		return name
	}

	for _, m := range p.Old.Models {
		for _, attr := range m.Attributes {
			if attr.ForeignKey != "" && retyped[current(attr.ForeignKey)] {
				p.UnlinkKeys = append(p.UnlinkKeys, KeyRef{Table: current(m.Name), Column: attr.Name})
			}
		}
	}
	for _, m := range p.New.Models {
		for _, attr := range m.Attributes {
			if retyped[attr.ForeignKey] {
				p.RelinkKeys = append(p.RelinkKeys, ForeignKey{Table: m.Name, Column: attr})
			}
		}
	}
}

// Unlinked reports whether the existing key on table.column is unlinked
// ahead of the alters.
func (p *Plan) Unlinked(table, column string) bool {
	for _, k := range p.UnlinkKeys {
		if k.Table == table && k.Column == column {
			return true
		}
	}
	return false
}

// Relinked reports whether the key on table.column is added after the alters.
func (p *Plan) Relinked(table, column string) bool {
	for _, fk := range p.RelinkKeys {
		if fk.Table == table && fk.Column.Name == column {
			return true
		}
	}
	return false
}

// planTables partitions models into created, dropped, renamed and common,
// returning the (old, new) pairs of the tables that survive.
func (pl *planner) planTables(p *Plan) ([][2]*schema.Model, error) {
	renames, err := pl.resolveTables()
	if err != nil {
		return nil, err
	}

	pl.modelRenames = make(map[string]string)
	var pairs [][2]*schema.Model
	var created []*schema.Model
	for i := range pl.new.Models {
		m := &pl.new.Models[i]
		oldName := m.Name
		if from, ok := renames[m.Name]; ok {
			oldName = from
			p.TableRenames = append(p.TableRenames, Rename{Old: from, New: m.Name})
		}
		old, ok := pl.old.Model(oldName)
		if !ok {
			created = append(created, m)
			continue
		}
		pl.modelRenames[old.Name] = m.Name
		pairs = append(pairs, [2]*schema.Model{old, m})
	}

	var dropped []*schema.Model
	for i := range pl.old.Models {
		if _, ok := pl.modelRenames[pl.old.Models[i].Name]; !ok {
			dropped = append(dropped, &pl.old.Models[i])
		}
	}

	p.CreateTables, p.DeferredKeys = orderParentsFirst(created)
	parentsFirst, _ := orderParentsFirst(dropped)
	for i := len(parentsFirst) - 1; i >= 0; i-- {
		p.DropTables = append(p.DropTables, parentsFirst[i])
	}
	return pairs, nil
}

// Placeholders for reference targets while table renames are resolved.
const (
	selfTarget    = "\x00self"
	pendingTarget = "\x00pending"
)

// resolveTables matches removed models to added ones. A model's hash names
// the models it references, so candidates are compared with references
// normalized: a self reference becomes selfTarget, and a reference to a
// model whose rename is still open becomes pendingTarget. Unambiguous
// matches are taken in passes, each pass naming the targets resolved by the
// previous one, until none remain. The rest go to the decision source.
func (pl *planner) resolveTables() (map[string]string, error) {
	renames := make(map[string]string) // new name -> old name
	oldToNew := make(map[string]string)

	pending := func() (removed, added []candidate) {
		for i := range pl.old.Models {
			m := &pl.old.Models[i]
			if _, ok := pl.new.Model(m.Name); ok {
				continue
			}
			if _, ok := oldToNew[m.Name]; ok {
				continue
			}
			removed = append(removed, candidate{name: m.Name, hash: pl.tableHash(m, func(t string) string {
				if _, ok := pl.new.Model(t); ok {
					return t
				}
				if to, ok := oldToNew[t]; ok {
					return to
				}
				return pendingTarget
			})})
		}
		for i := range pl.new.Models {
			m := &pl.new.Models[i]
			if _, ok := pl.old.Model(m.Name); ok {
				continue
			}
			if _, ok := renames[m.Name]; ok {
				continue
			}
			added = append(added, candidate{name: m.Name, hash: pl.tableHash(m, func(t string) string {
				if _, ok := pl.old.Model(t); ok {
					return t
				}
				if _, ok := renames[t]; ok {
					return t
				}
				return pendingTarget
			})})
		}
		return removed, added
	}

	for {
		removed, added := pending()
		found := uniqueMatches(removed, added)
		if len(found) == 0 {
			break
		}
		for to, from := range found {
			renames[to] = from
			oldToNew[from] = to
			pl.logRename(EntityTable, "", from, to, "hash match")
		}
	}

	removed, added := pending()
	rest, err := pl.resolve(EntityTable, "", removed, added)
	if err != nil {
		return nil, err
	}
	for to, from := range rest {
		renames[to] = from
	}
	return renames, nil
}

// tableHash hashes m with every foreign key and navigation target passed
// through target. References to m itself become selfTarget.
func (pl *planner) tableHash(m *schema.Model, target func(string) string) uint64 {
	norm := func(t string) string {
		if t == m.Name {
			return selfTarget
		}
		return target(t)
	}
	c := *m
	c.Attributes = make([]schema.Attribute, len(m.Attributes))
	for i, a := range m.Attributes {
		if a.ForeignKey != "" {
			a.ForeignKey = norm(a.ForeignKey)
		}
		c.Attributes[i] = a
	}
	c.NavigationProperties = make([]schema.NavigationProperty, len(m.NavigationProperties))
	for i, n := range m.NavigationProperties {
		n.ModelName = norm(n.ModelName)
		c.NavigationProperties[i] = n
	}
	return schema.HashModel(c)
}

// uniqueMatches returns the hash groups holding exactly one removed and one
// added candidate, keyed by the added name.
func uniqueMatches(removed, added []candidate) map[string]string {
	removedByHash := make(map[uint64][]string)
	for _, r := range removed {
		removedByHash[r.hash] = append(removedByHash[r.hash], r.name)
	}
	addedByHash := make(map[uint64][]string)
	for _, a := range added {
		addedByHash[a.hash] = append(addedByHash[a.hash], a.name)
	}
	found := make(map[string]string)
	for h, names := range addedByHash {
		if pool := removedByHash[h]; len(pool) == 1 && len(names) == 1 {
			found[names[0]] = pool[0]
		}
	}
	return found
}

// remapModel follows a model rename; dropped models keep their old name.
func (pl *planner) remapModel(name string) string {
	if to, ok := pl.modelRenames[name]; ok {
		return to
	}
	return name
}

// columnHash hashes an old attribute as if its foreign key already pointed
// at the renamed model, so a parent rename does not look like a column change.
func (pl *planner) columnHash(a schema.Attribute) uint64 {
	if a.ForeignKey != "" {
		a.ForeignKey = pl.remapModel(a.ForeignKey)
	}
	return schema.HashAttribute(a)
}

func (pl *planner) diffColumns(prev, next *schema.Model) (*TableAlter, error) {
	alter := &TableAlter{Table: next.Name, Old: prev, New: next, source: make(map[string]string)}

	if !prev.PrimaryKey.Type.Equal(next.PrimaryKey.Type) {
		alter.PrimaryKeyRetyped = true
	} else if prev.PrimaryKey.Name != next.PrimaryKey.Name {
		alter.PrimaryKeyRenamed = true
	}
	alter.source[next.PrimaryKey.Name] = prev.PrimaryKey.Name

	var removed, added []candidate
	for _, a := range prev.Attributes {
		if _, ok := next.Attribute(a.Name); !ok {
			removed = append(removed, candidate{name: a.Name, hash: pl.columnHash(a)})
		}
	}
	for _, a := range next.Attributes {
		if _, ok := prev.Attribute(a.Name); !ok {
			added = append(added, candidate{name: a.Name, hash: schema.HashAttribute(a)})
		}
	}

	renames, err := pl.resolve(EntityColumn, next.Name, removed, added)
	if err != nil {
		return nil, err
	}

	claimed := make(map[string]bool)
	for _, a := range next.Attributes {
		oldName := a.Name
		if from, ok := renames[a.Name]; ok {
			oldName = from
			alter.Renames = append(alter.Renames, Rename{Old: from, New: a.Name})
		}
		was, ok := prev.Attribute(oldName)
		if !ok {
			alter.Added = append(alter.Added, a)
			continue
		}
		claimed[was.Name] = true
		alter.source[a.Name] = was.Name
		if pl.columnHash(*was) != schema.HashAttribute(a) {
			alter.Altered = append(alter.Altered, AlteredColumn{Old: *was, New: a})
		}
	}
	for _, a := range prev.Attributes {
		if !claimed[a.Name] {
			alter.Dropped = append(alter.Dropped, a)
		}
	}
	return alter, nil
}

// remapJunction rewrites an old junction's sides through model renames.
func (pl *planner) remapJunction(j schema.Junction) schema.Junction {
	out := schema.Junction{Name: j.Name}
	for i, side := range j.Sides {
		model := pl.remapModel(side.Model)
		out.Sides[i] = schema.JunctionSide{Model: model, Column: schema.JunctionColumn(model), PrimaryKey: side.PrimaryKey}
	}
	if out.Sides[1].Model < out.Sides[0].Model {
		out.Sides[0], out.Sides[1] = out.Sides[1], out.Sides[0]
	}
	return out
}

// junctionColumnRenames lists the columns of old that must follow renamed models.
func (pl *planner) junctionColumnRenames(old schema.Junction) []Rename {
	var out []Rename
	for _, side := range old.Sides {
		if col := schema.JunctionColumn(pl.remapModel(side.Model)); col != side.Column {
			out = append(out, Rename{Old: side.Column, New: col})
		}
	}
	return out
}

func (pl *planner) planJunctions(p *Plan) error {
	oldJunctions, err := schema.Junctions(pl.old.Models)
	if err != nil {
		return fmt.Errorf("%w: previous snapshot: %v", ErrMigration, err)
	}
	newJunctions, err := schema.Junctions(pl.new.Models)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMigration, err)
	}

	oldByName := make(map[string]schema.Junction, len(oldJunctions))
	for _, j := range oldJunctions {
		oldByName[j.Name] = j
	}
	newByName := make(map[string]schema.Junction, len(newJunctions))
	for _, j := range newJunctions {
		newByName[j.Name] = j
	}

	var removed, added []candidate
	for _, j := range oldJunctions {
		if _, ok := newByName[j.Name]; !ok {
			removed = append(removed, candidate{name: j.Name, hash: schema.HashJunction(pl.remapJunction(j))})
		}
	}
	for _, j := range newJunctions {
		if _, ok := oldByName[j.Name]; !ok {
			added = append(added, candidate{name: j.Name, hash: schema.HashJunction(j)})
		}
	}
	renames, err := pl.resolve(EntityJunction, "", removed, added)
	if err != nil {
		return err
	}

	kept := make(map[string]bool)
	for _, j := range newJunctions {
		oldName := j.Name
		if from, ok := renames[j.Name]; ok {
			oldName = from
		}
		prev, ok := oldByName[oldName]
		if !ok {
			p.CreateJunctions = append(p.CreateJunctions, j)
			continue
		}
		if schema.HashJunction(pl.remapJunction(prev)) != schema.HashJunction(j) {
			// The key columns changed type; the junction is rebuilt empty.
			p.DropJunctions = append(p.DropJunctions, prev)
			p.CreateJunctions = append(p.CreateJunctions, j)
			kept[prev.Name] = true
			continue
		}
		kept[prev.Name] = true
		change := JunctionChange{Old: prev.Name, New: j.Name, Columns: pl.junctionColumnRenames(prev)}
		if change.Old != change.New || len(change.Columns) > 0 {
			p.JunctionChanges = append(p.JunctionChanges, change)
		}
	}
	for _, j := range oldJunctions {
		if !kept[j.Name] {
			p.DropJunctions = append(p.DropJunctions, j)
		}
	}
	return nil
}

// planViews drops every previous view and creates every current one.
func (pl *planner) planViews(p *Plan) {
	for _, m := range pl.old.Models {
		for _, ds := range m.DataSources {
			p.DropViews = append(p.DropViews, ViewName(m.Name, ds.Name))
		}
	}
	for i := range pl.new.Models {
		m := &pl.new.Models[i]
		for _, ds := range m.DataSources {
			p.CreateViews = append(p.CreateViews, View{Name: ViewName(m.Name, ds.Name), Model: m, Source: ds})
		}
	}
}

type candidate struct {
	name string
	hash uint64
}

// resolve matches added entities to removed ones with the same content hash.
// A hash shared by exactly one removed and one added entity is a rename.
// Any other overlap asks the decision source once per added entity, offering
// the removed entities not yet claimed.
func (pl *planner) resolve(kind EntityKind, scope string, removed, added []candidate) (map[string]string, error) {
	renames := make(map[string]string)
	if len(removed) == 0 || len(added) == 0 {
		return renames, nil
	}

	removedByHash := make(map[uint64][]string)
	for _, r := range removed {
		removedByHash[r.hash] = append(removedByHash[r.hash], r.name)
	}
	addedPerHash := make(map[uint64]int)
	for _, a := range added {
		addedPerHash[a.hash]++
	}

	claimed := make(map[string]bool)
	for _, a := range added {
		pool := removedByHash[a.hash]
		if len(pool) == 0 {
			continue
		}
		if len(pool) == 1 && addedPerHash[a.hash] == 1 {
			renames[a.name] = pool[0]
			claimed[pool[0]] = true
			pl.logRename(kind, scope, pool[0], a.name, "hash match")
			continue
		}

		var open []string
		for _, r := range pool {
			if !claimed[r] {
				open = append(open, r)
			}
		}
		if len(open) == 0 {
			continue
		}

		d := Dilemma{Kind: kind, Scope: scope, Added: a.name, Candidates: open}
		choice, ok, err := pl.decisions.Decide(d)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %w", ErrMigration, kind, d.Subject(), err)
		}
		if !ok {
			pl.log.Debug().Str("kind", string(kind)).Str("added", d.Subject()).Msg("treated as new")
			continue
		}
		if choice < 0 || choice >= len(open) {
			return nil, fmt.Errorf("%w: %s %s: decision %d out of range (%d candidates)",
				ErrMigration, kind, d.Subject(), choice, len(open))
		}
		renames[a.name] = open[choice]
		claimed[open[choice]] = true
		pl.logRename(kind, scope, open[choice], a.name, "decided")
	}
	return renames, nil
}

func (pl *planner) logRename(kind EntityKind, scope, from, to, reason string) {
	pl.log.Debug().
		Str("kind", string(kind)).
		Str("scope", scope).
		Str("from", from).
		Str("to", to).
		Str("reason", reason).
		Msg("rename")
}

// orderParentsFirst sorts models so referenced tables come before their
// referrers, keeping declaration order otherwise. Foreign keys that close a
// cycle are returned separately.
func orderParentsFirst(models []*schema.Model) ([]*schema.Model, []ForeignKey) {
	byName := make(map[string]*schema.Model, len(models))
	for _, m := range models {
		byName[m.Name] = m
	}

	colors := make(map[string]int)
	var ordered []*schema.Model
	var deferred []ForeignKey

	var visit func(m *schema.Model)
	visit = func(m *schema.Model) {
		colors[m.Name] = 1
		for _, a := range m.Attributes {
			target, ok := byName[a.ForeignKey]
			if a.ForeignKey == "" || !ok {
				continue
			}
			switch colors[target.Name] {
			case 0:
				visit(target)
			case 1:
				deferred = append(deferred, ForeignKey{Table: m.Name, Column: a})
			}
		}
		colors[m.Name] = 2
		ordered = append(ordered, m)
	}
	for _, m := range models {
		if colors[m.Name] == 0 {
			visit(m)
		}
	}
	return ordered, deferred
}
