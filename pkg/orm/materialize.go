// Package orm rebuilds nested objects from flat join rows.
//
// A query over a model and its included navigation properties returns one
// row per combination of related rows. Columns of the root model use their
// plain names; columns reached through navigation properties are prefixed
// with the dotted path ("dogs.id", "dogs.owner.name"), which is how the
// views generated by pkg/migrator name them.
//
// Materialize folds those rows back into one object per root primary key,
// in first-seen order, attaching related objects without duplicating any
// that appear on several rows.
package orm

import (
	"fmt"

	"github.com/pthm/cidl/pkg/schema"
)

// Row is one flat result row keyed by column name.
type Row = map[string]any

// Object is a materialized entity. Scalar fields hold column values,
// one-to-one navigations hold an Object (or nil), and one-to-many and
// many-to-many navigations hold a []Object.
type Object = map[string]any

// ModelLookup resolves model metadata. Both *schema.Schema and
// *schema.MigrationsAst implement it.
type ModelLookup interface {
	Model(name string) (*schema.Model, bool)
}

// Materialize builds the root objects of model root from rows, following
// tree. A nil or empty tree materializes root scalars only. Every object
// carries an empty array for each many-valued navigation property, included
// or not.
func Materialize(root string, models ModelLookup, rows []Row, tree schema.IncludeTree) ([]Object, error) {
	m, ok := models.Model(root)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, root)
	}
	if err := checkTree(models, m, tree, root); err != nil {
		return nil, err
	}

	out := make([]Object, 0)
	seen := make(map[string]*node)
	for i, row := range rows {
		pk, ok := key(row[m.PrimaryKey.Name])
		if !ok {
			return nil, fmt.Errorf("%w: row %d has no %s.%s", ErrMissingPrimaryKey, i, root, m.PrimaryKey.Name)
		}
		n, ok := seen[pk]
		if !ok {
			n = newNode(m, row, "")
			seen[pk] = n
			out = append(out, n.obj)
		}
		n.include(models, row, "", tree)
	}
	return out, nil
}

// checkTree rejects unknown navigation properties and target models before
// any row is read.
func checkTree(models ModelLookup, m *schema.Model, tree schema.IncludeTree, path string) error {
	for _, name := range tree.Keys() {
		nav, ok := m.Navigation(name)
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownNavigation, path, name)
		}
		target, ok := models.Model(nav.ModelName)
		if !ok {
			return fmt.Errorf("%w: %s (via %s.%s)", ErrUnknownModel, nav.ModelName, path, name)
		}
		if err := checkTree(models, target, tree[name], path+"."+name); err != nil {
			return err
		}
	}
	return nil
}

// node is an object under construction together with the indexes needed to
// reuse its related objects on later rows.
type node struct {
	model *schema.Model
	obj   Object
	one   map[string]*node            // by navigation
	many  map[string]map[string]*node // by navigation, then primary key
}

func newNode(m *schema.Model, row Row, prefix string) *node {
	n := &node{
		model: m,
		obj:   make(Object, 1+len(m.Attributes)+len(m.NavigationProperties)),
		one:   make(map[string]*node),
		many:  make(map[string]map[string]*node),
	}
	n.obj[m.PrimaryKey.Name] = normalize(m.PrimaryKey.Type, row[prefix+m.PrimaryKey.Name])
	for _, a := range m.Attributes {
		n.obj[a.Name] = normalize(a.Type, row[prefix+a.Name])
	}
	for _, nav := range m.NavigationProperties {
		if schema.IsMany(nav.Kind) {
			n.obj[nav.Name] = []Object{}
		}
	}
	return n
}

// include attaches the related objects this row names under each navigation
// in tree, then descends into them.
func (n *node) include(models ModelLookup, row Row, prefix string, tree schema.IncludeTree) {
	for _, name := range tree.Keys() {
		nav, _ := n.model.Navigation(name)
		target, _ := models.Model(nav.ModelName)
		path := prefix + name + "."

		pk, ok := key(row[path+target.PrimaryKey.Name])
		if !ok {
			if _, set := n.obj[name]; !set {
				n.obj[name] = nil
			}
			continue
		}

		var child *node
		switch nav.Kind.(type) {
		case schema.OneToOne:
			child = n.one[name]
			if child == nil || !samePK(child, pk) {
				child = newNode(target, row, path)
				n.one[name] = child
				n.obj[name] = child.obj
			}
		case schema.OneToMany, schema.ManyToMany:
			index := n.many[name]
			if index == nil {
				index = make(map[string]*node)
				n.many[name] = index
			}
			child = index[pk]
			if child == nil {
				child = newNode(target, row, path)
				index[pk] = child
				n.obj[name] = append(n.obj[name].([]Object), child.obj)
			}
		}
		child.include(models, row, path, tree[name])
	}
}

func samePK(n *node, pk string) bool {
	k, ok := key(n.obj[n.model.PrimaryKey.Name])
	return ok && k == pk
}

// key renders a primary key value as a map key. Null and absent values have
// no key.
func key(v any) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "", false
	case []byte:
		return string(v), true
	case string:
		return v, true
	}
	return fmt.Sprint(v), true
}

// normalize converts a driver value to the declared type where drivers
// differ: SQLite stores booleans as integers and some drivers return text
// as bytes.
func normalize(t schema.CidlType, v any) any {
	if v == nil {
		return nil
	}
	switch t.Root().Kind {
	case schema.KindBoolean:
		switch b := v.(type) {
		case int64:
			return b != 0
		case int:
			return b != 0
		case []byte:
			return string(b) == "1" || string(b) == "t" || string(b) == "true"
		}
	case schema.KindText, schema.KindDateIso:
		if b, ok := v.([]byte); ok {
			return string(b)
		}
	}
	return v
}
