// Package analyzer validates a parsed schema before anything is generated
// from it.
//
// Analyze runs the checks in dependency order and stops at the first
// violation:
//
//  1. references to unknown models
//  2. primary key validity
//  3. attribute type validity
//  4. foreign key type matching
//  5. navigation property references, include trees, object and inject
//     references
//  6. model dependency cycles over non-nullable foreign keys
//  7. service dependency cycles over injections
//
// A schema that passes yields its BlobSet, the models and plain old objects
// that carry binary data directly or through navigation.
package analyzer

import (
	"sort"

	"github.com/pthm/cidl/pkg/schema"
)

// Analyze validates s and computes its blob-bearing entities.
// The returned error is always a *SemanticError.
func Analyze(s *schema.Schema) (BlobSet, error) {
	a := newAnalysis(s)
	checks := []func() error{
		a.checkModelReferences,
		a.checkPrimaryKeys,
		a.checkAttributeTypes,
		a.checkForeignKeyTypes,
		a.checkNavigationProperties,
		a.checkDataSources,
		a.checkTypeReferences,
		a.checkModelCycles,
		a.checkServiceCycles,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return BlobSet{}, err
		}
	}
	return a.blobs(), nil
}

type analysis struct {
	s        *schema.Schema
	models   map[string]*schema.Model
	poos     map[string]bool
	services map[string]bool
	bindings map[string]bool
}

func newAnalysis(s *schema.Schema) *analysis {
	a := &analysis{
		s:        s,
		models:   make(map[string]*schema.Model, len(s.Models)),
		poos:     make(map[string]bool, len(s.Poos)),
		services: make(map[string]bool, len(s.Services)),
		bindings: make(map[string]bool),
	}
	for i := range s.Models {
		a.models[s.Models[i].Name] = &s.Models[i]
	}
	for _, p := range s.Poos {
		a.poos[p.Name] = true
	}
	for _, sv := range s.Services {
		a.services[sv.Name] = true
	}
	if s.Env != nil {
		a.bindings[s.Env.Name] = true
		for _, b := range s.Env.Bindings {
			a.bindings[b] = true
		}
	}
	return a
}

func (a *analysis) checkModelReferences() error {
	for _, m := range a.s.Models {
		for _, attr := range m.Attributes {
			if attr.ForeignKey != "" && a.models[attr.ForeignKey] == nil {
				return semantic(UnknownModelReference, "%s.%s references %s", m.Name, attr.Name, attr.ForeignKey)
			}
		}
		for _, nav := range m.NavigationProperties {
			if a.models[nav.ModelName] == nil {
				return semantic(UnknownModelReference, "%s.%s navigates to %s", m.Name, nav.Name, nav.ModelName)
			}
		}
	}
	return nil
}

func (a *analysis) checkPrimaryKeys() error {
	for _, m := range a.s.Models {
		pk := m.PrimaryKey
		switch {
		case pk.Type.IsNullable() || pk.Type.Kind == schema.KindNull:
			return semantic(NullPrimaryKey, "%s.%s", m.Name, pk.Name)
		case !pk.Type.IsPrimitive():
			return semantic(InvalidSqlType, "%s.%s: primary key of type %s", m.Name, pk.Name, pk.Type)
		}
	}
	return nil
}

func (a *analysis) checkAttributeTypes() error {
	for _, m := range a.s.Models {
		for _, attr := range m.Attributes {
			root := attr.Type.Root()
			switch {
			case root.Kind == schema.KindNull:
				return semantic(NullSqlType, "%s.%s", m.Name, attr.Name)
			case root.Kind == schema.KindInject:
				return semantic(UnexpectedInject, "%s.%s injects %s", m.Name, attr.Name, root.Name)
			case !root.IsPrimitive():
				return semantic(InvalidSqlType, "%s.%s: %s", m.Name, attr.Name, attr.Type)
			}
		}
	}
	return nil
}

func (a *analysis) checkForeignKeyTypes() error {
	for _, m := range a.s.Models {
		for _, attr := range m.Attributes {
			if attr.ForeignKey == "" {
				continue
			}
			target := a.models[attr.ForeignKey]
			if !attr.Type.Root().Equal(target.PrimaryKey.Type) {
				return semantic(MismatchedForeignKeyTypes, "%s.%s is %s but %s.%s is %s",
					m.Name, attr.Name, attr.Type.Root(), target.Name, target.PrimaryKey.Name, target.PrimaryKey.Type)
			}
		}
	}
	return nil
}

type manyToManySide struct {
	model string
	nav   schema.NavigationProperty
}

func (a *analysis) checkNavigationProperties() error {
	junctions := make(map[string][]manyToManySide)
	for _, m := range a.s.Models {
		for _, nav := range m.NavigationProperties {
			if mm, ok := nav.Kind.(schema.ManyToMany); ok {
				junctions[mm.UniqueID] = append(junctions[mm.UniqueID], manyToManySide{model: m.Name, nav: nav})
			}
		}
	}

	checked := make(map[string]bool)
	for _, m := range a.s.Models {
		for _, nav := range m.NavigationProperties {
			switch k := nav.Kind.(type) {
			case schema.OneToOne:
				if err := a.checkReference(m.Name, nav, m.Name, k.Reference, nav.ModelName); err != nil {
					return err
				}
			case schema.OneToMany:
				if err := a.checkReference(m.Name, nav, nav.ModelName, k.Reference, m.Name); err != nil {
					return err
				}
			case schema.ManyToMany:
				if checked[k.UniqueID] {
					continue
				}
				checked[k.UniqueID] = true
				if err := checkManyToMany(k.UniqueID, junctions[k.UniqueID]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// checkReference verifies that holder.reference is a foreign key to target.
func (a *analysis) checkReference(model string, nav schema.NavigationProperty, holder, reference, target string) error {
	attr, ok := a.models[holder].Attribute(reference)
	if !ok {
		return semantic(InvalidNavigationPropertyReference, "%s.%s: %s has no attribute %q",
			model, nav.Name, holder, reference)
	}
	if attr.ForeignKey != target {
		return semantic(MismatchedNavigationPropertyTypes, "%s.%s: %s.%s must reference %s",
			model, nav.Name, holder, reference, target)
	}
	return nil
}

func checkManyToMany(id string, sides []manyToManySide) error {
	distinct := make(map[string]bool)
	for _, side := range sides {
		distinct[side.model] = true
	}
	switch {
	case len(sides) > 2 || len(distinct) > 2:
		models := make([]string, 0, len(distinct))
		for name := range distinct {
			models = append(models, name)
		}
		sort.Strings(models)
		return semantic(ExtraneousManyToManyReferences, "unique id %q is shared by %v", id, models)
	case len(sides) < 2 || len(distinct) < 2:
		return semantic(MissingManyToManyReference, "%s.%s: unique id %q has no reciprocal side",
			sides[0].model, sides[0].nav.Name, id)
	}

	for i, side := range sides {
		other := sides[1-i]
		if side.nav.ModelName != other.model {
			return semantic(MismatchedNavigationPropertyTypes, "%s.%s: many-to-many %q must navigate to %s",
				side.model, side.nav.Name, id, other.model)
		}
	}
	return nil
}

func (a *analysis) checkDataSources() error {
	for _, m := range a.s.Models {
		for _, ds := range m.DataSources {
			if err := a.checkIncludeTree(m.Name+"."+ds.Name, a.models[m.Name], ds.Tree); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *analysis) checkIncludeTree(path string, m *schema.Model, tree schema.IncludeTree) error {
	for _, key := range tree.Keys() {
		nav, ok := m.Navigation(key)
		if !ok {
			return semantic(UnknownIncludeTreeReference, "%s: %s has no navigation property %q", path, m.Name, key)
		}
		if err := a.checkIncludeTree(path+"."+key, a.models[nav.ModelName], tree[key]); err != nil {
			return err
		}
	}
	return nil
}

func (a *analysis) checkTypeReferences() error {
	for _, p := range a.s.Poos {
		for _, attr := range p.Attributes {
			if err := a.checkType(p.Name+"."+attr.Name, attr.Type, false); err != nil {
				return err
			}
		}
	}
	for _, m := range a.s.Models {
		if err := a.checkMethods(m.Name, m.Methods); err != nil {
			return err
		}
	}
	for _, sv := range a.s.Services {
		for _, attr := range sv.Attributes {
			if !a.services[attr.Injected] && !a.bindings[attr.Injected] {
				return semantic(UnknownInjectReference, "%s.%s injects %s", sv.Name, attr.Name, attr.Injected)
			}
		}
		if err := a.checkMethods(sv.Name, sv.Methods); err != nil {
			return err
		}
	}
	return nil
}

func (a *analysis) checkMethods(owner string, methods []schema.Method) error {
	for _, method := range methods {
		path := owner + "." + method.Name
		for _, p := range method.Parameters {
			if err := a.checkType(path+"("+p.Name+")", p.Type, true); err != nil {
				return err
			}
		}
		if err := a.checkType(path+" return", method.ReturnType, false); err != nil {
			return err
		}
	}
	return nil
}

// checkType resolves the names a type mentions. Injection is only valid
// where allowInject is set, and only at the top level.
func (a *analysis) checkType(path string, t schema.CidlType, allowInject bool) error {
	switch t.Kind {
	case schema.KindNullable, schema.KindArray:
		if t.Inner == nil {
			return semantic(InvalidSqlType, "%s: %s without inner type", path, t.Kind)
		}
		return a.checkType(path, *t.Inner, false)
	case schema.KindModel:
		if a.models[t.Name] == nil {
			return semantic(UnknownObjectReference, "%s references model %s", path, t.Name)
		}
	case schema.KindObject:
		if !a.poos[t.Name] {
			return semantic(UnknownObjectReference, "%s references object %s", path, t.Name)
		}
	case schema.KindInject:
		if !allowInject {
			return semantic(UnexpectedInject, "%s injects %s", path, t.Name)
		}
		if !a.services[t.Name] && !a.bindings[t.Name] {
			return semantic(UnknownInjectReference, "%s injects %s", path, t.Name)
		}
	}
	return nil
}

func (a *analysis) checkModelCycles() error {
	g := newGraph()
	for _, m := range a.s.Models {
		g.addNode(m.Name)
		for _, attr := range m.Attributes {
			// Nullable foreign keys can be filled after insert and never
			// force an ordering.
			if attr.ForeignKey != "" && !attr.Type.IsNullable() {
				g.addEdge(m.Name, attr.ForeignKey)
			}
		}
	}
	if cycle := g.detectCycle(); cycle != nil {
		return cyclical(cycle)
	}
	return nil
}

func (a *analysis) checkServiceCycles() error {
	g := newGraph()
	for _, sv := range a.s.Services {
		g.addNode(sv.Name)
		for _, attr := range sv.Attributes {
			if a.services[attr.Injected] {
				g.addEdge(sv.Name, attr.Injected)
			}
		}
	}
	if cycle := g.detectCycle(); cycle != nil {
		return cyclical(cycle)
	}
	return nil
}
