package schema

import (
	"fmt"
	"sort"
)

// MigrationsAst is the reduced projection of a Schema that the migration
// engine diffs. It is persisted after each migration and reloaded as the
// previous revision on the next run.
type MigrationsAst struct {
	Hash   uint64  `json:"hash"`
	Models []Model `json:"models"`
}

// ToMigrationsAst projects a schema onto the parts that affect storage.
// Methods and CRUD kinds are dropped; hashes are recomputed.
func ToMigrationsAst(s *Schema) *MigrationsAst {
	models := make([]Model, len(s.Models))
	for i, m := range s.Models {
		models[i] = Model{
			Name:                 m.Name,
			PrimaryKey:           m.PrimaryKey,
			Attributes:           append([]Attribute(nil), m.Attributes...),
			NavigationProperties: append([]NavigationProperty(nil), m.NavigationProperties...),
			DataSources:          append([]DataSource(nil), m.DataSources...),
		}
	}
	ast := &MigrationsAst{Models: models}
	ast.Rehash()
	return ast
}

// Model returns the model with the given name.
func (a *MigrationsAst) Model(name string) (*Model, bool) {
	for i := range a.Models {
		if a.Models[i].Name == name {
			return &a.Models[i], true
		}
	}
	return nil, false
}

// Rehash recomputes every stored hash.
func (a *MigrationsAst) Rehash() {
	rehashModels(a.Models)
	a.Hash = HashModels(a.Models)
}

// VerifyHashes recomputes hashes and reports the first stored hash that
// disagrees. A disagreement means the snapshot was edited by hand or written
// by an incompatible hasher.
func (a *MigrationsAst) VerifyHashes() error {
	for _, m := range a.Models {
		for _, n := range m.NavigationProperties {
			if got := HashNavigationProperty(n); got != n.Hash {
				return fmt.Errorf("navigation property %s.%s: stored hash %d, computed %d", m.Name, n.Name, n.Hash, got)
			}
		}
		if got := HashModel(m); got != m.Hash {
			return fmt.Errorf("model %s: stored hash %d, computed %d", m.Name, m.Hash, got)
		}
	}
	if got := HashModels(a.Models); got != a.Hash {
		return fmt.Errorf("schema: stored hash %d, computed %d", a.Hash, got)
	}
	return nil
}

// JunctionSide is one model participating in a many-to-many junction.
type JunctionSide struct {
	Model      string
	Column     string
	PrimaryKey PrimaryKey
}

// Junction is the table materializing a many-to-many navigation pair. Its
// name is the shared unique id; Sides are ordered by model name.
type Junction struct {
	Name  string
	Sides [2]JunctionSide
}

// JunctionColumn names the junction column that references model.
func JunctionColumn(model string) string {
	return model + "_id"
}

// Junctions derives the junction tables from the many-to-many navigation
// properties of models, sorted by unique id. Each unique id must be declared
// on exactly two distinct models.
func Junctions(models []Model) ([]Junction, error) {
	sides := make(map[string][]JunctionSide)
	var ids []string
	for _, m := range models {
		for _, n := range m.NavigationProperties {
			mm, ok := n.Kind.(ManyToMany)
			if !ok {
				continue
			}
			if _, seen := sides[mm.UniqueID]; !seen {
				ids = append(ids, mm.UniqueID)
			}
			sides[mm.UniqueID] = append(sides[mm.UniqueID], JunctionSide{
				Model:      m.Name,
				Column:     JunctionColumn(m.Name),
				PrimaryKey: m.PrimaryKey,
			})
		}
	}

	sort.Strings(ids)
	out := make([]Junction, 0, len(ids))
	for _, id := range ids {
		s := sides[id]
		if len(s) != 2 || s[0].Model == s[1].Model {
			return nil, fmt.Errorf("many-to-many %q must be declared on exactly two distinct models, found %d declaration(s)", id, len(s))
		}
		if s[1].Model < s[0].Model {
			s[0], s[1] = s[1], s[0]
		}
		out = append(out, Junction{Name: id, Sides: [2]JunctionSide{s[0], s[1]}})
	}
	return out, nil
}
