package schema

import (
	"encoding/binary"
	"sort"

	"github.com/zeebo/blake3"
)

// Content hashing.
//
// Every hash is a BLAKE3 digest over a length-prefixed canonical encoding,
// truncated to its first 8 bytes. Two rules make the hashes usable for
// diffing:
//
//   - An entity never hashes its own name. The name is the diff key, so a
//     renamed entity keeps its hash and becomes a rename candidate.
//   - Parents fold (childName, childHash) pairs sorted by name. Reordering
//     declarations never changes a hash; renaming a child changes the parent.

type digest struct {
	h *blake3.Hasher
}

type namedHash struct {
	name string
	hash uint64
}

func newDigest(tag string) *digest {
	d := &digest{h: blake3.New()}
	d.str(tag)
	return d
}

func (d *digest) u64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = d.h.Write(buf[:])
}

func (d *digest) str(s string) {
	d.u64(uint64(len(s)))
	_, _ = d.h.Write([]byte(s))
}

func (d *digest) fold(items []namedHash) {
	sort.Slice(items, func(i, j int) bool { return items[i].name < items[j].name })
	d.u64(uint64(len(items)))
	for _, it := range items {
		d.str(it.name)
		d.u64(it.hash)
	}
}

func (d *digest) sum() uint64 {
	var out [32]byte
	b := d.h.Sum(out[:0])
	return binary.LittleEndian.Uint64(b[:8])
}

// HashType hashes a type by its canonical string form.
func HashType(t CidlType) uint64 {
	d := newDigest("type")
	d.str(t.String())
	return d.sum()
}

// HashAttribute hashes an attribute's type and foreign key target.
func HashAttribute(a Attribute) uint64 {
	d := newDigest("attribute")
	d.str(a.Type.String())
	d.str(a.ForeignKey)
	return d.sum()
}

// HashPrimaryKey hashes the primary key column, including its name.
func HashPrimaryKey(pk PrimaryKey) uint64 {
	d := newDigest("primary_key")
	d.str(pk.Name)
	d.str(pk.Type.String())
	return d.sum()
}

// HashNavigationProperty hashes the target model and relation kind.
func HashNavigationProperty(n NavigationProperty) uint64 {
	d := newDigest("navigation")
	d.str(n.ModelName)
	d.str(KindName(n.Kind))
	switch k := n.Kind.(type) {
	case OneToOne:
		d.str(k.Reference)
	case OneToMany:
		d.str(k.Reference)
	case ManyToMany:
		d.str(k.UniqueID)
	}
	return d.sum()
}

// HashIncludeTree hashes a tree independent of map iteration order.
func HashIncludeTree(t IncludeTree) uint64 {
	d := newDigest("include")
	items := make([]namedHash, 0, len(t))
	for k, sub := range t {
		items = append(items, namedHash{name: k, hash: HashIncludeTree(sub)})
	}
	d.fold(items)
	return d.sum()
}

// HashDataSource hashes a data source's include tree.
func HashDataSource(ds DataSource) uint64 {
	d := newDigest("data_source")
	d.u64(HashIncludeTree(ds.Tree))
	return d.sum()
}

// HashModel hashes everything about a model that affects storage: primary
// key, attributes, navigation properties and data sources. Methods and CRUD
// kinds are excluded.
func HashModel(m Model) uint64 {
	d := newDigest("model")
	d.u64(HashPrimaryKey(m.PrimaryKey))

	attrs := make([]namedHash, len(m.Attributes))
	for i, a := range m.Attributes {
		attrs[i] = namedHash{name: a.Name, hash: HashAttribute(a)}
	}
	d.fold(attrs)

	navs := make([]namedHash, len(m.NavigationProperties))
	for i, n := range m.NavigationProperties {
		navs[i] = namedHash{name: n.Name, hash: HashNavigationProperty(n)}
	}
	d.fold(navs)

	sources := make([]namedHash, len(m.DataSources))
	for i, ds := range m.DataSources {
		sources[i] = namedHash{name: ds.Name, hash: HashDataSource(ds)}
	}
	d.fold(sources)

	return d.sum()
}

// HashModels hashes a whole set of models. Schema and MigrationsAst share this
// so a schema's hash equals the hash of its migration projection.
func HashModels(models []Model) uint64 {
	d := newDigest("schema")
	items := make([]namedHash, len(models))
	for i, m := range models {
		items[i] = namedHash{name: m.Name, hash: HashModel(m)}
	}
	d.fold(items)
	return d.sum()
}

// HashJunction hashes a junction table by its two sides.
func HashJunction(j Junction) uint64 {
	d := newDigest("junction")
	for _, side := range j.Sides {
		d.str(side.Model)
		d.str(side.Column)
		d.str(side.PrimaryKey.Name)
		d.str(side.PrimaryKey.Type.String())
	}
	return d.sum()
}

// Rehash fills every stored hash in the schema: navigation properties,
// models and the whole-schema hash.
func (s *Schema) Rehash() {
	rehashModels(s.Models)
	s.Hash = HashModels(s.Models)
}

func rehashModels(models []Model) {
	for i := range models {
		m := &models[i]
		for j := range m.NavigationProperties {
			m.NavigationProperties[j].Hash = HashNavigationProperty(m.NavigationProperties[j])
		}
		m.Hash = HashModel(*m)
	}
}
