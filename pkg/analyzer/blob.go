package analyzer

import (
	"sort"

	"github.com/pthm/cidl/pkg/schema"
)

// BlobSet is the set of models and plain old objects that carry binary data,
// either declared directly or reachable through navigation properties and
// object references.
type BlobSet struct {
	names map[string]bool
}

// Has reports whether name is blob-bearing.
func (b BlobSet) Has(name string) bool {
	return b.names[name]
}

// Len returns the number of blob-bearing entities.
func (b BlobSet) Len() int {
	return len(b.names)
}

// Names returns the blob-bearing entity names, sorted.
func (b BlobSet) Names() []string {
	out := make([]string, 0, len(b.names))
	for n := range b.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// blobs computes blob reachability as a fixpoint. The navigation graph may be
// cyclic through nullable back-references, so membership is propagated along
// edges until a pass adds nothing.
func (a *analysis) blobs() BlobSet {
	bearing := make(map[string]bool)
	edges := make(map[string][]string)

	for _, m := range a.s.Models {
		if m.PrimaryKey.Type.IsBlob() {
			bearing[m.Name] = true
		}
		for _, attr := range m.Attributes {
			if containsBlob(attr.Type) {
				bearing[m.Name] = true
			}
		}
		for _, nav := range m.NavigationProperties {
			edges[m.Name] = append(edges[m.Name], nav.ModelName)
		}
	}
	for _, p := range a.s.Poos {
		for _, attr := range p.Attributes {
			if containsBlob(attr.Type) {
				bearing[p.Name] = true
			}
			if _, name, ok := attr.Type.Referenced(); ok {
				edges[p.Name] = append(edges[p.Name], name)
			}
		}
	}

	for changed := true; changed; {
		changed = false
		for from, targets := range edges {
			if bearing[from] {
				continue
			}
			for _, to := range targets {
				if bearing[to] {
					bearing[from] = true
					changed = true
					break
				}
			}
		}
	}
	return BlobSet{names: bearing}
}

func containsBlob(t schema.CidlType) bool {
	switch t.Kind {
	case schema.KindBlob:
		return true
	case schema.KindNullable, schema.KindArray:
		return t.Inner != nil && containsBlob(*t.Inner)
	}
	return false
}
