package schema

import "sort"

// IncludeTree maps navigation property names to the nested tree of
// relations to include beneath them. An empty tree includes nothing.
type IncludeTree map[string]IncludeTree

// Keys returns the navigation property names at this level, sorted.
func (t IncludeTree) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Depth returns the length of the longest path in the tree.
func (t IncludeTree) Depth() int {
	depth := 0
	for _, sub := range t {
		if d := sub.Depth() + 1; d > depth {
			depth = d
		}
	}
	return depth
}

// DataSource is a named inclusion preset for a model.
type DataSource struct {
	Name string      `json:"name"`
	Tree IncludeTree `json:"tree"`
}
