package analyzer

// color marks DFS progress.
type color int

const (
	white color = iota // unvisited
	gray               // in progress (on current path)
	black              // finished
)

// graph is an adjacency list keyed by entity name. nodes keeps declaration
// order so the reported cycle is deterministic.
type graph struct {
	nodes []string
	edges map[string][]string
}

func newGraph() *graph {
	return &graph{edges: make(map[string][]string)}
}

func (g *graph) addNode(n string) {
	g.nodes = append(g.nodes, n)
}

func (g *graph) addEdge(from, to string) {
	g.edges[from] = append(g.edges[from], to)
}

// detectCycle uses DFS with three-color marking to detect cycles.
// Returns the closed cycle path (first node repeated last) if found, nil otherwise.
func (g *graph) detectCycle() []string {
	colors := make(map[string]color)
	parent := make(map[string]string)

	var dfs func(n string) []string
	dfs = func(n string) []string {
		colors[n] = gray

		for _, neighbor := range g.edges[n] {
			switch colors[neighbor] {
			case gray:
				return reconstructCycle(n, neighbor, parent)
			case white:
				parent[neighbor] = n
				if cycle := dfs(neighbor); cycle != nil {
					return cycle
				}
			}
		}

		colors[n] = black
		return nil
	}

	for _, n := range g.nodes {
		if colors[n] == white {
			if cycle := dfs(n); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}

// reconstructCycle builds the cycle path from parent pointers.
// from is the node where we detected the back-edge, to is the node we're returning to.
func reconstructCycle(from, to string, parent map[string]string) []string {
	cycle := []string{to}
	for n := from; n != to; n = parent[n] {
		cycle = append([]string{n}, cycle...)
	}
	return append([]string{to}, cycle...)
}
