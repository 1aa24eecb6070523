package graph

import (
	"fmt"
	"sort"
	"strings"

	tierstack "github.com/lex00/tierstack-go"
)

// Fragment is an immutable set of nodes returned by one composition stage.
type Fragment struct {
	nodes []Node
}

// NewFragment returns a fragment holding copies of nodes.
func NewFragment(nodes ...Node) Fragment {
	return Fragment{}.Append(nodes...)
}

// Append returns a new fragment with nodes added after the existing ones.
func (f Fragment) Append(nodes ...Node) Fragment {
	out := make([]Node, 0, len(f.nodes)+len(nodes))
	out = append(out, f.nodes...)
	for _, n := range nodes {
		out = append(out, n.clone())
	}
	return Fragment{nodes: out}
}

// Nodes returns copies of the fragment's nodes in declaration order.
func (f Fragment) Nodes() []Node {
	out := make([]Node, len(f.nodes))
	for i, n := range f.nodes {
		out[i] = n.clone()
	}
	return out
}

// Len returns the number of nodes in the fragment.
func (f Fragment) Len() int {
	return len(f.nodes)
}

// Graph is the resource arena. Nodes are addressed by ID; references between
// them are Deferred values and DependsOn entries.
type Graph struct {
	nodes map[ID]Node
	ids   []ID
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[ID]Node)}
}

// Merge adds every node of the fragment. A duplicate ID is an error and leaves the
// graph unchanged.
func (g *Graph) Merge(f Fragment) error {
	seen := make(map[ID]bool, len(f.nodes))
	for _, n := range f.nodes {
		if n.ID == "" {
			return fmt.Errorf("node of kind %s has no id", n.Kind)
		}
		if _, exists := g.nodes[n.ID]; exists || seen[n.ID] {
			return fmt.Errorf("duplicate resource id %s", n.ID)
		}
		seen[n.ID] = true
	}
	for _, n := range f.nodes {
		g.nodes[n.ID] = n.clone()
		g.ids = append(g.ids, n.ID)
	}
	return nil
}

// Node returns a copy of the node with the given ID.
func (g *Graph) Node(id ID) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// IDs returns every ID in merge order.
func (g *Graph) IDs() []ID {
	return append([]ID(nil), g.ids...)
}

// Nodes returns copies of every node in merge order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.ids))
	for i, id := range g.ids {
		out[i] = g.nodes[id].clone()
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.ids)
}

// OfKind returns the IDs of nodes with the given kind, in merge order.
func (g *Graph) OfKind(kind Kind) []ID {
	var ids []ID
	for _, id := range g.ids {
		if g.nodes[id].Kind == kind {
			ids = append(ids, id)
		}
	}
	return ids
}

// Validate reports references to resources that are not in the graph.
func (g *Graph) Validate() error {
	var missing []string
	for _, id := range g.ids {
		for _, ref := range g.nodes[id].References() {
			if _, ok := g.nodes[ref]; !ok {
				missing = append(missing, fmt.Sprintf("%s -> %s", id, ref))
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("unknown resource references: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Dependents returns the sorted IDs of nodes that reference id directly.
func (g *Graph) Dependents(id ID) []ID {
	var out []ID
	for _, other := range g.ids {
		for _, ref := range g.nodes[other].References() {
			if ref == id {
				out = append(out, other)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CycleError reports a dependency cycle. Path starts and ends with the same ID.
type CycleError struct {
	Path []ID
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = string(id)
	}
	return fmt.Sprintf("%s: %s", tierstack.ErrCyclicDependency, strings.Join(parts, " -> "))
}

// Unwrap makes CycleError match ErrCyclicDependency.
func (e *CycleError) Unwrap() error {
	return tierstack.ErrCyclicDependency
}

// Order returns every ID such that each node comes after all nodes it references.
// Ties are broken by ID so the order is deterministic.
func (g *Graph) Order() ([]ID, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	dependents := make(map[ID][]ID)
	inDegree := make(map[ID]int, len(g.ids))
	for _, id := range g.ids {
		inDegree[id] = 0
	}
	for _, id := range g.ids {
		for _, ref := range g.nodes[id].References() {
			dependents[ref] = append(dependents[ref], id)
			inDegree[id]++
		}
	}

	// Kahn's algorithm
	var queue []ID
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	sortIDs(queue)

	result := make([]ID, 0, len(g.ids))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, next := range dependents[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
				sortIDs(queue)
			}
		}
	}

	if len(result) != len(g.ids) {
		return nil, g.detectCycle()
	}
	return result, nil
}

// Levels groups the ordered IDs by dependency depth. Nodes in the same level do
// not reference each other.
func (g *Graph) Levels(order []ID) [][]ID {
	depth := make(map[ID]int, len(order))
	var levels [][]ID
	for _, id := range order {
		d := 0
		for _, ref := range g.nodes[id].References() {
			if depth[ref]+1 > d {
				d = depth[ref] + 1
			}
		}
		depth[id] = d
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], id)
	}
	return levels
}

// detectCycle finds one cycle with a depth-first search over sorted IDs.
func (g *Graph) detectCycle() error {
	visited := make(map[ID]bool)
	onPath := make(map[ID]bool)
	var stack []ID
	var cycle []ID

	var visit func(id ID) bool
	visit = func(id ID) bool {
		visited[id] = true
		onPath[id] = true
		stack = append(stack, id)

		for _, ref := range g.nodes[id].References() {
			if onPath[ref] {
				for i, s := range stack {
					if s == ref {
						cycle = append(append([]ID(nil), stack[i:]...), ref)
						return true
					}
				}
			}
			if !visited[ref] && visit(ref) {
				return true
			}
		}

		stack = stack[:len(stack)-1]
		onPath[id] = false
		return false
	}

	ids := append([]ID(nil), g.ids...)
	sortIDs(ids)
	for _, id := range ids {
		if !visited[id] && visit(id) {
			return &CycleError{Path: cycle}
		}
	}
	return tierstack.ErrCyclicDependency
}

func sortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
