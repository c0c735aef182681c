// Package depgraph computes persistence order over foreign-key graphs.
//
// Vertices are entity classes, an edge A -> B means "A holds a foreign key to
// B". Multiple foreign keys between the same pair of classes are summarized
// into a single edge which is nullable only if every underlying key is.
package depgraph

import (
	"fmt"
	"sort"
	"strings"
)

// Edge is a summarized foreign-key relation to the vertex at index To.
type Edge struct {
	To       int
	Nullable bool
}

// Graph is a directed foreign-key graph. Vertices carry an external id
// (the caller's class identifier) and a name used in error messages.
type Graph struct {
	ids   []int
	names []string
	pos   map[int]int
	adj   [][]Edge
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{pos: make(map[int]int)}
}

// AddVertex registers a vertex. Registering the same id twice is a no-op.
func (g *Graph) AddVertex(id int, name string) {
	if _, ok := g.pos[id]; ok {
		return
	}
	g.pos[id] = len(g.ids)
	g.ids = append(g.ids, id)
	g.names = append(g.names, name)
	g.adj = append(g.adj, nil)
}

// AddEdge records a foreign key from -> to. When the pair already has an
// edge the summary stays nullable only if the new key is nullable too.
func (g *Graph) AddEdge(from, to int, nullable bool) {
	u := g.mustVertex(from)
	v := g.mustVertex(to)
	for i := range g.adj[u] {
		if g.adj[u][i].To == v {
			g.adj[u][i].Nullable = g.adj[u][i].Nullable && nullable
			return
		}
	}
	g.adj[u] = append(g.adj[u], Edge{To: v, Nullable: nullable})
}

// Len returns the number of vertices.
func (g *Graph) Len() int {
	return len(g.ids)
}

// Has reports whether id is a vertex of the graph.
func (g *Graph) Has(id int) bool {
	_, ok := g.pos[id]
	return ok
}

// Edge returns the summarized edge between two vertices.
func (g *Graph) Edge(from, to int) (Edge, bool) {
	u, ok := g.pos[from]
	if !ok {
		return Edge{}, false
	}
	v, ok := g.pos[to]
	if !ok {
		return Edge{}, false
	}
	for _, e := range g.adj[u] {
		if e.To == v {
			return Edge{To: to, Nullable: e.Nullable}, true
		}
	}
	return Edge{}, false
}

// Induced returns the subgraph spanned by ids, keeping only edges whose both
// ends are in the set. Vertices keep their relative registration order.
func (g *Graph) Induced(ids []int) *Graph {
	keep := make([]bool, len(g.ids))
	for _, id := range ids {
		keep[g.mustVertex(id)] = true
	}

	sub := New()
	for u, ok := range keep {
		if ok {
			sub.AddVertex(g.ids[u], g.names[u])
		}
	}
	for u, ok := range keep {
		if !ok {
			continue
		}
		for _, e := range g.adj[u] {
			if keep[e.To] {
				sub.AddEdge(g.ids[u], g.ids[e.To], e.Nullable)
			}
		}
	}
	return sub
}

// FlushOrder returns the vertices ordered so that for every non-nullable
// edge A -> B, B comes before A.
//
// The first pass is a plain Kahn drain. If vertices remain, nullable edges
// between them are relaxed once and the drain is resumed; anything still
// left sits on a cycle of non-nullable keys and is reported as a CycleError.
func (g *Graph) FlushOrder() ([]int, error) {
	n := len(g.ids)
	indegree := make([]int, n)
	for u := range g.adj {
		for _, e := range g.adj[u] {
			indegree[e.To]++
		}
	}

	done := make([]bool, n)
	raw := make([]int, 0, n)
	queue := make([]int, 0, n)
	for v := 0; v < n; v++ {
		if indegree[v] == 0 {
			queue = append(queue, v)
		}
	}

	var relaxed map[[2]int]bool
	drain := func() {
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			done[u] = true
			raw = append(raw, u)
			for _, e := range g.adj[u] {
				if relaxed[[2]int{u, e.To}] {
					continue
				}
				indegree[e.To]--
				if indegree[e.To] == 0 {
					queue = append(queue, e.To)
				}
			}
		}
	}

	drain()

	if len(raw) < n {
		relaxed = make(map[[2]int]bool)
		for u := 0; u < n; u++ {
			if done[u] {
				continue
			}
			for _, e := range g.adj[u] {
				if !e.Nullable || done[e.To] {
					continue
				}
				relaxed[[2]int{u, e.To}] = true
				indegree[e.To]--
			}
		}
		for v := 0; v < n; v++ {
			if !done[v] && indegree[v] == 0 {
				queue = append(queue, v)
			}
		}
		drain()
	}

	if len(raw) < n {
		var cyclic []string
		for v := 0; v < n; v++ {
			if !done[v] {
				cyclic = append(cyclic, g.names[v])
			}
		}
		sort.Strings(cyclic)
		return nil, &CycleError{Classes: cyclic}
	}

	order := make([]int, n)
	for i, v := range raw {
		order[n-1-i] = g.ids[v]
	}
	return order, nil
}

// Closure returns, for every vertex, the vertices reachable from it by
// following foreign keys, as a subsequence of order without the vertex
// itself. A cycle reached during traversal is accepted only when at least
// one of its edges is nullable.
func (g *Graph) Closure(order []int) (map[int][]int, error) {
	n := len(g.ids)
	result := make(map[int][]int, n)

	for root := 0; root < n; root++ {
		reach := make([]bool, n)
		onPath := make([]int, n)
		for i := range onPath {
			onPath[i] = -1
		}
		var path []int
		var entry []bool

		var visit func(u int, in bool) error
		visit = func(u int, in bool) error {
			onPath[u] = len(path)
			path = append(path, u)
			entry = append(entry, in)

			for _, e := range g.adj[u] {
				if d := onPath[e.To]; d >= 0 {
					if !e.Nullable && !anyTrue(entry[d+1:]) {
						return &CycleError{Classes: g.namesOf(path[d:])}
					}
					continue
				}
				if reach[e.To] {
					continue
				}
				reach[e.To] = true
				if err := visit(e.To, e.Nullable); err != nil {
					return err
				}
			}

			path = path[:len(path)-1]
			entry = entry[:len(entry)-1]
			onPath[u] = -1
			return nil
		}

		if err := visit(root, false); err != nil {
			return nil, err
		}

		deps := make([]int, 0)
		for _, id := range order {
			v, ok := g.pos[id]
			if !ok || v == root {
				continue
			}
			if reach[v] {
				deps = append(deps, id)
			}
		}
		result[g.ids[root]] = deps
	}

	return result, nil
}

func (g *Graph) mustVertex(id int) int {
	v, ok := g.pos[id]
	if !ok {
		panic(fmt.Sprintf("depgraph: vertex %d is not registered", id))
	}
	return v
}

func (g *Graph) namesOf(vertices []int) []string {
	out := make([]string, len(vertices))
	for i, v := range vertices {
		out[i] = g.names[v]
	}
	return out
}

func anyTrue(values []bool) bool {
	for _, v := range values {
		if v {
			return true
		}
	}
	return false
}

// CycleError reports classes linked by a cycle of non-nullable foreign keys.
// Such a schema cannot be persisted with ordered batch inserts.
type CycleError struct {
	Classes []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return "schema relations cycle cannot be resolved automatically, check classes: " + strings.Join(e.Classes, ", ")
}
