// Package depgraph implements the rule dependency graph used to schedule
// query evaluation. Nodes are rule names; an edge a -> b means a reads b's
// collection. Strongly connected components identify the groups of mutually
// recursive rules that must be solved together, and the condensation's
// topological order gives the evaluation order across groups.
package depgraph

import (
	"sort"
)

// Graph is a directed graph over string-labeled nodes. Node and edge
// insertion is idempotent; iteration order is insertion order.
type Graph struct {
	nodes   []string
	byLabel map[string]int
	edges   map[string]map[string]bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		byLabel: map[string]int{},
		edges:   map[string]map[string]bool{},
	}
}

// AddNode inserts a node. Reports whether the node was new.
func (g *Graph) AddNode(label string) bool {
	if _, ok := g.byLabel[label]; ok {
		return false
	}
	g.byLabel[label] = len(g.nodes)
	g.nodes = append(g.nodes, label)
	g.edges[label] = map[string]bool{}
	return true
}

// AddEdge inserts an edge from -> to. Both endpoints are created when
// absent. Self-edges are allowed and mark single-rule recursion.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	g.edges[from][to] = true
}

// HasEdge reports whether the edge from -> to exists.
func (g *Graph) HasEdge(from, to string) bool {
	return g.edges[from] != nil && g.edges[from][to]
}

// Nodes returns the node labels in insertion order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// Successors returns the targets of a node's out-edges, sorted.
func (g *Graph) Successors(label string) []string {
	var out []string
	for to := range g.edges[label] {
		out = append(out, to)
	}
	sort.Strings(out)
	return out
}

// Component is one strongly connected component of the graph.
type Component struct {
	// Members lists the component's node labels, sorted.
	Members []string

	// Recursive reports whether the component needs fixpoint evaluation:
	// it has more than one member, or its single member carries a
	// self-edge.
	Recursive bool
}

// Condense computes the strongly connected components and returns them in
// reverse topological order of the condensation: every component appears
// after the components it depends on, so evaluating them in slice order
// satisfies all cross-component dependencies.
func (g *Graph) Condense() []Component {
	t := &tarjan{
		g:       g,
		index:   map[string]int{},
		lowlink: map[string]int{},
		onStack: map[string]bool{},
	}
	for _, label := range g.nodes {
		if _, visited := t.index[label]; !visited {
			t.strongConnect(label)
		}
	}

	// Tarjan emits components in reverse topological order of the
	// condensation already; dependencies first.
	comps := make([]Component, len(t.components))
	for i, members := range t.components {
		sort.Strings(members)
		comps[i] = Component{
			Members:   members,
			Recursive: len(members) > 1 || g.HasEdge(members[0], members[0]),
		}
	}
	return comps
}

type tarjan struct {
	g *Graph

	counter int
	index   map[string]int
	lowlink map[string]int
	onStack map[string]bool
	stack   []string

	components [][]string
}

func (t *tarjan) strongConnect(v string) {
	t.index[v] = t.counter
	t.lowlink[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.g.Successors(v) {
		if _, visited := t.index[w]; !visited {
			t.strongConnect(w)
			if t.lowlink[w] < t.lowlink[v] {
				t.lowlink[v] = t.lowlink[w]
			}
		} else if t.onStack[w] && t.index[w] < t.lowlink[v] {
			t.lowlink[v] = t.index[w]
		}
	}

	if t.lowlink[v] == t.index[v] {
		var members []string
		for {
			w := t.stack[len(t.stack)-1]
			t.stack = t.stack[:len(t.stack)-1]
			t.onStack[w] = false
			members = append(members, w)
			if w == v {
				break
			}
		}
		t.components = append(t.components, members)
	}
}
