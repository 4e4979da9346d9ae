// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package dag implements a directed graph over dense
// node indices with a deterministic topological sort.
package dag

import (
	"slices"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/gviegas/framegraph/internal/bitvec"
)

// Graph is a directed graph whose nodes are the integers
// in the range [0, Len()).
type Graph struct {
	g *simple.DirectedGraph
	// Self edges, which simple graphs do not hold.
	loops []bool
}

// New creates a graph with n nodes and no edges.
func New(n int) *Graph {
	g := &Graph{
		g:     simple.NewDirectedGraph(),
		loops: make([]bool, 0, n),
	}
	for range n {
		g.AddNode()
	}
	return g
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.loops) }

// AddNode appends a new node and returns its index.
func (g *Graph) AddNode() int {
	u := len(g.loops)
	g.g.AddNode(simple.Node(u))
	g.loops = append(g.loops, false)
	return u
}

// AddEdge adds the edge u -> v.
// It returns false if the edge already exists.
func (g *Graph) AddEdge(u, v int) bool {
	if g.HasEdge(u, v) {
		return false
	}
	if u == v {
		g.loops[u] = true
		return true
	}
	g.g.SetEdge(g.g.NewEdge(simple.Node(u), simple.Node(v)))
	return true
}

// HasEdge returns whether the edge u -> v exists.
func (g *Graph) HasEdge(u, v int) bool {
	if u == v {
		return g.loops[u]
	}
	return g.g.HasEdgeFromTo(int64(u), int64(v))
}

// indices returns the sorted indices of the nodes of it,
// plus u if u has a self edge.
func (g *Graph) indices(it graph.Nodes, u int) []int {
	s := make([]int, 0, max(it.Len(), 0)+1)
	for it.Next() {
		s = append(s, int(it.Node().ID()))
	}
	if g.loops[u] {
		s = append(s, u)
	}
	slices.Sort(s)
	return s
}

// Succ returns the direct successors of u in ascending
// order.
func (g *Graph) Succ(u int) []int { return g.indices(g.g.From(int64(u)), u) }

// Pred returns the direct predecessors of u in ascending
// order.
func (g *Graph) Pred(u int) []int { return g.indices(g.g.To(int64(u)), u) }

// Edges returns every edge as a (u, v) pair, sorted.
func (g *Graph) Edges() [][2]int {
	var es [][2]int
	for u := range g.Len() {
		for _, v := range g.Succ(u) {
			es = append(es, [2]int{u, v})
		}
	}
	return es
}

// Sort returns the nodes in topological order.
// Among the nodes whose predecessors have all been
// placed, the one with the lowest index comes first,
// so the result depends only on the edge set.
// If the graph has a cycle, Sort returns the nodes of
// the shortest one (see ShortestCycle) and false.
func (g *Graph) Sort() (order []int, ok bool) {
	if c := g.ShortestCycle(); c != nil {
		return c, false
	}
	n := g.Len()
	indeg := make([]int, n)
	ready := bitvec.New[uint64](n)
	for v := range n {
		indeg[v] = g.g.To(int64(v)).Len()
		if indeg[v] == 0 {
			ready.Set(v)
		}
	}
	order = make([]int, 0, n)
	for ready.Count() > 0 {
		u := first(ready)
		ready.Unset(u)
		order = append(order, u)
		to := g.g.From(int64(u))
		for to.Next() {
			v := int(to.Node().ID())
			if indeg[v]--; indeg[v] == 0 {
				ready.Set(v)
			}
		}
	}
	return order, true
}

func first(v *bitvec.V[uint64]) int {
	for i := range v.Ones() {
		return i
	}
	return -1
}

// ShortestCycle returns the nodes of a shortest cycle,
// starting from its lowest-index node, or nil if the
// graph is acyclic. Cycles of equal length are ordered
// by their node sequences.
func (g *Graph) ShortestCycle() []int {
	if u := slices.Index(g.loops, true); u >= 0 {
		return []int{u}
	}
	_, err := topo.SortStabilized(g.g, nil)
	sccs, ok := err.(topo.Unorderable)
	if !ok {
		return nil
	}
	var best []int
	for _, scc := range sccs {
		for _, c := range topo.DirectedCyclesIn(g.induced(scc)) {
			if len(c) > 1 && c[0].ID() == c[len(c)-1].ID() {
				c = c[:len(c)-1]
			}
			cyc := make([]int, len(c))
			for i, x := range c {
				cyc[i] = int(x.ID())
			}
			i := slices.Index(cyc, slices.Min(cyc))
			cyc = slices.Concat(cyc[i:], cyc[:i])
			if best == nil || len(cyc) < len(best) || len(cyc) == len(best) && slices.Compare(cyc, best) < 0 {
				best = cyc
			}
		}
	}
	return best
}

// induced returns the subgraph of g spanned by ns.
func (g *Graph) induced(ns []graph.Node) *simple.DirectedGraph {
	sub := simple.NewDirectedGraph()
	in := make(map[int64]bool, len(ns))
	for _, x := range ns {
		sub.AddNode(x)
		in[x.ID()] = true
	}
	for _, x := range ns {
		to := g.g.From(x.ID())
		for to.Next() {
			if y := to.Node(); in[y.ID()] {
				sub.SetEdge(sub.NewEdge(x, y))
			}
		}
	}
	return sub
}
