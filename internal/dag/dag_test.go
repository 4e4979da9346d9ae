// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package dag

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddEdge(t *testing.T) {
	g := New(3)
	if !g.AddEdge(0, 1) {
		t.Fatal("g.AddEdge(0, 1):\nhave false\nwant true")
	}
	if g.AddEdge(0, 1) {
		t.Fatal("g.AddEdge(0, 1) again:\nhave true\nwant false")
	}
	g.AddEdge(2, 1)
	if have := g.Pred(1); !slices.Equal(have, []int{0, 2}) {
		t.Fatalf("g.Pred(1):\nhave %v\nwant [0 2]", have)
	}
	if diff := cmp.Diff([][2]int{{0, 1}, {2, 1}}, g.Edges()); diff != "" {
		t.Fatalf("g.Edges: (-want +have)\n%s", diff)
	}
	if n := g.AddNode(); n != 3 || g.Len() != 4 {
		t.Fatalf("g.AddNode:\nhave %d (Len %d)\nwant 3 (Len 4)", n, g.Len())
	}
}

func TestSort(t *testing.T) {
	for _, x := range [...]struct {
		n     int
		edges [][2]int
		want  []int
	}{
		{0, nil, []int{}},
		{3, nil, []int{0, 1, 2}},
		{3, [][2]int{{2, 0}}, []int{1, 2, 0}},
		{4, [][2]int{{3, 2}, {2, 1}, {1, 0}}, []int{3, 2, 1, 0}},
		{5, [][2]int{{0, 4}, {3, 1}, {1, 2}}, []int{0, 3, 1, 2, 4}},
		{4, [][2]int{{0, 3}, {1, 3}, {2, 3}, {0, 1}}, []int{0, 1, 2, 3}},
		// Lowest index first, not depth first.
		{7, [][2]int{{0, 5}, {6, 0}, {6, 2}}, []int{1, 3, 4, 6, 0, 2, 5}},
	} {
		g := New(x.n)
		for _, e := range x.edges {
			g.AddEdge(e[0], e[1])
		}
		have, ok := g.Sort()
		if !ok {
			t.Fatalf("g.Sort: unexpected cycle %v", have)
		}
		if diff := cmp.Diff(x.want, have); diff != "" {
			t.Fatalf("g.Sort: (-want +have)\n%s", diff)
		}
		// Every edge goes forward.
		pos := make([]int, x.n)
		for i, v := range have {
			pos[v] = i
		}
		for _, e := range g.Edges() {
			if pos[e[0]] >= pos[e[1]] {
				t.Fatalf("g.Sort: edge %v goes backwards in %v", e, have)
			}
		}
	}
}

func TestCycle(t *testing.T) {
	for _, x := range [...]struct {
		n     int
		edges [][2]int
		want  []int
	}{
		{1, [][2]int{{0, 0}}, []int{0}},
		{2, [][2]int{{0, 1}, {1, 0}}, []int{0, 1}},
		{4, [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 1}}, []int{1, 2, 3}},
		// The long cycle 0-1-2-3-0 contains the short one 2-3-2.
		{4, [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 0}, {3, 2}}, []int{2, 3}},
		// Nodes downstream of a cycle are not part of it.
		{4, [][2]int{{2, 1}, {1, 2}, {1, 3}, {0, 1}}, []int{1, 2}},
	} {
		g := New(x.n)
		for _, e := range x.edges {
			g.AddEdge(e[0], e[1])
		}
		have, ok := g.Sort()
		if ok {
			t.Fatalf("g.Sort: expected a cycle, have order %v", have)
		}
		if diff := cmp.Diff(x.want, have); diff != "" {
			t.Fatalf("g.Sort cycle: (-want +have)\n%s", diff)
		}
		if diff := cmp.Diff(x.want, g.ShortestCycle()); diff != "" {
			t.Fatalf("g.ShortestCycle: (-want +have)\n%s", diff)
		}
	}
	if c := New(2).ShortestCycle(); c != nil {
		t.Fatalf("ShortestCycle on acyclic graph:\nhave %v\nwant nil", c)
	}
}
