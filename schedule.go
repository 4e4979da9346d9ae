// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package framegraph

import (
	"fmt"
	"strings"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/internal/state"
)

// Transition is a state change of a rectangle of image
// subresources.
type Transition struct {
	Image         ImageID
	Level, Levels int
	Layer, Layers int
	Before, After LayoutState
}

// String implements fmt.Stringer.
func (t Transition) String() string {
	r := state.Range{Level: t.Level, Levels: t.Levels, Layer: t.Layer, Layers: t.Layers}
	return fmt.Sprintf("%s%v %v -> %v", t.Image.Desc().Name, r, t.Before, t.After)
}

// BufferTransition is a state change of a range of
// buffer memory.
type BufferTransition struct {
	Buffer        BufferID
	Offset, Size  int64
	Before, After AccessState
}

// String implements fmt.Stringer.
func (t BufferTransition) String() string {
	return fmt.Sprintf("%s[%d:%d) %v -> %v", t.Buffer.Desc().Name, t.Offset, t.Offset+t.Size, t.Before, t.After)
}

// OpKind is the kind of an Op.
type OpKind int

// Op kinds.
const (
	OpBarrier OpKind = iota
	OpAction
	OpBody
)

// Op is one entry of the plan of a pass instance.
type Op struct {
	Kind OpKind
	// Images, Buffers and Barriers are set for OpBarrier.
	Images   []Transition
	Buffers  []BufferTransition
	Barriers []driver.Barrier
	// Action and View are set for OpAction.
	Action ActionKind
	View   ViewID
}

// NodeInstance is the plan of one instance of a pass.
type NodeInstance struct {
	Index int
	Ops   []Op
}

// split returns the image transitions recorded before
// and after the body.
func (n *NodeInstance) split() (pre, post []Transition) {
	body := false
	for _, op := range n.Ops {
		switch {
		case op.Kind == OpBody:
			body = true
		case op.Kind != OpBarrier:
		case body:
			post = append(post, op.Images...)
		default:
			pre = append(pre, op.Images...)
		}
	}
	return
}

// Pre returns the image transitions recorded before the
// body, including those around pre-pass actions.
func (n *NodeInstance) Pre() []Transition { pre, _ := n.split(); return pre }

// Post returns the image transitions recorded after the
// body.
func (n *NodeInstance) Post() []Transition { _, post := n.split(); return post }

// BufferTransitions returns every buffer transition of n.
func (n *NodeInstance) BufferTransitions() []BufferTransition {
	var bts []BufferTransition
	for _, op := range n.Ops {
		bts = append(bts, op.Buffers...)
	}
	return bts
}

// GraphNode is a pass in a compiled schedule.
// The root node of a schedule has no pass and a
// Position of -1.
type GraphNode struct {
	Pass     *Pass
	Position int
	// Preds and Succs hold schedule positions.
	Preds     []int
	Succs     []int
	Instances []NodeInstance
}

// Name returns the name of the node's pass.
func (n *GraphNode) Name() string {
	if n.Pass == nil {
		return "<root>"
	}
	return n.Pass.name
}

// Schedule is the result of compiling a graph.
type Schedule struct {
	Graph string
	// Waits holds the names of the graphs whose
	// runnables are waited on.
	Waits []string
	// Prelude holds the states seeded before the first
	// pass. Before is always the zero state.
	Prelude  []Transition
	Root     *GraphNode
	Nodes    []*GraphNode
	Epilogue []Transition
}

// Order returns the pass names in schedule order.
func (s *Schedule) Order() []string {
	names := make([]string, len(s.Nodes))
	for i, n := range s.Nodes {
		names[i] = n.Name()
	}
	return names
}

// Node returns the node of the pass named name, or nil.
func (s *Schedule) Node(name string) *GraphNode {
	for _, n := range s.Nodes {
		if n.Name() == name {
			return n
		}
	}
	return nil
}

// Trace returns every image transition of the first
// instance of each node, followed by the epilogue, that
// changes a cell of img.
func (s *Schedule) Trace(img ImageID) []Transition {
	var ts []Transition
	keep := func(xs []Transition) {
		for _, t := range xs {
			if t.Image == img {
				ts = append(ts, t)
			}
		}
	}
	for _, n := range s.Nodes {
		for _, op := range n.Instances[0].Ops {
			keep(op.Images)
		}
	}
	keep(s.Epilogue)
	return ts
}

// String returns a human-readable listing of s.
func (s *Schedule) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "graph %s\n", s.Graph)
	if len(s.Waits) > 0 {
		fmt.Fprintf(&sb, "  waits %s\n", strings.Join(s.Waits, ", "))
	}
	for _, t := range s.Prelude {
		fmt.Fprintf(&sb, "  seed %s%v %v\n", t.Image.Desc().Name,
			state.Range{Level: t.Level, Levels: t.Levels, Layer: t.Layer, Layers: t.Layers}, t.After)
	}
	for _, n := range s.Nodes {
		fmt.Fprintf(&sb, "  %d %s", n.Position, n.Name())
		if len(n.Preds) > 0 {
			fmt.Fprintf(&sb, " after %v", n.Preds)
		}
		sb.WriteByte('\n')
		for _, in := range n.Instances {
			if len(n.Instances) > 1 {
				fmt.Fprintf(&sb, "    #%d\n", in.Index)
			}
			for _, op := range in.Ops {
				switch op.Kind {
				case OpBody:
					sb.WriteString("      body\n")
				case OpAction:
					fmt.Fprintf(&sb, "      %v %s\n", op.Action, op.View.Desc().Image.Desc().Name)
				case OpBarrier:
					for _, t := range op.Images {
						fmt.Fprintf(&sb, "      transition %v\n", t)
					}
					for _, t := range op.Buffers {
						fmt.Fprintf(&sb, "      barrier %v\n", t)
					}
					for _, b := range op.Barriers {
						fmt.Fprintf(&sb, "      barrier %v:%v -> %v:%v\n", b.SyncBefore, b.AccessBefore, b.SyncAfter, b.AccessAfter)
					}
				}
			}
		}
	}
	for _, t := range s.Epilogue {
		fmt.Fprintf(&sb, "  final %v\n", t)
	}
	return sb.String()
}
