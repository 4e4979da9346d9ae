// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package framegraph

import (
	"slices"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/internal/state"
)

// Boundary declares the layout of a view at the edge of
// a group or graph.
type Boundary struct {
	View   ViewID
	Layout driver.Layout
}

// defaultState returns the state assumed for a view
// declared to be in layout l.
func defaultState(l driver.Layout) LayoutState { return state.Default(l) }

// Group is a named container of passes and groups.
// Every graph has a root group, which has no parent.
type Group struct {
	g       *FrameGraph
	index   int
	name    string
	parent  *Group
	groups  []*Group
	passes  []*Pass
	inputs  []Boundary
	outputs []Boundary
}

// Name returns the name of grp.
func (grp *Group) Name() string { return grp.name }

// Parent returns the parent of grp, or nil if grp is
// the root group.
func (grp *Group) Parent() *Group { return grp.parent }

// Passes returns the passes created in grp.
func (grp *Group) Passes() []*Pass {
	return slices.DeleteFunc(slices.Clone(grp.passes), func(p *Pass) bool { return p.removed })
}

// Groups returns the groups created in grp.
func (grp *Group) Groups() []*Group { return grp.groups }

// Inputs returns the boundaries added by AddGroupInput.
func (grp *Group) Inputs() []Boundary { return grp.inputs }

// Outputs returns the boundaries added by AddGroupOutput.
func (grp *Group) Outputs() []Boundary { return grp.outputs }

// CreatePass creates a pass in grp.
// It panics if f is nil.
func (grp *Group) CreatePass(name string, f Factory) *Pass {
	if f == nil {
		panic("framegraph: nil pass factory")
	}
	g := grp.g
	p := &Pass{
		g:       g,
		index:   g.nextPass,
		name:    name,
		group:   grp,
		count:   1,
		factory: f,
	}
	g.nextPass++
	g.passes = append(g.passes, p)
	grp.passes = append(grp.passes, p)
	return p
}

// CreateGroup creates a group in grp.
func (grp *Group) CreateGroup(name string) *Group {
	g := grp.g
	sub := &Group{g: g, index: len(g.groups), name: name, parent: grp}
	g.groups = append(g.groups, sub)
	grp.groups = append(grp.groups, sub)
	return sub
}

// AddGroupInput declares that view is in layout l when
// the first pass of grp that uses it starts, unless an
// earlier pass already touched it.
func (grp *Group) AddGroupInput(view ViewID, l driver.Layout) {
	grp.inputs = append(grp.inputs, Boundary{view, l})
}

// AddGroupOutput declares that view is in layout l after
// the last pass of grp that uses it.
func (grp *Group) AddGroupOutput(view ViewID, l driver.Layout) {
	grp.outputs = append(grp.outputs, Boundary{view, l})
}

// contains returns whether p is a descendant of grp.
func (grp *Group) contains(p *Pass) bool {
	for x := p.group; x != nil; x = x.parent {
		if x == grp {
			return true
		}
	}
	return false
}

// FrameGraph is a graph of passes that is compiled into
// a Runnable.
type FrameGraph struct {
	h        *Handler
	name     string
	root     *Group
	groups   []*Group
	passes   []*Pass
	nextPass int
	inputs   []Boundary
	outputs  []Boundary
	deps     []*FrameGraph
	implicit map[ViewID]Action
	cache    *ResourcesCache
}

// NewFrameGraph creates an empty frame graph whose
// resources are interned by h.
func NewFrameGraph(h *Handler, name string) *FrameGraph {
	g := &FrameGraph{h: h, name: name}
	g.root = &Group{g: g, name: name}
	g.groups = []*Group{g.root}
	return g
}

// Name returns the name of g.
func (g *FrameGraph) Name() string { return g.name }

// Handler returns the handler of g.
func (g *FrameGraph) Handler() *Handler { return g.h }

// Root returns the root group of g.
func (g *FrameGraph) Root() *Group { return g.root }

// CreatePass creates a pass in the root group.
func (g *FrameGraph) CreatePass(name string, f Factory) *Pass { return g.root.CreatePass(name, f) }

// CreateGroup creates a group in the root group.
func (g *FrameGraph) CreateGroup(name string) *Group { return g.root.CreateGroup(name) }

// RemovePass removes p from g.
// It returns false if p is not a pass of g.
// Passes that depend on p must drop the dependency
// before the next compile.
func (g *FrameGraph) RemovePass(p *Pass) bool {
	if p == nil || p.g != g || p.removed {
		return false
	}
	p.removed = true
	g.passes = slices.DeleteFunc(g.passes, func(q *Pass) bool { return q == p })
	p.group.passes = slices.DeleteFunc(p.group.passes, func(q *Pass) bool { return q == p })
	return true
}

// Pass returns the first pass named name, or nil.
func (g *FrameGraph) Pass(name string) *Pass {
	for _, p := range g.passes {
		if p.name == name {
			return p
		}
	}
	return nil
}

// Passes returns the passes of g in creation order.
func (g *FrameGraph) Passes() []*Pass { return slices.Clone(g.passes) }

// AddDependency makes g run after other.
// Outputs of other seed the initial state of g, and
// runnables of both graphs compiled in the same Context
// are ordered by a semaphore.
func (g *FrameGraph) AddDependency(other *FrameGraph) {
	if other == g {
		panic("framegraph: graph depends on itself")
	}
	if !slices.Contains(g.deps, other) {
		g.deps = append(g.deps, other)
	}
}

// Dependencies returns the graphs that g depends on.
func (g *FrameGraph) Dependencies() []*FrameGraph { return g.deps }

// AddInput declares that view is in layout l when the
// graph starts.
func (g *FrameGraph) AddInput(view ViewID, l driver.Layout) {
	g.inputs = append(g.inputs, Boundary{view, l})
}

// AddOutput declares that view must be in layout l when
// the graph ends.
func (g *FrameGraph) AddOutput(view ViewID, l driver.Layout) {
	g.outputs = append(g.outputs, Boundary{view, l})
}

// Inputs returns the boundaries added by AddInput.
func (g *FrameGraph) Inputs() []Boundary { return g.inputs }

// Outputs returns the boundaries added by AddOutput.
func (g *FrameGraph) Outputs() []Boundary { return g.outputs }

// SetImplicitAction binds a to view for every pass of g.
// Passes may override it with Pass.SetImplicitAction.
func (g *FrameGraph) SetImplicitAction(view ViewID, a ImplicitAction) {
	if g.implicit == nil {
		g.implicit = make(map[ViewID]Action)
	}
	a.View = view
	g.implicit[view] = a
}

// Cache returns the resources cache of g, or nil if g
// was never compiled.
func (g *FrameGraph) Cache() *ResourcesCache { return g.cache }

// Destroy destroys every backend object that compiles of
// g created. Runnables of g must be destroyed first.
func (g *FrameGraph) Destroy() {
	if g.cache != nil {
		g.cache.Destroy()
		g.cache = nil
	}
}
