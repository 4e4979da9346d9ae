// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package framegraph

import (
	"fmt"
	"slices"
	"strings"

	"go.uber.org/multierr"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/internal/dag"
	"github.com/gviegas/framegraph/internal/state"
)

// Context holds what is shared by the runnables of
// graphs that depend on each other: the GPU, the
// configuration, the final states of compiled graphs and
// the semaphores that order their submissions.
type Context struct {
	gpu       driver.GPU
	cfg       Config
	runnables map[*FrameGraph]*Runnable
	finals    map[*FrameGraph]*state.Tracker
	links     map[link]*semLink
}

// link is a dependency of graph to on graph from.
type link struct{ from, to *FrameGraph }

type semLink struct {
	sem driver.Semaphore
	// pending is set when from's work signaled sem and
	// to's work has not waited on it yet.
	pending bool
}

// NewContext creates a Context.
func NewContext(gpu driver.GPU, cfg Config) (*Context, error) {
	if gpu == nil {
		panic("framegraph: nil GPU")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Context{
		gpu:       gpu,
		cfg:       cfg,
		runnables: make(map[*FrameGraph]*Runnable),
		finals:    make(map[*FrameGraph]*state.Tracker),
		links:     make(map[link]*semLink),
	}, nil
}

// GPU returns the GPU of ctx.
func (ctx *Context) GPU() driver.GPU { return ctx.gpu }

// Config returns the configuration of ctx.
func (ctx *Context) Config() Config { return ctx.cfg }

// Runnable returns the latest runnable compiled from g,
// or nil.
func (ctx *Context) Runnable(g *FrameGraph) *Runnable { return ctx.runnables[g] }

// FinalState returns the state of the cells of v at the
// end of the latest compile of g.
func (ctx *Context) FinalState(g *FrameGraph, v ViewID) (LayoutState, bool) {
	tr := ctx.finals[g]
	if tr == nil {
		return LayoutState{}, false
	}
	vl := tr.Image(v.Desc().Image.Index())
	if vl == nil {
		return LayoutState{}, false
	}
	rgs := vl.Regions(viewRange(v))
	if len(rgs) != 1 {
		return LayoutState{}, false
	}
	return rgs[0].State, true
}

// ensureLink returns the semaphore link from -> to,
// creating it if needed.
func (ctx *Context) ensureLink(from, to *FrameGraph) (*semLink, error) {
	k := link{from, to}
	if l := ctx.links[k]; l != nil {
		return l, nil
	}
	sem, err := ctx.gpu.NewSemaphore()
	if err != nil {
		return nil, backendErr(err, to.name, "NewSemaphore")
	}
	l := &semLink{sem: sem}
	ctx.links[k] = l
	return l, nil
}

// Destroy destroys every runnable compiled in ctx and the
// semaphores linking them.
func (ctx *Context) Destroy() {
	for _, r := range ctx.runnables {
		r.Destroy()
	}
	for _, l := range ctx.links {
		l.sem.Destroy()
	}
	clear(ctx.runnables)
	clear(ctx.finals)
	clear(ctx.links)
}

// compiler holds the state of one compile.
type compiler struct {
	g      *FrameGraph
	ctx    *Context
	h      *Handler
	passes []*Pass
	pos    map[*Pass]int
	prs    []PassRunnable
	pss    []PipelineState
	dg     *dag.Graph
	order  []int
	// Explicit edges whose passes share no resource.
	bare  [][2]int
	steps []*step
	// Graph outputs that no pass touches.
	untouched []Boundary
	initial   *state.Tracker
	final     *state.Tracker
	sched     *Schedule
}

// Compile compiles g into a Runnable.
// Errors found while validating g are reported together.
// On failure, g is left as it was and can be edited and
// compiled again. On success, previous runnables of g
// must no longer be recorded.
func (g *FrameGraph) Compile(ctx *Context) (*Runnable, error) {
	c := &compiler{
		g:      g,
		ctx:    ctx,
		h:      g.h,
		passes: slices.Clone(g.passes),
		pos:    make(map[*Pass]int, len(g.passes)),
	}
	for i, p := range c.passes {
		c.pos[p] = i
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	if err := c.instantiate(); err != nil {
		return nil, err
	}
	if err := c.resolve(); err != nil {
		return nil, err
	}
	c.seed()
	c.plan()
	if err := c.walk(); err != nil {
		return nil, err
	}
	r, err := c.build()
	if err != nil {
		return nil, err
	}
	Logger().Debug("framegraph: compiled",
		"graph", g.name,
		"passes", len(c.steps),
		"order", strings.Join(c.sched.Order(), ","))
	return r, nil
}

// validate checks g, accumulating every problem found.
func (c *compiler) validate() error {
	var errs error
	add := func(k Kind, loc, format string, args ...any) {
		errs = multierr.Append(errs, newErr(k, loc, fmt.Sprintf(format, args...)))
	}
	g, h := c.g, c.h
	names := make(map[string]bool, len(c.passes))
	for _, p := range c.passes {
		if names[p.name] {
			add(DuplicatePass, g.name, "%q", p.name)
		}
		names[p.name] = true
		for _, q := range p.deps {
			if q.g != g || q.removed {
				add(UnknownPass, p.name, "dependency %q is not a pass of %q", q.name, g.name)
			}
		}
		ok := true
		for _, a := range p.images {
			for i, v := range a.Views {
				if !h.Owns(v) {
					add(UnknownView, p.name, "%v attachment refers to a view of another handler", a.Class)
					ok = false
					continue
				}
				if err := a.checkFormat(v.Desc().Range.Aspect); err != nil {
					add(IncompatibleAttachment, p.name, "%v", err)
					ok = false
				}
				for _, w := range a.Views[:i] {
					if h.Owns(w) && viewsOverlap(v, w) {
						add(IncompatibleAttachment, p.name, "views of a multi-instance %v attachment overlap", a.Class)
						ok = false
					}
				}
			}
		}
		for _, a := range p.buffers {
			switch {
			case !h.OwnsBuffer(a.Buffer):
				add(UnknownView, p.name, "%v attachment refers to a buffer of another handler", a.Class)
			case a.Kind != Storage && a.Kind != Uniform && a.Kind != Vertex && a.Kind != Index && a.Kind != Transfer:
				add(IncompatibleAttachment, p.name, "%v is not a buffer attachment kind", a.Kind)
			default:
				if sp := a.span(); sp.Start < 0 || sp.Empty() || sp.End > a.Buffer.Desc().Size {
					add(OutOfRange, p.name, "buffer %s range %v", a.Buffer.Desc().Name, sp)
				}
			}
		}
		acts := slices.Concat(p.pre, p.post)
		for _, a := range p.implicit {
			acts = append(acts, a)
		}
		for i := range acts {
			acts[i].views(func(v ViewID) {
				if !h.Owns(v) {
					add(UnknownView, p.name, "%v action refers to a view of another handler", acts[i].Kind)
					ok = false
				}
			})
		}
		if ok {
			if err := checkPass(p, c.ctx.cfg.MixedDepthStencil); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}
	for _, a := range g.implicit {
		if !h.Owns(a.View) || a.Src.Valid() && !h.Owns(a.Src) {
			add(UnknownView, g.name, "%v action refers to a view of another handler", a.Kind)
		}
	}
	for _, b := range slices.Concat(g.inputs, g.outputs) {
		if !h.Owns(b.View) {
			add(UnknownView, g.name, "boundary refers to a view of another handler")
		}
	}
	for _, grp := range g.groups {
		for _, b := range slices.Concat(grp.inputs, grp.outputs) {
			if !h.Owns(b.View) {
				add(UnknownView, grp.name, "boundary refers to a view of another handler")
				continue
			}
			if !c.groupUses(grp, b.View) {
				add(UnknownView, grp.name, "no pass of the group uses image %s", b.View.Desc().Image.Desc().Name)
			}
		}
	}
	for _, d := range g.deps {
		if d.h != h {
			add(UnknownView, g.name, "dependency %q uses another handler", d.name)
			continue
		}
		c.checkHandoff(d, add)
	}
	return errs
}

// groupUses returns whether a descendant pass of grp has
// an attachment that overlaps v.
func (c *compiler) groupUses(grp *Group, v ViewID) bool {
	for _, p := range c.passes {
		if !grp.contains(p) {
			continue
		}
		for _, a := range p.images {
			for _, w := range a.Views {
				if c.h.Owns(w) && viewsOverlap(v, w) {
					return true
				}
			}
		}
	}
	return false
}

// checkHandoff compares the inputs of c.g with what d
// leaves behind.
func (c *compiler) checkHandoff(d *FrameGraph, add func(Kind, string, string, ...any)) {
	fin := c.ctx.finals[d]
	for _, in := range c.g.inputs {
		if !c.h.Owns(in.View) {
			continue
		}
		name := in.View.Desc().Image.Desc().Name
		for _, out := range d.outputs {
			if c.h.Owns(out.View) && viewsOverlap(in.View, out.View) && out.Layout != in.Layout {
				add(LayoutMismatch, c.g.name, "image %s: input %v, output of %q %v", name, in.Layout, d.name, out.Layout)
			}
		}
		if fin == nil {
			continue
		}
		vl := fin.Image(in.View.Desc().Image.Index())
		if vl == nil {
			continue
		}
		for _, rg := range vl.Regions(viewRange(in.View)) {
			if rg.State.Layout != driver.LUndefined && rg.State.Layout != in.Layout {
				add(LayoutMismatch, c.g.name, "image %s%v: input %v, %q ends in %v", name, rg.Range, in.Layout, d.name, rg.State.Layout)
			}
		}
	}
}

// instantiate calls the factory of every pass.
func (c *compiler) instantiate() error {
	c.prs = make([]PassRunnable, len(c.passes))
	c.pss = make([]PipelineState, len(c.passes))
	for i, p := range c.passes {
		pr, err := p.factory(p, c.ctx)
		if err != nil {
			if ge, ok := err.(*GraphError); ok {
				return ge
			}
			return &GraphError{Kind: BackendFailure, Loc: p.name, Msg: "pass factory", Err: err}
		}
		if pr == nil {
			return newErr(BackendFailure, p.name, "pass factory returned nil")
		}
		c.prs[i] = pr
		c.pss[i] = pr.PipelineState()
	}
	return nil
}

// access is a resource access of a pass, used to find
// hazards.
type access struct {
	image bool
	id    uint32
	r     state.Range
	sp    state.Span
	write bool
}

func (a access) conflicts(b access) bool {
	if a.image != b.image || a.id != b.id || !a.write && !b.write {
		return false
	}
	if a.image {
		return a.r.Overlaps(b.r)
	}
	return a.sp.Overlaps(b.sp)
}

// accesses returns every access of p, across instances.
func accesses(p *Pass) []access {
	var xs []access
	view := func(v ViewID, write bool) {
		xs = append(xs, access{image: true, id: v.Desc().Image.Index(), r: viewRange(v), write: write})
	}
	for _, a := range p.images {
		for _, v := range a.Views {
			view(v, a.Dir.Writes())
		}
	}
	for _, a := range p.buffers {
		xs = append(xs, access{id: a.Buffer.Index(), sp: a.span(), write: a.Dir.Writes()})
	}
	acts := slices.Concat(p.pre, p.post)
	for inst := range p.count {
		acts = append(acts, implicitActions(p, inst)...)
	}
	for i := range acts {
		acts[i].requirements(func(v ViewID, s LayoutState) { view(v, s.Writes()) })
	}
	return xs
}

// resolve orders the passes.
// Passes that access the same resource, at least one of
// them writing, are ordered as they were created.
// Explicit dependencies are added to that.
func (c *compiler) resolve() error {
	n := len(c.passes)
	c.dg = dag.New(n)
	xs := make([][]access, n)
	for i, p := range c.passes {
		xs[i] = accesses(p)
	}
	for j := range n {
		for i := range j {
		hazard:
			for _, a := range xs[i] {
				for _, b := range xs[j] {
					if a.conflicts(b) {
						c.dg.AddEdge(i, j)
						break hazard
					}
				}
			}
		}
	}
	for j, p := range c.passes {
		for _, q := range p.deps {
			i := c.pos[q]
			if c.dg.AddEdge(i, j) {
				c.bare = append(c.bare, [2]int{i, j})
			}
		}
	}
	order, ok := c.dg.Sort()
	if !ok {
		names := make([]string, 0, len(order)+1)
		for _, i := range order {
			names = append(names, c.passes[i].name)
		}
		names = append(names, names[0])
		return newErr(Cycle, c.g.name, strings.Join(names, " -> "))
	}
	c.order = order
	return nil
}

// seed creates the initial tracker.
// Dependencies seed first, either with the final states
// of their latest compile in the same Context or with
// their declared outputs, then declared inputs.
func (c *compiler) seed() {
	tr := state.NewTracker()
	for _, p := range c.passes {
		for _, a := range p.images {
			for _, v := range a.Views {
				trackImage(tr, v.Desc().Image)
			}
		}
		for _, a := range p.buffers {
			tr.AddBuffer(a.Buffer.Index(), a.Buffer.Desc().Size)
		}
		for _, a := range slices.Concat(p.pre, p.post) {
			a.views(func(v ViewID) { trackImage(tr, v.Desc().Image) })
		}
		for _, a := range p.implicit {
			a.views(func(v ViewID) { trackImage(tr, v.Desc().Image) })
		}
	}
	for _, a := range c.g.implicit {
		a.views(func(v ViewID) { trackImage(tr, v.Desc().Image) })
	}
	for _, b := range slices.Concat(c.g.inputs, c.g.outputs) {
		trackImage(tr, b.View.Desc().Image)
	}

	for _, d := range c.g.deps {
		fin := c.ctx.finals[d]
		if fin == nil {
			for _, b := range d.outputs {
				if tr.Image(b.View.Desc().Image.Index()) != nil {
					tr.SeedImage(b.View.Desc().Image.Index(), viewRange(b.View), defaultState(b.Layout))
				}
			}
			continue
		}
		for _, img := range tr.Images() {
			vl := fin.Image(img)
			if vl == nil {
				continue
			}
			for _, rg := range vl.Regions(vl.Full()) {
				if rg.State != (LayoutState{}) {
					tr.SeedImage(img, rg.Range, rg.State)
				}
			}
		}
		for _, buf := range tr.Buffers() {
			bl := fin.Buffer(buf)
			if bl == nil {
				continue
			}
			for _, rg := range bl.Regions(bl.Full()) {
				if !rg.State.IsZero() {
					tr.Buffer(buf).Update(rg.Span, func(x AccessState) AccessState {
						if x.IsZero() {
							return rg.State
						}
						return x
					})
				}
			}
		}
	}
	for _, b := range c.g.inputs {
		tr.SeedImage(b.View.Desc().Image.Index(), viewRange(b.View), defaultState(b.Layout))
	}
	c.initial = tr
}

// plan creates the steps and the schedule skeleton.
func (c *compiler) plan() {
	n := len(c.order)
	at := make([]int, len(c.passes))
	for k, i := range c.order {
		at[i] = k
	}
	sched := &Schedule{
		Graph: c.g.name,
		Root:  &GraphNode{Position: -1},
		Nodes: make([]*GraphNode, n),
	}
	for _, d := range c.g.deps {
		sched.Waits = append(sched.Waits, d.name)
	}
	c.steps = make([]*step, n)
	for k, i := range c.order {
		node := &GraphNode{Pass: c.passes[i], Position: k}
		for _, u := range c.dg.Pred(i) {
			node.Preds = append(node.Preds, at[u])
		}
		for _, v := range c.dg.Succ(i) {
			node.Succs = append(node.Succs, at[v])
		}
		slices.Sort(node.Preds)
		slices.Sort(node.Succs)
		if len(node.Preds) == 0 {
			sched.Root.Succs = append(sched.Root.Succs, k)
		}
		sched.Nodes[k] = node
		c.steps[k] = &step{pass: c.passes[i], pr: c.prs[i], ps: c.pss[i], node: node}
	}

	// Dependencies that share no resource get a global
	// barrier between the pipeline scopes.
	for _, e := range c.bare {
		st := c.steps[at[e[1]]]
		src := c.pss[e[0]]
		b := driver.Barrier{
			SyncBefore:   src.scope(),
			SyncAfter:    st.ps.scope(),
			AccessBefore: driver.AAnyWrite,
			AccessAfter:  driver.AAnyRead | driver.AAnyWrite,
		}
		if st.dep != nil {
			b.SyncBefore |= st.dep.SyncBefore
		}
		st.dep = &b
	}

	// Group boundaries bind to the first and last steps
	// of the group that touch the view. Graph outputs
	// bind to the last step that touches the view.
	touches := func(st *step, v ViewID) bool {
		for _, x := range accesses(st.pass) {
			if x.image && x.id == v.Desc().Image.Index() && x.r.Overlaps(viewRange(v)) {
				return true
			}
		}
		return false
	}
	for _, grp := range c.g.groups {
		for _, b := range grp.inputs {
			for _, st := range c.steps {
				if grp.contains(st.pass) && touches(st, b.View) {
					st.seeds = append(st.seeds, b)
					break
				}
			}
		}
		for _, b := range grp.outputs {
			for _, st := range slices.Backward(c.steps) {
				if grp.contains(st.pass) && touches(st, b.View) {
					st.posts = append(st.posts, b)
					break
				}
			}
		}
	}
	var untouched []Boundary
	for _, b := range c.g.outputs {
		found := false
		for _, st := range slices.Backward(c.steps) {
			if touches(st, b.View) {
				st.posts = append(st.posts, b)
				found = true
				break
			}
		}
		if !found {
			untouched = append(untouched, b)
		}
	}
	c.sched = sched
	c.untouched = untouched
}

// discard is a sink that records nothing.
type discard struct{}

func (discard) barrier([]state.ImageChange, []state.BufferChange, []driver.Barrier) error { return nil }
func (discard) action(*Action) error                                                   { return nil }
func (discard) body(int) error                                                         { return nil }

// walk runs the steps once per instance of the widest
// pass. Walk k plans instance k of every pass that has
// more than k instances, so each instance follows its
// own state trajectory.
func (c *compiler) walk() error {
	k := 1
	for _, st := range c.steps {
		k = max(k, st.pass.count)
		st.node.Instances = make([]NodeInstance, st.pass.count)
		for i := range st.node.Instances {
			st.node.Instances[i].Index = i
		}
	}
	mixed := c.ctx.cfg.MixedDepthStencil
	for w := range k {
		tr := c.initial.Clone()
		for _, st := range c.steps {
			var s sink = discard{}
			if w < st.pass.count {
				s = &planSink{c.h, &st.node.Instances[w]}
			}
			if err := runStep(tr, st, w%st.pass.count, true, mixed, s); err != nil {
				return err
			}
		}
		ics := epilogue(tr, c.untouched)
		if w == 0 {
			c.sched.Epilogue = c.h.transitions(ics)
			c.final = tr
		}
	}
	for _, img := range c.initial.Images() {
		vl := c.initial.Image(img)
		var ics []state.ImageChange
		for _, rg := range vl.Regions(vl.Full()) {
			if rg.State != (LayoutState{}) {
				ics = append(ics, state.ImageChange{Image: img, Range: rg.Range, After: rg.State})
			}
		}
		c.sched.Prelude = append(c.sched.Prelude, c.h.transitions(ics)...)
	}
	return nil
}

// build materialises the runnable.
// The previous runnable of the graph is retired only
// once everything else succeeded.
func (c *compiler) build() (*Runnable, error) {
	g, ctx := c.g, c.ctx
	if g.cache != nil && g.cache.gpu != ctx.gpu {
		g.cache.Destroy()
		g.cache = nil
	}
	if g.cache == nil {
		g.cache = NewResourcesCache(ctx.gpu)
	}
	// Cached objects may be updated below.
	if old := ctx.runnables[g]; old != nil {
		old.drain()
	}
	g.cache.begin()
	r := &Runnable{
		g:         g,
		ctx:       ctx,
		sched:     c.sched,
		steps:     c.steps,
		untouched: c.untouched,
		initial:   c.initial,
	}
	if err := r.materialise(); err != nil {
		r.release()
		return nil, err
	}
	for _, st := range c.steps {
		if err := st.pr.Initialise(); err != nil {
			r.release()
			if ge, ok := err.(*GraphError); ok {
				return nil, ge
			}
			return nil, &GraphError{Kind: BackendFailure, Loc: st.pass.name, Msg: "Initialise", Err: err}
		}
	}
	for _, d := range g.deps {
		if ctx.runnables[d] == nil {
			continue
		}
		if _, err := ctx.ensureLink(d, g); err != nil {
			r.release()
			return nil, err
		}
	}
	for e := range ctx.runnables {
		if e != g && slices.Contains(e.deps, g) {
			if _, err := ctx.ensureLink(g, e); err != nil {
				r.release()
				return nil, err
			}
		}
	}
	if old := ctx.runnables[g]; old != nil {
		old.retire()
	}
	g.cache.sweep()
	ctx.runnables[g] = r
	ctx.finals[g] = c.final
	Logger().Info("framegraph: runnable created", "graph", g.name, "cache", g.cache.Stats())
	return r, nil
}
