// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package framegraph

import (
	"slices"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/internal/state"
)

// step is a pass at its position in a compiled schedule.
type step struct {
	pass *Pass
	pr   PassRunnable
	ps   PipelineState
	node *GraphNode
	// Group inputs first used by this step.
	seeds []Boundary
	// Group and graph outputs last used by this step.
	posts []Boundary
	// Barrier for explicit dependencies that share no
	// resource with this step.
	dep *driver.Barrier
}

// sink receives what a step records.
type sink interface {
	barrier(ics []state.ImageChange, bcs []state.BufferChange, gbs []driver.Barrier) error
	action(a *Action) error
	body(inst int) error
}

type imageUse struct {
	view ViewID
	s    LayoutState
}

type bufferUse struct {
	buf BufferID
	sp  state.Span
	s   AccessState
}

// imageUses returns the states that instance inst of p
// requires of its image attachments.
// A depth read combined with a stencil write on the same
// image resolves to LDSMixed if mixed is set, and to
// LDSTarget otherwise.
func imageUses(p *Pass, inst int, ps PipelineState, mixed bool) []imageUse {
	type dsUse struct{ depthRead, depthWrite, stencilWrite bool }
	var ds map[ImageID]*dsUse
	for _, a := range p.images {
		if !a.Kind.isDS() {
			continue
		}
		vd := a.View(inst).Desc()
		if ds == nil {
			ds = make(map[ImageID]*dsUse)
		}
		u := ds[vd.Image]
		if u == nil {
			u = new(dsUse)
			ds[vd.Image] = u
		}
		if a.Kind != Stencil && vd.Range.Aspect&AspectDepth != 0 {
			u.depthRead = u.depthRead || a.Dir&In != 0
			u.depthWrite = u.depthWrite || a.Dir.Writes()
		}
		if a.Kind != Depth && vd.Range.Aspect&AspectStencil != 0 {
			u.stencilWrite = u.stencilWrite || a.Dir.Writes()
		}
	}
	us := make([]imageUse, 0, len(p.images))
	for _, a := range p.images {
		v := a.View(inst)
		s := a.imageState(ps)
		if a.Kind.isDS() {
			if u := ds[v.Desc().Image]; u.depthRead && u.stencilWrite && !u.depthWrite {
				s.Layout = driver.LDSTarget
				if mixed {
					s.Layout = driver.LDSMixed
				}
			}
		}
		us = append(us, imageUse{v, s})
	}
	return us
}

// bufferUses returns the states that p requires of its
// buffer attachments.
func bufferUses(p *Pass, ps PipelineState) []bufferUse {
	us := make([]bufferUse, 0, len(p.buffers))
	for _, a := range p.buffers {
		us = append(us, bufferUse{a.Buffer, a.span(), a.bufferState(ps)})
	}
	return us
}

// actionsOf returns the actions that run before the body
// of instance inst of p: implicit actions of written
// views, in attachment order, then pre-pass actions.
func actionsOf(p *Pass, inst int) []Action {
	return append(implicitActions(p, inst), p.pre...)
}

// implicitActions returns the implicit actions of the
// views that instance inst of p writes.
func implicitActions(p *Pass, inst int) []Action {
	var acts []Action
	var seen map[ViewID]bool
	for _, a := range p.images {
		if !a.Dir.Writes() {
			continue
		}
		v := a.View(inst)
		if seen[v] {
			continue
		}
		if act, ok := p.implicitFor(v); ok {
			if seen == nil {
				seen = make(map[ViewID]bool)
			}
			seen[v] = true
			acts = append(acts, act)
		}
	}
	return acts
}

// addImage adds the cells of v to q.
func addImage(q *state.Request, v ViewID, s LayoutState) error {
	img := v.Desc().Image
	d := img.Desc()
	return q.AddImage(img.Index(), d.Levels, d.Layers, viewRange(v), s, mergeStates)
}

// trackImage makes tr track img.
func trackImage(tr *state.Tracker, img ImageID) {
	d := img.Desc()
	tr.AddImage(img.Index(), d.Levels, d.Layers)
}

func conflictErr(p *Pass, v ViewID) error {
	return newErr(IncompatibleAttachment, p.name, "conflicting states required of image "+v.Desc().Image.Desc().Name)
}

// checkPass reports conflicting requirements within the
// instances of p.
func checkPass(p *Pass, mixed bool) error {
	for inst := range p.count {
		q := state.NewRequest()
		for _, u := range imageUses(p, inst, PipelineState{}, mixed) {
			if addImage(q, u.view, u.s) != nil {
				return conflictErr(p, u.view)
			}
		}
	}
	return nil
}

// runStep moves tr through instance inst of st, sending
// the resulting barriers, actions and body to s.
// A disabled step has only its barriers recorded, less
// those that would keep a state for its own body.
func runStep(tr *state.Tracker, st *step, inst int, enabled, mixed bool, s sink) error {
	p := st.pass
	for _, b := range st.seeds {
		img := b.View.Desc().Image
		trackImage(tr, img)
		tr.SeedImage(img.Index(), viewRange(b.View), defaultState(b.Layout))
	}
	var gbs []driver.Barrier
	if st.dep != nil {
		gbs = []driver.Barrier{*st.dep}
	}
	var acts []Action
	if enabled {
		acts = actionsOf(p, inst)
	}
	ius := imageUses(p, inst, st.ps, mixed)

	// Attachments that overlap an action are moved to
	// their states after the actions run.
	first := state.NewRequest()
	var second *state.Request
	var deferred []bool
	if len(acts) > 0 {
		second = state.NewRequest()
		for i := range acts {
			var v ViewID
			var err error
			acts[i].requirements(func(w ViewID, ls LayoutState) {
				if err == nil {
					v, err = w, addImage(first, w, ls)
				}
			})
			if err != nil {
				return conflictErr(p, v)
			}
		}
		deferred = make([]bool, len(ius))
		for i, u := range ius {
			deferred[i] = first.Touches(u.view.Desc().Image.Index(), viewRange(u.view))
		}
	}
	for i, u := range ius {
		q := first
		if deferred != nil && deferred[i] {
			q = second
		}
		if addImage(q, u.view, u.s) != nil {
			return conflictErr(p, u.view)
		}
	}
	for _, u := range bufferUses(p, st.ps) {
		first.AddBuffer(u.buf.Index(), u.buf.Desc().Size, u.sp, u.s)
	}

	ics, bcs := first.Apply(tr)
	if !enabled {
		ics, bcs = changed(ics, bcs)
	}
	if err := s.barrier(ics, bcs, gbs); err != nil {
		return err
	}
	for i := range acts {
		if err := s.action(&acts[i]); err != nil {
			return err
		}
	}
	if second != nil {
		ics, bcs = second.Apply(tr)
		if err := s.barrier(ics, bcs, nil); err != nil {
			return err
		}
	}
	if enabled {
		if err := s.body(inst); err != nil {
			return err
		}
		for i := range p.post {
			a := &p.post[i]
			q := state.NewRequest()
			var v ViewID
			var err error
			a.requirements(func(w ViewID, ls LayoutState) {
				if err == nil {
					v, err = w, addImage(q, w, ls)
				}
			})
			if err != nil {
				return conflictErr(p, v)
			}
			ics, bcs := q.Apply(tr)
			if err := s.barrier(ics, bcs, nil); err != nil {
				return err
			}
			if err := s.action(a); err != nil {
				return err
			}
		}
	}
	ics = ics[:0:0]
	for _, b := range st.posts {
		img := b.View.Desc().Image
		ics = append(ics, tr.RequireImage(img.Index(), viewRange(b.View), defaultState(b.Layout))...)
	}
	return s.barrier(ics, nil, nil)
}

// changed drops the changes whose state is kept.
func changed(ics []state.ImageChange, bcs []state.BufferChange) ([]state.ImageChange, []state.BufferChange) {
	ics = slices.DeleteFunc(ics, func(c state.ImageChange) bool { return c.Before == c.After })
	bcs = slices.DeleteFunc(bcs, func(c state.BufferChange) bool { return c.Before == c.After })
	return ics, bcs
}

// epilogue moves the views of outputs to their declared
// layouts.
func epilogue(tr *state.Tracker, outputs []Boundary) []state.ImageChange {
	var ics []state.ImageChange
	for _, b := range outputs {
		img := b.View.Desc().Image
		trackImage(tr, img)
		ics = append(ics, tr.RequireImage(img.Index(), viewRange(b.View), defaultState(b.Layout))...)
	}
	return ics
}

// planSink records a step into a NodeInstance.
type planSink struct {
	h  *Handler
	in *NodeInstance
}

func (s *planSink) barrier(ics []state.ImageChange, bcs []state.BufferChange, gbs []driver.Barrier) error {
	if len(ics)+len(bcs)+len(gbs) == 0 {
		return nil
	}
	s.in.Ops = append(s.in.Ops, Op{
		Kind:     OpBarrier,
		Images:   s.h.transitions(ics),
		Buffers:  s.h.bufferTransitions(bcs),
		Barriers: gbs,
	})
	return nil
}

func (s *planSink) action(a *Action) error {
	s.in.Ops = append(s.in.Ops, Op{Kind: OpAction, Action: a.Kind, View: a.View})
	return nil
}

func (s *planSink) body(int) error {
	s.in.Ops = append(s.in.Ops, Op{Kind: OpBody})
	return nil
}

// transitions converts image changes.
func (h *Handler) transitions(ics []state.ImageChange) []Transition {
	if len(ics) == 0 {
		return nil
	}
	ts := make([]Transition, len(ics))
	for i, c := range ics {
		ts[i] = Transition{
			Image:  h.image(c.Image),
			Level:  c.Level,
			Levels: c.Levels,
			Layer:  c.Layer,
			Layers: c.Layers,
			Before: c.Before,
			After:  c.After,
		}
	}
	return ts
}

// bufferTransitions converts buffer changes.
func (h *Handler) bufferTransitions(bcs []state.BufferChange) []BufferTransition {
	if len(bcs) == 0 {
		return nil
	}
	ts := make([]BufferTransition, len(bcs))
	for i, c := range bcs {
		ts[i] = BufferTransition{
			Buffer: h.buffer(c.Buffer),
			Offset: c.Start,
			Size:   c.End - c.Start,
			Before: c.Before,
			After:  c.After,
		}
	}
	return ts
}
