// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package state

import (
	"errors"

	"github.com/gviegas/framegraph/internal/bitvec"
)

// MergeFunc combines two states required for the same
// subresource. It returns false if they cannot coexist.
type MergeFunc func(a, b LayoutState) (LayoutState, bool)

// ErrConflict is returned by Request.AddImage when the
// MergeFunc rejects a pair of states.
var ErrConflict = errors.New("state: conflicting requirements")

// Request accumulates the states that a single step
// requires, combining overlapping requirements.
type Request struct {
	imgOrder []uint32
	imgs     map[uint32]*imageReq
	bufOrder []uint32
	bufs     map[uint32]*BuffersLayout
}

type imageReq struct {
	v   *ViewsLayout
	set *bitvec.V[uint64]
}

// NewRequest creates an empty Request.
func NewRequest() *Request {
	return &Request{
		imgs: make(map[uint32]*imageReq),
		bufs: make(map[uint32]*BuffersLayout),
	}
}

// AddImage requires state s for the cells of r.
// Cells already required are combined with merge; on
// failure, the request is left unchanged.
func (q *Request) AddImage(img uint32, levels, layers int, r Range, s LayoutState, merge MergeFunc) error {
	ir, ok := q.imgs[img]
	if !ok {
		ir = &imageReq{
			v:   NewViewsLayout(levels, layers, LayoutState{}),
			set: bitvec.New[uint64](levels * layers),
		}
		q.imgs[img] = ir
		q.imgOrder = append(q.imgOrder, img)
	}
	r = ir.v.clip(r)
	type cell struct {
		l, a int
		s    LayoutState
	}
	var upd []cell
	for l := r.Level; l < r.Level+r.Levels; l++ {
		for a := r.Layer; a < r.Layer+r.Layers; a++ {
			x := s
			if ir.set.IsSet(l*layers + a) {
				if x, ok = merge(ir.v.At(l, a), s); !ok {
					return ErrConflict
				}
			}
			upd = append(upd, cell{l, a, x})
		}
	}
	for _, c := range upd {
		ir.v.Set(Range{c.l, 1, c.a, 1}, c.s)
		ir.set.Set(c.l*layers + c.a)
	}
	return nil
}

// AddBuffer requires state s for the bytes of sp of a
// buffer of the given size. Overlapping requirements
// accumulate their access and stage scopes.
func (q *Request) AddBuffer(buf uint32, size int64, sp Span, s AccessState) {
	b, ok := q.bufs[buf]
	if !ok {
		b = NewBuffersLayout(size)
		q.bufs[buf] = b
		q.bufOrder = append(q.bufOrder, buf)
	}
	b.Update(sp, func(x AccessState) AccessState {
		return AccessState{x.Access | s.Access, x.Stage | s.Stage}
	})
}

// ImageReq is a rectangle of required state.
type ImageReq struct {
	Image uint32
	Region
}

// BufferReq is a span of required state.
type BufferReq struct {
	Buffer uint32
	BufferRegion
}

// Images returns the image requirements, grouped in
// maximal rectangles, in the order that images were
// first added.
func (q *Request) Images() []ImageReq {
	var rs []ImageReq
	for _, img := range q.imgOrder {
		ir := q.imgs[img]
		stride := ir.v.layers
		for _, rg := range regions(ir.v.Full(), stride, func(l, a int) (LayoutState, bool) {
			return ir.v.At(l, a), ir.set.IsSet(l*stride + a)
		}) {
			rs = append(rs, ImageReq{img, rg})
		}
	}
	return rs
}

// Buffers returns the buffer requirements in the order
// that buffers were first added.
func (q *Request) Buffers() []BufferReq {
	var rs []BufferReq
	for _, buf := range q.bufOrder {
		for _, rg := range q.bufs[buf].Regions(q.bufs[buf].Full()) {
			if !rg.State.IsZero() {
				rs = append(rs, BufferReq{buf, rg})
			}
		}
	}
	return rs
}

// Touches returns whether the request has any cell of
// img in r.
func (q *Request) Touches(img uint32, r Range) bool {
	ir, ok := q.imgs[img]
	if !ok {
		return false
	}
	r = ir.v.clip(r)
	for l := r.Level; l < r.Level+r.Levels; l++ {
		for a := r.Layer; a < r.Layer+r.Layers; a++ {
			if ir.set.IsSet(l*ir.v.layers + a) {
				return true
			}
		}
	}
	return false
}

// Apply moves t to every required state, returning the
// changes that need a barrier. Untracked resources are
// added to t.
func (q *Request) Apply(t *Tracker) ([]ImageChange, []BufferChange) {
	var ics []ImageChange
	for _, r := range q.Images() {
		ir := q.imgs[r.Image]
		t.AddImage(r.Image, ir.v.levels, ir.v.layers)
		ics = append(ics, t.RequireImage(r.Image, r.Range, r.State)...)
	}
	var bcs []BufferChange
	for _, r := range q.Buffers() {
		t.AddBuffer(r.Buffer, q.bufs[r.Buffer].size)
		bcs = append(bcs, t.RequireBuffer(r.Buffer, r.Span, r.State)...)
	}
	return ics, bcs
}
