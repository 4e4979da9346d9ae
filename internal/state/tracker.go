// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package state

import (
	"fmt"
	"maps"
	"slices"
)

// ImageChange is a state change on a rectangle of image
// subresources.
type ImageChange struct {
	Image uint32
	Range
	Before LayoutState
	After  LayoutState
}

// String implements fmt.Stringer.
func (c ImageChange) String() string {
	return fmt.Sprintf("img%d%v %v -> %v", c.Image, c.Range, c.Before, c.After)
}

// BufferChange is a state change on a span of buffer
// bytes.
type BufferChange struct {
	Buffer uint32
	Span
	Before AccessState
	After  AccessState
}

// String implements fmt.Stringer.
func (c BufferChange) String() string {
	return fmt.Sprintf("buf%d%v %v -> %v", c.Buffer, c.Span, c.Before, c.After)
}

// Tracker holds the state of every tracked image and
// buffer. Images and buffers are identified by dense
// indices chosen by the caller.
type Tracker struct {
	images  map[uint32]*ViewsLayout
	buffers map[uint32]*BuffersLayout
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		images:  make(map[uint32]*ViewsLayout),
		buffers: make(map[uint32]*BuffersLayout),
	}
}

// AddImage starts tracking an image, every cell in the
// zero (undefined) state. It has no effect if the image
// is already tracked.
func (t *Tracker) AddImage(img uint32, levels, layers int) {
	if _, ok := t.images[img]; !ok {
		t.images[img] = NewViewsLayout(levels, layers, LayoutState{})
	}
}

// AddBuffer starts tracking a buffer, every byte in the
// zero state. It has no effect if the buffer is already
// tracked.
func (t *Tracker) AddBuffer(buf uint32, size int64) {
	if _, ok := t.buffers[buf]; !ok {
		t.buffers[buf] = NewBuffersLayout(size)
	}
}

// Image returns the layout table of img, or nil if img
// is not tracked.
func (t *Tracker) Image(img uint32) *ViewsLayout { return t.images[img] }

// Buffer returns the access table of buf, or nil if buf
// is not tracked.
func (t *Tracker) Buffer(buf uint32) *BuffersLayout { return t.buffers[buf] }

// Images returns the tracked image indices, sorted.
func (t *Tracker) Images() []uint32 { return slices.Sorted(maps.Keys(t.images)) }

// Buffers returns the tracked buffer indices, sorted.
func (t *Tracker) Buffers() []uint32 { return slices.Sorted(maps.Keys(t.buffers)) }

// RequireImage moves every cell of r to the state req,
// returning the changes that need a barrier.
// Cells that need no barrier are updated as well.
func (t *Tracker) RequireImage(img uint32, r Range, req LayoutState) []ImageChange {
	v := t.images[img]
	var cs []ImageChange
	for _, rg := range v.Regions(r) {
		bar, next := Decide(rg.State, req)
		if bar {
			cs = append(cs, ImageChange{img, rg.Range, rg.State, next})
		}
		v.Set(rg.Range, next)
	}
	return cs
}

// SetImage sets the state of every cell of r, returning
// the previous states as changes.
// No decision is made, so Before may equal After.
func (t *Tracker) SetImage(img uint32, r Range, s LayoutState) []ImageChange {
	v := t.images[img]
	rgs := v.Regions(r)
	cs := make([]ImageChange, 0, len(rgs))
	for _, rg := range rgs {
		cs = append(cs, ImageChange{img, rg.Range, rg.State, s})
	}
	v.Set(r, s)
	return cs
}

// SeedImage sets the state of the cells of r that are
// still in the zero state, returning how many regions it
// changed.
func (t *Tracker) SeedImage(img uint32, r Range, s LayoutState) int {
	v := t.images[img]
	var n int
	for _, rg := range v.Regions(r) {
		if rg.State == (LayoutState{}) {
			v.Set(rg.Range, s)
			n++
		}
	}
	return n
}

// RequireBuffer moves every byte of sp to the state req,
// returning the changes that need a barrier.
func (t *Tracker) RequireBuffer(buf uint32, sp Span, req AccessState) []BufferChange {
	b := t.buffers[buf]
	var cs []BufferChange
	for _, rg := range b.Regions(sp) {
		bar, next := DecideBuffer(rg.State, req)
		if bar {
			cs = append(cs, BufferChange{buf, rg.Span, rg.State, next})
		}
		b.Set(rg.Span, next)
	}
	return cs
}

// Clone returns a deep copy of t.
func (t *Tracker) Clone() *Tracker {
	u := &Tracker{
		images:  make(map[uint32]*ViewsLayout, len(t.images)),
		buffers: make(map[uint32]*BuffersLayout, len(t.buffers)),
	}
	for k, v := range t.images {
		u.images[k] = v.Clone()
	}
	for k, b := range t.buffers {
		u.buffers[k] = b.Clone()
	}
	return u
}

// Equal returns whether t and u track the same resources
// in the same states.
func (t *Tracker) Equal(u *Tracker) bool {
	if len(t.images) != len(u.images) || len(t.buffers) != len(u.buffers) {
		return false
	}
	for k, v := range t.images {
		if w, ok := u.images[k]; !ok || !v.Equal(w) {
			return false
		}
	}
	for k, b := range t.buffers {
		if c, ok := u.buffers[k]; !ok || !b.Equal(c) {
			return false
		}
	}
	return true
}
