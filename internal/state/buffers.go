// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package state

import (
	"slices"
	"sort"
)

// BuffersLayout maps the bytes of one buffer to an
// AccessState, as a sorted list of disjoint segments
// covering [0, size).
type BuffersLayout struct {
	size int64
	segs []segment
}

type segment struct {
	Span
	State AccessState
}

// NewBuffersLayout creates a BuffersLayout for a buffer
// of the given size, every byte in the zero state.
func NewBuffersLayout(size int64) *BuffersLayout {
	if size < 1 {
		panic("state: invalid BuffersLayout size")
	}
	return &BuffersLayout{
		size: size,
		segs: []segment{{Span: Span{0, size}}},
	}
}

// Size returns the size of the buffer.
func (b *BuffersLayout) Size() int64 { return b.size }

// Full returns the span covering the whole buffer.
func (b *BuffersLayout) Full() Span { return Span{0, b.size} }

// find returns the index of the segment containing off.
func (b *BuffersLayout) find(off int64) int {
	return sort.Search(len(b.segs), func(i int) bool { return off < b.segs[i].End })
}

// split makes off a segment boundary.
func (b *BuffersLayout) split(off int64) {
	if off <= 0 || off >= b.size {
		return
	}
	i := b.find(off)
	if b.segs[i].Start == off {
		return
	}
	s := b.segs[i]
	b.segs = slices.Insert(b.segs, i+1, segment{Span{off, s.End}, s.State})
	b.segs[i].End = off
}

func (b *BuffersLayout) clip(sp Span) Span {
	return Span{max(sp.Start, 0), min(sp.End, b.size)}
}

// Update replaces the state of every segment within sp
// by the result of f.
func (b *BuffersLayout) Update(sp Span, f func(AccessState) AccessState) {
	sp = b.clip(sp)
	if sp.Empty() {
		return
	}
	b.split(sp.Start)
	b.split(sp.End)
	for i := b.find(sp.Start); i < len(b.segs) && b.segs[i].Start < sp.End; i++ {
		b.segs[i].State = f(b.segs[i].State)
	}
	b.coalesce()
}

// Set sets the state of every byte in sp.
func (b *BuffersLayout) Set(sp Span, s AccessState) {
	b.Update(sp, func(AccessState) AccessState { return s })
}

func (b *BuffersLayout) coalesce() {
	j := 0
	for i := 1; i < len(b.segs); i++ {
		if b.segs[i].State == b.segs[j].State {
			b.segs[j].End = b.segs[i].End
			continue
		}
		j++
		b.segs[j] = b.segs[i]
	}
	b.segs = b.segs[:j+1]
}

// BufferRegion is a span of bytes sharing a state.
type BufferRegion struct {
	Span
	State AccessState
}

// Regions returns the maximal spans within sp that share
// a state, in increasing order.
func (b *BuffersLayout) Regions(sp Span) []BufferRegion {
	sp = b.clip(sp)
	if sp.Empty() {
		return nil
	}
	var rs []BufferRegion
	for i := b.find(sp.Start); i < len(b.segs) && b.segs[i].Start < sp.End; i++ {
		s := b.segs[i]
		rs = append(rs, BufferRegion{
			Span:  Span{max(s.Start, sp.Start), min(s.End, sp.End)},
			State: s.State,
		})
	}
	return rs
}

// Clone returns a deep copy of b.
func (b *BuffersLayout) Clone() *BuffersLayout {
	return &BuffersLayout{size: b.size, segs: slices.Clone(b.segs)}
}

// Equal returns whether b and c are in the same state.
func (b *BuffersLayout) Equal(c *BuffersLayout) bool {
	return b.size == c.size && slices.Equal(b.segs, c.segs)
}
