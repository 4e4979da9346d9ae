// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package state

import (
	"github.com/gviegas/framegraph/internal/bitvec"
)

// ViewsLayout maps every (level, layer) cell of one image
// to a LayoutState.
// It stores a single state until some update covers only
// part of the image.
type ViewsLayout struct {
	levels int
	layers int
	// dense is nil while every cell is in uniform.
	dense   []LayoutState
	uniform LayoutState
}

// NewViewsLayout creates a ViewsLayout for an image with
// the given number of levels and layers, every cell in
// state s.
func NewViewsLayout(levels, layers int, s LayoutState) *ViewsLayout {
	if levels < 1 || layers < 1 {
		panic("state: invalid ViewsLayout dimensions")
	}
	return &ViewsLayout{levels: levels, layers: layers, uniform: s}
}

// Levels returns the number of levels of the image.
func (v *ViewsLayout) Levels() int { return v.levels }

// Layers returns the number of layers of the image.
func (v *ViewsLayout) Layers() int { return v.layers }

// Full returns the range covering the whole image.
func (v *ViewsLayout) Full() Range { return Range{0, v.levels, 0, v.layers} }

// At returns the state of a cell.
func (v *ViewsLayout) At(level, layer int) LayoutState {
	if v.dense == nil {
		return v.uniform
	}
	return v.dense[level*v.layers+layer]
}

// Uniform returns the state shared by every cell, if any.
func (v *ViewsLayout) Uniform() (LayoutState, bool) {
	if v.dense == nil {
		return v.uniform, true
	}
	s := v.dense[0]
	for _, x := range v.dense[1:] {
		if x != s {
			return LayoutState{}, false
		}
	}
	return s, true
}

func (v *ViewsLayout) clip(r Range) Range {
	if r.Level < 0 {
		r.Levels += r.Level
		r.Level = 0
	}
	if r.Layer < 0 {
		r.Layers += r.Layer
		r.Layer = 0
	}
	r.Levels = min(r.Levels, v.levels-r.Level)
	r.Layers = min(r.Layers, v.layers-r.Layer)
	return r
}

// Set sets the state of every cell in r.
func (v *ViewsLayout) Set(r Range, s LayoutState) {
	r = v.clip(r)
	if r.Empty() {
		return
	}
	if r == v.Full() {
		v.dense = nil
		v.uniform = s
		return
	}
	if v.dense == nil {
		v.dense = make([]LayoutState, v.levels*v.layers)
		for i := range v.dense {
			v.dense[i] = v.uniform
		}
	}
	for l := r.Level; l < r.Level+r.Levels; l++ {
		row := v.dense[l*v.layers:]
		for a := r.Layer; a < r.Layer+r.Layers; a++ {
			row[a] = s
		}
	}
}

// Region is a rectangle of cells sharing a state.
type Region struct {
	Range
	State LayoutState
}

// Regions partitions the cells of r into rectangles of
// equal state. Rectangles are grown along layers first
// and then along levels, scanning cells in level-major
// order, so the result is deterministic.
func (v *ViewsLayout) Regions(r Range) []Region {
	r = v.clip(r)
	if r.Empty() {
		return nil
	}
	if v.dense == nil {
		return []Region{{r, v.uniform}}
	}
	return regions(r, v.layers, func(l, a int) (LayoutState, bool) {
		return v.dense[l*v.layers+a], true
	})
}

// Clone returns a deep copy of v.
func (v *ViewsLayout) Clone() *ViewsLayout {
	w := *v
	if v.dense != nil {
		w.dense = append([]LayoutState(nil), v.dense...)
	}
	return &w
}

// Equal returns whether v and w have the same state
// in every cell.
func (v *ViewsLayout) Equal(w *ViewsLayout) bool {
	if v.levels != w.levels || v.layers != w.layers {
		return false
	}
	for l := range v.levels {
		for a := range v.layers {
			if v.At(l, a) != w.At(l, a) {
				return false
			}
		}
	}
	return true
}

// regions computes maximal rectangles within r of cells
// for which at returns the same state and true.
// stride is the number of layers of the image.
func regions(r Range, stride int, at func(level, layer int) (LayoutState, bool)) []Region {
	seen := bitvec.New[uint64]((r.Level + r.Levels) * stride)
	idx := func(l, a int) int { return l*stride + a }
	var rs []Region
	for l := r.Level; l < r.Level+r.Levels; l++ {
		for a := r.Layer; a < r.Layer+r.Layers; a++ {
			if seen.IsSet(idx(l, a)) {
				continue
			}
			s, ok := at(l, a)
			if !ok {
				continue
			}
			same := func(l, a int) bool {
				if seen.IsSet(idx(l, a)) {
					return false
				}
				t, ok := at(l, a)
				return ok && t == s
			}
			w := 1
			for a+w < r.Layer+r.Layers && same(l, a+w) {
				w++
			}
			h := 1
		grow:
			for l+h < r.Level+r.Levels {
				for x := a; x < a+w; x++ {
					if !same(l+h, x) {
						break grow
					}
				}
				h++
			}
			for y := l; y < l+h; y++ {
				for x := a; x < a+w; x++ {
					seen.Set(idx(y, x))
				}
			}
			rs = append(rs, Region{Range{l, h, a, w}, s})
		}
	}
	return rs
}
