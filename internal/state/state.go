// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package state tracks the layout and access state of
// image subresources and buffer ranges, and computes the
// changes that a new requirement causes.
package state

import (
	"fmt"

	"github.com/gviegas/framegraph/driver"
)

// LayoutState is the state of an image subresource.
type LayoutState struct {
	Layout driver.Layout
	Access driver.Access
	Stage  driver.Sync
}

// Writes returns whether s has any write access.
func (s LayoutState) Writes() bool { return s.Access.Writes() }

// String implements fmt.Stringer.
func (s LayoutState) String() string {
	return fmt.Sprintf("%v(%v@%v)", s.Layout, s.Access, s.Stage)
}

// AccessState is the state of a buffer range.
type AccessState struct {
	Access driver.Access
	Stage  driver.Sync
}

// Writes returns whether s has any write access.
func (s AccessState) Writes() bool { return s.Access.Writes() }

// IsZero returns whether s describes a range that was
// never accessed.
func (s AccessState) IsZero() bool { return s.Access == 0 && s.Stage == 0 }

// String implements fmt.Stringer.
func (s AccessState) String() string { return fmt.Sprintf("%v@%v", s.Access, s.Stage) }

// Decide returns whether moving from cur to req needs a
// barrier and what the resulting state is.
//
// A layout change always needs a barrier, and so does a
// write on either side, even one that repeats cur.
// A read in the same layout needs a barrier unless the
// access and stage scopes of cur already cover it. The
// scopes of reads accumulate, so a later write waits on
// every reader.
func Decide(cur, req LayoutState) (barrier bool, next LayoutState) {
	switch {
	case cur.Layout != req.Layout, cur.Writes(), req.Writes():
		return true, req
	case covers(cur.Access, cur.Stage, req.Access, req.Stage):
		return false, cur
	}
	return true, LayoutState{
		Layout: cur.Layout,
		Access: cur.Access | req.Access,
		Stage:  cur.Stage | req.Stage,
	}
}

// DecideBuffer is the AccessState counterpart of Decide.
// A range that was never accessed needs no barrier.
func DecideBuffer(cur, req AccessState) (barrier bool, next AccessState) {
	switch {
	case cur.IsZero():
		return false, req
	case cur.Writes(), req.Writes():
		return true, req
	case covers(cur.Access, cur.Stage, req.Access, req.Stage):
		return false, cur
	}
	return true, AccessState{
		Access: cur.Access | req.Access,
		Stage:  cur.Stage | req.Stage,
	}
}

// covers returns whether the scopes a/s include b/t.
func covers(a driver.Access, s driver.Sync, b driver.Access, t driver.Sync) bool {
	return b&^a == 0 && t&^s == 0
}

// Default returns the access and stage scopes that are
// assumed for a subresource declared to be in layout l
// without further information.
func Default(l driver.Layout) LayoutState {
	s := LayoutState{Layout: l}
	switch l {
	case driver.LCommon:
		s.Access = driver.AShaderRead | driver.AShaderWrite
		s.Stage = driver.SComputeShading | driver.SFragmentShading
	case driver.LColorTarget:
		s.Access = driver.AColorRead | driver.AColorWrite
		s.Stage = driver.SColorOutput
	case driver.LDSTarget:
		s.Access = driver.ADSRead | driver.ADSWrite
		s.Stage = driver.SDSOutput
	case driver.LDSRead:
		s.Access = driver.ADSRead
		s.Stage = driver.SDSOutput
	case driver.LDSMixed:
		s.Access = driver.ADSRead | driver.ADSWrite
		s.Stage = driver.SDSOutput
	case driver.LResolveSrc:
		s.Access = driver.AResolveRead
		s.Stage = driver.SResolve
	case driver.LResolveDst:
		s.Access = driver.AResolveWrite
		s.Stage = driver.SResolve
	case driver.LCopySrc:
		s.Access = driver.ACopyRead
		s.Stage = driver.SCopy
	case driver.LCopyDst:
		s.Access = driver.ACopyWrite
		s.Stage = driver.SCopy
	case driver.LShaderRead:
		s.Access = driver.AShaderRead
		s.Stage = driver.SFragmentShading | driver.SComputeShading
	case driver.LPresent:
		s.Stage = driver.SAll
	}
	return s
}

// Range is a rectangle of image subresources.
type Range struct {
	Level, Levels int
	Layer, Layers int
}

// Contains returns whether the cell (level, layer) is
// in r.
func (r Range) Contains(level, layer int) bool {
	return level >= r.Level && level < r.Level+r.Levels &&
		layer >= r.Layer && layer < r.Layer+r.Layers
}

// Overlaps returns whether r and s have a cell in common.
func (r Range) Overlaps(s Range) bool {
	return r.Level < s.Level+s.Levels && s.Level < r.Level+r.Levels &&
		r.Layer < s.Layer+s.Layers && s.Layer < r.Layer+r.Layers
}

// Empty returns whether r has no cells.
func (r Range) Empty() bool { return r.Levels <= 0 || r.Layers <= 0 }

// String implements fmt.Stringer.
func (r Range) String() string {
	return fmt.Sprintf("[%d+%d/%d+%d]", r.Level, r.Levels, r.Layer, r.Layers)
}

// Span is a half-open range of bytes.
type Span struct {
	Start, End int64
}

// Overlaps returns whether s and t have a byte in common.
func (s Span) Overlaps(t Span) bool { return s.Start < t.End && t.Start < s.End }

// Empty returns whether s has no bytes.
func (s Span) Empty() bool { return s.End <= s.Start }

// String implements fmt.Stringer.
func (s Span) String() string { return fmt.Sprintf("[%d:%d)", s.Start, s.End) }
