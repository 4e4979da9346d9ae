// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package framegraph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/internal/state"
)

// LayoutState is the layout, access and stage scopes of
// an image subresource.
type LayoutState = state.LayoutState

// AccessState is the access and stage scopes of a range
// of buffer memory.
type AccessState = state.AccessState

// AttachmentKind is the kind of resource use that an
// attachment declares.
type AttachmentKind int

// Attachment kinds.
// The first eight apply to image views and the last five
// to buffers. Storage and Transfer apply to both.
const (
	Color AttachmentKind = iota
	Depth
	Stencil
	DepthStencil
	Storage
	Sampled
	Transfer
	InputAttachment
	Uniform
	Vertex
	Index
)

var attKindNames = [...]string{
	Color:           "color",
	Depth:           "depth",
	Stencil:         "stencil",
	DepthStencil:    "depth-stencil",
	Storage:         "storage",
	Sampled:         "sampled",
	Transfer:        "transfer",
	InputAttachment: "input-attachment",
	Uniform:         "uniform",
	Vertex:          "vertex",
	Index:           "index",
}

// String implements fmt.Stringer.
func (k AttachmentKind) String() string {
	if k >= 0 && int(k) < len(attKindNames) {
		return attKindNames[k]
	}
	return fmt.Sprintf("AttachmentKind(%d)", int(k))
}

func (k AttachmentKind) isTarget() bool {
	switch k {
	case Color, Depth, Stencil, DepthStencil:
		return true
	}
	return false
}

func (k AttachmentKind) isDS() bool { return k == Depth || k == Stencil || k == DepthStencil }

// Dir is the direction of an attachment.
type Dir int

// Directions.
const (
	In Dir = 1 << iota
	Out
	InOut = In | Out
)

// String implements fmt.Stringer.
func (d Dir) String() string {
	switch d {
	case In:
		return "in"
	case Out:
		return "out"
	case InOut:
		return "inout"
	}
	return fmt.Sprintf("Dir(%d)", int(d))
}

// Writes returns whether d includes Out.
func (d Dir) Writes() bool { return d&Out != 0 }

// Class is the usage class of an attachment.
type Class struct {
	Kind AttachmentKind
	Dir  Dir
}

// String implements fmt.Stringer.
func (c Class) String() string { return c.Dir.String() + "-" + c.Kind.String() }

// ParseClass returns the Class whose String is s.
func ParseClass(s string) (Class, bool) {
	d, k, ok := strings.Cut(s, "-")
	if !ok {
		return Class{}, false
	}
	var c Class
	switch d {
	case "in":
		c.Dir = In
	case "out":
		c.Dir = Out
	case "inout":
		c.Dir = InOut
	default:
		return Class{}, false
	}
	i := slices.Index(attKindNames[:], k)
	if i < 0 {
		return Class{}, false
	}
	c.Kind = AttachmentKind(i)
	return c, true
}

// Attachment is a pass's binding of image views or of a
// buffer range.
type Attachment struct {
	Class
	// Views holds one view, or one view per pass instance
	// resolved with ResolveView.
	Views []ViewID
	// Buffer, Offset and Size describe a buffer range.
	// A zero Size means the rest of the buffer.
	Buffer BufferID
	Offset int64
	Size   int64
	// Binding is the descriptor number, or -1.
	Binding int
	// SamplerBinding is the descriptor number of Sampler,
	// or -1.
	SamplerBinding int
	Sampler        SamplerID
	// Load and Store apply to color and depth, while
	// StencilLoad and StencilStore apply to stencil.
	// Unset operations are derived from the direction.
	Load         driver.LoadOp
	Store        driver.StoreOp
	StencilLoad  driver.LoadOp
	StencilStore driver.StoreOp
	opsSet       bool
	Clear        *driver.ClearValue

	pass *Pass
}

// IsBuffer returns whether a binds a buffer range.
func (a *Attachment) IsBuffer() bool { return a.Buffer.Valid() }

// Pass returns the pass that owns a.
func (a *Attachment) Pass() *Pass { return a.pass }

// WithClear sets the clear value used when loading a
// render target.
func (a *Attachment) WithClear(v driver.ClearValue) *Attachment {
	a.Clear = &v
	return a
}

// WithBinding sets the descriptor number.
func (a *Attachment) WithBinding(nr int) *Attachment {
	a.Binding = nr
	return a
}

// WithSampler sets a sampler and its descriptor number.
func (a *Attachment) WithSampler(s SamplerID, nr int) *Attachment {
	a.Sampler = s
	a.SamplerBinding = nr
	return a
}

// WithOps sets the load and store operations of every
// aspect.
func (a *Attachment) WithOps(load driver.LoadOp, store driver.StoreOp) *Attachment {
	a.Load, a.StencilLoad = load, load
	a.Store, a.StencilStore = store, store
	a.opsSet = true
	return a
}

// ops returns the render pass operations of a.
func (a *Attachment) ops() (load [2]driver.LoadOp, store [2]driver.StoreOp) {
	if a.opsSet {
		return [2]driver.LoadOp{a.Load, a.StencilLoad}, [2]driver.StoreOp{a.Store, a.StencilStore}
	}
	l := driver.LLoad
	switch {
	case a.Dir == Out && a.Clear != nil:
		l = driver.LClear
	case a.Dir == Out:
		l = driver.LDontCare
	}
	return [2]driver.LoadOp{l, l}, [2]driver.StoreOp{driver.SStore, driver.SStore}
}

// View returns the view of instance passIndex.
func (a *Attachment) View(passIndex int) ViewID { return ResolveView(a.Views, passIndex) }

// span returns the buffer range of a.
func (a *Attachment) span() state.Span {
	end := a.Offset + a.Size
	if a.Size == 0 {
		end = a.Buffer.Desc().Size
	}
	return state.Span{Start: a.Offset, End: end}
}

// shaderStage returns the stage of shader accesses of a
// pass with the given pipeline state.
func shaderStage(ps PipelineState) driver.Sync {
	const mask = driver.SVertexShading | driver.SFragmentShading | driver.SComputeShading
	if s := ps.Stages & mask; s != 0 {
		return s
	}
	switch ps.Kind {
	case Graphics:
		return driver.SFragmentShading
	case Compute:
		return driver.SComputeShading
	}
	return driver.SFragmentShading | driver.SComputeShading
}

// imageState returns the state that a requires of its
// image subresources.
func (a *Attachment) imageState(ps PipelineState) LayoutState {
	rw := func(r, w driver.Access) driver.Access {
		var x driver.Access
		if a.Dir&In != 0 {
			x |= r
		}
		if a.Dir&Out != 0 {
			x |= w
		}
		return x
	}
	switch a.Kind {
	case Color:
		if a.Dir == In {
			return LayoutState{Layout: driver.LShaderRead, Access: driver.AInputRead, Stage: driver.SFragmentShading}
		}
		return LayoutState{Layout: driver.LColorTarget, Access: rw(driver.AColorRead, driver.AColorWrite), Stage: driver.SColorOutput}
	case Depth, Stencil, DepthStencil:
		if a.Dir == In {
			return LayoutState{Layout: driver.LDSRead, Access: driver.ADSRead, Stage: driver.SDSOutput}
		}
		return LayoutState{Layout: driver.LDSTarget, Access: rw(driver.ADSRead, driver.ADSWrite), Stage: driver.SDSOutput}
	case Storage:
		return LayoutState{Layout: driver.LCommon, Access: rw(driver.AShaderRead, driver.AShaderWrite), Stage: shaderStage(ps)}
	case Sampled:
		return LayoutState{Layout: driver.LShaderRead, Access: driver.AShaderRead, Stage: shaderStage(ps)}
	case Transfer:
		switch a.Dir {
		case In:
			return LayoutState{Layout: driver.LCopySrc, Access: driver.ACopyRead, Stage: driver.SCopy}
		case Out:
			return LayoutState{Layout: driver.LCopyDst, Access: driver.ACopyWrite, Stage: driver.SCopy}
		}
		return LayoutState{Layout: driver.LCommon, Access: driver.ACopyRead | driver.ACopyWrite, Stage: driver.SCopy}
	case InputAttachment:
		return LayoutState{Layout: driver.LShaderRead, Access: driver.AInputRead, Stage: driver.SFragmentShading}
	}
	panic("framegraph: not an image attachment kind")
}

// bufferState returns the state that a requires of its
// buffer range.
func (a *Attachment) bufferState(ps PipelineState) AccessState {
	rw := func(r, w driver.Access) driver.Access {
		var x driver.Access
		if a.Dir&In != 0 {
			x |= r
		}
		if a.Dir&Out != 0 {
			x |= w
		}
		return x
	}
	switch a.Kind {
	case Storage:
		return AccessState{Access: rw(driver.AShaderRead, driver.AShaderWrite), Stage: shaderStage(ps)}
	case Uniform:
		st := shaderStage(ps)
		if ps.Kind == Graphics && ps.Stages == 0 {
			st |= driver.SVertexShading
		}
		return AccessState{Access: driver.AUniformRead, Stage: st}
	case Vertex:
		return AccessState{Access: driver.AVertexBufRead, Stage: driver.SVertexInput}
	case Index:
		return AccessState{Access: driver.AIndexBufRead, Stage: driver.SVertexInput}
	case Transfer:
		return AccessState{Access: rw(driver.ACopyRead, driver.ACopyWrite), Stage: driver.SCopy}
	}
	panic("framegraph: not a buffer attachment kind")
}

// imageUsage returns the usage that a requires of the
// images it refers to.
func (a *Attachment) imageUsage() driver.Usage {
	switch a.Kind {
	case Color, Depth, Stencil, DepthStencil:
		if a.Kind == Color && a.Dir == In {
			return driver.URenderTarget | driver.UShaderRead
		}
		return driver.URenderTarget
	case InputAttachment:
		return driver.URenderTarget | driver.UShaderRead
	case Storage:
		return driver.UShaderRead | driver.UShaderWrite
	case Sampled:
		return driver.UShaderSample
	case Transfer:
		var u driver.Usage
		if a.Dir&In != 0 {
			u |= driver.UCopySrc
		}
		if a.Dir&Out != 0 {
			u |= driver.UCopyDst
		}
		return u
	}
	return 0
}

// bufferUsage returns the usage that a requires of the
// buffer it refers to.
func (a *Attachment) bufferUsage() driver.Usage {
	switch a.Kind {
	case Storage:
		return driver.UShaderRead | driver.UShaderWrite
	case Uniform:
		return driver.UShaderConst
	case Vertex:
		return driver.UVertexData
	case Index:
		return driver.UIndexData
	case Transfer:
		var u driver.Usage
		if a.Dir&In != 0 {
			u |= driver.UCopySrc
		}
		if a.Dir&Out != 0 {
			u |= driver.UCopyDst
		}
		return u
	}
	return 0
}

// checkFormat reports whether the kind of a is valid for
// a view with aspects asp.
func (a *Attachment) checkFormat(asp Aspect) error {
	var ok bool
	switch a.Kind {
	case Color, InputAttachment:
		ok = asp&AspectColor != 0 || a.Kind == InputAttachment
	case Depth:
		ok = asp&AspectDepth != 0
	case Stencil:
		ok = asp&AspectStencil != 0
	case DepthStencil:
		ok = asp&(AspectDepth|AspectStencil) != 0
	case Storage, Transfer, Sampled:
		ok = true
	default:
		return fmt.Errorf("%v is not an image attachment kind", a.Kind)
	}
	if !ok {
		return fmt.Errorf("%v attachment on a view without the required aspect", a.Class)
	}
	return nil
}

// dsRank orders depth/stencil layouts by strength.
func dsRank(l driver.Layout) int {
	switch l {
	case driver.LDSRead:
		return 1
	case driver.LDSMixed:
		return 2
	case driver.LDSTarget:
		return 3
	}
	return 0
}

// mergeStates combines states required of the same
// subresource by one step. Equal layouts accumulate
// their scopes, depth/stencil layouts resolve to the
// strongest one and anything else conflicts.
func mergeStates(a, b LayoutState) (LayoutState, bool) {
	u := LayoutState{Access: a.Access | b.Access, Stage: a.Stage | b.Stage}
	switch ra, rb := dsRank(a.Layout), dsRank(b.Layout); {
	case a.Layout == b.Layout:
		u.Layout = a.Layout
	case ra > 0 && rb > 0 && ra > rb:
		u.Layout = a.Layout
	case ra > 0 && rb > 0:
		u.Layout = b.Layout
	default:
		return LayoutState{}, false
	}
	return u, true
}
