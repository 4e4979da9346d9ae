// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package framegraph

import (
	"fmt"

	"github.com/gviegas/framegraph/driver"
)

// PipelineKind is the kind of work a pass records.
type PipelineKind int

// Pipeline kinds.
const (
	Graphics PipelineKind = iota
	Compute
	TransferWork
)

// String implements fmt.Stringer.
func (k PipelineKind) String() string {
	switch k {
	case Graphics:
		return "graphics"
	case Compute:
		return "compute"
	case TransferWork:
		return "transfer"
	}
	return fmt.Sprintf("PipelineKind(%d)", int(k))
}

// PipelineState describes the pipeline of a pass.
// Stages, if not zero, narrows the shader stages that
// access sampled, storage and uniform attachments. It is
// also the scope of barriers emitted for dependencies
// that involve no shared resource.
type PipelineState struct {
	Kind   PipelineKind
	Stages driver.Sync
}

// scope returns the synchronization scope of the whole
// pipeline.
func (ps PipelineState) scope() driver.Sync {
	if ps.Stages != 0 {
		return ps.Stages
	}
	switch ps.Kind {
	case Graphics:
		return driver.SDraw
	case Compute:
		return driver.SComputeShading
	}
	return driver.SCopy
}

// PassRunnable is the per-compile instance of a pass's
// recording logic.
type PassRunnable interface {
	// Initialise is called once, after the compiled
	// schedule and its backend objects exist.
	Initialise() error

	// Record records the body of the pass.
	// It is called outside of any logical block and must
	// leave the command buffer outside of any logical
	// block.
	Record(rc *RecordContext, cb driver.CmdBuffer, passIndex int) error

	// PipelineState returns the pipeline state of the
	// pass. It must not change between calls.
	PipelineState() PipelineState

	// PassIndex returns the instance to record next.
	// It is taken modulo the pass count.
	PassIndex() int

	// IsEnabled returns whether the body should be
	// recorded.
	IsEnabled() bool
}

// Factory creates the PassRunnable of a pass.
// Factories are called at the start of every compile.
type Factory func(p *Pass, ctx *Context) (PassRunnable, error)

// ActionKind is the kind of an Action.
type ActionKind int

// Action kinds.
const (
	ActionClear ActionKind = iota + 1
	ActionBlit
	ActionCopy
	ActionFunc
)

// String implements fmt.Stringer.
func (k ActionKind) String() string {
	switch k {
	case ActionClear:
		return "clear"
	case ActionBlit:
		return "blit"
	case ActionCopy:
		return "copy"
	case ActionFunc:
		return "func"
	}
	return fmt.Sprintf("ActionKind(%d)", int(k))
}

// Action is work recorded around the body of a pass.
//
// Clear, Blit and Copy write to View, the latter two
// reading from Src. Func actions call Func and, if Layout
// is not LUndefined, require View to be in Layout first.
type Action struct {
	Kind   ActionKind
	View   ViewID
	Src    ViewID
	Clear  driver.ClearValue
	Filter driver.Filter
	Layout driver.Layout
	Func   func(rc *RecordContext, cb driver.CmdBuffer) error
}

// ImplicitAction is an Action bound to a view. It runs
// before the body of every pass that writes to the view.
type ImplicitAction = Action

// requirements calls f with each view that a uses and
// the state it requires.
func (a *Action) requirements(f func(v ViewID, s LayoutState)) {
	switch a.Kind {
	case ActionClear:
		f(a.View, LayoutState{Layout: driver.LCopyDst, Access: driver.ACopyWrite, Stage: driver.SCopy})
	case ActionBlit, ActionCopy:
		f(a.Src, LayoutState{Layout: driver.LCopySrc, Access: driver.ACopyRead, Stage: driver.SCopy})
		f(a.View, LayoutState{Layout: driver.LCopyDst, Access: driver.ACopyWrite, Stage: driver.SCopy})
	case ActionFunc:
		if a.View.Valid() && a.Layout != driver.LUndefined {
			f(a.View, defaultState(a.Layout))
		}
	}
}

// views calls f with each view that a refers to.
func (a *Action) views(f func(v ViewID)) {
	if a.View.Valid() {
		f(a.View)
	}
	if a.Src.Valid() {
		f(a.Src)
	}
}

// Pass is a node of a frame graph.
type Pass struct {
	g       *FrameGraph
	index   int
	name    string
	group   *Group
	images  []*Attachment
	buffers []*Attachment
	count   int
	enable  func() bool
	factory Factory
	deps    []*Pass
	pre     []Action
	post    []Action
	// Implicit actions set on the pass itself.
	implicit map[ViewID]Action
	removed  bool
}

// Name returns the name of p.
func (p *Pass) Name() string { return p.name }

// Index returns the creation index of p.
// It is unique within the graph.
func (p *Pass) Index() int { return p.index }

// Group returns the group that contains p.
func (p *Pass) Group() *Group { return p.group }

// Graph returns the graph that contains p.
func (p *Pass) Graph() *FrameGraph { return p.g }

// Count returns the number of instances of p.
func (p *Pass) Count() int { return p.count }

// SetCount sets the number of instances of p.
// Attachments that bind several views dispense them by
// instance index. n must be at least 1.
func (p *Pass) SetCount(n int) {
	if n < 1 {
		panic("framegraph: pass count must be at least 1")
	}
	p.count = n
}

// EnableIf sets a predicate that is checked on every
// record. When it returns false, only the transitions of
// the pass are recorded. A nil f always enables p.
func (p *Pass) EnableIf(f func() bool) { p.enable = f }

// IsEnabled returns whether the predicate set by EnableIf
// currently enables p.
func (p *Pass) IsEnabled() bool { return p.enable == nil || p.enable() }

// AddDependency makes p run after q.
func (p *Pass) AddDependency(q *Pass) { p.deps = append(p.deps, q) }

// Dependencies returns the explicit dependencies of p.
func (p *Pass) Dependencies() []*Pass { return p.deps }

// Attachments returns the image attachments of p.
func (p *Pass) Attachments() []*Attachment { return p.images }

// BufferAttachments returns the buffer attachments of p.
func (p *Pass) BufferAttachments() []*Attachment { return p.buffers }

// MergeViews calls Handler.MergeViews on the graph's
// handler.
func (p *Pass) MergeViews(views ...ViewID) (ViewID, error) { return p.g.h.MergeViews(views...) }

// AddView adds an image attachment of class c.
// Passing several views makes the attachment
// multi-instance (see ResolveView).
func (p *Pass) AddView(c Class, views ...ViewID) *Attachment {
	if len(views) == 0 {
		panic("framegraph: image attachment with no views")
	}
	a := &Attachment{
		Class:          c,
		Views:          views,
		Binding:        -1,
		SamplerBinding: -1,
		pass:           p,
	}
	p.images = append(p.images, a)
	return a
}

// AddBuffer adds a buffer attachment of class c.
// A zero size means the rest of the buffer.
func (p *Pass) AddBuffer(c Class, buf BufferID, off, size int64) *Attachment {
	a := &Attachment{
		Class:          c,
		Buffer:         buf,
		Offset:         off,
		Size:           size,
		Binding:        -1,
		SamplerBinding: -1,
		pass:           p,
	}
	p.buffers = append(p.buffers, a)
	return a
}

// AddColor adds a color attachment.
// Out and InOut make it a render target, while In reads
// it as an input attachment.
func (p *Pass) AddColor(d Dir, views ...ViewID) *Attachment {
	return p.AddView(Class{Color, d}, views...)
}

// AddDepth adds a depth attachment.
func (p *Pass) AddDepth(d Dir, views ...ViewID) *Attachment {
	return p.AddView(Class{Depth, d}, views...)
}

// AddStencil adds a stencil attachment.
func (p *Pass) AddStencil(d Dir, views ...ViewID) *Attachment {
	return p.AddView(Class{Stencil, d}, views...)
}

// AddDepthStencil adds a depth/stencil attachment.
func (p *Pass) AddDepthStencil(d Dir, views ...ViewID) *Attachment {
	return p.AddView(Class{DepthStencil, d}, views...)
}

// AddStorage adds a storage image attachment.
func (p *Pass) AddStorage(d Dir, views ...ViewID) *Attachment {
	return p.AddView(Class{Storage, d}, views...)
}

// AddSampled adds a sampled image attachment.
func (p *Pass) AddSampled(views ...ViewID) *Attachment {
	return p.AddView(Class{Sampled, In}, views...)
}

// AddTransfer adds an image attachment used by copy
// commands. In is the source and Out the destination.
func (p *Pass) AddTransfer(d Dir, views ...ViewID) *Attachment {
	return p.AddView(Class{Transfer, d}, views...)
}

// AddInputAttachment adds an input attachment.
func (p *Pass) AddInputAttachment(views ...ViewID) *Attachment {
	return p.AddView(Class{InputAttachment, In}, views...)
}

// AddStorageBuffer adds a storage buffer range bound at
// descriptor binding.
func (p *Pass) AddStorageBuffer(d Dir, buf BufferID, binding int, off, size int64) *Attachment {
	return p.AddBuffer(Class{Storage, d}, buf, off, size).WithBinding(binding)
}

// AddStorageBufferView adds the range of a buffer view as
// a storage buffer.
func (p *Pass) AddStorageBufferView(d Dir, bv BufferViewID, binding int) *Attachment {
	bd := bv.Desc()
	return p.AddStorageBuffer(d, bd.Buffer, binding, bd.Offset, bd.Size)
}

// AddUniformBuffer adds a uniform buffer range bound at
// descriptor binding.
func (p *Pass) AddUniformBuffer(buf BufferID, binding int, off, size int64) *Attachment {
	return p.AddBuffer(Class{Uniform, In}, buf, off, size).WithBinding(binding)
}

// AddVertexBuffer adds a vertex buffer range.
func (p *Pass) AddVertexBuffer(buf BufferID, off, size int64) *Attachment {
	return p.AddBuffer(Class{Vertex, In}, buf, off, size)
}

// AddIndexBuffer adds an index buffer range.
func (p *Pass) AddIndexBuffer(buf BufferID, off, size int64) *Attachment {
	return p.AddBuffer(Class{Index, In}, buf, off, size)
}

// AddTransferBuffer adds a buffer range used by copy
// commands.
func (p *Pass) AddTransferBuffer(d Dir, buf BufferID, off, size int64) *Attachment {
	return p.AddBuffer(Class{Transfer, d}, buf, off, size)
}

// SetImplicitAction binds a to view for this pass only,
// overriding any action that the graph binds to view.
func (p *Pass) SetImplicitAction(view ViewID, a ImplicitAction) {
	if p.implicit == nil {
		p.implicit = make(map[ViewID]Action)
	}
	a.View = view
	p.implicit[view] = a
}

// AddPrePassAction adds an action that runs after the
// pass's barriers and before its body.
func (p *Pass) AddPrePassAction(a Action) { p.pre = append(p.pre, a) }

// AddPostPassAction adds an action that runs after the
// pass's body. The states it requires become the states
// that later passes observe.
func (p *Pass) AddPostPassAction(a Action) { p.post = append(p.post, a) }

// implicitFor returns the implicit action bound to v,
// either by p or by its graph.
func (p *Pass) implicitFor(v ViewID) (Action, bool) {
	if a, ok := p.implicit[v]; ok {
		return a, true
	}
	a, ok := p.g.implicit[v]
	return a, ok
}

// String implements fmt.Stringer.
func (p *Pass) String() string { return p.name }
