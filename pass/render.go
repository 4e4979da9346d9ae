// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package pass

import (
	"github.com/gviegas/framegraph"
	"github.com/gviegas/framegraph/driver"
)

// RenderDesc describes a graphics pass.
type RenderDesc struct {
	VertFunc driver.ShaderFunc
	FragFunc driver.ShaderFunc
	Input    []driver.VertexIn
	Topology driver.Topology
	// Draw records draw calls. It is called inside the
	// render pass, after the pipeline, viewport, scissor,
	// descriptor table and vertex buffers are set.
	// If nil, the vertices of the first vertex buffer
	// created by Handler.CreateQuadTriVBO are drawn.
	Draw RecordFunc
}

// Render is a graphics pass runnable.
// Its pipeline is created on the first record, once the
// render pass and descriptor table exist.
type Render struct {
	Base
	p    *framegraph.Pass
	desc RenderDesc
}

// NewRender returns a factory of Render runnables.
func NewRender(d RenderDesc, opts ...Option) framegraph.Factory {
	return func(p *framegraph.Pass, _ *framegraph.Context) (framegraph.PassRunnable, error) {
		return &Render{Base: newBase(framegraph.Graphics, opts), p: p, desc: d}, nil
	}
}

func (x *Render) samples() int {
	for _, a := range x.p.Attachments() {
		if len(a.Views) > 0 && (a.Kind == framegraph.Color || a.Kind == framegraph.DepthStencil || a.Kind == framegraph.Depth) {
			return a.Views[0].Desc().Image.Desc().Samples
		}
	}
	return 1
}

// Record implements framegraph.PassRunnable.
func (x *Render) Record(rc *framegraph.RecordContext, cb driver.CmdBuffer, passIndex int) error {
	defer x.advance()
	if rc.RenderPass() == nil {
		return attachmentErr(x.p, "render pass with no render targets")
	}
	if x.pl == nil {
		pl, err := rc.GPU().NewPipeline(&driver.GraphState{
			VertFunc: x.desc.VertFunc,
			FragFunc: x.desc.FragFunc,
			Desc:     rc.DescTable(),
			Input:    x.desc.Input,
			Topology: x.desc.Topology,
			Samples:  x.samples(),
			Pass:     rc.RenderPass(),
		})
		if err != nil {
			return err
		}
		x.pl = pl
	}
	rc.BeginRenderPass()
	defer rc.EndRenderPass()
	cb.SetPipeline(x.pl)
	w, h, _ := rc.Extent()
	cb.SetViewport([]driver.Viewport{{Width: float32(w), Height: float32(h), Zfar: 1}})
	cb.SetScissor([]driver.Scissor{{Width: w, Height: h}})
	if t := rc.DescTable(); t != nil {
		cb.SetDescTableGraph(t, 0, []int{passIndex})
	}
	var bufs []driver.Buffer
	var offs []int64
	vertices := 0
	for _, a := range x.p.BufferAttachments() {
		switch a.Kind {
		case framegraph.Vertex:
			if len(bufs) == 0 {
				vertices = framegraph.VBOVertexCount(a.Buffer)
			}
			bufs = append(bufs, rc.Buffer(a.Buffer))
			offs = append(offs, a.Offset)
		case framegraph.Index:
			cb.SetIndexBuf(driver.Index16, rc.Buffer(a.Buffer), a.Offset)
		}
	}
	if len(bufs) > 0 {
		cb.SetVertexBuf(0, bufs, offs)
	}
	if x.desc.Draw != nil {
		return x.desc.Draw(rc, cb, passIndex)
	}
	if vertices > 0 {
		cb.Draw(vertices, 1, 0, 0)
	}
	return nil
}

// ComputeDesc describes a compute pass.
type ComputeDesc struct {
	Func driver.ShaderFunc
	// Groups is the number of thread groups dispatched
	// when Dispatch is nil.
	Groups [3]int
	// Dispatch records dispatch calls. It is called
	// inside the compute block, after the pipeline and
	// descriptor table are set.
	Dispatch RecordFunc
}

// Compute is a compute pass runnable.
type Compute struct {
	Base
	desc ComputeDesc
}

// NewCompute returns a factory of Compute runnables.
func NewCompute(d ComputeDesc, opts ...Option) framegraph.Factory {
	return func(*framegraph.Pass, *framegraph.Context) (framegraph.PassRunnable, error) {
		return &Compute{Base: newBase(framegraph.Compute, opts), desc: d}, nil
	}
}

// Record implements framegraph.PassRunnable.
func (x *Compute) Record(rc *framegraph.RecordContext, cb driver.CmdBuffer, passIndex int) error {
	defer x.advance()
	if x.pl == nil {
		pl, err := rc.GPU().NewPipeline(&driver.CompState{Func: x.desc.Func, Desc: rc.DescTable()})
		if err != nil {
			return err
		}
		x.pl = pl
	}
	cb.BeginWork(false)
	defer cb.EndWork()
	cb.SetPipeline(x.pl)
	if t := rc.DescTable(); t != nil {
		cb.SetDescTableComp(t, 0, []int{passIndex})
	}
	if x.desc.Dispatch != nil {
		return x.desc.Dispatch(rc, cb, passIndex)
	}
	g := x.desc.Groups
	cb.Dispatch(max(g[0], 1), max(g[1], 1), max(g[2], 1))
	return nil
}
