// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package framegraph

import (
	"fmt"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/internal/state"
)

// RecordContext is the cursor of a Runnable's Record.
// It tracks the state of every resource as passes are
// recorded and gives pass runnables access to the
// backend objects of their attachments.
// It must not be retained after Record returns.
type RecordContext struct {
	r    *Runnable
	cb   driver.CmdBuffer
	tr   *state.Tracker
	st   *step
	res  *stepRes
	inst int
}

// barrier records image changes, buffer changes and
// global barriers.
func (rc *RecordContext) barrier(ics []state.ImageChange, bcs []state.BufferChange, gbs []driver.Barrier) error {
	if len(ics)+len(bcs)+len(gbs) == 0 {
		return nil
	}
	h := rc.r.g.h
	ts := make([]driver.Transition, len(ics))
	for i, c := range ics {
		ts[i] = driver.Transition{
			Barrier: driver.Barrier{
				SyncBefore:   c.Before.Stage,
				SyncAfter:    c.After.Stage,
				AccessBefore: c.Before.Access,
				AccessAfter:  c.After.Access,
			},
			LayoutBefore: c.Before.Layout,
			LayoutAfter:  c.After.Layout,
			Img:          rc.r.images[h.image(c.Image)],
			Layer:        c.Layer,
			Layers:       c.Layers,
			Level:        c.Level,
			Levels:       c.Levels,
		}
	}
	bs := append([]driver.Barrier(nil), gbs...)
	for _, c := range bcs {
		bs = append(bs, driver.Barrier{
			SyncBefore:   c.Before.Stage,
			SyncAfter:    c.After.Stage,
			AccessBefore: c.Before.Access,
			AccessAfter:  c.After.Access,
		})
	}
	if rc.r.ctx.cfg.MergeTransitions {
		if len(bs) > 0 {
			var b driver.Barrier
			for _, x := range bs {
				b.SyncBefore |= x.SyncBefore
				b.SyncAfter |= x.SyncAfter
				b.AccessBefore |= x.AccessBefore
				b.AccessAfter |= x.AccessAfter
			}
			rc.cb.Barrier([]driver.Barrier{b})
		}
		if len(ts) > 0 {
			rc.cb.Transition(ts)
		}
		return nil
	}
	for i := range bs {
		rc.cb.Barrier(bs[i : i+1])
	}
	for i := range ts {
		rc.cb.Transition(ts[i : i+1])
	}
	return nil
}

// mipSize returns the size of level l of the image of v.
func mipSize(v ViewID, l int) driver.Dim3D {
	sz := v.Desc().Image.Desc().Size
	return driver.Dim3D{
		Width:  max(sz.Width>>l, 1),
		Height: max(sz.Height>>l, 1),
		Depth:  max(sz.Depth>>l, 1),
	}
}

// action records a.
func (rc *RecordContext) action(a *Action) error {
	cb := rc.cb
	switch a.Kind {
	case ActionClear:
		d := a.View.Desc()
		cb.BeginBlit(false)
		cb.ClearImage(&driver.ImageClear{
			Img:    rc.r.images[d.Image],
			Layer:  d.Range.BaseLayer,
			Layers: d.Range.Layers,
			Level:  d.Range.BaseLevel,
			Levels: d.Range.Levels,
			Value:  a.Clear,
		})
		cb.EndBlit()
	case ActionBlit, ActionCopy:
		src, dst := a.Src.Desc(), a.View.Desc()
		layers := min(src.Range.Layers, dst.Range.Layers)
		cb.BeginBlit(false)
		for l := range min(src.Range.Levels, dst.Range.Levels) {
			from, to := src.Range.BaseLevel+l, dst.Range.BaseLevel+l
			if a.Kind == ActionBlit {
				cb.BlitImage(&driver.ImageBlit{
					From:      rc.r.images[src.Image],
					FromLayer: src.Range.BaseLayer,
					FromLevel: from,
					FromSize:  mipSize(a.Src, from),
					To:        rc.r.images[dst.Image],
					ToLayer:   dst.Range.BaseLayer,
					ToLevel:   to,
					ToSize:    mipSize(a.View, to),
					Layers:    layers,
					Filter:    a.Filter,
				})
				continue
			}
			fs, ts := mipSize(a.Src, from), mipSize(a.View, to)
			cb.CopyImage(&driver.ImageCopy{
				From:      rc.r.images[src.Image],
				FromLayer: src.Range.BaseLayer,
				FromLevel: from,
				To:        rc.r.images[dst.Image],
				ToLayer:   dst.Range.BaseLayer,
				ToLevel:   to,
				Size: driver.Dim3D{
					Width:  min(fs.Width, ts.Width),
					Height: min(fs.Height, ts.Height),
					Depth:  min(fs.Depth, ts.Depth),
				},
				Layers: layers,
			})
		}
		cb.EndBlit()
	case ActionFunc:
		if a.Func == nil {
			return nil
		}
		if err := a.Func(rc, cb); err != nil {
			return rc.wrap(err, "action")
		}
	default:
		return newErr(IncompatibleAttachment, rc.loc(), fmt.Sprintf("invalid action kind %v", a.Kind))
	}
	return nil
}

// body records the body of the current pass.
func (rc *RecordContext) body(inst int) error {
	if err := rc.st.pr.Record(rc, rc.cb, inst); err != nil {
		return rc.wrap(err, "Record")
	}
	return nil
}

func (rc *RecordContext) loc() string {
	if rc.st == nil {
		return rc.r.g.name
	}
	return rc.st.pass.name
}

func (rc *RecordContext) wrap(err error, msg string) error {
	if ge, ok := err.(*GraphError); ok {
		return ge
	}
	return &GraphError{Kind: BackendFailure, Loc: rc.loc(), Msg: msg, Err: err}
}

// Pass returns the pass being recorded, or nil while
// recording the end of the graph.
func (rc *RecordContext) Pass() *Pass {
	if rc.st == nil {
		return nil
	}
	return rc.st.pass
}

// PassIndex returns the instance being recorded.
func (rc *RecordContext) PassIndex() int { return rc.inst }

// Runnable returns the runnable being recorded.
func (rc *RecordContext) Runnable() *Runnable { return rc.r }

// GPU returns the GPU of the runnable.
func (rc *RecordContext) GPU() driver.GPU { return rc.r.ctx.gpu }

// Handler returns the handler of the graph.
func (rc *RecordContext) Handler() *Handler { return rc.r.g.h }

// View returns the view of a for the instance being
// recorded.
func (rc *RecordContext) View(a *Attachment) ViewID { return a.View(rc.inst) }

// ImageView returns the backend view of v, or nil if no
// attachment or action of the graph uses v.
func (rc *RecordContext) ImageView(v ViewID) driver.ImageView { return rc.r.views[v] }

// Image returns the backend image of img.
func (rc *RecordContext) Image(img ImageID) driver.Image { return rc.r.images[img] }

// Buffer returns the backend buffer of b.
func (rc *RecordContext) Buffer(b BufferID) driver.Buffer { return rc.r.buffers[b] }

// Sampler returns the backend sampler of s.
func (rc *RecordContext) Sampler(s SamplerID) driver.Sampler { return rc.r.samplers[s] }

// RenderPass returns the render pass of the current
// pass, or nil if it has no render targets.
func (rc *RecordContext) RenderPass() driver.RenderPass {
	if rc.res == nil {
		return nil
	}
	return rc.res.rp
}

// Framebuf returns the framebuffer of the instance being
// recorded, or nil.
func (rc *RecordContext) Framebuf() driver.Framebuf {
	if rc.res == nil || rc.res.rp == nil {
		return nil
	}
	return rc.res.fbs[rc.inst]
}

// Extent returns the width, height and layers of the
// framebuffer of the instance being recorded.
func (rc *RecordContext) Extent() (width, height, layers int) {
	if rc.res == nil || rc.res.rp == nil {
		return 0, 0, 0
	}
	e := rc.res.extents[rc.inst]
	return e[0], e[1], e[2]
}

// ClearValues returns the clear values of the render
// targets, in render pass order.
func (rc *RecordContext) ClearValues() []driver.ClearValue {
	if rc.res == nil {
		return nil
	}
	return rc.res.clear
}

// BeginRenderPass begins the render pass of the current
// pass. It returns false if the pass has no render
// targets.
func (rc *RecordContext) BeginRenderPass() bool {
	fb := rc.Framebuf()
	if fb == nil {
		return false
	}
	rc.cb.BeginPass(rc.res.rp, fb, rc.res.clear)
	return true
}

// EndRenderPass ends the render pass begun by
// BeginRenderPass.
func (rc *RecordContext) EndRenderPass() { rc.cb.EndPass() }

// DescTable returns the descriptor table of the current
// pass, or nil if it binds no descriptors.
// The heap copy of the instance being recorded is given
// by PassIndex.
func (rc *RecordContext) DescTable() driver.DescTable {
	if rc.res == nil {
		return nil
	}
	return rc.res.table
}

// DescHeap returns the descriptor heap of the current
// pass, or nil.
func (rc *RecordContext) DescHeap() driver.DescHeap {
	if rc.res == nil {
		return nil
	}
	return rc.res.heap
}

// State returns the current state of v.
// It returns false if the subresources of v are not in
// a single state.
func (rc *RecordContext) State(v ViewID) (LayoutState, bool) {
	vl := rc.tr.Image(v.Desc().Image.Index())
	if vl == nil {
		return LayoutState{}, false
	}
	rgs := vl.Regions(viewRange(v))
	if len(rgs) != 1 {
		return LayoutState{}, false
	}
	return rgs[0].State, true
}

// Transition moves v to layout l, recording the needed
// barriers. It must be called outside of any logical
// block. Later passes observe the new state.
func (rc *RecordContext) Transition(v ViewID, l driver.Layout) error {
	img := v.Desc().Image
	trackImage(rc.tr, img)
	return rc.barrier(rc.tr.RequireImage(img.Index(), viewRange(v), defaultState(l)), nil, nil)
}

// Require moves the view that a binds for the instance
// being recorded back to the state a requires.
// It undoes Transition calls made by the pass body.
func (rc *RecordContext) Require(a *Attachment) error {
	if a.IsBuffer() {
		sp := a.span()
		return rc.barrier(nil, rc.tr.RequireBuffer(a.Buffer.Index(), sp, a.bufferState(rc.pipeline())), nil)
	}
	v := a.View(rc.inst)
	q := state.NewRequest()
	if err := addImage(q, v, a.imageState(rc.pipeline())); err != nil {
		return conflictErr(a.pass, v)
	}
	ics, _ := q.Apply(rc.tr)
	return rc.barrier(ics, nil, nil)
}

func (rc *RecordContext) pipeline() PipelineState {
	if rc.st == nil {
		return PipelineState{}
	}
	return rc.st.ps
}

// Scratch returns a byte slice of length n owned by the
// runnable. It is valid until the next call.
func (rc *RecordContext) Scratch(n int) []byte { return rc.r.Scratch(n) }

// Upload copies data into b at offset off.
// The buffer must be host visible.
func (rc *RecordContext) Upload(b BufferID, off int64, data []byte) error {
	buf := rc.r.buffers[b]
	if buf == nil {
		return newErr(UnknownView, rc.loc(), "buffer not used by the graph")
	}
	p := buf.Bytes()
	if p == nil {
		return newErr(IncompatibleAttachment, rc.loc(), "buffer "+b.Desc().Name+" is not host visible")
	}
	if off < 0 || off+int64(len(data)) > int64(len(p)) {
		return newErr(OutOfRange, rc.loc(), fmt.Sprintf("upload [%d, %d) outside buffer %s", off, off+int64(len(data)), b.Desc().Name))
	}
	copy(p[off:], data)
	return nil
}
