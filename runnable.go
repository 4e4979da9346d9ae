// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package framegraph

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/multierr"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/internal/signal"
	"github.com/gviegas/framegraph/internal/state"
)

var (
	// ErrStale is returned when recording a runnable
	// that a later compile of its graph replaced.
	ErrStale = errors.New("framegraph: runnable replaced by a later compile")
	// ErrNotRecorded is returned by Run when the next
	// command buffer was not recorded.
	ErrNotRecorded = errors.New("framegraph: Run called without Record")
)

// stepRes holds the backend objects of a step.
type stepRes struct {
	// att and sub describe the render pass of graphics
	// steps that have render targets.
	att     []driver.Attachment
	sub     driver.Subpass
	rp      driver.RenderPass
	fbs     []driver.Framebuf
	extents [][3]int
	clear   []driver.ClearValue
	heap    driver.DescHeap
	table   driver.DescTable
}

// Runnable is a compiled frame graph.
// Record and Run must not be called concurrently.
type Runnable struct {
	g         *FrameGraph
	ctx       *Context
	sched     *Schedule
	steps     []*step
	untouched []Boundary
	initial   *state.Tracker

	res      []stepRes
	images   map[ImageID]driver.Image
	views    map[ViewID]driver.ImageView
	buffers  map[BufferID]driver.Buffer
	samplers map[SamplerID]driver.Sampler
	imgUsage map[ImageID]driver.Usage
	bufUsage map[BufferID]driver.Usage

	cbs       []driver.CmdBuffer
	recorded  []bool
	busy      []*driver.WorkItem
	cur       int
	frame     int
	ch        chan *driver.WorkItem
	failed    error
	scratch   []byte
	stale     bool
	destroyed bool

	// OnRecorded is emitted after every successful
	// Record.
	OnRecorded signal.List[*Runnable]
	// OnCompleted is emitted for every committed work
	// item that completes, successfully or not.
	OnCompleted signal.List[*Runnable]
}

// Graph returns the graph that r was compiled from.
func (r *Runnable) Graph() *FrameGraph { return r.g }

// Schedule returns the compiled schedule.
func (r *Runnable) Schedule() *Schedule { return r.sched }

// Frame returns the number of successful calls to Run.
func (r *Runnable) Frame() int { return r.frame }

// IsStale returns whether a later compile replaced r.
func (r *Runnable) IsStale() bool { return r.stale }

// CmdBuffer returns the command buffer that the next
// Record writes to and the next Run commits.
func (r *Runnable) CmdBuffer() driver.CmdBuffer { return r.cbs[r.cur] }

// Image returns the backend image of img, or nil.
func (r *Runnable) Image(img ImageID) driver.Image { return r.images[img] }

// Buffer returns the backend buffer of b, or nil.
func (r *Runnable) Buffer(b BufferID) driver.Buffer { return r.buffers[b] }

func (r *Runnable) check() {
	if r.destroyed {
		panic("framegraph: use of destroyed Runnable")
	}
}

// layoutUsage returns the usage that an image needs to be
// in layout l.
func layoutUsage(l driver.Layout) driver.Usage {
	switch l {
	case driver.LColorTarget, driver.LDSTarget, driver.LDSRead, driver.LDSMixed:
		return driver.URenderTarget
	case driver.LShaderRead:
		return driver.UShaderSample
	case driver.LCopySrc, driver.LResolveSrc:
		return driver.UCopySrc
	case driver.LCopyDst, driver.LResolveDst:
		return driver.UCopyDst
	case driver.LCommon:
		return driver.UShaderRead | driver.UShaderWrite
	}
	return 0
}

// materialise creates the backend objects of r.
// Usages are inferred from every use of each resource
// before the resource is created.
func (r *Runnable) materialise() error {
	g, cache := r.g, r.g.cache
	r.res = make([]stepRes, len(r.steps))
	r.images = make(map[ImageID]driver.Image)
	r.views = make(map[ViewID]driver.ImageView)
	r.buffers = make(map[BufferID]driver.Buffer)
	r.samplers = make(map[SamplerID]driver.Sampler)
	r.imgUsage = make(map[ImageID]driver.Usage)
	r.bufUsage = make(map[BufferID]driver.Usage)

	var views []ViewID
	useView := func(v ViewID, u driver.Usage) {
		r.imgUsage[v.Desc().Image] |= u
		if _, ok := r.views[v]; !ok {
			r.views[v] = nil
			views = append(views, v)
		}
	}
	for _, st := range r.steps {
		p := st.pass
		for _, a := range p.images {
			for _, v := range a.Views {
				useView(v, a.imageUsage())
			}
		}
		for _, a := range p.buffers {
			r.bufUsage[a.Buffer] |= a.bufferUsage()
		}
		acts := slices.Concat(p.pre, p.post)
		for inst := range p.count {
			acts = append(acts, implicitActions(p, inst)...)
		}
		for i := range acts {
			acts[i].requirements(func(v ViewID, s LayoutState) { useView(v, layoutUsage(s.Layout)) })
		}
	}
	for _, b := range slices.Concat(g.inputs, g.outputs) {
		r.imgUsage[b.View.Desc().Image] |= layoutUsage(b.Layout)
	}
	for _, grp := range g.groups {
		for _, b := range slices.Concat(grp.inputs, grp.outputs) {
			r.imgUsage[b.View.Desc().Image] |= layoutUsage(b.Layout)
		}
	}

	for _, i := range r.initial.Images() {
		img := g.h.image(i)
		x, err := cache.Image(img, r.imgUsage[img])
		if err != nil {
			return err
		}
		r.images[img] = x
	}
	for _, v := range views {
		x, err := cache.View(v, r.imgUsage[v.Desc().Image])
		if err != nil {
			return err
		}
		r.views[v] = x
	}
	for _, i := range r.initial.Buffers() {
		b := g.h.buffer(i)
		var init func(driver.Buffer) error
		if vbo := b.Desc().vbo; vbo.valid() {
			init = func(x driver.Buffer) error { return r.fillVBO(vbo, x) }
		}
		x, err := cache.Buffer(b, r.bufUsage[b], init)
		if err != nil {
			return err
		}
		r.buffers[b] = x
	}
	for _, st := range r.steps {
		for _, a := range st.pass.images {
			if a.Sampler.Valid() {
				if _, ok := r.samplers[a.Sampler]; ok {
					continue
				}
				x, err := cache.Sampler(a.Sampler)
				if err != nil {
					return err
				}
				r.samplers[a.Sampler] = x
			}
		}
	}

	for k, st := range r.steps {
		if err := r.renderPass(&r.res[k], st); err != nil {
			return err
		}
		if err := r.descriptors(&r.res[k], st); err != nil {
			return err
		}
	}

	n := r.ctx.cfg.CmdBuffers
	r.cbs = make([]driver.CmdBuffer, 0, n)
	for range n {
		cb, err := r.ctx.gpu.NewCmdBuffer()
		if err != nil {
			return backendErr(err, g.name, "NewCmdBuffer")
		}
		r.cbs = append(r.cbs, cb)
	}
	r.recorded = make([]bool, n)
	r.busy = make([]*driver.WorkItem, n)
	r.ch = make(chan *driver.WorkItem, n)
	return nil
}

// renderPass creates the render pass and framebuffers of
// a graphics step. Color targets come first, in
// attachment order, followed by a single depth/stencil
// target that merges every depth/stencil attachment.
func (r *Runnable) renderPass(res *stepRes, st *step) error {
	if st.ps.Kind != Graphics {
		return nil
	}
	p := st.pass
	var colors, dss []*Attachment
	for _, a := range p.images {
		switch {
		case a.Kind == Color && a.Dir.Writes():
			colors = append(colors, a)
		case a.Kind.isDS():
			dss = append(dss, a)
		}
	}
	if len(colors)+len(dss) == 0 {
		return nil
	}
	for i, a := range colors {
		v := a.Views[0].Desc()
		load, store := a.ops()
		res.att = append(res.att, driver.Attachment{
			Format:  v.Format,
			Samples: v.Image.Desc().Samples,
			Load:    load,
			Store:   store,
		})
		res.sub.Color = append(res.sub.Color, i)
		var cv driver.ClearValue
		if a.Clear != nil {
			cv = *a.Clear
		}
		res.clear = append(res.clear, cv)
	}
	res.sub.DS = -1
	if len(dss) > 0 {
		img := dss[0].Views[0].Desc().Image.Desc()
		att := driver.Attachment{Format: img.Format, Samples: img.Samples}
		att.Load, att.Store = dss[0].ops()
		var cv *driver.ClearValue
		var depth, stencil bool
		for _, a := range dss {
			load, store := a.ops()
			if a.Kind != Stencil && !depth {
				att.Load[0], att.Store[0] = load[0], store[0]
				depth = true
			}
			if a.Kind != Depth && !stencil {
				att.Load[1], att.Store[1] = load[1], store[1]
				stencil = true
			}
			if cv == nil {
				cv = a.Clear
			}
		}
		if cv == nil {
			cv = new(driver.ClearValue)
		}
		res.sub.DS = len(res.att)
		res.att = append(res.att, att)
		res.clear = append(res.clear, *cv)
	}

	cache := r.g.cache
	rp, err := cache.RenderPass(res.att, res.sub)
	if err != nil {
		return err
	}
	res.rp = rp
	for inst := range p.count {
		ids := make([]ViewID, 0, len(res.att))
		for _, a := range colors {
			ids = append(ids, a.View(inst))
		}
		if len(dss) > 0 {
			v := dss[0].View(inst)
			if len(dss) > 1 {
				vs := make([]ViewID, len(dss))
				for i, a := range dss {
					vs[i] = a.View(inst)
				}
				if v, err = r.g.h.MergeViews(vs...); err != nil {
					return err
				}
			}
			ids = append(ids, v)
		}
		ivs := make([]driver.ImageView, len(ids))
		for i, v := range ids {
			x, err := cache.View(v, r.imgUsage[v.Desc().Image])
			if err != nil {
				return err
			}
			r.views[v] = x
			ivs[i] = x
		}
		ext := r.g.h.MipExtent(ids[0])
		layers := ids[0].Desc().Range.Layers
		fb, err := cache.Framebuf(res.att, res.sub, ids, ivs, ext.Width, ext.Height, layers)
		if err != nil {
			return err
		}
		res.fbs = append(res.fbs, fb)
		res.extents = append(res.extents, [3]int{ext.Width, ext.Height, layers})
	}
	return nil
}

// descType returns the descriptor type of an attachment
// bound at a descriptor number.
func descType(a *Attachment) (driver.DescType, bool) {
	switch a.Kind {
	case Sampled, InputAttachment, Color, Depth, Stencil, DepthStencil:
		return driver.DTexture, !a.IsBuffer() && a.Dir == In
	case Storage:
		if a.IsBuffer() {
			return driver.DBuffer, true
		}
		return driver.DImage, true
	case Uniform:
		return driver.DConstant, true
	}
	return 0, false
}

// descriptors creates the descriptor heap and table of a
// step. The heap has one copy per pass instance.
func (r *Runnable) descriptors(res *stepRes, st *step) error {
	p := st.pass
	stages := driver.SVertex | driver.SFragment
	if st.ps.Kind == Compute {
		stages = driver.SCompute
	}
	type bind struct {
		a       *Attachment
		nr      int
		sampler bool
	}
	var ds []driver.Descriptor
	var bs []bind
	seen := make(map[int]bool)
	add := func(a *Attachment, nr int, typ driver.DescType, sampler bool) error {
		if seen[nr] {
			return newErr(IncompatibleAttachment, p.name, fmt.Sprintf("descriptor %d bound twice", nr))
		}
		seen[nr] = true
		ds = append(ds, driver.Descriptor{Type: typ, Stages: stages, Nr: nr, Len: 1})
		bs = append(bs, bind{a, nr, sampler})
		return nil
	}
	for _, a := range slices.Concat(p.images, p.buffers) {
		if a.Binding >= 0 {
			typ, ok := descType(a)
			if !ok {
				return newErr(IncompatibleAttachment, p.name, fmt.Sprintf("%v attachment cannot be bound to a descriptor", a.Class))
			}
			if err := add(a, a.Binding, typ, false); err != nil {
				return err
			}
		}
		if a.SamplerBinding >= 0 && a.Sampler.Valid() {
			if err := add(a, a.SamplerBinding, driver.DSampler, true); err != nil {
				return err
			}
		}
	}
	if len(ds) == 0 {
		return nil
	}
	heap, err := r.g.cache.DescHeap(p.name, ds)
	if err != nil {
		return err
	}
	if err := heap.New(p.count); err != nil {
		return backendErr(err, p.name, "DescHeap.New")
	}
	for inst := range p.count {
		for _, b := range bs {
			a := b.a
			switch {
			case b.sampler:
				heap.SetSampler(inst, b.nr, 0, []driver.Sampler{r.samplers[a.Sampler]})
			case a.IsBuffer():
				sp := a.span()
				heap.SetBuffer(inst, b.nr, 0, []driver.Buffer{r.buffers[a.Buffer]}, []int64{sp.Start}, []int64{sp.End - sp.Start})
			default:
				heap.SetImage(inst, b.nr, 0, []driver.ImageView{r.views[a.View(inst)]})
			}
		}
	}
	table, err := r.g.cache.DescTable(p.name, []driver.DescHeap{heap})
	if err != nil {
		return err
	}
	res.heap, res.table = heap, table
	return nil
}

// Record records every pass into the next command
// buffer. Recording starts from the states computed at
// compile time and recomputes the transitions of each
// pass from the instance it records and whether it is
// enabled. On failure, the command buffer is reset and
// a later Record starts over.
func (r *Runnable) Record() error {
	r.check()
	if r.stale {
		return ErrStale
	}
	i := r.cur
	r.waitSlot(i)
	cb := r.cbs[i]
	r.recorded[i] = false
	if err := cb.Reset(); err != nil {
		return backendErr(err, r.g.name, "Reset")
	}
	if err := cb.Begin(); err != nil {
		return backendErr(err, r.g.name, "Begin")
	}
	rc := &RecordContext{r: r, cb: cb, tr: r.initial.Clone()}
	if err := r.record(rc); err != nil {
		cb.Reset()
		Logger().Warn("framegraph: record failed", "graph", r.g.name, "err", err)
		return err
	}
	if err := cb.End(); err != nil {
		cb.Reset()
		return backendErr(err, r.g.name, "End")
	}
	r.recorded[i] = true
	r.OnRecorded.Emit(r)
	return nil
}

func (r *Runnable) record(rc *RecordContext) error {
	cfg := &r.ctx.cfg
	for k, st := range r.steps {
		n := st.pass.count
		rc.st, rc.res = st, &r.res[k]
		rc.inst = ((st.pr.PassIndex() % n) + n) % n
		enabled := st.pass.IsEnabled() && st.pr.IsEnabled()
		if cfg.DebugLabels {
			rc.cb.BeginLabel(st.pass.name)
		}
		if err := runStep(rc.tr, st, rc.inst, enabled, cfg.MixedDepthStencil, rc); err != nil {
			return err
		}
		if cfg.DebugLabels {
			rc.cb.EndLabel()
		}
	}
	rc.st, rc.res, rc.inst = nil, nil, 0
	return rc.barrier(epilogue(rc.tr, r.untouched), nil, nil)
}

// Run commits the last recorded command buffer.
// The work waits on the latest work of every graph that
// g depends on and signals the graphs that depend on g.
func (r *Runnable) Run() error {
	r.check()
	i := r.cur
	if !r.recorded[i] {
		return ErrNotRecorded
	}
	wk := &driver.WorkItem{Work: []driver.CmdBuffer{r.cbs[i]}, Custom: i}
	var waits, signals []*semLink
	for _, d := range r.g.deps {
		if l := r.ctx.links[link{d, r.g}]; l != nil && l.pending {
			wk.Wait = append(wk.Wait, l.sem)
			waits = append(waits, l)
		}
	}
	outs := make([]link, 0, len(r.ctx.links))
	for k, l := range r.ctx.links {
		if k.from == r.g && !l.pending {
			outs = append(outs, k)
		}
	}
	slices.SortFunc(outs, func(a, b link) int { return cmp.Compare(a.to.name, b.to.name) })
	for _, k := range outs {
		l := r.ctx.links[k]
		wk.Signal = append(wk.Signal, l.sem)
		signals = append(signals, l)
	}
	if err := r.ctx.gpu.Commit(wk, r.ch); err != nil {
		return backendErr(err, r.g.name, "Commit")
	}
	for _, l := range waits {
		l.pending = false
	}
	for _, l := range signals {
		l.pending = true
	}
	r.busy[i] = wk
	r.recorded[i] = false
	r.cur = (i + 1) % len(r.cbs)
	r.frame++
	Logger().Debug("framegraph: committed", "graph", r.g.name, "frame", r.frame, "waits", len(waits), "signals", len(signals))
	return nil
}

// complete handles a work item that the GPU finished.
func (r *Runnable) complete(wk *driver.WorkItem) {
	r.busy[wk.Custom.(int)] = nil
	if wk.Err != nil {
		r.failed = multierr.Append(r.failed, backendErr(wk.Err, r.g.name, "Execute"))
	}
	r.OnCompleted.Emit(r)
}

// waitSlot blocks until the work committed from command
// buffer i completes.
func (r *Runnable) waitSlot(i int) {
	for r.busy[i] != nil {
		r.complete(<-r.ch)
	}
}

// drain blocks until every committed work completes.
func (r *Runnable) drain() {
	for i := range r.busy {
		r.waitSlot(i)
	}
}

// Wait blocks until every committed work completes or
// deadline passes. A zero deadline means the configured
// FenceTimeout from now.
// Failures of completed work are returned once. Timing
// out returns a TimedOut error and leaves r usable.
func (r *Runnable) Wait(deadline time.Time) error {
	r.check()
	if deadline.IsZero() {
		deadline = time.Now().Add(time.Duration(r.ctx.cfg.FenceTimeout))
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	for slices.ContainsFunc(r.busy, func(wk *driver.WorkItem) bool { return wk != nil }) {
		select {
		case wk := <-r.ch:
			r.complete(wk)
		case <-timer.C:
			Logger().Warn("framegraph: wait timed out", "graph", r.g.name, "frame", r.frame)
			return newErr(TimedOut, r.g.name, "work still pending")
		}
	}
	err := r.failed
	r.failed = nil
	return err
}

// retire makes r stale once a later compile replaced it.
func (r *Runnable) retire() {
	r.drain()
	r.release()
	r.stale = true
	Logger().Info("framegraph: runnable retired", "graph", r.g.name, "frames", r.frame)
}

// release destroys the command buffers of r and the pass
// runnables that implement driver.Destroyer.
// Backend resources belong to the graph's cache.
func (r *Runnable) release() {
	for _, cb := range r.cbs {
		cb.Destroy()
	}
	r.cbs = nil
	for _, st := range r.steps {
		if d, ok := st.pr.(driver.Destroyer); ok {
			d.Destroy()
		}
	}
}

// Destroy waits for committed work and destroys the
// command buffers of r. It must not be used afterwards.
func (r *Runnable) Destroy() {
	if r.destroyed {
		return
	}
	if !r.stale {
		r.drain()
		r.release()
	}
	if r.ctx.runnables[r.g] == r {
		delete(r.ctx.runnables, r.g)
	}
	r.destroyed = true
	r.OnRecorded.Reset()
	r.OnCompleted.Reset()
	Logger().Info("framegraph: runnable destroyed", "graph", r.g.name)
}

// Scratch returns a byte slice of length n that is valid
// until the next call.
func (r *Runnable) Scratch(n int) []byte {
	if cap(r.scratch) < n {
		r.scratch = make([]byte, n)
	}
	r.scratch = r.scratch[:n]
	clear(r.scratch)
	return r.scratch
}
