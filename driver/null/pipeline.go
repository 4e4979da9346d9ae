// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package null

import (
	"errors"

	"github.com/gviegas/framegraph/driver"
)

// RenderPass implements driver.RenderPass.
type RenderPass struct {
	d   *Driver
	id  int
	att []driver.Attachment
	sub []driver.Subpass
}

// NewRenderPass implements driver.GPU.
func (d *Driver) NewRenderPass(att []driver.Attachment, sub []driver.Subpass) (driver.RenderPass, error) {
	if len(sub) == 0 {
		return nil, errors.New("null: render pass with no subpasses")
	}
	for _, s := range sub {
		for _, i := range s.Color {
			if i < 0 || i >= len(att) {
				return nil, errors.New("null: color attachment index out of bounds")
			}
		}
		if s.DS >= len(att) {
			return nil, errors.New("null: depth/stencil attachment index out of bounds")
		}
	}
	id, err := d.check("NewRenderPass", &d.stats.RenderPasses)
	if err != nil {
		return nil, err
	}
	return &RenderPass{
		d:   d,
		id:  id,
		att: append([]driver.Attachment(nil), att...),
		sub: append([]driver.Subpass(nil), sub...),
	}, nil
}

// Attachments returns the attachments p was created with.
func (p *RenderPass) Attachments() []driver.Attachment { return p.att }

// NewFB implements driver.RenderPass.
func (p *RenderPass) NewFB(iv []driver.ImageView, width, height, layers int) (driver.Framebuf, error) {
	if len(iv) != len(p.att) {
		return nil, errors.New("null: framebuffer/render pass attachment count mismatch")
	}
	for i, v := range iv {
		if v.(*ImageView).img.pf != p.att[i].Format {
			return nil, errors.New("null: framebuffer view format mismatch")
		}
	}
	id, err := p.d.check("NewFB", &p.d.stats.Framebufs)
	if err != nil {
		return nil, err
	}
	return &Framebuf{
		id:     id,
		pass:   p,
		views:  append([]driver.ImageView(nil), iv...),
		width:  width,
		height: height,
		layers: layers,
	}, nil
}

// Destroy implements driver.Destroyer.
func (p *RenderPass) Destroy() { p.d.destroyed() }

// Framebuf implements driver.Framebuf.
type Framebuf struct {
	id     int
	pass   *RenderPass
	views  []driver.ImageView
	width  int
	height int
	layers int
}

// Views returns the views fb was created with.
func (fb *Framebuf) Views() []driver.ImageView { return fb.views }

// Destroy implements driver.Destroyer.
func (fb *Framebuf) Destroy() { fb.pass.d.destroyed() }

// ShaderCode implements driver.ShaderCode.
type ShaderCode struct {
	d    *Driver
	id   int
	size int
}

// NewShaderCode implements driver.GPU.
// The data is not interpreted.
func (d *Driver) NewShaderCode(data []byte) (driver.ShaderCode, error) {
	id, err := d.check("NewShaderCode", nil)
	if err != nil {
		return nil, err
	}
	return &ShaderCode{d: d, id: id, size: len(data)}, nil
}

// Destroy implements driver.Destroyer.
func (c *ShaderCode) Destroy() { c.d.destroyed() }

// DescHeap implements driver.DescHeap.
type DescHeap struct {
	d     *Driver
	id    int
	ds    []driver.Descriptor
	n     int
	bound map[[2]int][]any
}

// NewDescHeap implements driver.GPU.
func (d *Driver) NewDescHeap(ds []driver.Descriptor) (driver.DescHeap, error) {
	id, err := d.check("NewDescHeap", &d.stats.DescHeaps)
	if err != nil {
		return nil, err
	}
	return &DescHeap{
		d:     d,
		id:    id,
		ds:    append([]driver.Descriptor(nil), ds...),
		bound: make(map[[2]int][]any),
	}, nil
}

// New implements driver.DescHeap.
func (h *DescHeap) New(n int) error {
	if n < 0 {
		return errors.New("null: negative heap count")
	}
	h.n = n
	clear(h.bound)
	return nil
}

// Count implements driver.DescHeap.
func (h *DescHeap) Count() int { return h.n }

// Bound returns what was last set for descriptor nr of
// heap copy cpy.
func (h *DescHeap) Bound(cpy, nr int) []any { return h.bound[[2]int{cpy, nr}] }

func (h *DescHeap) set(cpy, nr, start int, x []any) {
	if cpy < 0 || cpy >= h.n {
		return
	}
	k := [2]int{cpy, nr}
	s := h.bound[k]
	if n := start + len(x); n > len(s) {
		s = append(s, make([]any, n-len(s))...)
	}
	copy(s[start:], x)
	h.bound[k] = s
}

// SetBuffer implements driver.DescHeap.
func (h *DescHeap) SetBuffer(cpy, nr, start int, buf []driver.Buffer, off, size []int64) {
	x := make([]any, len(buf))
	for i := range buf {
		x[i] = buf[i]
	}
	h.set(cpy, nr, start, x)
}

// SetImage implements driver.DescHeap.
func (h *DescHeap) SetImage(cpy, nr, start int, iv []driver.ImageView) {
	x := make([]any, len(iv))
	for i := range iv {
		x[i] = iv[i]
	}
	h.set(cpy, nr, start, x)
}

// SetSampler implements driver.DescHeap.
func (h *DescHeap) SetSampler(cpy, nr, start int, splr []driver.Sampler) {
	x := make([]any, len(splr))
	for i := range splr {
		x[i] = splr[i]
	}
	h.set(cpy, nr, start, x)
}

// Destroy implements driver.Destroyer.
func (h *DescHeap) Destroy() { h.d.destroyed() }

// DescTable implements driver.DescTable.
type DescTable struct {
	d     *Driver
	id    int
	heaps []driver.DescHeap
}

// NewDescTable implements driver.GPU.
func (d *Driver) NewDescTable(dh []driver.DescHeap) (driver.DescTable, error) {
	id, err := d.check("NewDescTable", &d.stats.DescTables)
	if err != nil {
		return nil, err
	}
	return &DescTable{d: d, id: id, heaps: append([]driver.DescHeap(nil), dh...)}, nil
}

// Destroy implements driver.Destroyer.
func (t *DescTable) Destroy() { t.d.destroyed() }

// Pipeline implements driver.Pipeline.
type Pipeline struct {
	d       *Driver
	id      int
	compute bool
}

// NewPipeline implements driver.GPU.
func (d *Driver) NewPipeline(state any) (driver.Pipeline, error) {
	var compute bool
	switch s := state.(type) {
	case *driver.GraphState:
		if s.Pass == nil {
			return nil, errors.New("null: graphics pipeline with no render pass")
		}
	case *driver.CompState:
		compute = true
	default:
		return nil, errors.New("null: invalid pipeline state")
	}
	id, err := d.check("NewPipeline", &d.stats.Pipelines)
	if err != nil {
		return nil, err
	}
	return &Pipeline{d: d, id: id, compute: compute}, nil
}

// Destroy implements driver.Destroyer.
func (p *Pipeline) Destroy() { p.d.destroyed() }
