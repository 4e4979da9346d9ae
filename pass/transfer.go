// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package pass

import (
	"fmt"

	"github.com/gviegas/framegraph"
	"github.com/gviegas/framegraph/driver"
)

// Clear is a transfer pass runnable that clears every
// view of its Transfer Out attachments.
type Clear struct {
	Base
	p     *framegraph.Pass
	value driver.ClearValue
}

// NewClear returns a factory of Clear runnables.
func NewClear(value driver.ClearValue, opts ...Option) framegraph.Factory {
	return func(p *framegraph.Pass, _ *framegraph.Context) (framegraph.PassRunnable, error) {
		if len(transfers(p, framegraph.Out)) == 0 {
			return nil, attachmentErr(p, "clear pass with no transfer destination")
		}
		return &Clear{Base: newBase(framegraph.TransferWork, opts), p: p, value: value}, nil
	}
}

// Record implements framegraph.PassRunnable.
func (x *Clear) Record(rc *framegraph.RecordContext, cb driver.CmdBuffer, passIndex int) error {
	defer x.advance()
	cb.BeginBlit(false)
	defer cb.EndBlit()
	for _, a := range transfers(x.p, framegraph.Out) {
		d := rc.View(a).Desc()
		cb.ClearImage(&driver.ImageClear{
			Img:    rc.Image(d.Image),
			Layer:  d.Range.BaseLayer,
			Layers: d.Range.Layers,
			Level:  d.Range.BaseLevel,
			Levels: d.Range.Levels,
			Value:  x.value,
		})
	}
	return nil
}

// Blit is a transfer pass runnable that blits its first
// Transfer In view to every Transfer Out view, level by
// level. If copy is set, it copies instead, and also
// copies its first Transfer In buffer range to every
// Transfer Out buffer range.
type Blit struct {
	Base
	p      *framegraph.Pass
	filter driver.Filter
	copy   bool
}

func newBlit(p *framegraph.Pass, filter driver.Filter, cpy bool, opts []Option) (framegraph.PassRunnable, error) {
	var bin, bout int
	for _, a := range p.BufferAttachments() {
		if a.Kind == framegraph.Transfer {
			if a.Dir == framegraph.In {
				bin++
			} else {
				bout++
			}
		}
	}
	imgs := len(transfers(p, framegraph.In)) > 0 && len(transfers(p, framegraph.Out)) > 0
	bufs := cpy && bin > 0 && bout > 0
	if !imgs && !bufs {
		return nil, attachmentErr(p, "transfer pass needs a source and a destination")
	}
	return &Blit{Base: newBase(framegraph.TransferWork, opts), p: p, filter: filter, copy: cpy}, nil
}

// NewBlit returns a factory of Blit runnables.
func NewBlit(filter driver.Filter, opts ...Option) framegraph.Factory {
	return func(p *framegraph.Pass, _ *framegraph.Context) (framegraph.PassRunnable, error) {
		return newBlit(p, filter, false, opts)
	}
}

// NewCopy returns a factory of Blit runnables that copy.
func NewCopy(opts ...Option) framegraph.Factory {
	return func(p *framegraph.Pass, _ *framegraph.Context) (framegraph.PassRunnable, error) {
		return newBlit(p, driver.FNearest, true, opts)
	}
}

// Record implements framegraph.PassRunnable.
func (x *Blit) Record(rc *framegraph.RecordContext, cb driver.CmdBuffer, passIndex int) error {
	defer x.advance()
	h := rc.Handler()
	cb.BeginBlit(false)
	defer cb.EndBlit()
	if ins := transfers(x.p, framegraph.In); len(ins) > 0 {
		src := rc.View(ins[0])
		sd := src.Desc()
		for _, a := range transfers(x.p, framegraph.Out) {
			dst := rc.View(a)
			dd := dst.Desc()
			layers := min(sd.Range.Layers, dd.Range.Layers)
			for l := range min(sd.Range.Levels, dd.Range.Levels) {
				from, to := sd.Range.BaseLevel+l, dd.Range.BaseLevel+l
				fs, ts := levelSize(h, src, l), levelSize(h, dst, l)
				if x.copy {
					cb.CopyImage(&driver.ImageCopy{
						From:      rc.Image(sd.Image),
						FromLayer: sd.Range.BaseLayer,
						FromLevel: from,
						To:        rc.Image(dd.Image),
						ToLayer:   dd.Range.BaseLayer,
						ToLevel:   to,
						Size: driver.Dim3D{
							Width:  min(fs.Width, ts.Width),
							Height: min(fs.Height, ts.Height),
							Depth:  min(fs.Depth, ts.Depth),
						},
						Layers: layers,
					})
					continue
				}
				cb.BlitImage(&driver.ImageBlit{
					From:      rc.Image(sd.Image),
					FromLayer: sd.Range.BaseLayer,
					FromLevel: from,
					FromSize:  fs,
					To:        rc.Image(dd.Image),
					ToLayer:   dd.Range.BaseLayer,
					ToLevel:   to,
					ToSize:    ts,
					Layers:    layers,
					Filter:    x.filter,
				})
			}
		}
	}
	if !x.copy {
		return nil
	}
	var src *framegraph.Attachment
	for _, a := range x.p.BufferAttachments() {
		if a.Kind != framegraph.Transfer {
			continue
		}
		if a.Dir == framegraph.In {
			if src == nil {
				src = a
			}
			continue
		}
		if src == nil {
			return attachmentErr(x.p, "buffer copy destination declared before its source")
		}
		cb.CopyBuffer(&driver.BufferCopy{
			From:    rc.Buffer(src.Buffer),
			FromOff: src.Offset,
			To:      rc.Buffer(a.Buffer),
			ToOff:   a.Offset,
			Size:    min(bufSize(src), bufSize(a)),
		})
	}
	return nil
}

func bufSize(a *framegraph.Attachment) int64 {
	if a.Size == 0 {
		return a.Buffer.Desc().Size - a.Offset
	}
	return a.Size
}

// levelSize returns the size of level l of v, relative
// to its base level.
func levelSize(h *framegraph.Handler, v framegraph.ViewID, l int) driver.Dim3D {
	sz := h.MipExtent(v)
	return driver.Dim3D{
		Width:  max(sz.Width>>l, 1),
		Height: max(sz.Height>>l, 1),
		Depth:  max(sz.Depth>>l, 1),
	}
}

// Mipmap is a transfer pass runnable that fills the mip
// chain of its Transfer InOut view by successive blits
// from the base level. The view ends in the state its
// attachment requires.
type Mipmap struct {
	Base
	a      *framegraph.Attachment
	levels [][]framegraph.ViewID
	filter driver.Filter
}

// NewMipmap returns a factory of Mipmap runnables.
// The pass must have exactly one Transfer InOut
// attachment.
func NewMipmap(filter driver.Filter, opts ...Option) framegraph.Factory {
	return func(p *framegraph.Pass, _ *framegraph.Context) (framegraph.PassRunnable, error) {
		as := transfers(p, framegraph.InOut)
		if len(as) != 1 {
			return nil, attachmentErr(p, fmt.Sprintf("mipmap pass needs one inout transfer attachment, have %d", len(as)))
		}
		a := as[0]
		h := p.Graph().Handler()
		x := &Mipmap{Base: newBase(framegraph.TransferWork, opts), a: a, filter: filter}
		for _, v := range a.Views {
			d := v.Desc()
			lvs := make([]framegraph.ViewID, d.Range.Levels)
			for l := range lvs {
				r := d.Range
				r.BaseLevel += l
				r.Levels = 1
				lv, err := h.InternView(d.Image, framegraph.ViewDesc{Format: d.Format, Range: r})
				if err != nil {
					return nil, err
				}
				lvs[l] = lv
			}
			x.levels = append(x.levels, lvs)
		}
		return x, nil
	}
}

// Record implements framegraph.PassRunnable.
func (x *Mipmap) Record(rc *framegraph.RecordContext, cb driver.CmdBuffer, passIndex int) error {
	defer x.advance()
	lvs := x.levels[passIndex%len(x.levels)]
	h := rc.Handler()
	for l := 1; l < len(lvs); l++ {
		if err := rc.Transition(lvs[l-1], driver.LCopySrc); err != nil {
			return err
		}
		if err := rc.Transition(lvs[l], driver.LCopyDst); err != nil {
			return err
		}
		src, dst := lvs[l-1].Desc(), lvs[l].Desc()
		cb.BeginBlit(false)
		cb.BlitImage(&driver.ImageBlit{
			From:      rc.Image(src.Image),
			FromLayer: src.Range.BaseLayer,
			FromLevel: src.Range.BaseLevel,
			FromSize:  h.MipExtent(lvs[l-1]),
			To:        rc.Image(dst.Image),
			ToLayer:   dst.Range.BaseLayer,
			ToLevel:   dst.Range.BaseLevel,
			ToSize:    h.MipExtent(lvs[l]),
			Layers:    src.Range.Layers,
			Filter:    x.filter,
		})
		cb.EndBlit()
	}
	return rc.Require(x.a)
}
