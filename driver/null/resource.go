// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package null

import (
	"errors"
	"fmt"

	"github.com/gviegas/framegraph/driver"
)

// Buffer implements driver.Buffer.
type Buffer struct {
	d       *Driver
	id      int
	visible bool
	usg     driver.Usage
	data    []byte
	size    int64
}

// NewBuffer implements driver.GPU.
func (d *Driver) NewBuffer(size int64, visible bool, usg driver.Usage) (driver.Buffer, error) {
	if size <= 0 {
		return nil, errors.New("null: invalid buffer size")
	}
	id, err := d.check("NewBuffer", &d.stats.Buffers)
	if err != nil {
		return nil, err
	}
	b := &Buffer{d: d, id: id, visible: visible, usg: usg, size: size}
	if visible {
		b.data = make([]byte, size)
	}
	return b, nil
}

// ID returns the object identifier of b.
func (b *Buffer) ID() int { return b.id }

// Usage returns the usage b was created with.
func (b *Buffer) Usage() driver.Usage { return b.usg }

// Visible implements driver.Buffer.
func (b *Buffer) Visible() bool { return b.visible }

// Bytes implements driver.Buffer.
func (b *Buffer) Bytes() []byte { return b.data }

// Cap implements driver.Buffer.
func (b *Buffer) Cap() int64 { return b.size }

// Destroy implements driver.Destroyer.
func (b *Buffer) Destroy() {
	b.data = nil
	b.d.destroyed()
}

// Image implements driver.Image.
type Image struct {
	d       *Driver
	id      int
	pf      driver.PixelFmt
	size    driver.Dim3D
	layers  int
	levels  int
	samples int
	usg     driver.Usage
}

// NewImage implements driver.GPU.
func (d *Driver) NewImage(pf driver.PixelFmt, size driver.Dim3D, layers, levels, samples int, usg driver.Usage) (driver.Image, error) {
	switch {
	case pf.IsInternal() || pf.Size() == 0:
		return nil, fmt.Errorf("null: invalid image format %v", pf)
	case size.Width < 1 || size.Height < 1 || size.Depth < 1:
		return nil, errors.New("null: invalid image size")
	case layers < 1 || levels < 1 || samples < 1:
		return nil, errors.New("null: invalid image layers, levels or samples")
	}
	id, err := d.check("NewImage", &d.stats.Images)
	if err != nil {
		return nil, err
	}
	return &Image{
		d:       d,
		id:      id,
		pf:      pf,
		size:    size,
		layers:  layers,
		levels:  levels,
		samples: samples,
		usg:     usg,
	}, nil
}

// ID returns the object identifier of img.
func (img *Image) ID() int { return img.id }

// Format returns the pixel format of img.
func (img *Image) Format() driver.PixelFmt { return img.pf }

// Layers returns the number of layers of img.
func (img *Image) Layers() int { return img.layers }

// Levels returns the number of mip levels of img.
func (img *Image) Levels() int { return img.levels }

// Usage returns the usage img was created with.
func (img *Image) Usage() driver.Usage { return img.usg }

// NewView implements driver.Image.
func (img *Image) NewView(typ driver.ViewType, layer, layers, level, levels int) (driver.ImageView, error) {
	if layer < 0 || layers < 1 || layer+layers > img.layers ||
		level < 0 || levels < 1 || level+levels > img.levels {
		return nil, errors.New("null: view range out of bounds")
	}
	id, err := img.d.check("NewView", &img.d.stats.Views)
	if err != nil {
		return nil, err
	}
	return &ImageView{
		id:     id,
		img:    img,
		typ:    typ,
		layer:  layer,
		layers: layers,
		level:  level,
		levels: levels,
	}, nil
}

// Destroy implements driver.Destroyer.
func (img *Image) Destroy() { img.d.destroyed() }

// ImageView implements driver.ImageView.
type ImageView struct {
	id     int
	img    *Image
	typ    driver.ViewType
	layer  int
	layers int
	level  int
	levels int
}

// ID returns the object identifier of v.
func (v *ImageView) ID() int { return v.id }

// Image implements driver.ImageView.
func (v *ImageView) Image() driver.Image { return v.img }

// Range returns the subresource range of v.
func (v *ImageView) Range() (layer, layers, level, levels int) {
	return v.layer, v.layers, v.level, v.levels
}

// Destroy implements driver.Destroyer.
func (v *ImageView) Destroy() { v.img.d.destroyed() }

// Sampler implements driver.Sampler.
type Sampler struct {
	d    *Driver
	id   int
	spln driver.Sampling
}

// NewSampler implements driver.GPU.
func (d *Driver) NewSampler(spln *driver.Sampling) (driver.Sampler, error) {
	id, err := d.check("NewSampler", &d.stats.Samplers)
	if err != nil {
		return nil, err
	}
	return &Sampler{d: d, id: id, spln: *spln}, nil
}

// Sampling returns the state s was created with.
func (s *Sampler) Sampling() driver.Sampling { return s.spln }

// Destroy implements driver.Destroyer.
func (s *Sampler) Destroy() { s.d.destroyed() }
