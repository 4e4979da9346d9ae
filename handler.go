// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package framegraph

import (
	"fmt"
	"math/bits"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/internal/state"
)

// ID identifies an interned descriptor of type T.
// Two IDs obtained from the same Handler compare equal
// if and only if they denote the same descriptor.
// The zero value is not a valid ID.
type ID[T any] struct {
	id   uint32
	data *T
}

// Index returns the dense index of x within its kind.
func (x ID[T]) Index() uint32 { return x.id }

// Valid returns whether x was obtained from a Handler.
func (x ID[T]) Valid() bool { return x.data != nil }

// Desc returns the descriptor denoted by x.
// It must not be called on an invalid ID.
func (x ID[T]) Desc() T { return *x.data }

// Identifiers of each kind of resource.
type (
	ImageID      = ID[ImageDesc]
	ViewID       = ID[ViewDesc]
	BufferID     = ID[BufferDesc]
	BufferViewID = ID[BufferViewDesc]
	SamplerID    = ID[SamplerDesc]
)

// ImageType is the dimensionality of an image.
type ImageType int

// Image types.
const (
	Image2D ImageType = iota
	Image1D
	Image3D
)

// Tiling is the arrangement of image texels in memory.
type Tiling int

// Tilings.
const (
	TilingOptimal Tiling = iota
	TilingLinear
)

// ImageFlags are image creation flags.
type ImageFlags int

// Image creation flags.
const (
	FlagCubeCompatible ImageFlags = 1 << iota
	FlagMutableFormat
)

// MemoryProps describes where an image is allocated.
type MemoryProps int

// Memory properties.
const (
	MemDeviceLocal MemoryProps = iota
	MemHostVisible
	MemLazilyAllocated
)

// ImageDesc describes an image.
// Name takes part in equality, so images with the same
// properties but different names are distinct.
type ImageDesc struct {
	Name    string
	Format  driver.PixelFmt
	Type    ImageType
	Size    driver.Dim3D
	Levels  int
	Layers  int
	Samples int
	Tiling  Tiling
	Flags   ImageFlags
	// Usage is combined with the usage inferred from
	// the attachments that refer to the image.
	Usage  driver.Usage
	Memory MemoryProps
}

// Aspect is a mask of image aspects.
type Aspect int

// Image aspects.
const (
	AspectColor Aspect = 1 << iota
	AspectDepth
	AspectStencil
)

// AspectOf returns the aspects of a pixel format.
func AspectOf(f driver.PixelFmt) Aspect {
	var a Aspect
	if f.IsColor() {
		a |= AspectColor
	}
	if f.IsDepth() {
		a |= AspectDepth
	}
	if f.IsStencil() {
		a |= AspectStencil
	}
	return a
}

// SubresourceRange is a range of image subresources.
type SubresourceRange struct {
	Aspect    Aspect
	BaseLevel int
	Levels    int
	BaseLayer int
	Layers    int
}

// Overlaps returns whether r and s share a subresource.
// Aspects are not considered.
func (r SubresourceRange) Overlaps(s SubresourceRange) bool {
	return r.BaseLevel < s.BaseLevel+s.Levels && s.BaseLevel < r.BaseLevel+r.Levels &&
		r.BaseLayer < s.BaseLayer+s.Layers && s.BaseLayer < r.BaseLayer+r.Layers
}

// ViewType is the type of an image view.
type ViewType int

// View types.
// ViewAuto selects a type from the image and range.
const (
	ViewAuto ViewType = iota
	View1D
	View2D
	View3D
	ViewCube
	View1DArray
	View2DArray
	ViewCubeArray
	View2DMS
	View2DMSArray
)

func (t ViewType) driverType() driver.ViewType {
	return [...]driver.ViewType{
		View1D:        driver.IView1D,
		View2D:        driver.IView2D,
		View3D:        driver.IView3D,
		ViewCube:      driver.IViewCube,
		View1DArray:   driver.IView1DArray,
		View2DArray:   driver.IView2DArray,
		ViewCubeArray: driver.IViewCubeArray,
		View2DMS:      driver.IView2DMS,
		View2DMSArray: driver.IView2DMSArray,
	}[t]
}

// ViewDesc describes an image view.
// When interning, a zero Format means the image's format,
// zero Levels or Layers mean all remaining levels or
// layers and a zero Aspect means every aspect of the
// format.
type ViewDesc struct {
	Image  ImageID
	Type   ViewType
	Format driver.PixelFmt
	Range  SubresourceRange
}

// BufferDesc describes a buffer.
type BufferDesc struct {
	Name    string
	Size    int64
	Visible bool
	// Handle is an optional driver buffer to use instead
	// of allocating a new one.
	Handle driver.Buffer
	vbo    vboSpec
}

// BufferViewDesc describes a formatted range of a buffer.
// A zero Size means the rest of the buffer.
type BufferViewDesc struct {
	Buffer BufferID
	Format driver.PixelFmt
	Offset int64
	Size   int64
}

// SamplerDesc describes a sampler.
type SamplerDesc = driver.Sampling

// table interns descriptors of one kind.
type table[T comparable] struct {
	index map[T]uint32
	descs []*T
}

func (t *table[T]) intern(d T) ID[T] {
	if t.index == nil {
		t.index = make(map[T]uint32)
	}
	if i, ok := t.index[d]; ok {
		return ID[T]{i, t.descs[i]}
	}
	i := uint32(len(t.descs))
	p := new(T)
	*p = d
	t.descs = append(t.descs, p)
	t.index[d] = i
	return ID[T]{i, p}
}

func (t *table[T]) owns(x ID[T]) bool {
	return x.data != nil && int(x.id) < len(t.descs) && t.descs[x.id] == x.data
}

func (t *table[T]) len() int { return len(t.descs) }

// Handler interns resource descriptors.
// Resources interned by a Handler live as long as it.
// A Handler may be shared by several frame graphs, but
// calls that intern must be serialized by the caller.
type Handler struct {
	images   table[ImageDesc]
	views    table[ViewDesc]
	buffers  table[BufferDesc]
	bviews   table[BufferViewDesc]
	samplers table[SamplerDesc]
}

// NewHandler creates an empty Handler.
func NewHandler() *Handler { return &Handler{} }

// InternImage interns an image descriptor.
// Zero Levels, Layers and Samples are taken to be 1, as
// are zero Height and Depth.
func (h *Handler) InternImage(d ImageDesc) (ImageID, error) {
	d.Levels = max(d.Levels, 1)
	d.Layers = max(d.Layers, 1)
	d.Samples = max(d.Samples, 1)
	d.Size.Height = max(d.Size.Height, 1)
	d.Size.Depth = max(d.Size.Depth, 1)
	loc := "image " + d.Name
	switch {
	case d.Format == driver.FInvalid || d.Format.IsInternal() || d.Format.Size() == 0:
		return ImageID{}, newErr(OutOfRange, loc, fmt.Sprintf("invalid format %v", d.Format))
	case d.Size.Width < 1:
		return ImageID{}, newErr(OutOfRange, loc, "width must be positive")
	case d.Type == Image1D && (d.Size.Height > 1 || d.Size.Depth > 1):
		return ImageID{}, newErr(OutOfRange, loc, "1D image with height or depth")
	case d.Type == Image2D && d.Size.Depth > 1:
		return ImageID{}, newErr(OutOfRange, loc, "2D image with depth")
	case d.Type == Image3D && d.Layers > 1:
		return ImageID{}, newErr(OutOfRange, loc, "3D image with layers")
	case d.Samples > 1 && d.Levels > 1:
		return ImageID{}, newErr(OutOfRange, loc, "multisample image with mip levels")
	}
	n := max(d.Size.Width, d.Size.Height, d.Size.Depth)
	if maxLevels := bits.Len(uint(n)); d.Levels > maxLevels {
		return ImageID{}, newErr(OutOfRange, loc, fmt.Sprintf("%d levels exceed the mip chain of %d", d.Levels, maxLevels))
	}
	return h.images.intern(d), nil
}

// InternView interns a view of img.
// The Image field of d is ignored.
func (h *Handler) InternView(img ImageID, d ViewDesc) (ViewID, error) {
	if !h.images.owns(img) {
		return ViewID{}, newErr(UnknownView, "", "image not interned by this handler")
	}
	id := img.Desc()
	loc := "view of image " + id.Name
	d.Image = img
	if d.Format == driver.FInvalid {
		d.Format = id.Format
	}
	r := &d.Range
	if r.Levels == 0 {
		r.Levels = id.Levels - r.BaseLevel
	}
	if r.Layers == 0 {
		r.Layers = id.Layers - r.BaseLayer
	}
	all := AspectOf(d.Format)
	if r.Aspect == 0 {
		r.Aspect = all
	}
	switch {
	case r.Aspect&^all != 0:
		return ViewID{}, newErr(OutOfRange, loc, "aspect not present in format")
	case r.BaseLevel < 0 || r.Levels < 1 || r.BaseLevel+r.Levels > id.Levels:
		return ViewID{}, newErr(OutOfRange, loc, fmt.Sprintf("levels [%d, %d) outside [0, %d)", r.BaseLevel, r.BaseLevel+r.Levels, id.Levels))
	case r.BaseLayer < 0 || r.Layers < 1 || r.BaseLayer+r.Layers > id.Layers:
		return ViewID{}, newErr(OutOfRange, loc, fmt.Sprintf("layers [%d, %d) outside [0, %d)", r.BaseLayer, r.BaseLayer+r.Layers, id.Layers))
	case AspectOf(d.Format)&AspectColor != AspectOf(id.Format)&AspectColor:
		return ViewID{}, newErr(IncompatibleAttachment, loc, fmt.Sprintf("format %v incompatible with %v", d.Format, id.Format))
	}
	if d.Type == ViewAuto {
		d.Type = autoViewType(id, r.Layers)
	}
	return h.views.intern(d), nil
}

func autoViewType(d ImageDesc, layers int) ViewType {
	switch {
	case d.Type == Image1D && layers > 1:
		return View1DArray
	case d.Type == Image1D:
		return View1D
	case d.Type == Image3D:
		return View3D
	case d.Samples > 1 && layers > 1:
		return View2DMSArray
	case d.Samples > 1:
		return View2DMS
	case d.Flags&FlagCubeCompatible != 0 && layers == 6:
		return ViewCube
	case d.Flags&FlagCubeCompatible != 0 && layers%6 == 0:
		return ViewCubeArray
	case layers > 1:
		return View2DArray
	}
	return View2D
}

// InternBuffer interns a buffer descriptor.
func (h *Handler) InternBuffer(d BufferDesc) (BufferID, error) {
	if d.Handle != nil {
		if d.Size == 0 {
			d.Size = d.Handle.Cap()
		}
		if d.Size > d.Handle.Cap() {
			return BufferID{}, newErr(OutOfRange, "buffer "+d.Name, "size exceeds the external buffer")
		}
	}
	if d.Size < 1 {
		return BufferID{}, newErr(OutOfRange, "buffer "+d.Name, "size must be positive")
	}
	return h.buffers.intern(d), nil
}

// InternBufferView interns a view of buf.
// The Buffer field of d is ignored.
func (h *Handler) InternBufferView(buf BufferID, d BufferViewDesc) (BufferViewID, error) {
	if !h.buffers.owns(buf) {
		return BufferViewID{}, newErr(UnknownView, "", "buffer not interned by this handler")
	}
	bd := buf.Desc()
	d.Buffer = buf
	if d.Size == 0 {
		d.Size = bd.Size - d.Offset
	}
	if d.Offset < 0 || d.Size < 1 || d.Offset+d.Size > bd.Size {
		return BufferViewID{}, newErr(OutOfRange, "buffer "+bd.Name, fmt.Sprintf("view [%d, %d) outside [0, %d)", d.Offset, d.Offset+d.Size, bd.Size))
	}
	return h.bviews.intern(d), nil
}

// CreateSampler interns a sampler descriptor.
func (h *Handler) CreateSampler(d SamplerDesc) SamplerID { return h.samplers.intern(d) }

// MergeViews interns a view that covers the union of the
// subresource ranges of views, which must all refer to
// the same image.
func (h *Handler) MergeViews(views ...ViewID) (ViewID, error) {
	if len(views) == 0 {
		return ViewID{}, newErr(UnknownView, "", "no views to merge")
	}
	for _, v := range views {
		if !h.views.owns(v) {
			return ViewID{}, newErr(UnknownView, "", "view not interned by this handler")
		}
	}
	d := views[0].Desc()
	lo, hi := d.Range.BaseLevel, d.Range.BaseLevel+d.Range.Levels
	la, ha := d.Range.BaseLayer, d.Range.BaseLayer+d.Range.Layers
	asp := d.Range.Aspect
	for _, v := range views[1:] {
		e := v.Desc()
		if e.Image != d.Image {
			return ViewID{}, newErr(IncompatibleAttachment, "", "merged views refer to different images")
		}
		lo = min(lo, e.Range.BaseLevel)
		hi = max(hi, e.Range.BaseLevel+e.Range.Levels)
		la = min(la, e.Range.BaseLayer)
		ha = max(ha, e.Range.BaseLayer+e.Range.Layers)
		asp |= e.Range.Aspect
	}
	return h.InternView(d.Image, ViewDesc{
		Format: d.Format,
		Range:  SubresourceRange{asp, lo, hi - lo, la, ha - la},
	})
}

// ResolveView returns the view used by instance
// passIndex of a pass that binds views at one slot.
// It returns the zero ViewID if views is empty.
func ResolveView(views []ViewID, passIndex int) ViewID {
	n := len(views)
	if n == 0 {
		return ViewID{}
	}
	return views[((passIndex%n)+n)%n]
}

// Extent returns the size of the image of v.
func (h *Handler) Extent(v ViewID) driver.Dim3D { return v.Desc().Image.Desc().Size }

// MipExtent returns the size of the base level of v.
func (h *Handler) MipExtent(v ViewID) driver.Dim3D {
	sz := h.Extent(v)
	l := v.Desc().Range.BaseLevel
	return driver.Dim3D{
		Width:  max(sz.Width>>l, 1),
		Height: max(sz.Height>>l, 1),
		Depth:  max(sz.Depth>>l, 1),
	}
}

// Format returns the format of v.
func (h *Handler) Format(v ViewID) driver.PixelFmt { return v.Desc().Format }

// ArrayLayers returns the number of layers of v.
func (h *Handler) ArrayLayers(v ViewID) int { return v.Desc().Range.Layers }

// MipLevels returns the number of levels of v.
func (h *Handler) MipLevels(v ViewID) int { return v.Desc().Range.Levels }

// Aspects returns the aspects of v.
func (h *Handler) Aspects(v ViewID) Aspect { return v.Desc().Range.Aspect }

// SubresourceRange returns the subresource range of v.
func (h *Handler) SubresourceRange(v ViewID) SubresourceRange { return v.Desc().Range }

// Owns returns whether v was interned by h.
func (h *Handler) Owns(v ViewID) bool { return h.views.owns(v) }

// OwnsBuffer returns whether b was interned by h.
func (h *Handler) OwnsBuffer(b BufferID) bool { return h.buffers.owns(b) }

// Counts returns the number of interned images, views,
// buffers, buffer views and samplers.
func (h *Handler) Counts() (images, views, buffers, bufferViews, samplers int) {
	return h.images.len(), h.views.len(), h.buffers.len(), h.bviews.len(), h.samplers.len()
}

// image returns the ID of the image whose index is i.
func (h *Handler) image(i uint32) ImageID { return ImageID{i, h.images.descs[i]} }

// buffer returns the ID of the buffer whose index is i.
func (h *Handler) buffer(i uint32) BufferID { return BufferID{i, h.buffers.descs[i]} }

// viewRange returns the cells of the image of v that v
// covers.
func viewRange(v ViewID) state.Range {
	r := v.Desc().Range
	return state.Range{Level: r.BaseLevel, Levels: r.Levels, Layer: r.BaseLayer, Layers: r.Layers}
}

// viewsOverlap returns whether two views share a
// subresource. Aspects are not considered.
func viewsOverlap(a, b ViewID) bool {
	da, db := a.Desc(), b.Desc()
	return da.Image == db.Image && da.Range.Overlaps(db.Range)
}
