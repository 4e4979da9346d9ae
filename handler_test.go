// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package framegraph

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gviegas/framegraph/driver"
)

func TestInternImage(t *testing.T) {
	h := NewHandler()
	d := ImageDesc{Name: "a", Format: driver.RGBA8Unorm, Size: driver.Dim3D{Width: 64, Height: 32}, Levels: 7}
	x, err := h.InternImage(d)
	if err != nil {
		t.Fatalf("Handler.InternImage: unexpected error:\n%v", err)
	}
	y, _ := h.InternImage(d)
	if x != y {
		t.Fatal("Handler.InternImage: equal descriptors differ")
	}
	d.Name = "b"
	if z, _ := h.InternImage(d); z == x {
		t.Fatal("Handler.InternImage: distinct names share an ID")
	}
	got := x.Desc()
	if got.Layers != 1 || got.Samples != 1 || got.Size.Depth != 1 {
		t.Fatalf("Handler.InternImage: defaults not applied\nhave %+v", got)
	}

	for _, d := range [...]ImageDesc{
		{Name: "fmt", Size: driver.Dim3D{Width: 1}},
		{Name: "w", Format: driver.RGBA8Unorm},
		{Name: "3d", Format: driver.RGBA8Unorm, Type: Image3D, Size: driver.Dim3D{Width: 4, Height: 4, Depth: 4}, Layers: 2},
		{Name: "ms", Format: driver.RGBA8Unorm, Size: driver.Dim3D{Width: 4}, Samples: 4, Levels: 2},
		{Name: "mips", Format: driver.RGBA8Unorm, Size: driver.Dim3D{Width: 64, Height: 32}, Levels: 8},
	} {
		if _, err := h.InternImage(d); !IsKind(err, OutOfRange) {
			t.Fatalf("Handler.InternImage(%s):\nhave %v\nwant %v", d.Name, err, OutOfRange)
		}
	}
	if i, _, _, _, _ := h.Counts(); i != 2 {
		t.Fatalf("Handler.Counts: images\nhave %d\nwant 2", i)
	}
}

func TestInternView(t *testing.T) {
	h := NewHandler()
	img, _ := h.InternImage(ImageDesc{Name: "ds", Format: driver.D24UnormS8Uint, Size: driver.Dim3D{Width: 16, Height: 16}, Levels: 4, Layers: 6})
	all, err := h.InternView(img, ViewDesc{})
	if err != nil {
		t.Fatalf("Handler.InternView: unexpected error:\n%v", err)
	}
	want := SubresourceRange{AspectDepth | AspectStencil, 0, 4, 0, 6}
	if diff := cmp.Diff(want, h.SubresourceRange(all)); diff != "" {
		t.Fatalf("Handler.InternView: mismatch (-want +have):\n%s", diff)
	}
	mip, _ := h.InternView(img, ViewDesc{Range: SubresourceRange{Aspect: AspectDepth, BaseLevel: 2}})
	if n := h.MipLevels(mip); n != 2 {
		t.Fatalf("Handler.MipLevels:\nhave %d\nwant 2", n)
	}
	if ext := h.MipExtent(mip); ext != (driver.Dim3D{Width: 4, Height: 4, Depth: 1}) {
		t.Fatalf("Handler.MipExtent:\nhave %v", ext)
	}
	if h.Aspects(mip) != AspectDepth || h.Format(mip) != driver.D24UnormS8Uint || h.ArrayLayers(mip) != 6 {
		t.Fatal("Handler: view queries mismatch")
	}

	for _, r := range [...]SubresourceRange{
		{Aspect: AspectColor},
		{BaseLevel: 4},
		{BaseLevel: 1, Levels: 4},
		{BaseLayer: 6},
		{BaseLayer: 3, Layers: 4},
	} {
		if _, err := h.InternView(img, ViewDesc{Range: r}); !IsKind(err, OutOfRange) {
			t.Fatalf("Handler.InternView(%+v):\nhave %v\nwant %v", r, err, OutOfRange)
		}
	}
	if _, err := NewHandler().InternView(img, ViewDesc{}); !IsKind(err, UnknownView) {
		t.Fatalf("Handler.InternView: foreign image\nhave %v\nwant %v", err, UnknownView)
	}
	if !h.Owns(all) || NewHandler().Owns(all) {
		t.Fatal("Handler.Owns: mismatch")
	}
}

func TestMergeViews(t *testing.T) {
	h := NewHandler()
	img, _ := h.InternImage(ImageDesc{Name: "ds", Format: driver.D24UnormS8Uint, Size: driver.Dim3D{Width: 16, Height: 16}, Layers: 4})
	d, _ := h.InternView(img, ViewDesc{Range: SubresourceRange{Aspect: AspectDepth, Layers: 2}})
	s, _ := h.InternView(img, ViewDesc{Range: SubresourceRange{Aspect: AspectStencil, BaseLayer: 1, Layers: 3}})
	m, err := h.MergeViews(d, s)
	if err != nil {
		t.Fatalf("Handler.MergeViews: unexpected error:\n%v", err)
	}
	want := SubresourceRange{AspectDepth | AspectStencil, 0, 1, 0, 4}
	if diff := cmp.Diff(want, m.Desc().Range); diff != "" {
		t.Fatalf("Handler.MergeViews: mismatch (-want +have):\n%s", diff)
	}
	other, _ := h.InternImage(ImageDesc{Name: "other", Format: driver.D24UnormS8Uint, Size: driver.Dim3D{Width: 16}})
	o, _ := h.InternView(other, ViewDesc{})
	if _, err := h.MergeViews(d, o); !IsKind(err, IncompatibleAttachment) {
		t.Fatalf("Handler.MergeViews:\nhave %v\nwant %v", err, IncompatibleAttachment)
	}
	if _, err := h.MergeViews(); !IsKind(err, UnknownView) {
		t.Fatalf("Handler.MergeViews:\nhave %v\nwant %v", err, UnknownView)
	}
}

func TestResolveView(t *testing.T) {
	h := NewHandler()
	img, _ := h.InternImage(ImageDesc{Name: "a", Format: driver.RGBA8Unorm, Size: driver.Dim3D{Width: 4}, Layers: 3})
	var vs []ViewID
	for i := range 3 {
		v, _ := h.InternView(img, ViewDesc{Range: SubresourceRange{BaseLayer: i, Layers: 1}})
		vs = append(vs, v)
	}
	for _, x := range [...]struct{ idx, want int }{{0, 0}, {1, 1}, {2, 2}, {3, 0}, {7, 1}, {-1, 2}} {
		if v := ResolveView(vs, x.idx); v != vs[x.want] {
			t.Fatalf("ResolveView(%d):\nhave %v\nwant %v", x.idx, v.Desc().Range, vs[x.want].Desc().Range)
		}
	}
	for _, idx := range [...]int{0, 5, -1} {
		if v := ResolveView(nil, idx); v.Valid() {
			t.Fatalf("ResolveView(nil, %d):\nhave valid view\nwant zero ViewID", idx)
		}
	}
}

func TestInternBuffer(t *testing.T) {
	h := NewHandler()
	if _, err := h.InternBuffer(BufferDesc{Name: "empty"}); !IsKind(err, OutOfRange) {
		t.Fatalf("Handler.InternBuffer:\nhave %v\nwant %v", err, OutOfRange)
	}
	b, err := h.InternBuffer(BufferDesc{Name: "ubo", Size: 256})
	if err != nil {
		t.Fatalf("Handler.InternBuffer: unexpected error:\n%v", err)
	}
	bv, err := h.InternBufferView(b, BufferViewDesc{Format: driver.R32Float, Offset: 64, Size: 64})
	if err != nil {
		t.Fatalf("Handler.InternBufferView: unexpected error:\n%v", err)
	}
	if bv.Desc().Buffer != b {
		t.Fatal("Handler.InternBufferView: Buffer not set")
	}
	if !h.OwnsBuffer(b) {
		t.Fatal("Handler.OwnsBuffer: unexpected false")
	}

	tri, _ := h.CreateQuadTriVBO(VBOFlipY, true)
	again, _ := h.CreateQuadTriVBO(VBOFlipY, true)
	quad, _ := h.CreateQuadTriVBO(VBOQuad, false)
	if tri != again || tri == quad {
		t.Fatal("Handler.CreateQuadTriVBO: not interned by flags")
	}
	if VBOVertexCount(tri) != 3 || VBOVertexCount(quad) != 4 || VBOVertexCount(b) != 0 {
		t.Fatal("VBOVertexCount: mismatch")
	}
}
