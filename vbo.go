// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package framegraph

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/gviegas/framegraph/driver"
)

// VBOFlags configures the vertex buffers created by
// Handler.CreateQuadTriVBO.
type VBOFlags int

// VBO flags.
const (
	// VBOQuad generates a four-vertex triangle strip
	// covering clip space instead of a single triangle.
	VBOQuad VBOFlags = 1 << iota
	// VBOFlipY negates the Y coordinate of positions.
	VBOFlipY
)

// vboSpec describes generated vertex data.
type vboSpec struct {
	set      bool
	flags    VBOFlags
	texcoord bool
}

func (s vboSpec) valid() bool { return s.set }

// stride returns the size in bytes of a vertex.
func (s vboSpec) stride() int {
	if s.texcoord {
		return 16
	}
	return 8
}

func (s vboSpec) count() int {
	if s.flags&VBOQuad != 0 {
		return 4
	}
	return 3
}

func (s vboSpec) name() string {
	var sb strings.Builder
	sb.WriteString("vbo:")
	if s.flags&VBOQuad != 0 {
		sb.WriteString("quad")
	} else {
		sb.WriteString("tri")
	}
	if s.texcoord {
		sb.WriteString("+uv")
	}
	if s.flags&VBOFlipY != 0 {
		sb.WriteString("+flip")
	}
	return sb.String()
}

// vertices returns the interleaved vertex data: a 2D
// position followed, if requested, by a 2D texcoord.
func (s vboSpec) vertices() []float32 {
	pos := []float32{-1, -1, 3, -1, -1, 3}
	uv := []float32{0, 0, 2, 0, 0, 2}
	if s.flags&VBOQuad != 0 {
		pos = []float32{-1, -1, 1, -1, -1, 1, 1, 1}
		uv = []float32{0, 0, 1, 0, 0, 1, 1, 1}
	}
	var vs []float32
	for i := range s.count() {
		x, y := pos[2*i], pos[2*i+1]
		if s.flags&VBOFlipY != 0 {
			y = -y
		}
		vs = append(vs, x, y)
		if s.texcoord {
			vs = append(vs, uv[2*i], uv[2*i+1])
		}
	}
	return vs
}

// CreateQuadTriVBO interns a host-visible vertex buffer
// holding a full-screen triangle, or a quad if flags
// has VBOQuad. The vertex layout is a float32x2 position
// optionally followed by a float32x2 texcoord.
// Its contents are written when a compile first creates
// the buffer.
func (h *Handler) CreateQuadTriVBO(flags VBOFlags, texcoord bool) (BufferID, error) {
	s := vboSpec{set: true, flags: flags & (VBOQuad | VBOFlipY), texcoord: texcoord}
	return h.InternBuffer(BufferDesc{
		Name:    s.name(),
		Size:    int64(s.count() * s.stride()),
		Visible: true,
		vbo:     s,
	})
}

// VBOVertexCount returns the number of vertices of a
// buffer created by CreateQuadTriVBO, or 0.
func VBOVertexCount(b BufferID) int {
	if s := b.Desc().vbo; s.valid() {
		return s.count()
	}
	return 0
}

// fillVBO writes the vertex data of s to buf.
func (r *Runnable) fillVBO(s vboSpec, buf driver.Buffer) error {
	p := buf.Bytes()
	if p == nil {
		return newErr(BackendFailure, s.name(), "vertex buffer is not host visible")
	}
	data := r.Scratch(0)[:0]
	for _, f := range s.vertices() {
		data = binary.LittleEndian.AppendUint32(data, math.Float32bits(f))
	}
	copy(p, data)
	r.scratch = data
	return nil
}
