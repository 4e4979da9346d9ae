// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package driver

import (
	"strconv"
	"strings"
)

var layoutNames = [...]string{
	LUndefined:   "Undefined",
	LCommon:      "Common",
	LColorTarget: "ColorTarget",
	LDSTarget:    "DSTarget",
	LDSRead:      "DSRead",
	LDSMixed:     "DSMixed",
	LResolveSrc:  "ResolveSrc",
	LResolveDst:  "ResolveDst",
	LCopySrc:     "CopySrc",
	LCopyDst:     "CopyDst",
	LShaderRead:  "ShaderRead",
	LPresent:     "Present",
}

// String implements fmt.Stringer.
func (l Layout) String() string {
	if l >= 0 && int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return "Layout(" + strconv.Itoa(int(l)) + ")"
}

// ParseLayout returns the Layout whose String is s.
// It is case insensitive.
func ParseLayout(s string) (Layout, bool) {
	for i, n := range layoutNames {
		if strings.EqualFold(n, s) {
			return Layout(i), true
		}
	}
	return LUndefined, false
}

var accessNames = [...]string{
	"VertexBufRead",
	"IndexBufRead",
	"UniformRead",
	"InputRead",
	"ColorRead",
	"ColorWrite",
	"DSRead",
	"DSWrite",
	"ResolveRead",
	"ResolveWrite",
	"CopyRead",
	"CopyWrite",
	"ShaderRead",
	"ShaderWrite",
	"AnyRead",
	"AnyWrite",
}

// String implements fmt.Stringer.
func (a Access) String() string { return maskString(int(a), accessNames[:]) }

var syncNames = [...]string{
	"VertexInput",
	"VertexShading",
	"FragmentShading",
	"ComputeShading",
	"ColorOutput",
	"EarlyFragTests",
	"LateFragTests",
	"Draw",
	"Resolve",
	"Copy",
	"All",
}

// String implements fmt.Stringer.
func (s Sync) String() string { return maskString(int(s), syncNames[:]) }

func maskString(m int, names []string) string {
	if m == 0 {
		return "None"
	}
	var sb strings.Builder
	for i, n := range names {
		if m&(1<<i) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(n)
		m &^= 1 << i
	}
	if m != 0 {
		if sb.Len() > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString("0x" + strconv.FormatInt(int64(m), 16))
	}
	return sb.String()
}

var fmtNames = [...]string{
	FInvalid:       "Invalid",
	RGBA8Unorm:     "RGBA8Unorm",
	RGBA8Norm:      "RGBA8Norm",
	RGBA8SRGB:      "RGBA8SRGB",
	BGRA8Unorm:     "BGRA8Unorm",
	BGRA8SRGB:      "BGRA8SRGB",
	RG8Unorm:       "RG8Unorm",
	RG8Norm:        "RG8Norm",
	R8Unorm:        "R8Unorm",
	R8Norm:         "R8Norm",
	RGBA16Float:    "RGBA16Float",
	RG16Float:      "RG16Float",
	R16Float:       "R16Float",
	RGBA32Float:    "RGBA32Float",
	RG32Float:      "RG32Float",
	R32Float:       "R32Float",
	D16Unorm:       "D16Unorm",
	D32Float:       "D32Float",
	S8Uint:         "S8Uint",
	D24UnormS8Uint: "D24UnormS8Uint",
	D32FloatS8Uint: "D32FloatS8Uint",
}

// String implements fmt.Stringer.
func (f PixelFmt) String() string {
	if f >= 0 && int(f) < len(fmtNames) {
		return fmtNames[f]
	}
	return "PixelFmt(" + strconv.Itoa(int(f)) + ")"
}

// ParsePixelFmt returns the PixelFmt whose String is s.
// It is case insensitive.
func ParsePixelFmt(s string) (PixelFmt, bool) {
	for i, n := range fmtNames {
		if i != int(FInvalid) && strings.EqualFold(n, s) {
			return PixelFmt(i), true
		}
	}
	return FInvalid, false
}
