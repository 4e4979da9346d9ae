// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graphfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gviegas/framegraph"
	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/driver/null"
)

const copyGraph = `
name: copy
images:
  - name: color
    format: RGBA8Unorm
    size: [64, 64]
  - name: dst
    format: rgba8unorm
    size: [64, 64]
    levels: 2
views:
  - name: dst0
    image: dst
    levels: 1
passes:
  - name: clear
    kind: clear
    clear: [1, 0, 0, 1]
    attachments:
      - class: out-transfer
        views: [color]
  - name: copy
    kind: copy
    attachments:
      - class: in-transfer
        views: [color]
      - class: out-transfer
        views: [dst0]
outputs:
  - view: dst0
    layout: ShaderRead
`

func TestLoad(t *testing.T) {
	f, err := Load(strings.NewReader(copyGraph))
	require.NoError(t, err)
	require.Equal(t, "copy", f.Name)
	require.Len(t, f.Images, 2)
	require.Equal(t, driver.RGBA8Unorm, driver.PixelFmt(f.Images[1].Format))
	require.Equal(t, []int{64, 64}, f.Images[0].Size)
	require.Len(t, f.Passes, 2)
	require.Equal(t, framegraph.Class{Kind: framegraph.Transfer, Dir: framegraph.In},
		framegraph.Class(f.Passes[1].Attachments[0].Class))
	require.Equal(t, driver.LShaderRead, driver.Layout(f.Outputs[0].Layout))
}

func TestLoadErrors(t *testing.T) {
	for _, s := range [...]string{
		"name: x\nunknown: 1\n",
		"images:\n  - name: a\n    format: RGBA8Unorm\n    size: [1]\n",
		"name: x\nimages:\n  - name: a\n    format: NotAFormat\n",
		"name: x\noutputs:\n  - view: a\n    layout: Sideways\n",
		"name: x\npasses:\n  - name: p\n    attachments:\n      - class: out-nothing\n",
	} {
		_, err := Load(strings.NewReader(s))
		require.Error(t, err, "%q", s)
	}
}

func TestBuild(t *testing.T) {
	f, err := Load(strings.NewReader(copyGraph))
	require.NoError(t, err)
	h := framegraph.NewHandler()
	g, err := f.Build(h, nil)
	require.NoError(t, err)
	require.Len(t, g.Images, 2)
	// One default view per image plus dst0.
	require.Len(t, g.Views, 3)
	require.Equal(t, 1, g.Views["dst0"].Desc().Range.Levels)
	require.Equal(t, 2, g.Views["dst"].Desc().Range.Levels)

	cp := g.Pass("copy")
	require.NotNil(t, cp)
	as := cp.Attachments()
	require.Len(t, as, 2)
	require.Equal(t, g.Views["color"], as[0].Views[0])
	require.Equal(t, g.Views["dst0"], as[1].Views[0])

	ctx, err := framegraph.NewContext(null.New(), framegraph.DefaultConfig())
	require.NoError(t, err)
	defer ctx.Destroy()
	r, err := g.Compile(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"clear", "copy"}, r.Schedule().Order())
}

func TestBuildVBO(t *testing.T) {
	f, err := Load(strings.NewReader(`
name: vbo
buffers:
  - name: tri
    vbo: {texcoord: true}
  - name: quad
    vbo: {quad: true, flip_y: true}
  - name: ubo
    size: 256
    visible: true
`))
	require.NoError(t, err)
	g, err := f.Build(framegraph.NewHandler(), nil)
	require.NoError(t, err)
	require.Equal(t, 3, framegraph.VBOVertexCount(g.Buffers["tri"]))
	require.Equal(t, 4, framegraph.VBOVertexCount(g.Buffers["quad"]))
	require.Equal(t, 0, framegraph.VBOVertexCount(g.Buffers["ubo"]))
	require.True(t, g.Buffers["ubo"].Desc().Visible)
}

func TestBuildErrors(t *testing.T) {
	f, err := Load(strings.NewReader(`
name: bad
images:
  - name: color
    format: RGBA8Unorm
    size: [16, 16]
passes:
  - name: a
    attachments:
      - class: out-color
        views: [missing]
  - name: b
    after: [nowhere]
    attachments:
      - class: out-color
        views: [color]
    pre:
      - kind: smear
        view: color
`))
	require.NoError(t, err)
	_, err = f.Build(framegraph.NewHandler(), nil)
	require.Error(t, err)
	require.Len(t, framegraph.Errors(err), 3)
	require.True(t, framegraph.IsKind(err, framegraph.UnknownPass))
	require.ErrorContains(t, err, `unknown view "missing"`)
	require.ErrorContains(t, err, `unknown action "smear"`)
}

func TestBuildFactories(t *testing.T) {
	f, err := Load(strings.NewReader(copyGraph))
	require.NoError(t, err)
	var called []string
	fac := func(p *framegraph.Pass, _ *framegraph.Context) (framegraph.PassRunnable, error) {
		called = append(called, p.Name())
		return nil, &framegraph.GraphError{Kind: framegraph.BackendFailure, Loc: p.Name(), Msg: "no runnable"}
	}
	g, err := f.Build(framegraph.NewHandler(), &Options{Factories: map[string]framegraph.Factory{"clear": fac}})
	require.NoError(t, err)
	ctx, err := framegraph.NewContext(null.New(), framegraph.DefaultConfig())
	require.NoError(t, err)
	defer ctx.Destroy()
	_, err = g.Compile(ctx)
	require.True(t, framegraph.IsKind(err, framegraph.BackendFailure))
	require.Equal(t, []string{"clear"}, called)
}
