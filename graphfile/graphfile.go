// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package graphfile loads frame graph descriptions from
// YAML documents.
package graphfile

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/gviegas/framegraph"
	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/pass"
)

// File is a frame graph description.
type File struct {
	Name     string     `yaml:"name"`
	Images   []Image    `yaml:"images"`
	Views    []View     `yaml:"views"`
	Buffers  []Buffer   `yaml:"buffers"`
	Groups   []Group    `yaml:"groups"`
	Passes   []Pass     `yaml:"passes"`
	Inputs   []Boundary `yaml:"inputs"`
	Outputs  []Boundary `yaml:"outputs"`
	Implicit []Action   `yaml:"implicit"`
}

// Image describes an image. Size holds the width and,
// optionally, height and depth.
type Image struct {
	Name    string `yaml:"name"`
	Format  Format `yaml:"format"`
	Size    []int  `yaml:"size"`
	Levels  int    `yaml:"levels"`
	Layers  int    `yaml:"layers"`
	Samples int    `yaml:"samples"`
	Cube    bool   `yaml:"cube"`
}

// View describes a view of an image.
// Aspect is one of "", "color", "depth" and "stencil".
type View struct {
	Name      string `yaml:"name"`
	Image     string `yaml:"image"`
	Aspect    string `yaml:"aspect"`
	BaseLevel int    `yaml:"base_level"`
	Levels    int    `yaml:"levels"`
	BaseLayer int    `yaml:"base_layer"`
	Layers    int    `yaml:"layers"`
}

// Buffer describes a buffer. If VBO is set, the buffer
// is created by Handler.CreateQuadTriVBO and Size and
// Visible are ignored.
type Buffer struct {
	Name    string `yaml:"name"`
	Size    int64  `yaml:"size"`
	Visible bool   `yaml:"visible"`
	VBO     *VBO   `yaml:"vbo"`
}

// VBO describes generated vertex data.
type VBO struct {
	Quad     bool `yaml:"quad"`
	Texcoord bool `yaml:"texcoord"`
	FlipY    bool `yaml:"flip_y"`
}

// Group describes a group. An empty Parent means the root
// group. Parents must be described first.
type Group struct {
	Name    string     `yaml:"name"`
	Parent  string     `yaml:"parent"`
	Inputs  []Boundary `yaml:"inputs"`
	Outputs []Boundary `yaml:"outputs"`
}

// Boundary declares the layout of a view.
type Boundary struct {
	View   string `yaml:"view"`
	Layout Layout `yaml:"layout"`
}

// Pass describes a pass.
//
// Kind selects the pass runnable: "func" (the default,
// records nothing), "graphics", "compute", "transfer",
// "clear", "blit", "copy" or "mipmap".
type Pass struct {
	Name        string       `yaml:"name"`
	Group       string       `yaml:"group"`
	Kind        string       `yaml:"kind"`
	Count       int          `yaml:"count"`
	After       []string     `yaml:"after"`
	Disabled    bool         `yaml:"disabled"`
	Rotate      bool         `yaml:"rotate"`
	Attachments []Attachment `yaml:"attachments"`
	Pre         []Action     `yaml:"pre"`
	Post        []Action     `yaml:"post"`
	Implicit    []Action     `yaml:"implicit"`
	// Clear is the clear value of "clear" passes.
	Clear []float32 `yaml:"clear"`
	// Filter is the filter of "blit" and "mipmap" passes.
	Filter string `yaml:"filter"`
	// Groups is the dispatch size of "compute" passes.
	Groups [3]int `yaml:"groups"`
}

// Attachment describes an attachment.
// Views and Buffer are mutually exclusive.
type Attachment struct {
	Class   Class    `yaml:"class"`
	Views   []string `yaml:"views"`
	Buffer  string   `yaml:"buffer"`
	Offset  int64    `yaml:"offset"`
	Size    int64    `yaml:"size"`
	Binding *int     `yaml:"binding"`
	// Clear holds RGBA for color targets and depth and
	// stencil for depth/stencil targets.
	Clear []float32 `yaml:"clear"`
	Load  string    `yaml:"load"`
	Store string    `yaml:"store"`
}

// Action describes an action on View.
// Kind is one of "clear", "blit" and "copy".
type Action struct {
	View   string    `yaml:"view"`
	Kind   string    `yaml:"kind"`
	Src    string    `yaml:"src"`
	Clear  []float32 `yaml:"clear"`
	Filter string    `yaml:"filter"`
}

// Format is a driver.PixelFmt that decodes from its name.
type Format driver.PixelFmt

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *Format) UnmarshalYAML(n *yaml.Node) error {
	pf, ok := driver.ParsePixelFmt(n.Value)
	if !ok {
		return errors.Errorf("graphfile: line %d: unknown format %q", n.Line, n.Value)
	}
	*f = Format(pf)
	return nil
}

// Layout is a driver.Layout that decodes from its name.
type Layout driver.Layout

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *Layout) UnmarshalYAML(n *yaml.Node) error {
	x, ok := driver.ParseLayout(n.Value)
	if !ok {
		return errors.Errorf("graphfile: line %d: unknown layout %q", n.Line, n.Value)
	}
	*l = Layout(x)
	return nil
}

// Class is a framegraph.Class that decodes from strings
// such as "out-color".
type Class framegraph.Class

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Class) UnmarshalYAML(n *yaml.Node) error {
	x, ok := framegraph.ParseClass(n.Value)
	if !ok {
		return errors.Errorf("graphfile: line %d: unknown attachment class %q", n.Line, n.Value)
	}
	*c = Class(x)
	return nil
}

// Load decodes a File. Unknown fields are rejected.
func Load(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Wrap(err, "graphfile: Load")
	}
	if f.Name == "" {
		return nil, errors.New("graphfile: graph has no name")
	}
	return &f, nil
}

// Graph is a frame graph built from a File, along with
// the resources it interned by name.
type Graph struct {
	*framegraph.FrameGraph
	Images  map[string]framegraph.ImageID
	Views   map[string]framegraph.ViewID
	Buffers map[string]framegraph.BufferID
}

// Options configures Build.
type Options struct {
	// Factories overrides the factory of passes by name.
	Factories map[string]framegraph.Factory
}

// Build interns the resources of f in h and creates its
// frame graph. Every problem found is reported.
func (f *File) Build(h *framegraph.Handler, opts *Options) (*Graph, error) {
	b := &builder{
		h:    h,
		opts: opts,
		g: &Graph{
			FrameGraph: framegraph.NewFrameGraph(h, f.Name),
			Images:     make(map[string]framegraph.ImageID),
			Views:      make(map[string]framegraph.ViewID),
			Buffers:    make(map[string]framegraph.BufferID),
		},
		groups: make(map[string]*framegraph.Group),
	}
	if b.opts == nil {
		b.opts = &Options{}
	}
	b.resources(f)
	if b.errs != nil {
		return nil, b.errs
	}
	b.graph(f)
	if b.errs != nil {
		return nil, b.errs
	}
	return b.g, nil
}

type builder struct {
	h      *framegraph.Handler
	opts   *Options
	g      *Graph
	groups map[string]*framegraph.Group
	errs   error
}

func (b *builder) fail(format string, args ...any) {
	b.errs = multierr.Append(b.errs, errors.Errorf("graphfile: "+format, args...))
}

func (b *builder) failErr(err error, what string) {
	b.errs = multierr.Append(b.errs, errors.Wrap(err, "graphfile: "+what))
}

func (b *builder) resources(f *File) {
	for _, x := range f.Images {
		d := framegraph.ImageDesc{
			Name:    x.Name,
			Format:  driver.PixelFmt(x.Format),
			Levels:  x.Levels,
			Layers:  x.Layers,
			Samples: x.Samples,
		}
		switch len(x.Size) {
		case 3:
			d.Size.Depth = x.Size[2]
			d.Type = framegraph.Image3D
			fallthrough
		case 2:
			d.Size.Height = x.Size[1]
			fallthrough
		case 1:
			d.Size.Width = x.Size[0]
		default:
			b.fail("image %q: size must have 1 to 3 elements", x.Name)
			continue
		}
		if x.Cube {
			d.Flags |= framegraph.FlagCubeCompatible
		}
		id, err := b.h.InternImage(d)
		if err != nil {
			b.failErr(err, "image "+x.Name)
			continue
		}
		b.g.Images[x.Name] = id
		// Every image has a default view named after it.
		if v, err := b.h.InternView(id, framegraph.ViewDesc{}); err == nil {
			b.g.Views[x.Name] = v
		}
	}
	for _, x := range f.Views {
		img, ok := b.g.Images[x.Image]
		if !ok {
			b.fail("view %q: unknown image %q", x.Name, x.Image)
			continue
		}
		var asp framegraph.Aspect
		switch strings.ToLower(x.Aspect) {
		case "":
		case "color":
			asp = framegraph.AspectColor
		case "depth":
			asp = framegraph.AspectDepth
		case "stencil":
			asp = framegraph.AspectStencil
		default:
			b.fail("view %q: unknown aspect %q", x.Name, x.Aspect)
			continue
		}
		v, err := b.h.InternView(img, framegraph.ViewDesc{Range: framegraph.SubresourceRange{
			Aspect:    asp,
			BaseLevel: x.BaseLevel,
			Levels:    x.Levels,
			BaseLayer: x.BaseLayer,
			Layers:    x.Layers,
		}})
		if err != nil {
			b.failErr(err, "view "+x.Name)
			continue
		}
		b.g.Views[x.Name] = v
	}
	for _, x := range f.Buffers {
		var id framegraph.BufferID
		var err error
		if x.VBO != nil {
			var fl framegraph.VBOFlags
			if x.VBO.Quad {
				fl |= framegraph.VBOQuad
			}
			if x.VBO.FlipY {
				fl |= framegraph.VBOFlipY
			}
			id, err = b.h.CreateQuadTriVBO(fl, x.VBO.Texcoord)
		} else {
			id, err = b.h.InternBuffer(framegraph.BufferDesc{Name: x.Name, Size: x.Size, Visible: x.Visible})
		}
		if err != nil {
			b.failErr(err, "buffer "+x.Name)
			continue
		}
		b.g.Buffers[x.Name] = id
	}
}

func (b *builder) view(name, where string) (framegraph.ViewID, bool) {
	v, ok := b.g.Views[name]
	if !ok {
		b.fail("%s: unknown view %q", where, name)
	}
	return v, ok
}

func clearValue(xs []float32, ds bool) driver.ClearValue {
	var cv driver.ClearValue
	if ds {
		if len(xs) > 0 {
			cv.Depth = xs[0]
		}
		if len(xs) > 1 {
			cv.Stencil = uint32(xs[1])
		}
		return cv
	}
	copy(cv.Color[:], xs)
	return cv
}

func filter(s string) driver.Filter {
	if strings.EqualFold(s, "linear") {
		return driver.FLinear
	}
	return driver.FNearest
}

func (b *builder) action(x Action, where string) (framegraph.Action, bool) {
	var a framegraph.Action
	switch strings.ToLower(x.Kind) {
	case "clear":
		a.Kind = framegraph.ActionClear
	case "blit":
		a.Kind = framegraph.ActionBlit
	case "copy":
		a.Kind = framegraph.ActionCopy
	default:
		b.fail("%s: unknown action %q", where, x.Kind)
		return a, false
	}
	v, ok := b.view(x.View, where)
	if !ok {
		return a, false
	}
	a.View = v
	if a.Kind != framegraph.ActionClear {
		if a.Src, ok = b.view(x.Src, where); !ok {
			return a, false
		}
	}
	a.Clear = clearValue(x.Clear, framegraph.AspectOf(v.Desc().Format)&framegraph.AspectColor == 0)
	a.Filter = filter(x.Filter)
	return a, true
}

func (b *builder) boundaries(xs []Boundary, where string, add func(framegraph.ViewID, driver.Layout)) {
	for _, x := range xs {
		if v, ok := b.view(x.View, where); ok {
			add(v, driver.Layout(x.Layout))
		}
	}
}

func (b *builder) factory(x *Pass) framegraph.Factory {
	if f := b.opts.Factories[x.Name]; f != nil {
		return f
	}
	var opts []pass.Option
	if x.Rotate {
		opts = append(opts, pass.Rotate())
	}
	switch strings.ToLower(x.Kind) {
	case "", "func":
		return pass.NewFunc(framegraph.Graphics, nil, opts...)
	case "graphics":
		return pass.NewRender(pass.RenderDesc{Topology: driver.TTriangle}, opts...)
	case "compute":
		return pass.NewCompute(pass.ComputeDesc{Groups: x.Groups}, opts...)
	case "transfer":
		return pass.NewFunc(framegraph.TransferWork, nil, opts...)
	case "clear":
		return pass.NewClear(clearValue(x.Clear, false), opts...)
	case "blit":
		return pass.NewBlit(filter(x.Filter), opts...)
	case "copy":
		return pass.NewCopy(opts...)
	case "mipmap":
		return pass.NewMipmap(filter(x.Filter), opts...)
	}
	b.fail("pass %q: unknown kind %q", x.Name, x.Kind)
	return nil
}

func (b *builder) graph(f *File) {
	g := b.g.FrameGraph
	b.groups[""] = g.Root()
	for _, x := range f.Groups {
		parent, ok := b.groups[x.Parent]
		if !ok {
			b.fail("group %q: unknown parent %q", x.Name, x.Parent)
			continue
		}
		if _, dup := b.groups[x.Name]; dup {
			b.fail("group %q: duplicate name", x.Name)
			continue
		}
		grp := parent.CreateGroup(x.Name)
		b.groups[x.Name] = grp
		b.boundaries(x.Inputs, "group "+x.Name, grp.AddGroupInput)
		b.boundaries(x.Outputs, "group "+x.Name, grp.AddGroupOutput)
	}
	b.boundaries(f.Inputs, "graph", g.AddInput)
	b.boundaries(f.Outputs, "graph", g.AddOutput)
	for _, x := range f.Implicit {
		if a, ok := b.action(x, "graph"); ok {
			g.SetImplicitAction(a.View, a)
		}
	}

	passes := make(map[string]*framegraph.Pass, len(f.Passes))
	for i := range f.Passes {
		x := &f.Passes[i]
		where := "pass " + x.Name
		grp, ok := b.groups[x.Group]
		if !ok {
			b.fail("%s: unknown group %q", where, x.Group)
			continue
		}
		fac := b.factory(x)
		if fac == nil {
			continue
		}
		p := grp.CreatePass(x.Name, fac)
		passes[x.Name] = p
		if x.Count > 1 {
			p.SetCount(x.Count)
		}
		if x.Disabled {
			p.EnableIf(func() bool { return false })
		}
		for _, y := range x.Attachments {
			b.attach(p, &y, where)
		}
		for _, y := range x.Pre {
			if a, ok := b.action(y, where); ok {
				p.AddPrePassAction(a)
			}
		}
		for _, y := range x.Post {
			if a, ok := b.action(y, where); ok {
				p.AddPostPassAction(a)
			}
		}
		for _, y := range x.Implicit {
			if a, ok := b.action(y, where); ok {
				p.SetImplicitAction(a.View, a)
			}
		}
	}
	for _, x := range f.Passes {
		p := passes[x.Name]
		if p == nil {
			continue
		}
		for _, name := range x.After {
			q, ok := passes[name]
			if !ok {
				b.errs = multierr.Append(b.errs, &framegraph.GraphError{
					Kind: framegraph.UnknownPass,
					Loc:  x.Name,
					Msg:  "dependency " + name,
				})
				continue
			}
			p.AddDependency(q)
		}
	}
}

func loadOp(s string) (driver.LoadOp, bool) {
	switch strings.ToLower(s) {
	case "dontcare":
		return driver.LDontCare, true
	case "clear":
		return driver.LClear, true
	case "load":
		return driver.LLoad, true
	case "none":
		return driver.LNone, true
	}
	return 0, false
}

func storeOp(s string) (driver.StoreOp, bool) {
	switch strings.ToLower(s) {
	case "dontcare":
		return driver.SDontCare, true
	case "store":
		return driver.SStore, true
	case "none":
		return driver.SNoStore, true
	}
	return 0, false
}

func (b *builder) attach(p *framegraph.Pass, x *Attachment, where string) {
	c := framegraph.Class(x.Class)
	var a *framegraph.Attachment
	switch {
	case len(x.Views) > 0 && x.Buffer != "":
		b.fail("%s: %v attachment with both views and a buffer", where, c)
		return
	case x.Buffer != "":
		buf, ok := b.g.Buffers[x.Buffer]
		if !ok {
			b.fail("%s: unknown buffer %q", where, x.Buffer)
			return
		}
		a = p.AddBuffer(c, buf, x.Offset, x.Size)
	case len(x.Views) > 0:
		vs := make([]framegraph.ViewID, 0, len(x.Views))
		for _, name := range x.Views {
			v, ok := b.view(name, where)
			if !ok {
				return
			}
			vs = append(vs, v)
		}
		a = p.AddView(c, vs...)
	default:
		b.fail("%s: %v attachment with no views or buffer", where, c)
		return
	}
	if x.Binding != nil {
		a.WithBinding(*x.Binding)
	}
	if x.Clear != nil {
		ds := c.Kind == framegraph.Depth || c.Kind == framegraph.Stencil || c.Kind == framegraph.DepthStencil
		a.WithClear(clearValue(x.Clear, ds))
	}
	if x.Load != "" || x.Store != "" {
		l, okl := loadOp(x.Load)
		s, oks := storeOp(x.Store)
		if !okl || !oks {
			b.fail("%s: invalid load/store operations %q/%q", where, x.Load, x.Store)
			return
		}
		a.WithOps(l, s)
	}
}
