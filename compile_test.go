// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package framegraph

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/driver/null"
)

var errFake = errors.New("fake failure")

// timeNever returns a deadline that tests never reach.
func timeNever() time.Time { return time.Now().Add(time.Minute) }

// testPass is a PassRunnable that records nothing but
// which instances had their bodies recorded.
type testPass struct {
	kind     PipelineKind
	index    int
	rotate   bool
	disabled bool
	bodies   []int
}

func (x *testPass) Initialise() error { return nil }

func (x *testPass) Record(_ *RecordContext, _ driver.CmdBuffer, passIndex int) error {
	x.bodies = append(x.bodies, passIndex)
	if x.rotate {
		x.index++
	}
	return nil
}

func (x *testPass) PipelineState() PipelineState { return PipelineState{Kind: x.kind} }
func (x *testPass) PassIndex() int               { return x.index }
func (x *testPass) IsEnabled() bool              { return !x.disabled }

func (x *testPass) factory() Factory {
	return func(*Pass, *Context) (PassRunnable, error) { return x, nil }
}

func graphics() (*testPass, Factory) {
	x := &testPass{kind: Graphics}
	return x, x.factory()
}

type fixture struct {
	t   *testing.T
	h   *Handler
	drv *null.Driver
	ctx *Context
}

func newFixture(t *testing.T, cfg Config) *fixture {
	drv := null.New()
	ctx, err := NewContext(drv, cfg)
	if err != nil {
		t.Fatalf("NewContext: unexpected error:\n%#v", err)
	}
	t.Cleanup(ctx.Destroy)
	return &fixture{t, NewHandler(), drv, ctx}
}

func (f *fixture) image(name string, pf driver.PixelFmt, layers int) ImageID {
	img, err := f.h.InternImage(ImageDesc{
		Name:   name,
		Format: pf,
		Size:   driver.Dim3D{Width: 256, Height: 256},
		Layers: layers,
	})
	if err != nil {
		f.t.Fatalf("InternImage: unexpected error:\n%#v", err)
	}
	return img
}

func (f *fixture) view(img ImageID, r SubresourceRange) ViewID {
	v, err := f.h.InternView(img, ViewDesc{Range: r})
	if err != nil {
		f.t.Fatalf("InternView: unexpected error:\n%#v", err)
	}
	return v
}

func (f *fixture) compile(g *FrameGraph) *Runnable {
	r, err := g.Compile(f.ctx)
	if err != nil {
		f.t.Fatalf("FrameGraph.Compile: unexpected error:\n%v", err)
	}
	return r
}

func (f *fixture) record(r *Runnable) *null.CmdBuffer {
	if err := r.Record(); err != nil {
		f.t.Fatalf("Runnable.Record: unexpected error:\n%v", err)
	}
	return r.CmdBuffer().(*null.CmdBuffer)
}

type lt struct{ Before, After driver.Layout }

func layouts(ts []Transition) []lt {
	var ls []lt
	for _, t := range ts {
		ls = append(ls, lt{t.Before.Layout, t.After.Layout})
	}
	return ls
}

// recorded returns the layout changes of img recorded
// in cb.
func recorded(r *Runnable, cb *null.CmdBuffer, img ImageID) []lt {
	x := r.Image(img)
	var ls []lt
	for _, c := range cb.Commands() {
		for _, t := range c.Transitions {
			if t.Img == x {
				ls = append(ls, lt{t.LayoutBefore, t.LayoutAfter})
			}
		}
	}
	return ls
}

func TestSinglePass(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	rtv := f.view(f.image("rt", driver.RGBA16Float, 1), SubresourceRange{})
	g := NewFrameGraph(f.h, "single")
	x, fac := graphics()
	g.CreatePass("P", fac).AddColor(Out, rtv)
	g.AddOutput(rtv, driver.LShaderRead)

	r := f.compile(g)
	s := r.Schedule()
	if diff := cmp.Diff([]string{"P"}, s.Order()); diff != "" {
		t.Fatalf("Schedule.Order: mismatch (-want +have):\n%s", diff)
	}
	in := &s.Node("P").Instances[0]
	if diff := cmp.Diff([]lt{{driver.LUndefined, driver.LColorTarget}}, layouts(in.Pre())); diff != "" {
		t.Fatalf("NodeInstance.Pre: mismatch (-want +have):\n%s", diff)
	}
	if diff := cmp.Diff([]lt{{driver.LColorTarget, driver.LShaderRead}}, layouts(in.Post())); diff != "" {
		t.Fatalf("NodeInstance.Post: mismatch (-want +have):\n%s", diff)
	}
	if len(s.Epilogue) != 0 {
		t.Fatalf("Schedule.Epilogue: unexpected transitions:\n%v", s.Epilogue)
	}
	if st, ok := f.ctx.FinalState(g, rtv); !ok || st.Layout != driver.LShaderRead {
		t.Fatalf("Context.FinalState:\nhave %v, %t\nwant %v, true", st, ok, driver.LShaderRead)
	}

	cb := f.record(r)
	want := []lt{{driver.LUndefined, driver.LColorTarget}, {driver.LColorTarget, driver.LShaderRead}}
	if diff := cmp.Diff(want, recorded(r, cb, rtv.Desc().Image)); diff != "" {
		t.Fatalf("Runnable.Record: transitions mismatch (-want +have):\n%s", diff)
	}
	if !slices.Equal(x.bodies, []int{0}) {
		t.Fatalf("PassRunnable.Record: calls\nhave %v\nwant [0]", x.bodies)
	}
}

func TestDeferred(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	depth := f.image("depth", driver.D32Float, 1)
	d := f.view(depth, SubresourceRange{})
	gbuf := f.view(f.image("gbuf", driver.RGBA8Unorm, 1), SubresourceRange{})
	light := f.view(f.image("light", driver.RGBA16Float, 1), SubresourceRange{})

	g := NewFrameGraph(f.h, "deferred")
	_, fac := graphics()
	dp := g.CreatePass("depthPrepass", fac)
	_, fac = graphics()
	gp := g.CreatePass("geometryPass", fac)
	_, fac = graphics()
	lp := g.CreatePass("lightingPass", fac)
	dp.AddDepth(Out, d)
	gp.AddDepth(In, d)
	gp.AddColor(Out, gbuf)
	lp.AddSampled(d)
	lp.AddSampled(gbuf)
	lp.AddColor(Out, light)
	g.AddOutput(light, driver.LShaderRead)

	s := f.compile(g).Schedule()
	want := []string{"depthPrepass", "geometryPass", "lightingPass"}
	if diff := cmp.Diff(want, s.Order()); diff != "" {
		t.Fatalf("Schedule.Order: mismatch (-want +have):\n%s", diff)
	}
	tr := s.Trace(depth)
	wantD := []lt{
		{driver.LUndefined, driver.LDSTarget},
		{driver.LDSTarget, driver.LDSRead},
		{driver.LDSRead, driver.LShaderRead},
	}
	if diff := cmp.Diff(wantD, layouts(tr)); diff != "" {
		t.Fatalf("Schedule.Trace: mismatch (-want +have):\n%s", diff)
	}
	checkContinuity(t, tr)
	checkContinuity(t, s.Trace(gbuf.Desc().Image))
	checkContinuity(t, s.Trace(light.Desc().Image))
}

// checkContinuity checks that each transition starts from
// the state where the previous one ended.
func checkContinuity(t *testing.T, ts []Transition) {
	t.Helper()
	for i := 1; i < len(ts); i++ {
		if ts[i].Before != ts[i-1].After {
			t.Fatalf("Transition %d: not continuous\nhave %v\nwant %v", i, ts[i].Before, ts[i-1].After)
		}
	}
}

func TestGraphDependency(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	v := f.view(f.image("shadow", driver.RGBA8Unorm, 1), SubresourceRange{})
	out := f.view(f.image("out", driver.RGBA8Unorm, 1), SubresourceRange{})

	ga := NewFrameGraph(f.h, "A")
	_, fac := graphics()
	ga.CreatePass("a", fac).AddColor(Out, v)
	ga.AddOutput(v, driver.LShaderRead)

	gb := NewFrameGraph(f.h, "B")
	gb.AddDependency(ga)
	gb.AddInput(v, driver.LShaderRead)
	xb, fac := graphics()
	pb := gb.CreatePass("b", fac)
	pb.AddSampled(v)
	pb.AddColor(Out, out)

	ra := f.compile(ga)
	rb := f.compile(gb)
	if diff := cmp.Diff([]string{"A"}, rb.Schedule().Waits); diff != "" {
		t.Fatalf("Schedule.Waits: mismatch (-want +have):\n%s", diff)
	}
	if tr := rb.Schedule().Trace(v.Desc().Image); len(tr) != 0 {
		t.Fatalf("Schedule.Trace: unexpected transitions on handoff:\n%v", tr)
	}
	fin, _ := f.ctx.FinalState(ga, v)
	if fin.Layout != driver.LShaderRead {
		t.Fatalf("Context.FinalState:\nhave %v\nwant %v", fin.Layout, driver.LShaderRead)
	}

	l := f.ctx.links[link{ga, gb}]
	if l == nil {
		t.Fatal("Context.links: missing A -> B")
	}
	f.record(ra)
	if err := ra.Run(); err != nil {
		t.Fatalf("Runnable.Run: unexpected error:\n%v", err)
	}
	if !l.pending {
		t.Fatal("Runnable.Run: A did not signal B")
	}
	cb := f.record(rb)
	if x := recorded(rb, cb, v.Desc().Image); len(x) != 0 {
		t.Fatalf("Runnable.Record: unexpected transitions on handoff:\n%v", x)
	}
	if err := rb.Run(); err != nil {
		t.Fatalf("Runnable.Run: unexpected error:\n%v", err)
	}
	if l.pending {
		t.Fatal("Runnable.Run: B did not wait on A")
	}
	for _, r := range [...]*Runnable{ra, rb} {
		if err := r.Wait(timeNever()); err != nil {
			t.Fatalf("Runnable.Wait: unexpected error:\n%v", err)
		}
	}
	if !slices.Equal(xb.bodies, []int{0}) {
		t.Fatalf("PassRunnable.Record: calls\nhave %v\nwant [0]", xb.bodies)
	}
}

func TestGraphDependencyMismatch(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	v := f.view(f.image("shadow", driver.RGBA8Unorm, 1), SubresourceRange{})
	ga := NewFrameGraph(f.h, "A")
	_, fac := graphics()
	ga.CreatePass("a", fac).AddColor(Out, v)
	ga.AddOutput(v, driver.LShaderRead)
	gb := NewFrameGraph(f.h, "B")
	gb.AddDependency(ga)
	gb.AddInput(v, driver.LCopySrc)
	_, fac = graphics()
	gb.CreatePass("b", fac).AddSampled(v)

	f.compile(ga)
	_, err := gb.Compile(f.ctx)
	if !IsKind(err, LayoutMismatch) {
		t.Fatalf("FrameGraph.Compile:\nhave %v\nwant %v", err, LayoutMismatch)
	}
}

func TestMultiInstance(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	arr := f.image("cascades", driver.D32Float, 3)
	var vs []ViewID
	for i := range 3 {
		vs = append(vs, f.view(arr, SubresourceRange{BaseLayer: i, Layers: 1}))
	}
	g := NewFrameGraph(f.h, "shadows")
	x, fac := graphics()
	x.rotate = true
	p := g.CreatePass("cascade", fac)
	p.SetCount(3)
	p.AddDepth(Out, vs...)

	r := f.compile(g)
	n := r.Schedule().Node("cascade")
	if len(n.Instances) != 3 {
		t.Fatalf("GraphNode.Instances: len\nhave %d\nwant 3", len(n.Instances))
	}
	for i, in := range n.Instances {
		pre := in.Pre()
		if len(pre) != 1 || pre[0].Layer != i || pre[0].Layers != 1 {
			t.Fatalf("NodeInstance.Pre: instance %d\nhave %v\nwant one transition of layer %d", i, pre, i)
		}
		if pre[0].Before.Layout != driver.LUndefined || pre[0].After.Layout != driver.LDSTarget {
			t.Fatalf("NodeInstance.Pre: instance %d\nhave %v", i, pre[0])
		}
		if post := in.Post(); len(post) != 0 {
			t.Fatalf("NodeInstance.Post: instance %d: unexpected transitions:\n%v", i, post)
		}
	}

	for i := range 3 {
		cb := f.record(r)
		var layers []int
		for _, c := range cb.Commands() {
			for _, t := range c.Transitions {
				layers = append(layers, t.Layer)
			}
		}
		if !slices.Equal(layers, []int{i}) {
			t.Fatalf("Runnable.Record: frame %d: transitioned layers\nhave %v\nwant [%d]", i, layers, i)
		}
		if err := r.Run(); err != nil {
			t.Fatalf("Runnable.Run: unexpected error:\n%v", err)
		}
	}
	if err := r.Wait(timeNever()); err != nil {
		t.Fatalf("Runnable.Wait: unexpected error:\n%v", err)
	}
	if !slices.Equal(x.bodies, []int{0, 1, 2}) {
		t.Fatalf("PassRunnable.Record: calls\nhave %v\nwant [0 1 2]", x.bodies)
	}
}

func TestMultiInstanceOverlap(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	arr := f.image("arr", driver.RGBA8Unorm, 3)
	v0 := f.view(arr, SubresourceRange{Layers: 2})
	v1 := f.view(arr, SubresourceRange{BaseLayer: 1, Layers: 2})
	g := NewFrameGraph(f.h, "overlap")
	_, fac := graphics()
	p := g.CreatePass("p", fac)
	p.SetCount(2)
	p.AddColor(Out, v0, v1)
	if _, err := g.Compile(f.ctx); !IsKind(err, IncompatibleAttachment) {
		t.Fatalf("FrameGraph.Compile:\nhave %v\nwant %v", err, IncompatibleAttachment)
	}
}

func TestDisabledPass(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	img := f.image("color", driver.RGBA8Unorm, 1)
	v := f.view(img, SubresourceRange{})
	g := NewFrameGraph(f.h, "disable")
	x1, fac := graphics()
	g.CreatePass("P1", fac).AddColor(Out, v)
	x2, fac := graphics()
	p2 := g.CreatePass("P2", fac)
	p2.AddColor(Out, v)
	p2.EnableIf(func() bool { return false })
	g.AddOutput(v, driver.LShaderRead)

	r := f.compile(g)
	if diff := cmp.Diff([]string{"P1", "P2"}, r.Schedule().Order()); diff != "" {
		t.Fatalf("Schedule.Order: mismatch (-want +have):\n%s", diff)
	}
	cb := f.record(r)
	want := []lt{{driver.LUndefined, driver.LColorTarget}, {driver.LColorTarget, driver.LShaderRead}}
	if diff := cmp.Diff(want, recorded(r, cb, img)); diff != "" {
		t.Fatalf("Runnable.Record: transitions mismatch (-want +have):\n%s", diff)
	}
	if len(x1.bodies) != 1 || len(x2.bodies) != 0 {
		t.Fatalf("PassRunnable.Record: calls\nhave %v, %v\nwant [0], []", x1.bodies, x2.bodies)
	}

	// The runnable's own predicate has the same effect.
	p2.EnableIf(nil)
	x2.disabled = true
	cb = f.record(r)
	if diff := cmp.Diff(want, recorded(r, cb, img)); diff != "" {
		t.Fatalf("Runnable.Record: transitions mismatch (-want +have):\n%s", diff)
	}
	if len(x2.bodies) != 0 {
		t.Fatalf("PassRunnable.Record: unexpected calls %v", x2.bodies)
	}

	// Enabled, the second write waits on the first.
	x2.disabled = false
	cb = f.record(r)
	want = []lt{
		{driver.LUndefined, driver.LColorTarget},
		{driver.LColorTarget, driver.LColorTarget},
		{driver.LColorTarget, driver.LShaderRead},
	}
	if diff := cmp.Diff(want, recorded(r, cb, img)); diff != "" {
		t.Fatalf("Runnable.Record: transitions mismatch (-want +have):\n%s", diff)
	}
}

func TestEnableNeutrality(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	img := f.image("color", driver.RGBA8Unorm, 1)
	v := f.view(img, SubresourceRange{})
	aux := f.view(f.image("aux", driver.RGBA8Unorm, 1), SubresourceRange{})
	g := NewFrameGraph(f.h, "neutral")
	_, fac := graphics()
	g.CreatePass("main", fac).AddColor(Out, v)
	x, fac := graphics()
	g.CreatePass("side", fac).AddColor(Out, aux)
	g.AddOutput(v, driver.LShaderRead)

	r := f.compile(g)
	enabled := recorded(r, f.record(r), img)
	x.disabled = true
	disabled := recorded(r, f.record(r), img)
	if diff := cmp.Diff(enabled, disabled); diff != "" {
		t.Fatalf("Runnable.Record: boundary trace changed (-enabled +disabled):\n%s", diff)
	}
}

func TestImplicitBlit(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	v1 := f.view(f.image("src", driver.RGBA8Unorm, 1), SubresourceRange{})
	img2 := f.image("dst", driver.RGBA8Unorm, 1)
	v2 := f.view(img2, SubresourceRange{})
	g := NewFrameGraph(f.h, "blit")
	_, fac := graphics()
	p := g.CreatePass("P", fac)
	p.AddColor(Out, v2)
	p.SetImplicitAction(v2, Action{Kind: ActionBlit, Src: v1, Filter: driver.FLinear})

	r := f.compile(g)
	in := r.Schedule().Node("P").Instances[0]
	var kinds []OpKind
	for _, op := range in.Ops {
		kinds = append(kinds, op.Kind)
	}
	if diff := cmp.Diff([]OpKind{OpBarrier, OpAction, OpBarrier, OpBody}, kinds); diff != "" {
		t.Fatalf("NodeInstance.Ops: mismatch (-want +have):\n%s", diff)
	}
	if in.Ops[1].Action != ActionBlit || in.Ops[1].View != v2 {
		t.Fatalf("NodeInstance.Ops[1]:\nhave %v %v\nwant %v %v", in.Ops[1].Action, in.Ops[1].View, ActionBlit, v2)
	}
	want := []lt{{driver.LUndefined, driver.LCopyDst}, {driver.LCopyDst, driver.LColorTarget}}
	if diff := cmp.Diff(want, layouts(r.Schedule().Trace(img2))); diff != "" {
		t.Fatalf("Schedule.Trace: mismatch (-want +have):\n%s", diff)
	}

	cb := f.record(r)
	var ops []string
	for _, c := range cb.Commands() {
		ops = append(ops, c.Op)
	}
	wantOps := []string{"Transition", "BeginBlit", "BlitImage", "EndBlit", "Transition"}
	if diff := cmp.Diff(wantOps, ops); diff != "" {
		t.Fatalf("Runnable.Record: commands mismatch (-want +have):\n%s", diff)
	}
}

func TestOrdering(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	g := NewFrameGraph(f.h, "order")
	names := []string{"e", "d", "c", "b", "a"}
	ps := make(map[string]*Pass)
	for _, n := range names {
		x := &testPass{kind: Compute}
		ps[n] = g.CreatePass(n, x.factory())
	}
	edges := [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}, {"d", "e"}, {"a", "e"}}
	for _, e := range edges {
		ps[e[1]].AddDependency(ps[e[0]])
	}
	s := f.compile(g).Schedule()
	pos := make(map[string]int)
	for i, n := range s.Order() {
		pos[n] = i
	}
	for _, e := range edges {
		if pos[e[0]] >= pos[e[1]] {
			t.Fatalf("Schedule.Order: %s must precede %s\nhave %v", e[0], e[1], s.Order())
		}
	}
	// Dependencies without resources get a barrier.
	for _, op := range s.Node("d").Instances[0].Ops {
		if op.Kind == OpBarrier && len(op.Barriers) == 1 {
			return
		}
	}
	t.Fatal("Schedule: missing execution barrier of d")
}

func TestDeterminism(t *testing.T) {
	build := func() string {
		f := newFixture(t, DefaultConfig())
		d := f.view(f.image("depth", driver.D24UnormS8Uint, 1), SubresourceRange{})
		c := f.view(f.image("color", driver.RGBA8Unorm, 1), SubresourceRange{})
		o := f.view(f.image("out", driver.RGBA8Unorm, 1), SubresourceRange{})
		g := NewFrameGraph(f.h, "det")
		_, fac := graphics()
		p := g.CreatePass("opaque", fac)
		p.AddDepthStencil(Out, d)
		p.AddColor(Out, c)
		_, fac = graphics()
		p = g.CreatePass("post", fac)
		p.AddSampled(c)
		p.AddDepth(In, d)
		p.AddColor(Out, o)
		g.AddOutput(o, driver.LPresent)
		return f.compile(g).Schedule().String()
	}
	if a, b := build(), build(); a != b {
		t.Fatalf("Schedule.String: differs between compiles:\n%s", cmp.Diff(a, b))
	}
}

func TestIdempotentRecord(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	v := f.view(f.image("color", driver.RGBA8Unorm, 1), SubresourceRange{})
	w := f.view(f.image("copy", driver.RGBA8Unorm, 1), SubresourceRange{})
	g := NewFrameGraph(f.h, "idem")
	_, fac := graphics()
	g.CreatePass("draw", fac).AddColor(Out, v)
	x := &testPass{kind: TransferWork}
	p := g.CreatePass("copy", x.factory())
	p.AddTransfer(In, v)
	p.AddTransfer(Out, w)
	g.AddOutput(w, driver.LShaderRead)

	r := f.compile(g)
	a := f.record(r).Lines()
	b := f.record(r).Lines()
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("Runnable.Record: differs when repeated (-first +second):\n%s", diff)
	}
}

func TestCompileErrors(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	v := f.view(f.image("color", driver.RGBA8Unorm, 1), SubresourceRange{})
	other := NewHandler()
	img, _ := other.InternImage(ImageDesc{Name: "alien", Format: driver.RGBA8Unorm, Size: driver.Dim3D{Width: 4}})
	alien, _ := other.InternView(img, ViewDesc{})

	g := NewFrameGraph(f.h, "errs")
	_, fac := graphics()
	a := g.CreatePass("a", fac)
	a.AddColor(Out, v)
	_, fac = graphics()
	b := g.CreatePass("b", fac)
	b.AddColor(InOut, v)
	a.AddDependency(b)
	_, err := g.Compile(f.ctx)
	if !IsKind(err, Cycle) {
		t.Fatalf("FrameGraph.Compile:\nhave %v\nwant %v", err, Cycle)
	}

	_, fac = graphics()
	dup := g.CreatePass("a", fac)
	dup.AddSampled(alien)
	_, err = g.Compile(f.ctx)
	for _, k := range [...]Kind{DuplicatePass, UnknownView} {
		if !IsKind(err, k) {
			t.Fatalf("FrameGraph.Compile:\nhave %v\nwant %v", err, k)
		}
	}
	if n := len(Errors(err)); n != 2 {
		t.Fatalf("FrameGraph.Compile: errors\nhave %d\nwant 2", n)
	}

	// The graph is left as it was, so it can be fixed.
	g.RemovePass(dup)
	b.deps = nil
	a.deps = nil
	b.AddDependency(a)
	r := f.compile(g)
	if diff := cmp.Diff([]string{"a", "b"}, r.Schedule().Order()); diff != "" {
		t.Fatalf("Schedule.Order: mismatch (-want +have):\n%s", diff)
	}
}

func TestRecordFailure(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	v := f.view(f.image("color", driver.RGBA8Unorm, 1), SubresourceRange{})
	g := NewFrameGraph(f.h, "fail")
	_, fac := graphics()
	g.CreatePass("p", fac).AddColor(Out, v)
	r := f.compile(g)

	if err := r.Run(); err != ErrNotRecorded {
		t.Fatalf("Runnable.Run:\nhave %v\nwant %v", err, ErrNotRecorded)
	}
	f.drv.SetFailure(func(op string) error {
		if op == "End" {
			return errFake
		}
		return nil
	})
	if err := r.Record(); !IsKind(err, BackendFailure) {
		t.Fatalf("Runnable.Record:\nhave %v\nwant %v", err, BackendFailure)
	}
	if err := r.Run(); err != ErrNotRecorded {
		t.Fatalf("Runnable.Run:\nhave %v\nwant %v", err, ErrNotRecorded)
	}
	f.drv.SetFailure(nil)
	want := f.record(r).Lines()
	if len(want) == 0 {
		t.Fatal("Runnable.Record: no commands")
	}
	if err := r.Run(); err != nil {
		t.Fatalf("Runnable.Run: unexpected error:\n%v", err)
	}
	if err := r.Wait(timeNever()); err != nil {
		t.Fatalf("Runnable.Wait: unexpected error:\n%v", err)
	}
	if r.Frame() != 1 {
		t.Fatalf("Runnable.Frame:\nhave %d\nwant 1", r.Frame())
	}
}

func TestStale(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	v := f.view(f.image("color", driver.RGBA8Unorm, 1), SubresourceRange{})
	g := NewFrameGraph(f.h, "stale")
	_, fac := graphics()
	g.CreatePass("p", fac).AddColor(Out, v)
	r1 := f.compile(g)
	f.record(r1)
	if err := r1.Run(); err != nil {
		t.Fatalf("Runnable.Run: unexpected error:\n%v", err)
	}
	r2 := f.compile(g)
	if !r1.IsStale() || r2.IsStale() {
		t.Fatalf("Runnable.IsStale:\nhave %t, %t\nwant true, false", r1.IsStale(), r2.IsStale())
	}
	if err := r1.Record(); err != ErrStale {
		t.Fatalf("Runnable.Record:\nhave %v\nwant %v", err, ErrStale)
	}
	if f.ctx.Runnable(g) != r2 {
		t.Fatal("Context.Runnable: not the latest runnable")
	}
	f.record(r2)
}

func TestDebugLabels(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DebugLabels = true
	cfg.MergeTransitions = false
	f := newFixture(t, cfg)
	v := f.view(f.image("color", driver.RGBA8Unorm, 1), SubresourceRange{})
	w := f.view(f.image("other", driver.RGBA8Unorm, 1), SubresourceRange{})
	g := NewFrameGraph(f.h, "labels")
	_, fac := graphics()
	p := g.CreatePass("p", fac)
	p.AddColor(Out, v)
	p.AddColor(Out, w)
	cb := f.record(f.compile(g))
	var ops []string
	for _, c := range cb.Commands() {
		ops = append(ops, c.String())
	}
	if ops[0] != "BeginLabel p" || ops[len(ops)-1] != "EndLabel" {
		t.Fatalf("Runnable.Record: labels\nhave %v", ops)
	}
	// One call per transition when not merged.
	n := 0
	for _, c := range cb.Commands() {
		if c.Op == "Transition" {
			if len(c.Transitions) != 1 {
				t.Fatalf("Runnable.Record: merged transitions\nhave %v", c)
			}
			n++
		}
	}
	if n != 2 {
		t.Fatalf("Runnable.Record: transition calls\nhave %d\nwant 2", n)
	}
}

func TestSignals(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	v := f.view(f.image("color", driver.RGBA8Unorm, 1), SubresourceRange{})
	g := NewFrameGraph(f.h, "signals")
	_, fac := graphics()
	g.CreatePass("p", fac).AddColor(Out, v)
	r := f.compile(g)

	var recorded, completed int
	c := r.OnRecorded.Connect(func(x *Runnable) {
		if x != r {
			t.Error("Runnable.OnRecorded: wrong runnable")
		}
		recorded++
	})
	r.OnCompleted.Connect(func(*Runnable) { completed++ })
	for range 2 {
		f.record(r)
		if err := r.Run(); err != nil {
			t.Fatalf("Runnable.Run: unexpected error:\n%v", err)
		}
	}
	if err := r.Wait(timeNever()); err != nil {
		t.Fatalf("Runnable.Wait: unexpected error:\n%v", err)
	}
	if recorded != 2 || completed != 2 {
		t.Fatalf("Runnable signals:\nhave %d, %d\nwant 2, 2", recorded, completed)
	}
	if !r.OnRecorded.Disconnect(c) {
		t.Fatal("signal.List.Disconnect: connection not found")
	}
	f.record(r)
	if recorded != 2 {
		t.Fatalf("Runnable.OnRecorded: emitted after Disconnect")
	}
}

func TestReadStages(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	img := f.image("color", driver.RGBA8Unorm, 1)
	v := f.view(img, SubresourceRange{})
	blur := f.view(f.image("blur", driver.RGBA8Unorm, 1), SubresourceRange{})
	lum := f.view(f.image("lum", driver.RGBA8Unorm, 1), SubresourceRange{})
	g := NewFrameGraph(f.h, "stages")
	_, fac := graphics()
	g.CreatePass("draw", fac).AddColor(Out, v)
	_, fac = graphics()
	p := g.CreatePass("blur", fac)
	p.AddSampled(v)
	p.AddColor(Out, blur)
	x := &testPass{kind: Compute}
	p = g.CreatePass("luminance", x.factory())
	p.AddSampled(v)
	p.AddStorage(Out, lum)

	r := f.compile(g)
	if diff := cmp.Diff([]string{"draw", "blur", "luminance"}, r.Schedule().Order()); diff != "" {
		t.Fatalf("Schedule.Order: mismatch (-want +have):\n%s", diff)
	}
	var pre []Transition
	for _, x := range r.Schedule().Node("luminance").Instances[0].Pre() {
		if x.Image == img {
			pre = append(pre, x)
		}
	}
	if len(pre) != 1 {
		t.Fatalf("NodeInstance.Pre: transitions of color\nhave %v\nwant one", pre)
	}
	// The compute read is made visible to its own stage.
	if x := pre[0]; x.Before.Layout != driver.LShaderRead || x.After.Layout != driver.LShaderRead ||
		x.Before.Stage != driver.SFragmentShading || x.After.Stage&driver.SComputeShading == 0 {
		t.Fatalf("NodeInstance.Pre: compute read\nhave %v", x)
	}

	cb := f.record(r)
	want := []lt{
		{driver.LUndefined, driver.LColorTarget},
		{driver.LColorTarget, driver.LShaderRead},
		{driver.LShaderRead, driver.LShaderRead},
	}
	if diff := cmp.Diff(want, recorded(r, cb, img)); diff != "" {
		t.Fatalf("Runnable.Record: transitions mismatch (-want +have):\n%s", diff)
	}
}

func TestRepeatedWrites(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	img := f.image("particles", driver.RGBA8Unorm, 1)
	v := f.view(img, SubresourceRange{})
	buf, err := f.h.InternBuffer(BufferDesc{Name: "counters", Size: 256})
	if err != nil {
		t.Fatalf("InternBuffer: unexpected error:\n%v", err)
	}
	g := NewFrameGraph(f.h, "waw")
	for _, n := range [...]string{"simulate", "integrate"} {
		x := &testPass{kind: Compute}
		p := g.CreatePass(n, x.factory())
		p.AddStorage(InOut, v)
		p.AddStorageBuffer(Out, buf, 0, 0, 0)
	}

	r := f.compile(g)
	s := r.Schedule()
	if bts := s.Node("simulate").Instances[0].BufferTransitions(); len(bts) != 0 {
		t.Fatalf("NodeInstance.BufferTransitions: first use\nhave %v\nwant none", bts)
	}
	in := s.Node("integrate").Instances[0]
	if diff := cmp.Diff([]lt{{driver.LCommon, driver.LCommon}}, layouts(in.Pre())); diff != "" {
		t.Fatalf("NodeInstance.Pre: mismatch (-want +have):\n%s", diff)
	}
	bts := in.BufferTransitions()
	if len(bts) != 1 || !bts[0].Before.Writes() || !bts[0].After.Writes() {
		t.Fatalf("NodeInstance.BufferTransitions:\nhave %v\nwant one write to write", bts)
	}

	cb := f.record(r)
	want := []lt{{driver.LUndefined, driver.LCommon}, {driver.LCommon, driver.LCommon}}
	if diff := cmp.Diff(want, recorded(r, cb, img)); diff != "" {
		t.Fatalf("Runnable.Record: transitions mismatch (-want +have):\n%s", diff)
	}
	n := 0
	for _, c := range cb.Commands() {
		for _, b := range c.Barriers {
			if b.AccessBefore&driver.AShaderWrite != 0 {
				n++
			}
		}
	}
	if n != 1 {
		t.Fatalf("Runnable.Record: buffer barriers\nhave %d\nwant 1", n)
	}
}

func TestWaitTimeout(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	v := f.view(f.image("shadow", driver.RGBA8Unorm, 1), SubresourceRange{})
	out := f.view(f.image("out", driver.RGBA8Unorm, 1), SubresourceRange{})
	ga := NewFrameGraph(f.h, "A")
	_, fac := graphics()
	ga.CreatePass("a", fac).AddColor(Out, v)
	ga.AddOutput(v, driver.LShaderRead)
	gb := NewFrameGraph(f.h, "B")
	gb.AddDependency(ga)
	gb.AddInput(v, driver.LShaderRead)
	_, fac = graphics()
	pb := gb.CreatePass("b", fac)
	pb.AddSampled(v)
	pb.AddColor(Out, out)

	f.compile(ga)
	rb := f.compile(gb)
	l := f.ctx.links[link{ga, gb}]
	if l == nil {
		t.Fatal("Context.links: missing A -> B")
	}
	// B's work waits on a semaphore that nothing has
	// signaled yet.
	l.pending = true
	f.record(rb)
	if err := rb.Run(); err != nil {
		t.Fatalf("Runnable.Run: unexpected error:\n%v", err)
	}
	if err := rb.Wait(time.Now()); !IsKind(err, TimedOut) {
		t.Fatalf("Runnable.Wait:\nhave %v\nwant %v", err, TimedOut)
	}

	cb, err := f.drv.NewCmdBuffer()
	if err != nil {
		t.Fatalf("NewCmdBuffer: unexpected error:\n%v", err)
	}
	if err := cb.Begin(); err != nil {
		t.Fatalf("CmdBuffer.Begin: unexpected error:\n%v", err)
	}
	if err := cb.End(); err != nil {
		t.Fatalf("CmdBuffer.End: unexpected error:\n%v", err)
	}
	ch := make(chan *driver.WorkItem, 1)
	if err := f.drv.Commit(&driver.WorkItem{Work: []driver.CmdBuffer{cb}, Signal: []driver.Semaphore{l.sem}}, ch); err != nil {
		t.Fatalf("GPU.Commit: unexpected error:\n%v", err)
	}
	<-ch

	// The timeout left rb usable.
	if err := rb.Wait(timeNever()); err != nil {
		t.Fatalf("Runnable.Wait: unexpected error:\n%v", err)
	}
	f.record(rb)
	if err := rb.Run(); err != nil {
		t.Fatalf("Runnable.Run: unexpected error:\n%v", err)
	}
	if err := rb.Wait(timeNever()); err != nil {
		t.Fatalf("Runnable.Wait: unexpected error:\n%v", err)
	}
	if rb.Frame() != 2 {
		t.Fatalf("Runnable.Frame:\nhave %d\nwant 2", rb.Frame())
	}
}
