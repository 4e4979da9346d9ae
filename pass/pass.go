// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package pass implements common pass runnables.
// Each constructor returns a framegraph.Factory.
package pass

import (
	"github.com/gviegas/framegraph"
	"github.com/gviegas/framegraph/driver"
)

// RecordFunc records commands for instance passIndex of
// a pass.
type RecordFunc func(rc *framegraph.RecordContext, cb driver.CmdBuffer, passIndex int) error

// Base implements the bookkeeping methods of
// framegraph.PassRunnable.
type Base struct {
	state   framegraph.PipelineState
	index   int
	rotate  bool
	enabled func() bool
	pl      driver.Pipeline
}

// Option configures a pass runnable.
type Option func(*Base)

// Rotate makes the runnable record the next instance of
// its pass on every record.
func Rotate() Option { return func(b *Base) { b.rotate = true } }

// Instance sets the instance recorded first.
func Instance(i int) Option { return func(b *Base) { b.index = i } }

// Stages narrows the shader stages of the pipeline.
func Stages(s driver.Sync) Option { return func(b *Base) { b.state.Stages = s } }

// EnabledBy sets a predicate that enables the body.
func EnabledBy(f func() bool) Option { return func(b *Base) { b.enabled = f } }

func newBase(k framegraph.PipelineKind, opts []Option) Base {
	b := Base{state: framegraph.PipelineState{Kind: k}}
	for _, o := range opts {
		o(&b)
	}
	return b
}

// Initialise implements framegraph.PassRunnable.
func (b *Base) Initialise() error { return nil }

// PipelineState implements framegraph.PassRunnable.
func (b *Base) PipelineState() framegraph.PipelineState { return b.state }

// PassIndex implements framegraph.PassRunnable.
func (b *Base) PassIndex() int { return b.index }

// IsEnabled implements framegraph.PassRunnable.
func (b *Base) IsEnabled() bool { return b.enabled == nil || b.enabled() }

func (b *Base) advance() {
	if b.rotate {
		b.index++
	}
}

// Destroy destroys the pipeline created by the runnable,
// if any. Runnables call it when they are released.
func (b *Base) Destroy() {
	if b.pl != nil {
		b.pl.Destroy()
		b.pl = nil
	}
}

// Func is a pass runnable that calls a function.
type Func struct {
	Base
	f RecordFunc
}

// NewFunc returns a factory of Func runnables of the
// given kind. A nil f records nothing.
func NewFunc(k framegraph.PipelineKind, f RecordFunc, opts ...Option) framegraph.Factory {
	return func(*framegraph.Pass, *framegraph.Context) (framegraph.PassRunnable, error) {
		return &Func{Base: newBase(k, opts), f: f}, nil
	}
}

// Record implements framegraph.PassRunnable.
func (x *Func) Record(rc *framegraph.RecordContext, cb driver.CmdBuffer, passIndex int) error {
	defer x.advance()
	if x.f == nil {
		return nil
	}
	return x.f(rc, cb, passIndex)
}

// attachmentErr reports a pass whose attachments do not
// fit its runnable.
func attachmentErr(p *framegraph.Pass, msg string) error {
	return &framegraph.GraphError{Kind: framegraph.IncompatibleAttachment, Loc: p.Name(), Msg: msg}
}

// transfers returns the image attachments of p of kind
// Transfer with direction d.
func transfers(p *framegraph.Pass, d framegraph.Dir) []*framegraph.Attachment {
	var as []*framegraph.Attachment
	for _, a := range p.Attachments() {
		if a.Kind == framegraph.Transfer && a.Dir == d {
			as = append(as, a)
		}
	}
	return as
}
