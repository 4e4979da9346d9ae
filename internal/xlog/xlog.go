// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package xlog provides the replaceable loggers used
// across the module.
package xlog

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// discard drops every record.
type discard struct{}

func (discard) Enabled(context.Context, slog.Level) bool  { return false }
func (discard) Handle(context.Context, slog.Record) error { return nil }
func (discard) WithAttrs([]slog.Attr) slog.Handler        { return discard{} }
func (discard) WithGroup(string) slog.Handler             { return discard{} }

// Nop is a logger that discards everything.
var Nop = slog.New(discard{})

// Logger holds a *slog.Logger that can be replaced
// concurrently. The zero value logs nothing.
type Logger struct {
	p atomic.Pointer[slog.Logger]
}

// Set replaces the logger. nil restores Nop.
func (l *Logger) Set(x *slog.Logger) {
	if x == nil {
		x = Nop
	}
	l.p.Store(x)
}

// Get returns the current logger.
func (l *Logger) Get() *slog.Logger {
	if x := l.p.Load(); x != nil {
		return x
	}
	return Nop
}
