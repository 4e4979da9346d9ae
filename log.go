// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package framegraph

import (
	"log/slog"

	"github.com/gviegas/framegraph/internal/xlog"
)

var logger xlog.Logger

// SetLogger sets the logger used by the package.
// Compilation summaries are logged at Debug level,
// runnable lifecycle at Info and recoverable problems
// at Warn. Passing nil disables logging, which is the
// default.
// It is safe for concurrent use.
func SetLogger(l *slog.Logger) { logger.Set(l) }

// Logger returns the current logger.
func Logger() *slog.Logger { return logger.Get() }
