// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package framegraph

import (
	"errors"
	"strings"

	"go.uber.org/multierr"
)

// Kind is the kind of a GraphError.
type Kind int

// Error kinds.
const (
	// A dependency cycle was found among passes.
	Cycle Kind = iota + 1
	// A declared layout conflicts with the actual state.
	LayoutMismatch
	// Two passes of a graph share a name.
	DuplicatePass
	// A pass is not part of the graph.
	UnknownPass
	// A view is not known to the graph's handler or
	// is not used where it is declared.
	UnknownView
	// Attachment classes conflict on a subresource.
	IncompatibleAttachment
	// A view lies outside its image.
	OutOfRange
	// The driver returned an error.
	BackendFailure
	// A wait exceeded its deadline.
	TimedOut
)

var kindNames = [...]string{
	Cycle:                  "cycle",
	LayoutMismatch:         "layout mismatch",
	DuplicatePass:          "duplicate pass",
	UnknownPass:            "unknown pass",
	UnknownView:            "unknown view",
	IncompatibleAttachment: "incompatible attachment",
	OutOfRange:             "out of range",
	BackendFailure:         "backend failure",
	TimedOut:               "timed out",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k > 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown error"
}

// GraphError is the error type of the framegraph package.
type GraphError struct {
	Kind Kind
	Msg  string
	// Loc identifies where the error happened, such as
	// a graph or pass name. It may be empty.
	Loc string
	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *GraphError) Error() string {
	var sb strings.Builder
	sb.WriteString("framegraph: ")
	if e.Loc != "" {
		sb.WriteString(e.Loc)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.String())
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *GraphError) Unwrap() error { return e.Err }

func newErr(k Kind, loc, msg string) *GraphError {
	return &GraphError{Kind: k, Msg: msg, Loc: loc}
}

// IsKind returns whether err is, contains or wraps a
// GraphError of kind k. Errors aggregated during
// compilation are inspected individually.
func IsKind(err error, k Kind) bool {
	for _, e := range multierr.Errors(err) {
		var ge *GraphError
		if errors.As(e, &ge) && ge.Kind == k {
			return true
		}
	}
	return false
}

// Errors splits an aggregated error into the individual
// errors it contains.
func Errors(err error) []error { return multierr.Errors(err) }
