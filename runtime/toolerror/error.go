// Package toolerror provides the structured error taxonomy shared by the
// tool index, episodic memory, and session subsystems. CoreError preserves
// message and causal context while still implementing the standard error
// interface, and supports errors.Is/As through Unwrap.
package toolerror

import (
	"errors"
	"fmt"
)

// Kind classifies a CoreError for caller-side branching and propagation
// policy decisions.
type Kind string

const (
	// Validation marks malformed input: bad tool-name shape, dimension
	// mismatch, invalid scope, out-of-range thresholds.
	Validation Kind = "validation"
	// NotFound marks a reference to an unknown table, episode, or session.
	NotFound Kind = "not_found"
	// Conflict marks backpressure or an already-initialized resource.
	Conflict Kind = "conflict"
	// Transient marks I/O failures that are logged and retried while the
	// in-memory state remains authoritative.
	Transient Kind = "transient"
	// Fatal marks failures that halt the affected subsystem, such as a
	// strict-startup snapshot load failure.
	Fatal Kind = "fatal"
)

// CoreError represents a structured failure that preserves message, kind,
// and causal context while still implementing the standard error interface.
type CoreError struct {
	// Kind classifies the failure for propagation-policy decisions.
	Kind Kind
	// Message is the human-readable summary of the failure.
	Message string
	// Cause links to the underlying error, enabling error chains via Unwrap.
	Cause error
}

// New constructs a CoreError of the given kind with the provided message.
func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Wrap constructs a CoreError of the given kind that wraps an underlying
// error, preserving the chain for errors.Is/As.
func Wrap(kind Kind, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Cause: cause}
}

// Errorf formats according to a format specifier and returns a CoreError of
// the given kind.
func Errorf(kind Kind, format string, args ...any) *CoreError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		if e.Message == "" {
			return e.Cause.Error()
		}
		return fmt.Sprintf("%s: %s", e.Message, e.Cause.Error())
	}
	return e.Message
}

// Unwrap returns the underlying cause to support errors.Is/As.
func (e *CoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether err is a CoreError of the given kind, unwrapping chains
// of CoreError as needed.
func Is(err error, kind Kind) bool {
	var ce *CoreError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == kind
}
