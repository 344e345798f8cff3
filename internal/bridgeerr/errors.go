// Package bridgeerr defines the typed error kinds used across the bridge
// so that every boundary (webhook handler, CLI entrypoint, container
// supervisor) can map an internal failure to a user-safe message without
// leaking implementation details.
package bridgeerr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies a bridge error for boundary-level handling.
type Kind string

const (
	Validation   Kind = "validation"
	NotFound     Kind = "not_found"
	Transport    Kind = "transport"
	Timeout      Kind = "timeout"
	Unauthorized Kind = "unauthorized"
	RateLimited  Kind = "rate_limited"
	Conflict     Kind = "conflict"
	Internal     Kind = "internal"
)

// Error is a typed, wrapped bridge error carrying a user-safe message and a
// reference id suitable for correlating chat-visible errors with logs.
type Error struct {
	Kind    Kind
	Message string
	Ref     string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a Kind-tagged error with a fresh reference id.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Ref: newRef()}
}

// Wrap tags an underlying error with a Kind, a user-safe message, and a
// reference id. The underlying error's text never reaches the chat surface;
// only the Ref and Message do (see §7 propagation policy).
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause, Ref: newRef()}
}

func newRef() string {
	return uuid.NewString()[:8]
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to Internal for untyped errors.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return Internal
}

// UserMessage renders a user-safe message plus its reference id, never the
// underlying cause text.
func UserMessage(err error) string {
	var be *Error
	if errors.As(err, &be) {
		return fmt.Sprintf("%s (ref: %s)", be.Message, be.Ref)
	}
	return "internal error"
}
