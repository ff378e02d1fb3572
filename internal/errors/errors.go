// Package errors provides structured error handling for Scribe.
//
// Every error carries a Kind that drives the propagation policy: transient
// errors are retried, timeouts degrade to fallbacks where the pipeline
// allows it, integrity errors mark the ingesting document failed, and
// everything else surfaces sanitized at the boundary.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for handling policy.
type Kind string

const (
	// KindValidation indicates bad input. Safe to surface verbatim.
	KindValidation Kind = "VALIDATION"
	// KindNotFound indicates an unknown document or collection id.
	KindNotFound Kind = "NOT_FOUND"
	// KindConflict indicates duplicate names or lock contention timeouts.
	KindConflict Kind = "CONFLICT"
	// KindTransient indicates network errors, 429s and 5xx responses.
	// Retried with backoff.
	KindTransient Kind = "TRANSIENT"
	// KindTimeout indicates a cancellation or deadline fired.
	KindTimeout Kind = "TIMEOUT"
	// KindUpstream indicates a non-retryable 4xx from a gateway.
	KindUpstream Kind = "UPSTREAM"
	// KindIntegrity indicates dimension/count mismatches or empty parses.
	// Fatal for the current ingest.
	KindIntegrity Kind = "INTEGRITY"
	// KindInternal indicates an unexpected error.
	KindInternal Kind = "INTERNAL"
)

// Error is the structured error type for Scribe.
type Error struct {
	// Kind is the error classification.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind so errors.Is works across wrap layers.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new structured error.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Newf creates a new structured error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a structured error from an existing error, keeping its
// message. Returns nil when err is nil.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: err.Error(), Cause: err}
}

// Validation creates a validation error.
func Validation(message string) *Error {
	return New(KindValidation, message, nil)
}

// NotFound creates a not-found error.
func NotFound(message string) *Error {
	return New(KindNotFound, message, nil)
}

// Conflict creates a conflict error.
func Conflict(message string) *Error {
	return New(KindConflict, message, nil)
}

// Transient creates a retryable error.
func Transient(message string, cause error) *Error {
	return New(KindTransient, message, cause)
}

// Timeout creates a timeout error.
func Timeout(message string, cause error) *Error {
	return New(KindTimeout, message, cause)
}

// Upstream creates a non-retryable gateway error.
func Upstream(message string, cause error) *Error {
	return New(KindUpstream, message, cause)
}

// Integrity creates an ingest-fatal integrity error.
func Integrity(message string) *Error {
	return New(KindIntegrity, message, nil)
}

// Internal creates an internal error.
func Internal(message string, cause error) *Error {
	return New(KindInternal, message, cause)
}

// KindOf extracts the kind from an error chain.
// Returns KindInternal for unclassified errors, empty string for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsKind reports whether any error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}

// IsRetryable reports whether the error should be retried with backoff.
// Transient errors always retry; anything else propagates immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == KindTransient
	}
	return RetryableMessage(err.Error())
}
