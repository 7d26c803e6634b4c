// Package errors provides the error taxonomy shared by VoiceRelay components.
//
// ContextualError captures which component failed, what it was doing, and the
// underlying cause. Each error also carries a Kind that tells the session how
// to react:
//
//   - KindTransport: a stream closed or failed; the owning session terminates.
//   - KindTimeout: a bounded wait expired; the current turn is aborted.
//   - KindDecode: a single malformed message; it is dropped and the stream continues.
//   - KindConfiguration: missing credential or endpoint; fatal at process start.
//
// Usage:
//
//	err := errors.Transport("stt", "Receive", cause)
//	if errors.Is(err, errors.ErrTransport) { ... }
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Kind classifies an error by the reaction it requires.
type Kind string

// Error kinds.
const (
	KindUnknown       Kind = ""
	KindTransport     Kind = "transport"
	KindTimeout       Kind = "timeout"
	KindDecode        Kind = "decode"
	KindConfiguration Kind = "configuration"
)

// Sentinel errors matched by errors.Is against a ContextualError of the same kind.
var (
	ErrTransport     = stderrors.New("transport error")
	ErrTimeout       = stderrors.New("timeout")
	ErrDecode        = stderrors.New("decode error")
	ErrConfiguration = stderrors.New("configuration error")
)

var kindSentinels = map[Kind]error{
	KindTransport:     ErrTransport,
	KindTimeout:       ErrTimeout,
	KindDecode:        ErrDecode,
	KindConfiguration: ErrConfiguration,
}

// ContextualError is a structured error type that records where and why an
// error occurred.
type ContextualError struct {
	// Component identifies the module that produced the error (e.g. "telephony", "stt", "tts").
	Component string

	// Operation describes what was being done when the error occurred.
	Operation string

	// Kind classifies the error for session handling.
	Kind Kind

	// StatusCode is an optional HTTP or application-level status code.
	StatusCode int

	// Details holds optional structured metadata about the error.
	Details map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

// New creates a ContextualError with the given component, operation, and cause.
func New(component, operation string, cause error) *ContextualError {
	return &ContextualError{
		Component: component,
		Operation: operation,
		Cause:     cause,
	}
}

// Transport creates a KindTransport error.
func Transport(component, operation string, cause error) *ContextualError {
	return New(component, operation, cause).WithKind(KindTransport)
}

// Timeout creates a KindTimeout error.
func Timeout(component, operation string, cause error) *ContextualError {
	return New(component, operation, cause).WithKind(KindTimeout)
}

// Decode creates a KindDecode error.
func Decode(component, operation string, cause error) *ContextualError {
	return New(component, operation, cause).WithKind(KindDecode)
}

// Configuration creates a KindConfiguration error.
func Configuration(component, operation string, cause error) *ContextualError {
	return New(component, operation, cause).WithKind(KindConfiguration)
}

// Error returns a human-readable representation of the error.
func (e *ContextualError) Error() string {
	base := fmt.Sprintf("[%s] %s", e.Component, e.Operation)

	if e.Kind != KindUnknown {
		base += " " + string(e.Kind)
	}

	if e.StatusCode != 0 {
		base += fmt.Sprintf(" (status %d)", e.StatusCode)
	}

	if e.Cause != nil {
		base += ": " + e.Cause.Error()
	}

	return base
}

// Unwrap returns the underlying cause, enabling use with errors.Is and errors.As.
func (e *ContextualError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel for this error's kind.
func (e *ContextualError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// WithKind sets the error kind and returns the error.
func (e *ContextualError) WithKind(kind Kind) *ContextualError {
	e.Kind = kind
	return e
}

// WithStatusCode sets the status code and returns the error.
func (e *ContextualError) WithStatusCode(code int) *ContextualError {
	e.StatusCode = code
	return e
}

// WithDetails sets the details map and returns the error.
func (e *ContextualError) WithDetails(details map[string]any) *ContextualError {
	e.Details = details
	return e
}

// KindOf returns the kind of the first ContextualError in err's chain, or
// KindUnknown. context.DeadlineExceeded anywhere in the chain reports
// KindTimeout.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ce *ContextualError
	if stderrors.As(err, &ce) && ce.Kind != KindUnknown {
		return ce.Kind
	}
	for kind, sentinel := range kindSentinels {
		if stderrors.Is(err, sentinel) {
			return kind
		}
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}
