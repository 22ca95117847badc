package spp

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a session failure. The set is exhaustive: every
// provider failure that does not map onto a specific kind is reported as
// KindRuntime with the provider's diagnostic text preserved.
type ErrorKind string

const (
	KindPermissionDenied ErrorKind = "permission_denied"
	KindDeviceNotFound   ErrorKind = "device_not_found"
	KindDeviceNotPairing ErrorKind = "device_not_pairing"
	KindServiceNotFound  ErrorKind = "service_not_found"
	KindNotConnected     ErrorKind = "not_connected"
	KindTimedOut         ErrorKind = "timed_out"
	KindRuntime          ErrorKind = "runtime_error"
)

// Error is the session error type carried end-to-end, from the capability
// provider through the connect pipeline to the caller.
type Error struct {
	Kind    ErrorKind
	Timeout time.Duration // set for KindTimedOut
	Cause   error         // underlying provider error, may be nil
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case KindPermissionDenied:
		return "permission denied"
	case KindDeviceNotFound:
		return "device not found"
	case KindDeviceNotPairing:
		return "device not pairing"
	case KindServiceNotFound:
		return "service not found"
	case KindNotConnected:
		return "not connected"
	case KindTimedOut:
		return fmt.Sprintf("timed out after %v", e.Timeout)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("runtime error: %v", e.Cause)
		}
		return "runtime error"
	}
}

// Unwrap exposes the provider's original error to errors.Is/As chains.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors, one per kind. Use with errors.Is:
//
//	if errors.Is(err, spp.ErrDeviceNotFound) { ... }
var (
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrDeviceNotFound   = &Error{Kind: KindDeviceNotFound}
	ErrDeviceNotPairing = &Error{Kind: KindDeviceNotPairing}
	ErrServiceNotFound  = &Error{Kind: KindServiceNotFound}
	ErrNotConnected     = &Error{Kind: KindNotConnected}
	ErrTimedOut         = &Error{Kind: KindTimedOut}
	ErrRuntime          = &Error{Kind: KindRuntime}
)

// classify maps a stage-local provider failure onto the taxonomy.
// An error that is already an *Error keeps its classification; anything else
// becomes the stage's kind with the provider diagnostic attached as the cause,
// so the underlying text is never discarded.
func classify(err error, kind ErrorKind) *Error {
	var serr *Error
	if errors.As(err, &serr) {
		return serr
	}
	return &Error{Kind: kind, Cause: err}
}

// wrapRuntime wraps an unclassified provider failure as a runtime error.
func wrapRuntime(err error) *Error {
	return classify(err, KindRuntime)
}

// timedOut builds the timeout failure for the given budget.
func timedOut(d time.Duration) *Error {
	return &Error{Kind: KindTimedOut, Timeout: d}
}

// KindOf returns the ErrorKind of err, or "" if err is not a session Error.
func KindOf(err error) ErrorKind {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return ""
}
