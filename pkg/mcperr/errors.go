// Package mcperr defines the proxy's error taxonomy: a small set of failure
// kinds shared across every component, so callers can branch on class of
// failure (config, transport, protocol, ...) without depending on a
// component's internal error types.
package mcperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by the subsystem that produced it.
type Kind string

const (
	KindConfig     Kind = "config"
	KindTransport  Kind = "transport"
	KindProtocol   Kind = "protocol"
	KindPool       Kind = "pool"
	KindLifecycle  Kind = "lifecycle"
	KindCapture    Kind = "capture"
	KindStorage    Kind = "storage"
	KindValidation Kind = "validation"
)

// Error is the proxy's common error type. It wraps a cause with a Kind and,
// for protocol-level failures, an optional JSON-RPC error code.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Code    int
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds an Error wrapping cause, preserving its chain for errors.Is/As.
func Wrap(kind Kind, op string, cause error, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// WithCode attaches a JSON-RPC error code to a protocol-kind Error.
func (e *Error) WithCode(code int) *Error {
	e.Code = code
	return e
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
