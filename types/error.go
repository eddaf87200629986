package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the closed taxonomy of faults reported to the host.
type ErrorKind string

const (
	KindProtocol           ErrorKind = "ProtocolError"
	KindDispatch           ErrorKind = "DispatchError"
	KindCompilation        ErrorKind = "CompilationError"
	KindUnsupportedRuntime ErrorKind = "UnsupportedRuntimeError"
	KindExecution          ErrorKind = "ExecutionError"
	KindTimeout            ErrorKind = "TimeoutError"

	// KindInternal is only produced at the dispatcher boundary when an
	// unanticipated fault is downgraded to a generic failure.
	KindInternal ErrorKind = "InternalError"
)

// Error is a structured fault with a kind, a host-visible message and a
// detail that stays inside the enclave.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Detail  string    `json:"-"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WireMessage is the text placed in Response.ErrorMessage.
func (e *Error) WireMessage() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ParseWireMessage rebuilds an Error from a Response.ErrorMessage. Messages
// without a known kind prefix become InternalError.
func ParseWireMessage(msg string) *Error {
	kind, text, ok := strings.Cut(msg, ": ")
	if ok {
		switch k := ErrorKind(kind); k {
		case KindProtocol, KindDispatch, KindCompilation, KindUnsupportedRuntime,
			KindExecution, KindTimeout, KindInternal:
			return NewError(k, text)
		}
	}
	return NewError(KindInternal, msg)
}

// NewError creates a new Error with the given kind and message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDetail attaches a stack or trace that is logged but never sent.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// AsError extracts a *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// WrapError converts any error into a *Error, keeping an existing kind and
// falling back to the given one.
func WrapError(err error, fallback ErrorKind) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return NewError(fallback, err.Error()).WithCause(err)
}
