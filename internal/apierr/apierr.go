// Package apierr defines the typed error taxonomy every core service
// returns. A transport layer (not part of this module) maps Kind to a
// status code; the core never depends on that mapping.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is one of the seven error classes the core surfaces.
type Kind string

const (
	NotFound          Kind = "NOT_FOUND"
	Unauthorized       Kind = "UNAUTHORIZED"
	Forbidden          Kind = "FORBIDDEN"
	BadRequest         Kind = "BAD_REQUEST"
	Conflict           Kind = "CONFLICT"
	TooManyRequests    Kind = "TOO_MANY_REQUESTS"
	InternalServerError Kind = "INTERNAL_SERVER_ERROR"
)

// Error is the concrete error type every service method returns.
type Error struct {
	Kind    Kind
	Message string
	// Err is the underlying cause, if any; never shown to callers.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func Unauthorizedf(format string, args ...any) *Error {
	return New(Unauthorized, fmt.Sprintf(format, args...))
}

func Forbiddenf(format string, args ...any) *Error {
	return New(Forbidden, fmt.Sprintf(format, args...))
}

func BadRequestf(format string, args ...any) *Error {
	return New(BadRequest, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) *Error {
	return New(Conflict, fmt.Sprintf(format, args...))
}

func TooManyRequestsf(format string, args ...any) *Error {
	return New(TooManyRequests, fmt.Sprintf(format, args...))
}

func Internal(err error) *Error {
	return Wrap(InternalServerError, "internal error", err)
}
