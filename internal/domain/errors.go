package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the offer engine can surface to a caller.
type ErrorKind string

const (
	KindNotFound             ErrorKind = "not_found"
	KindForbidden            ErrorKind = "forbidden"
	KindInvalidState         ErrorKind = "invalid_state"
	KindInvalidOperation     ErrorKind = "invalid_operation"
	KindInsufficientCapacity ErrorKind = "insufficient_capacity"
	KindRateLimited          ErrorKind = "rate_limited"
	KindNotYetAvailable      ErrorKind = "not_yet_available"
	KindConflict             ErrorKind = "conflict"
)

// Error is a domain failure with enough detail for the caller to know why the
// operation was rejected.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func ErrNotFound(format string, args ...interface{}) *Error {
	return newError(KindNotFound, format, args...)
}

func ErrForbidden(format string, args ...interface{}) *Error {
	return newError(KindForbidden, format, args...)
}

func ErrInvalidState(format string, args ...interface{}) *Error {
	return newError(KindInvalidState, format, args...)
}

func ErrInvalidOperation(format string, args ...interface{}) *Error {
	return newError(KindInvalidOperation, format, args...)
}

func ErrInsufficientCapacity(format string, args ...interface{}) *Error {
	return newError(KindInsufficientCapacity, format, args...)
}

func ErrRateLimited(format string, args ...interface{}) *Error {
	return newError(KindRateLimited, format, args...)
}

func ErrNotYetAvailable(format string, args ...interface{}) *Error {
	return newError(KindNotYetAvailable, format, args...)
}

func ErrConflict(format string, args ...interface{}) *Error {
	return newError(KindConflict, format, args...)
}

// KindOf extracts the error kind, or "" for non-domain errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
