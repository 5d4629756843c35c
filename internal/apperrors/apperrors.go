// Package apperrors defines the error-kind taxonomy shared across the
// AccessManager, event buffer, persister and router packages (spec §7).
// Kinds are sentinel values tested with errors.Is/errors.As, not a class
// hierarchy — callers that need the offending element or HTTP status map
// can type-assert to the concrete *Error.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds named in spec.md §7.
type Kind string

const (
	KindElementNotFound      Kind = "ElementNotFound"
	KindElementAlreadyExists Kind = "ElementAlreadyExists"
	KindCircularReference    Kind = "CircularReference"
	KindInvalidParameter     Kind = "InvalidParameter"
	KindInvalidEvent         Kind = "InvalidEvent"
	KindPersistentStorageEmpty Kind = "PersistentStorageEmpty"
	KindPersistenceFailure   Kind = "PersistenceFailure"
	KindRedistributionFailure Kind = "RedistributionFailure"
	KindServiceUnavailable   Kind = "ServiceUnavailable"
)

// Error is the concrete error type carrying a Kind plus context.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, apperrors.New(KindElementNotFound, "")) to match
// any *Error sharing the same Kind, regardless of Message/Err.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New builds an *Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// HTTPStatus maps a Kind to the status code spec.md §7 assigns it.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindElementNotFound, KindElementAlreadyExists, KindCircularReference, KindInvalidParameter, KindInvalidEvent:
		return 400
	case KindPersistentStorageEmpty:
		return 503
	case KindPersistenceFailure, KindServiceUnavailable:
		return 503
	case KindRedistributionFailure:
		return 500
	default:
		return 500
	}
}
