// Package apperr defines the error taxonomy shared by the store, the ingest
// service and the HTTP surface.
package apperr

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeInternal        Code = "INTERNAL"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeUnavailable     Code = "UNAVAILABLE"
)

// HTTPStatus maps the code to the status written by the REST handlers.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error type.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Caller-facing message
	Field   string // Offending input field, set for validation errors
	Cause   error  // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// InvalidField reports a rejected input field.
func InvalidField(field, message string) *Error {
	return &Error{Code: CodeInvalidArgument, Message: message, Field: field}
}

// Sentinels for errors.Is comparisons; only the code is compared.
var (
	ErrInvalidArgument = New(CodeInvalidArgument, "invalid argument")
	ErrUnauthenticated = New(CodeUnauthenticated, "unauthenticated")
	ErrForbidden       = New(CodeForbidden, "forbidden")
	ErrNotFound        = New(CodeNotFound, "not found")
	ErrConflict        = New(CodeConflict, "conflict")
	ErrUnavailable     = New(CodeUnavailable, "unavailable")
)

// CodeOf extracts the code from err, returning CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// As returns the domain error in err's chain, if any.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
