// Package errors carries the typed errors services return and the HTTP
// surface each code maps to.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// CodeDuplicateOpenCard reports a concurrent insert that hit the
	// one-open-card-per-contact-and-pipeline constraint.
	CodeDuplicateOpenCard Code = "DUPLICATE_OPEN_CARD"
)

// Metadata describes how a code surfaces over HTTP. ExposeMessage lets the
// error's own message replace PublicMessage in responses.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	ExposeMessage  bool
}

type trait uint8

const (
	retryable trait = 1 << iota
	withDetails
	exposed
)

func describe(status int, public string, traits trait) Metadata {
	return Metadata{
		HTTPStatus:     status,
		PublicMessage:  public,
		Retryable:      traits&retryable != 0,
		DetailsAllowed: traits&withDetails != 0,
		ExposeMessage:  traits&exposed != 0,
	}
}

var catalog = map[Code]Metadata{
	CodeValidation:        describe(http.StatusBadRequest, "validation failed", withDetails|exposed),
	CodeUnauthorized:      describe(http.StatusUnauthorized, "authentication required", exposed),
	CodeForbidden:         describe(http.StatusForbidden, "access denied", exposed),
	CodeNotFound:          describe(http.StatusNotFound, "resource not found", exposed),
	CodeConflict:          describe(http.StatusConflict, "conflict detected", withDetails|exposed),
	CodeDuplicateOpenCard: describe(http.StatusConflict, "an open card already exists for this contact", withDetails|exposed),
	CodeStateConflict:     describe(http.StatusUnprocessableEntity, "state transition disallowed", withDetails|exposed),
	CodeIdempotency:       describe(http.StatusConflict, "idempotency key reused", withDetails|exposed),
	CodeRateLimit:         describe(http.StatusTooManyRequests, "rate limit exceeded", withDetails|exposed),
	CodeInternal:          describe(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:        describe(http.StatusServiceUnavailable, "dependency unavailable", retryable|withDetails),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := catalog[code]; ok {
		return meta
	}
	return catalog[CodeInternal]
}

// Public resolves err for an HTTP response. Untyped errors become
// CodeInternal so driver messages never reach callers.
func Public(err error) (*Error, Metadata, string) {
	typed := As(err)
	if typed == nil {
		typed = Wrap(CodeInternal, err, "unexpected error")
	}
	meta := MetadataFor(typed.code)
	if meta.ExposeMessage && typed.message != "" {
		return typed, meta, typed.message
	}
	return typed, meta, meta.PublicMessage
}

// Retryable reports whether a caller may repeat the operation that produced
// err. Untyped errors count as internal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	_, meta, _ := Public(err)
	return meta.Retryable
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches cause to a new typed error. A nil cause yields New.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{code: code, message: message, cause: cause}
}

// Code is CodeInternal on a nil receiver, like the other accessors' zero
// values.
func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets details in place and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches a target *Error with the same code and no message, so
// New(CodeNotFound, "") works as a sentinel with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && t.message == "" && t.code == e.code
}

// IsCode reports whether the first typed error in err's chain has code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
