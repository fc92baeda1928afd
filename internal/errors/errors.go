// Package errors provides coded application errors shared by the workflow
// service layers. Handlers map codes onto HTTP statuses; services attach
// structured details so callers can render specific guidance (which rule
// blocked a submission, why a transition was refused, and so on).
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies an application error.
type ErrorCode string

const (
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodePolicyBlocked     ErrorCode = "POLICY_BLOCKED"
	ErrCodeBadSnapshot       ErrorCode = "BAD_SNAPSHOT"
	ErrCodeInternal          ErrorCode = "INTERNAL"
)

// Error is a coded application error with optional structured details.
type Error struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// WithDetail attaches one structured detail and returns the error for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a coded error.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return New(ErrCodeNotFound, fmt.Sprintf("%s %q not found", resource, id)).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

// InvalidInput reports a request validation failure on a named field.
func InvalidInput(field, message string) *Error {
	return New(ErrCodeInvalidInput, message).WithDetail("field", field)
}

// Unauthorized reports a refused action for a capability reason.
func Unauthorized(message string) *Error {
	return New(ErrCodeUnauthorized, message)
}

// Conflict reports an optimistic-concurrency or state conflict. Callers
// should reload and retry.
func Conflict(message string) *Error {
	return New(ErrCodeConflict, message)
}

// InvalidTransition reports a transition not present in the lifecycle table
// for the document's current state.
func InvalidTransition(from, requested string) *Error {
	return New(ErrCodeInvalidTransition,
		fmt.Sprintf("transition to %s is not legal from state %s", requested, from)).
		WithDetail("from_state", from).
		WithDetail("requested", requested)
}

// BadSnapshot reports a document snapshot missing a structurally required
// field. This is fatal: the calling operation aborts before any state change.
func BadSnapshot(field string) *Error {
	return New(ErrCodeBadSnapshot,
		fmt.Sprintf("document snapshot is missing required field %q", field)).
		WithDetail("field", field)
}

// CodeOf extracts the ErrorCode from err, or ErrCodeInternal for plain errors.
func CodeOf(err error) ErrorCode {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// AsError returns the *Error inside err, or nil.
func AsError(err error) *Error {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error code onto an HTTP status.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusForbidden
	case ErrCodeConflict, ErrCodeInvalidTransition:
		return http.StatusConflict
	case ErrCodePolicyBlocked, ErrCodeBadSnapshot:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
