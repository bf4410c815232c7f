// Package errors provides the typed error taxonomy used across pipewright.
// Every failure surfaced to an operator carries a category code, a
// user-facing message, and the raw underlying error; the step sequencer
// decides retry and halt behavior from the code, never from message text.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application error with a taxonomy code and an
// associated HTTP status code.
type AppError struct {
	// Code is the taxonomy code for programmatic handling
	Code string
	// Message is a user-friendly error message
	Message string
	// StatusCode is the HTTP status code to return
	StatusCode int
	// Cause is the underlying error (for error wrapping)
	Cause error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for error unwrapping.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is to work with AppError by comparing codes.
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok {
		return e.Code != "" && e.Code == t.Code
	}
	return false
}

// Taxonomy codes. Validation never reaches provisioning; Transient is
// retryable without operator action; Permission needs propagation or an IAM
// fix; Conflict and NotFound need operator intervention; Timeout means a
// bounded wait was exhausted (inconclusive, not necessarily broken).
const (
	ErrCodeValidation = "VALIDATION_FAILED"
	ErrCodeTransient  = "TRANSIENT"
	ErrCodePermission = "PERMISSION_DENIED"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeTimeout    = "TIMEOUT"
	ErrCodeUnexpected = "INTERNAL_ERROR"
)

// ErrValidation creates a validation error (400).
func ErrValidation(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, StatusCode: http.StatusBadRequest, Cause: cause}
}

// ErrTransient creates a transient error (503). The caller may retry
// immediately without operator action.
func ErrTransient(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeTransient, Message: message, StatusCode: http.StatusServiceUnavailable, Cause: cause}
}

// ErrPermission creates a permission error (403). Callers should wait for
// IAM propagation and retry, or escalate to the operator.
func ErrPermission(message string, cause error) *AppError {
	return &AppError{Code: ErrCodePermission, Message: message, StatusCode: http.StatusForbidden, Cause: cause}
}

// ErrConflict creates a conflict error (409). An existing resource is
// incompatible with the requested configuration; fatal to the current run.
func ErrConflict(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message, StatusCode: http.StatusConflict, Cause: cause}
}

// ErrNotFound creates a not found error (404).
func ErrNotFound(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message, StatusCode: http.StatusNotFound, Cause: cause}
}

// ErrTimeout creates a timeout error (504). A bounded wait was exhausted.
func ErrTimeout(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeTimeout, Message: message, StatusCode: http.StatusGatewayTimeout, Cause: cause}
}

// ErrInternal creates an internal error (500). Always surfaced verbatim.
func ErrInternal(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeUnexpected, Message: message, StatusCode: http.StatusInternalServerError, Cause: cause}
}

// GetStatusCode extracts the HTTP status code from an error.
// Returns 500 if the error is not an AppError.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// GetErrorCode extracts the taxonomy code from an error.
// Returns ErrCodeUnexpected if the error is not an AppError, so that
// unclassified failures are never silently treated as benign.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeUnexpected
}

// GetErrorMessage extracts a user-friendly message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// GetErrorDetails extracts detailed error information including the
// underlying cause.
func GetErrorDetails(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Cause != nil {
			return appErr.Cause.Error()
		}
		return appErr.Message
	}
	return err.Error()
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code string) bool {
	return GetErrorCode(err) == code
}

// IsRetryable reports whether the caller may retry without operator action:
// transient failures immediately, permission failures after a propagation
// wait.
func IsRetryable(err error) bool {
	code := GetErrorCode(err)
	return code == ErrCodeTransient || code == ErrCodePermission
}
