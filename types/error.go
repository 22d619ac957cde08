package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across memflow.
type ErrorCode string

// Store and retrieval error codes.
const (
	ErrStoreUnavailable  ErrorCode = "STORE_UNAVAILABLE"
	ErrDimensionMismatch ErrorCode = "DIMENSION_MISMATCH"
	ErrItemNotFound      ErrorCode = "ITEM_NOT_FOUND"
)

// Inference error codes.
const (
	ErrInferenceTimeout     ErrorCode = "INFERENCE_TIMEOUT"
	ErrInferenceUnavailable ErrorCode = "INFERENCE_UNAVAILABLE"
)

// Event and consolidation error codes.
const (
	ErrEventPublishFailure  ErrorCode = "EVENT_PUBLISH_FAILURE"
	ErrConsolidationFailure ErrorCode = "CONSOLIDATION_FAILURE"
)

// Request-level error codes.
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Error is a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, walking the wrap
// chain. Returns "" for plain errors.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// StoreUnavailable wraps err as a transient, tier-local store failure.
func StoreUnavailable(op string, cause error) *Error {
	return NewError(ErrStoreUnavailable, op).WithCause(cause).WithRetryable(true)
}
