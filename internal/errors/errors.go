// Package errors classifies data-layer failures into coded application errors.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a record was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a unique constraint violation.
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates a check or not-null violation.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInternal indicates any other database failure.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates the context deadline passed.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the context was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
)

// AppError carries a code, a safe message and an optional cause.
// It supports errors.Is and errors.As through Unwrap.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	// Field names the offending column when known.
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Wrap wraps err with an AppError, preserving the cause. A nil err yields nil.
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field of an AppError, or empty string.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool { return GetCode(err) == ErrCodeNotFound }

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool { return GetCode(err) == ErrCodeConflict }

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool { return GetCode(err) == ErrCodeValidation }
