// Package errors provides structured error types for the fanoutlab system.
// All errors include a category, code, message, and retryable flag so that
// read boundaries can decide whether to skip, surface, or retry a failure.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryTrace      ErrorCategory = "TRACE"
	ErrCategoryBroker     ErrorCategory = "BROKER"
	ErrCategoryReplay     ErrorCategory = "REPLAY"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes shared across categories.
const (
	CodeNotFound       = "NOT_FOUND"
	CodeMalformed      = "MALFORMED"
	CodeTransient      = "TRANSIENT"
	CodeInvalidRequest = "INVALID_REQUEST"

	// Broker codes
	CodeQueueNotFound  = "QUEUE_NOT_FOUND"
	CodeReceiptInvalid = "RECEIPT_INVALID"

	// Replay codes
	CodeSessionNotFound = "SESSION_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Error is the structured error type used throughout the system.
type Error struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category ErrorCategory, code, message string) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an *Error.
func GetCategory(err error) ErrorCategory {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an *Error.
func GetCode(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsNotFound reports whether any error in the chain carries a not-found code.
func IsNotFound(err error) bool {
	switch GetCode(err) {
	case CodeNotFound, CodeQueueNotFound, CodeSessionNotFound:
		return true
	}
	return false
}

// IsMalformed reports whether the error chain carries CodeMalformed.
func IsMalformed(err error) bool {
	return GetCode(err) == CodeMalformed
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeTransient:
		return true
	case category == ErrCategoryBroker && code == CodeTransient:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(message string) *Error {
	return New(ErrCategoryValidation, CodeInvalidRequest, message)
}

func NewNotFound(category ErrorCategory, message string) *Error {
	return New(category, CodeNotFound, message)
}

func NewMalformed(category ErrorCategory, message string, cause error) *Error {
	return Wrap(category, CodeMalformed, message, cause)
}

func NewTransient(category ErrorCategory, message string, cause error) *Error {
	return Wrap(category, CodeTransient, message, cause)
}

func NewInternalError(message string, cause error) *Error {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
