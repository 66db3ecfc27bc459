// Package errors defines the application error type shared by the
// relay and the transport services. Every error carries a stable code
// and, for errors surfaced over a websocket, the close code the peer
// should see.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// Websocket close codes used when an AppError terminates a socket.
const (
	ClosePolicy    = 1008
	CloseInternal  = 1011
	CloseRateLimit = 1013
)

// AppError represents an application error with code and context
type AppError struct {
	Code      ErrorCode
	Message   string
	CloseCode int
	Cause     error
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCause attaches the underlying error.
func (e *AppError) WithCause(err error) *AppError {
	clone := *e
	clone.Cause = err
	return &clone
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, closeCode int) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		CloseCode: closeCode,
	}
}

// Common error constructors

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, ClosePolicy)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, ClosePolicy)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeForbidden, message, ClosePolicy)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, resource+" not found", ClosePolicy)
}

func NewRateLimitError(message string) *AppError {
	return NewAppError(ErrCodeRateLimit, message, CloseRateLimit)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, CloseInternal)
}

// AsAppError extracts an AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CloseCodeFor returns the websocket close code for err, defaulting to
// an internal error for plain errors.
func CloseCodeFor(err error) int {
	if appErr, ok := AsAppError(err); ok && appErr.CloseCode != 0 {
		return appErr.CloseCode
	}
	return CloseInternal
}
