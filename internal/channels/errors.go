package channels

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies a transport failure. Codes double as metric labels.
type ErrorCode string

const (
	// ErrCodeConnection indicates network or connection-related failures
	ErrCodeConnection ErrorCode = "connection"

	// ErrCodeAuthentication indicates a rejected or revoked token
	ErrCodeAuthentication ErrorCode = "auth"

	// ErrCodeRateLimit indicates the platform or the local throttle refused the send
	ErrCodeRateLimit ErrorCode = "rate_limited"

	// ErrCodeInvalidInput indicates a malformed chat or user id
	ErrCodeInvalidInput ErrorCode = "invalid_input"

	// ErrCodeNotFound indicates an unknown chat or member
	ErrCodeNotFound ErrorCode = "not_found"

	ErrCodeConfig   ErrorCode = "config"
	ErrCodeInternal ErrorCode = "internal"
)

// Error is a classified transport error.
type Error struct {
	Code    ErrorCode
	Channel string
	Message string
	Err     error
}

func (e *Error) Error() string {
	prefix := string(e.Code)
	if e.Channel != "" {
		prefix = e.Channel + ": " + prefix
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(channel string, code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Channel: channel, Message: message, Err: err}
}

// IsRetryable returns true if the error represents a transient failure
// that may succeed on retry.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case ErrCodeRateLimit, ErrCodeConnection:
		return true
	default:
		return false
	}
}

// GetErrorCode extracts the ErrorCode from err. Context errors map to
// connection; anything else unclassified is internal.
func GetErrorCode(err error) ErrorCode {
	var chErr *Error
	if errors.As(err, &chErr) {
		return chErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrCodeConnection
	}
	return ErrCodeInternal
}

// IsRetryable reports whether err is a retryable channel Error.
func IsRetryable(err error) bool {
	var chErr *Error
	if errors.As(err, &chErr) {
		return chErr.IsRetryable()
	}
	return false
}
