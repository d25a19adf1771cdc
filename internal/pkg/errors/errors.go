// Package errors provides the bridge's coded error type and helpers.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Error codes.
const (
	// Caller / configuration errors.
	CodeValidation = "VALIDATION_ERROR"

	// Telemetry source errors.
	CodeConnect   = "CONNECT_ERROR"
	CodeReconnect = "RECONNECT_ERROR"
	CodeProtocol  = "PROTOCOL_ERROR"

	// Transport errors.
	CodePublish = "PUBLISH_ERROR"

	// Generic failures.
	CodeUnavailable = "SERVICE_UNAVAILABLE"
	CodeTimeout     = "TIMEOUT"
	CodeInternal    = "INTERNAL_ERROR"
)

// AppError represents an application error with code and details.
type AppError struct {
	Code    string
	Message string
	Details map[string]string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is expected to clear on its own.
// Connect failures are not: a source that was never reachable is fatal.
func (e *AppError) Retryable() bool {
	switch e.Code {
	case CodeReconnect, CodePublish, CodeUnavailable, CodeTimeout:
		return true
	default:
		return false
	}
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Convenience constructors.

// ValidationError creates a validation error.
func ValidationError(message string) *AppError {
	return New(CodeValidation, message)
}

// ConnectError reports that the initial connection to the telemetry source failed.
func ConnectError(address string, err error) *AppError {
	return Wrap(CodeConnect, fmt.Sprintf("failed to connect to NetworkTables at address %s", address), err).
		WithDetail("address", address)
}

// ReconnectError reports a failed reconnect attempt to an already established source.
func ReconnectError(address string, err error) *AppError {
	return Wrap(CodeReconnect, fmt.Sprintf("reconnect to %s failed", address), err).
		WithDetail("address", address)
}

// ProtocolError reports a malformed or unexpected message from the source.
func ProtocolError(message string) *AppError {
	return New(CodeProtocol, message)
}

// PublishError reports a failed publish for a single topic.
func PublishError(topic string, err error) *AppError {
	return Wrap(CodePublish, fmt.Sprintf("failed to publish %s", topic), err).
		WithDetail("topic", topic)
}

// TimeoutError creates a timeout error for a specific operation.
func TimeoutError(operation string) *AppError {
	message := "operation timed out"
	if operation != "" {
		message = fmt.Sprintf("%s timed out", operation)
	}
	return New(CodeTimeout, message)
}

// ServiceUnavailableError creates a service unavailable error.
func ServiceUnavailableError(service string) *AppError {
	message := "service unavailable"
	if service != "" {
		message = fmt.Sprintf("%s is unavailable", service)
	}
	return New(CodeUnavailable, message)
}

// HasCode reports whether any AppError in err's chain carries code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsValidation checks if error is a validation error.
func IsValidation(err error) bool {
	return HasCode(err, CodeValidation)
}

// IsRetryable reports whether err is an AppError that may clear on retry.
func IsRetryable(err error) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Retryable()
	}
	return false
}
