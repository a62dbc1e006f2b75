// Package errors provides structured error types for the dbcp session pool.
// All errors are designed to be safe to return to clients without exposing
// internal implementation details such as DSNs or driver messages.
//
// This package provides:
//   - Sentinel errors for the pool's failure taxonomy
//   - Error codes for response categorization
//   - Error wrapping with context preservation
//   - Safe error messages that don't leak credentials
package errors

import (
	"errors"
	"fmt"
)

// Error codes for categorizing errors. The ranges mirror the JSON-RPC 2.0
// layout: protocol-level codes first, application codes in -32000..-32099.
const (
	// Request-level error codes
	CodeInvalidRequest = -32600 // Malformed request
	CodeInvalidParams  = -32602 // Invalid parameters
	CodeInternal       = -32603 // Internal error

	// Application-specific error codes (-32000 to -32099)
	CodeAuthRequired  = -32001 // Authentication required
	CodeRateLimited   = -32004 // Rate limit exceeded
	CodeTimeout       = -32005 // Acquire deadline elapsed
	CodeUnavailable   = -32007 // No session could be provided
	CodeConfiguration = -32008 // Invalid configuration
	CodeConnection    = -32009 // Backend connection failed
	CodeClosed        = -32010 // Pool shutting down or closed
	CodeStatement     = -32011 // Statement execution failed
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates authentication is required.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrUnavailable indicates no resource could be provided.
	ErrUnavailable = errors.New("unavailable")

	// ErrRateLimited indicates a rate limit was exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrClosed indicates a resource is closed or closing.
	ErrClosed = errors.New("closed")

	// ErrNotOpen indicates a resource has not been started.
	ErrNotOpen = errors.New("not open")

	// ErrAlreadyOpen indicates a resource was already started.
	ErrAlreadyOpen = errors.New("already open")

	// ErrInvalidState indicates an invalid state transition.
	ErrInvalidState = errors.New("invalid state")

	// ErrConnection indicates the backend could not be reached.
	ErrConnection = errors.New("connection error")

	// ErrStatement indicates a statement failed on the backend.
	ErrStatement = errors.New("statement failed")

	// ErrInternal indicates an internal error.
	ErrInternal = errors.New("internal error")

	// ErrConfiguration indicates a configuration error.
	ErrConfiguration = errors.New("configuration error")

	// ErrCircuitOpen indicates the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Config errors
var (
	// ErrConfigMissingField indicates a required key was absent or empty.
	ErrConfigMissingField = fmt.Errorf("config: missing required field: %w", ErrConfiguration)

	// ErrConfigSizeBounds indicates minSize/maxSize are inconsistent.
	ErrConfigSizeBounds = fmt.Errorf("config: invalid size bounds: %w", ErrConfiguration)
)

// Error is a structured error with a code and safe message.
// It implements the error interface and provides methods for
// error handling and response generation.
type Error struct {
	// Code is the error code for categorization
	Code int `json:"code"`
	// Message is a safe, user-facing error message
	Message string `json:"message"`
	// Err is the underlying error (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// SafeMessage returns a client-safe error message without internal details.
func (e *Error) SafeMessage() string {
	return e.Message
}

// New creates a new structured error with the given code and message.
// The message should be safe to return to clients.
func New(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and safe message.
// The original error is preserved for debugging but not exposed to clients.
func Wrap(code int, message string, err error) *Error {
	if err != nil {
		log.WithField("code", code).WithError(err).Debug("wrapping error")
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WrapInternal wraps an internal error with a generic message.
// Use this when the original error contains sensitive information.
func WrapInternal(err error) *Error {
	if err != nil {
		log.WithError(err).Debug("wrapping internal error")
	}
	return &Error{
		Code:    CodeInternal,
		Message: "internal error",
		Err:     err,
	}
}

// FromSentinel creates a structured error from an error chain.
// The code is derived from the first matching sentinel; the message is the
// sentinel's text, so driver details never reach the client.
func FromSentinel(err error) *Error {
	if err == nil {
		return nil
	}

	var se *Error
	if errors.As(err, &se) {
		return se
	}

	code, msg := classify(err)
	return &Error{
		Code:    code,
		Message: msg,
		Err:     err,
	}
}

// classify maps sentinel errors to a code and safe message.
// Order matters: a timeout is also unavailable, and the more specific
// condition wins.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrClosed):
		return CodeClosed, "shutdown in progress"
	case errors.Is(err, ErrTimeout):
		return CodeTimeout, ErrTimeout.Error()
	case errors.Is(err, ErrCircuitOpen):
		return CodeUnavailable, ErrCircuitOpen.Error()
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable, ErrUnavailable.Error()
	case errors.Is(err, ErrConnection):
		return CodeConnection, ErrConnection.Error()
	case errors.Is(err, ErrStatement):
		return CodeStatement, ErrStatement.Error()
	case errors.Is(err, ErrUnauthorized):
		return CodeAuthRequired, ErrUnauthorized.Error()
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited, ErrRateLimited.Error()
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration, ErrConfiguration.Error()
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidParams, ErrInvalidInput.Error()
	default:
		return CodeInternal, ErrInternal.Error()
	}
}

// IsTimeout returns true if the error indicates a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsUnavailable returns true if the error indicates no resource was available.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsClosed returns true if the error indicates a resource is closed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// IsConfiguration returns true if the error indicates invalid configuration.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsInvalidInput returns true if the error indicates invalid input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
