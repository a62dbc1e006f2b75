// Package validation provides input validators for statements submitted
// over HTTP and for listen addresses in configuration. Every validator
// returns nil on success and an error that is safe to return to clients:
// it names the field and the broken constraint, never the value.
package validation

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"unicode/utf8"

	apperrors "github.com/go-i2p/dbcp/lib/errors"
)

// Sentinel errors. All of them match errors.ErrInvalidInput.
var (
	// ErrRequired indicates a required field is missing or empty.
	ErrRequired = fmt.Errorf("field is required: %w", apperrors.ErrInvalidInput)

	// ErrTooLong indicates a string exceeds the maximum length.
	ErrTooLong = fmt.Errorf("value exceeds maximum length: %w", apperrors.ErrInvalidInput)

	// ErrInvalidFormat indicates a value doesn't match the expected format.
	ErrInvalidFormat = fmt.Errorf("invalid format: %w", apperrors.ErrInvalidInput)

	// ErrOutOfRange indicates a numeric value is outside the allowed range.
	ErrOutOfRange = fmt.Errorf("value out of range: %w", apperrors.ErrInvalidInput)

	// ErrUnsupportedType indicates a statement parameter the drivers cannot bind.
	ErrUnsupportedType = fmt.Errorf("unsupported parameter type: %w", apperrors.ErrInvalidInput)
)

const (
	// MaxStatementLength is the maximum statement length in bytes.
	MaxStatementLength = 64 << 10

	// MaxParams is the maximum number of bind parameters per statement.
	MaxParams = 1000

	// MaxParamLength is the maximum length of a single string parameter in bytes.
	MaxParamLength = 1 << 20
)

// Result represents a validation failure with field context.
type Result struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (r *Result) Error() string {
	if r.Field != "" {
		return fmt.Sprintf("%s: %s", r.Field, r.Message)
	}
	return r.Message
}

// Unwrap returns the underlying error for errors.Is() support.
func (r *Result) Unwrap() error {
	return r.Err
}

// NewResult creates a validation result.
func NewResult(field, message string, err error) *Result {
	return &Result{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// Required validates that a string is non-empty.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewResult(field, "is required", ErrRequired)
	}
	return nil
}

// MaxBytes validates that a string is at most max bytes long.
func MaxBytes(field, value string, max int) error {
	if len(value) > max {
		return NewResult(field, fmt.Sprintf("exceeds maximum length of %d bytes", max), ErrTooLong)
	}
	return nil
}

// IntRange validates that an integer is within the given range (inclusive).
func IntRange(field string, value, min, max int) error {
	if value < min || value > max {
		return NewResult(field, fmt.Sprintf("must be between %d and %d", min, max), ErrOutOfRange)
	}
	return nil
}

// Port validates a network port number.
func Port(field string, value int) error {
	return IntRange(field, value, 1, 65535)
}

// HostPort validates a host:port address. The port may be 0 to let the
// kernel pick one.
func HostPort(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}
	if _, _, err := net.SplitHostPort(value); err != nil {
		return NewResult(field, "must be in host:port format", ErrInvalidFormat)
	}
	return nil
}

// Statement validates SQL text: non-blank, valid UTF-8, bounded and free
// of NUL bytes.
func Statement(field, sql string) error {
	if err := Required(field, sql); err != nil {
		return err
	}
	if err := MaxBytes(field, sql, MaxStatementLength); err != nil {
		return err
	}
	if !utf8.ValidString(sql) {
		return NewResult(field, "must be valid UTF-8", ErrInvalidFormat)
	}
	if strings.IndexByte(sql, 0) >= 0 {
		return NewResult(field, "must not contain NUL bytes", ErrInvalidFormat)
	}
	return nil
}

// Params validates bind parameters decoded from JSON. Only scalars are
// accepted: nil, bool, float64, string and integers from Go callers.
func Params(field string, params []any) error {
	if len(params) > MaxParams {
		return NewResult(field, fmt.Sprintf("at most %d parameters are allowed", MaxParams), ErrOutOfRange)
	}
	for i, p := range params {
		name := fmt.Sprintf("%s[%d]", field, i)
		switch v := p.(type) {
		case nil, bool, float64, int, int64:
		case string:
			if err := MaxBytes(name, v, MaxParamLength); err != nil {
				return err
			}
		default:
			return NewResult(name, "must be a string, number, boolean or null", ErrUnsupportedType)
		}
	}
	return nil
}

// All runs multiple validation functions and returns the first error.
func All(validators ...func() error) error {
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

// Errors collects multiple validation errors.
type Errors []error

// Add appends an error to the collection (nil errors are ignored).
func (e *Errors) Add(err error) {
	if err != nil {
		*e = append(*e, err)
	}
}

// HasErrors returns true if any errors were collected.
func (e Errors) HasErrors() bool {
	return len(e) > 0
}

// Error returns all errors as a single error message.
func (e Errors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	b.WriteString("multiple validation errors: ")
	for i, err := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap exposes the collected errors to errors.Is.
func (e Errors) Unwrap() []error {
	return e
}

// First returns the first error, or nil if none.
func (e Errors) First() error {
	if len(e) == 0 {
		return nil
	}
	return e[0]
}

// IsValidationError reports whether err came from this package.
func IsValidationError(err error) bool {
	var r *Result
	return errors.As(err, &r)
}
