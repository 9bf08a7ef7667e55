package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidPolicy    = errors.New("invalid policy")
	ErrAccountNotFound  = errors.New("account not found")
	ErrCapabilityDenied = errors.New("capability denied")
	ErrInternalError    = errors.New("internal error")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeParse      ErrorType = "parse"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeInternal   ErrorType = "internal"
)

// ConfigError is a structured error for loading and validating configuration
// such as policy tables.
type ConfigError struct {
	Type      ErrorType
	Op        string // Operation that failed (e.g., "load_policy", "parse_policy")
	Source    string // File path or other origin of the configuration
	Field     string // Offending field, if known
	Err       error  // Underlying error
	Timestamp time.Time
}

func (e *ConfigError) Error() string {
	switch {
	case e.Source != "" && e.Field != "":
		return fmt.Sprintf("%s failed for %s (%s): %v", e.Op, e.Source, e.Field, e.Err)
	case e.Source != "":
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Source, e.Err)
	case e.Field != "":
		return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Field, e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *ConfigError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	case ErrInvalidPolicy:
		return e.Type == ErrorTypeParse || e.Type == ErrorTypeValidation
	case ErrInvalidInput:
		return e.Type == ErrorTypeValidation
	}

	return errors.Is(e.Err, target)
}

// NewConfigError creates a new ConfigError
func NewConfigError(errorType ErrorType, op, source string, err error) *ConfigError {
	return &ConfigError{
		Type:      errorType,
		Op:        op,
		Source:    source,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// WithField records the offending field.
func (e *ConfigError) WithField(field string) *ConfigError {
	e.Field = field
	return e
}

// WrapIOError wraps a read/open failure with context
func WrapIOError(op, source string, err error) error {
	errorType := ErrorTypeIO
	if errors.Is(err, ErrNotFound) {
		errorType = ErrorTypeNotFound
	}
	return NewConfigError(errorType, op, source, err)
}

// WrapParseError wraps a decode failure with context
func WrapParseError(op, source string, err error) error {
	return NewConfigError(ErrorTypeParse, op, source, err)
}

// WrapValidationError wraps a semantic validation failure with context
func WrapValidationError(op, source, field string, err error) error {
	return NewConfigError(ErrorTypeValidation, op, source, err).WithField(field)
}

// IsPolicyError checks if an error means a policy table was rejected
func IsPolicyError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInvalidPolicy)
}

// IsNotFound checks if an error is a not-found error of any kind
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrAccountNotFound)
}
