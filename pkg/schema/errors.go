package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeStore             = "STORE_ERROR"
)

// AutomationError is the structured error type used across the engine.
// The Code decides whether the dispatcher stops on the error or hands it
// back to the transport for a retry.
type AutomationError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *AutomationError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AutomationError) Unwrap() error {
	return e.Cause
}

// IsDomain reports whether the error is an expected, user-facing failure
// (bad definitions, missing referenced entities, conflicts, cycles).
// Domain errors fail the step and run but are never retried.
func (e *AutomationError) IsDomain() bool {
	switch e.Code {
	case ErrCodeValidation, ErrCodeNotFound, ErrCodeConflict, ErrCodeCycleDetected, ErrCodeCancelled:
		return true
	default:
		return false
	}
}

// NewError creates a new AutomationError.
func NewError(code, message string) *AutomationError {
	return &AutomationError{Code: code, Message: message}
}

// NewErrorf creates a new AutomationError with a formatted message.
func NewErrorf(code, format string, args ...any) *AutomationError {
	return &AutomationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *AutomationError) WithStep(stepID string) *AutomationError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *AutomationError) WithCause(err error) *AutomationError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *AutomationError) WithDetails(details map[string]any) *AutomationError {
	e.Details = details
	return e
}

// IsDomainError reports whether err wraps a domain AutomationError.
func IsDomainError(err error) bool {
	var ae *AutomationError
	if errors.As(err, &ae) {
		return ae.IsDomain()
	}
	return false
}

// HasCode reports whether err wraps an AutomationError with the given code.
func HasCode(err error, code string) bool {
	var ae *AutomationError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// UserMessage returns the message shown to users on a failed run or step.
// Internal causes are never included.
func UserMessage(err error) string {
	var ae *AutomationError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}
