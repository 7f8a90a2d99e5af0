package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input, caller bug
	ErrCatNotFound   ErrorCategory = "not_found"  // Referenced entity does not exist
	ErrCatGuard      ErrorCategory = "guard"      // Cycle budget exhausted, route to escalation
	ErrCatTransient  ErrorCategory = "transient"  // External collaborator failure, retryable
	ErrCatStorage    ErrorCategory = "storage"    // Transaction failure, fatal to the operation
	ErrCatTelemetry  ErrorCategory = "telemetry"  // Event bus write failure, best effort
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// ErrNotFound creates a not-found error for a missing entity.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrGuardFailed creates a guard error for an exhausted cycle budget.
func ErrGuardFailed(trigger string, count, max int) *DomainError {
	return &DomainError{
		Category:  ErrCatGuard,
		Code:      CodeCycleLimit,
		Message:   fmt.Sprintf("cannot fire %s: cycle budget exhausted (%d/%d)", trigger, count, max),
		Retryable: false,
	}
}

// ErrTransient creates a retryable external-collaborator error.
func ErrTransient(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTransient,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrStorage creates a storage error.
func ErrStorage(message string, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatStorage,
		Code:      "STORAGE_FAILED",
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeSprintNotFound    = "SPRINT_NOT_FOUND"
	CodeEpicNotFound      = "EPIC_NOT_FOUND"
	CodeIssueNotFound     = "ISSUE_NOT_FOUND"
	CodeInvalidStatus     = "INVALID_STATUS"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeCycleLimit        = "CYCLE_LIMIT_EXCEEDED"
	CodeAgentFailed       = "AGENT_FAILED"
	CodeChecksFailed      = "CHECKS_FAILED"
	CodeGHUnavailable     = "GH_UNAVAILABLE"
	CodeRateLimited       = "RATE_LIMITED"
)
