// Package services holds the shared service-layer error vocabulary and the
// notification and job-interaction services built on it.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrUnauthorized is returned when the requester is not authenticated
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the requester is outside its scope
	ErrForbidden = errors.New("forbidden")

	// ErrParseFailed is returned when a structured LLM response cannot be
	// parsed by any configured strategy
	ErrParseFailed = errors.New("response parse failed")

	// ErrCodeGenerationFailed is returned when every auto-debug attempt is
	// exhausted; it steers a job into the dead queue
	ErrCodeGenerationFailed = errors.New("code generation failed")

	// ErrBudgetExceeded is returned when a pipeline sub-agent reports cost
	// over its cap
	ErrBudgetExceeded = errors.New("budget exceeded")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CodeGenerationError carries the detail string surfaced to HTTP callers as
// "Code generation failed: …". It wraps ErrCodeGenerationFailed so boundary
// code can branch with errors.Is.
type CodeGenerationError struct {
	Detail string
}

func (e *CodeGenerationError) Error() string {
	return fmt.Sprintf("Code generation failed: %s", e.Detail)
}

func (e *CodeGenerationError) Unwrap() error {
	return ErrCodeGenerationFailed
}

// NewCodeGenerationError creates a code generation error with detail
func NewCodeGenerationError(detail string) error {
	return &CodeGenerationError{Detail: detail}
}
