package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used across all layers.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
	ErrValidation    = errors.New("validation error")
)

// ConflictReason distinguishes the ways a workflow operation can conflict.
type ConflictReason string

const (
	ConflictDuplicateActiveCase ConflictReason = "duplicate_active_case"
	ConflictTerminalState       ConflictReason = "terminal_state"
	ConflictVersionMismatch     ConflictReason = "version_mismatch"
	ConflictConcurrentUpdate    ConflictReason = "concurrent_modification"
	ConflictDuplicateCustomer   ConflictReason = "duplicate_customer"
)

// ConflictError is returned when an operation is rejected because of the
// current state of the case book.
type ConflictError struct {
	Reason  ConflictReason
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Message)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewConflict creates a ConflictError.
func NewConflict(reason ConflictReason, format string, args ...any) *ConflictError {
	return &ConflictError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// IsConflictReason reports whether err is a ConflictError with the given reason.
func IsConflictReason(err error, reason ConflictReason) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Reason == reason
}

// FieldError describes a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError contains a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation: %s: %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	return fmt.Sprintf("validation: %d errors", len(e.Errors))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Errors: []FieldError{{Field: field, Message: message}},
	}
}

// NewValidationErrors creates a ValidationError from multiple field errors.
func NewValidationErrors(errs []FieldError) *ValidationError {
	return &ValidationError{Errors: errs}
}
