package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrAuth       = errors.New("authentication failed")
	ErrNotFound   = errors.New("not found")
	ErrTransient  = errors.New("transient dependency failure")
)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// ValidationError is returned for malformed payloads or intake requests.
// It matches ErrValidation with errors.Is.
type ValidationError struct {
	Errors []FieldError
}

func NewValidationError(errs ...FieldError) *ValidationError {
	return &ValidationError{Errors: errs}
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Error())
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Fields groups messages by field name.
func (e *ValidationError) Fields() map[string][]string {
	out := make(map[string][]string, len(e.Errors))
	for _, fe := range e.Errors {
		out[fe.Field] = append(out[fe.Field], fe.Msg)
	}
	return out
}

// AuthError is returned when a webhook or proxy signature does not verify.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return ErrAuth.Error() + ": " + e.Reason }

func (e *AuthError) Unwrap() error { return ErrAuth }

// Transient marks err as a dependency failure that a later restock signal retries.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
