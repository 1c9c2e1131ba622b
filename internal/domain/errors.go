package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUserNotFound indicates the id does not resolve to a record.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken indicates a duplicate of the unique email field.
	ErrEmailTaken = errors.New("email already in use")
	// ErrInvalidCredentials covers both unknown email and wrong secret,
	// so a caller cannot probe which accounts exist.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ValidationError enumerates the input fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Fields, ", "))
}

// NewValidationError returns nil when no fields failed.
func NewValidationError(fields ...string) *ValidationError {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
