package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness rule was violated.
	ErrConflict = errors.New("conflict")
	// ErrConcurrency indicates the row changed since it was read; re-read and retry.
	ErrConcurrency = errors.New("concurrent modification")
	// ErrInvalidTransition indicates the source state does not allow the operation.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ValidationError is returned for malformed input; nothing is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// AuthorizationError is returned when the actor lacks rights for an operation.
type AuthorizationError struct {
	Actor  string
	Action string
	Reason string
}

func (e *AuthorizationError) Error() string {
	return e.Reason
}

// NewAuthorizationError builds an AuthorizationError.
func NewAuthorizationError(actor, action, reason string) error {
	return &AuthorizationError{Actor: actor, Action: action, Reason: reason}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsAuthorization reports whether err carries an AuthorizationError.
func IsAuthorization(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}
