// Package apierr defines typed service-layer errors; the single place that
// maps them to HTTP status codes is internal/api's mapServiceError,
// mirroring the teacher's
// pkg/services errors.go / pkg/api mapServiceError two-layer split: domain
// code returns a typed error, the HTTP boundary maps it once.
package apierr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist, or
	// exists but is not owned by the requesting user (never distinguished
	// in the response, per spec.md §7's "never leak existence").
	ErrNotFound = errors.New("resource not found")

	// ErrConflict signals a conflicting in-flight operation. A held
	// conversation lock surfaces as agent.ErrConversationLocked instead;
	// mapServiceError maps both to 409.
	ErrConflict = errors.New("conflicting operation already in progress")

	// ErrForbidden is returned when the requester is authenticated but not
	// authorized for the resource.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError reports a single bad-input field, per spec.md §7's
// "input validation" error kind.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %q: %s", e.Field, e.Message)
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is (or wraps) a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
