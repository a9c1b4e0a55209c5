// Package apperror holds the error kinds shared by every domain package.
// Domain-specific rejections live next to the code that produces them.
package apperror

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports every rule a request violated, not only the first.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

// Violationf records a violated rule.
func (e *ValidationError) Violationf(format string, args ...interface{}) {
	e.Violations = append(e.Violations, fmt.Sprintf(format, args...))
}

// Merge appends the violations of other when it is a *ValidationError.
// Any other non-nil error is recorded by its message.
func (e *ValidationError) Merge(other error) {
	if other == nil {
		return
	}
	var ve *ValidationError
	if errors.As(other, &ve) {
		e.Violations = append(e.Violations, ve.Violations...)
		return
	}
	e.Violations = append(e.Violations, other.Error())
}

// OrNil returns nil when nothing was violated, so callers can write
// `return v.OrNil()`.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Violations) == 0 {
		return nil
	}
	return e
}

// NewValidation builds a ValidationError from a list of messages.
func NewValidation(violations ...string) *ValidationError {
	return &ValidationError{Violations: violations}
}

// NotFoundError is returned when a referenced record does not exist or is
// outside the caller's provider scope. Both cases look the same to the caller.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NotFound is a shorthand constructor.
func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is (or wraps) a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
