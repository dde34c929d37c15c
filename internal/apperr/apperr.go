// Package apperr defines the error kinds surfaced by the chore and reward
// workflows. Callers match them with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrUnauthorized       = errors.New("not authorized")
	ErrConflict           = errors.New("conflict")
)

// NotFound reports a missing entity, e.g. NotFound("chore", id).
func NotFound(entity, id string) error {
	return fmt.Errorf("%s %q: %w", entity, id, ErrNotFound)
}

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Unauthorized(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// InsufficientPointsError is returned when a child's balance cannot cover a
// redemption.
type InsufficientPointsError struct {
	ChildID string
	Balance int
	Cost    int
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: child %q has %d, needs %d", e.ChildID, e.Balance, e.Cost)
}

func (e *InsufficientPointsError) Is(target error) bool {
	return target == ErrInsufficientPoints
}

func InsufficientPoints(childID string, balance, cost int) error {
	return &InsufficientPointsError{ChildID: childID, Balance: balance, Cost: cost}
}

// Public reports whether err belongs to one of the kinds above, so its message
// can be shown to the caller as is.
func Public(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrConflict)
}
