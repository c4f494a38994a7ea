package shopping

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a shopping list or meal plan does not exist.
	ErrNotFound = errors.New("not found")
	// ErrItemNotFound is returned when an item id is not part of a list.
	ErrItemNotFound = fmt.Errorf("item %w", ErrNotFound)
	// ErrVersionConflict is returned when a list changed since it was read.
	ErrVersionConflict = errors.New("version conflict")
	// ErrValidation is returned for malformed requests, before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyExists is returned when a meal plan already owns a list.
	ErrAlreadyExists = errors.New("already exists")
)

// ConflictError carries the version currently stored so callers can reload.
type ConflictError struct {
	ListID         int64
	CurrentVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("shopping list %d: %s (current version %d)", e.ListID, ErrVersionConflict, e.CurrentVersion)
}

func (e *ConflictError) Unwrap() error { return ErrVersionConflict }

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
