package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrTaskNotFound indicates that the requested task does not exist.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrUnavailable is returned when the backing store cannot be reached.
	// Callers must treat it as retryable: recomputation is queued for
	// retry rather than failing the triggering request outright.
	ErrUnavailable = errors.New("fact store unavailable")
)

// IsNotFound reports whether the error is any kind of "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
