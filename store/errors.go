package store

import "errors"

var (
	// ErrNotFound is returned when a node vanished (or was soft deleted)
	// while a write to it was in flight.
	ErrNotFound = errors.New("trellis: node not found")

	// ErrConcurrentModification is returned when optimistic lock fails
	// (version mismatch) more often than a write retries.
	ErrConcurrentModification = errors.New("trellis: node was modified concurrently")

	// ErrInvalidValue is returned for values that cannot be stored, and for
	// writes to the root.
	ErrInvalidValue = errors.New("trellis: invalid value")
)
