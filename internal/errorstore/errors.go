package errorstore

import "errors"

var (
	// ErrNotFound is returned when a keyed entity does not exist.
	ErrNotFound = errors.New("errorstore: not found")
	// ErrInvalidDelta is returned for non-positive increments or decrements.
	ErrInvalidDelta = errors.New("errorstore: delta must be positive")
	// ErrClosed is returned after the store or feed has been closed.
	ErrClosed = errors.New("errorstore: closed")
)
