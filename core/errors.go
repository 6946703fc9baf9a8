package core

import "errors"

// Stable sentinel errors shared across components. Packages define additional
// sentinels for their own terminal states; these cover the cross-cutting
// codes referenced by multiple components.
var (
	// ErrNotFound indicates a context, agent or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnknownOperation indicates an update carried an unsupported operation.
	ErrUnknownOperation = errors.New("unknown update operation")
	// ErrTimeout indicates a bounded wait expired before completion.
	ErrTimeout = errors.New("operation timed out")
)
