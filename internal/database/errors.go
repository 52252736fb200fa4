package database

import "errors"

var (
	// ErrNotFound is returned when an entity id or name is unknown.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicateID is returned when an insert collides with an existing
	// entity id. It indicates a bug in id-generation or lock discipline and
	// is fatal to the operation that hit it, never silently swallowed.
	ErrDuplicateID = errors.New("duplicate entity id")

	// ErrDimsMismatch is returned when the store's persisted embedding
	// dimension differs from the configured one. A store holding vectors
	// from a different embedding model must be rejected or migrated
	// explicitly, never silently mixed.
	ErrDimsMismatch = errors.New("embedding dimension mismatch")
)
