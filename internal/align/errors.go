package align

import "errors"

var (
	// ErrInvalidInput is returned when the raw vulnerability type name is
	// empty or whitespace-only after normalization.
	ErrInvalidInput = errors.New("invalid vulnerability type name")

	// ErrEmbeddingUnavailable is returned when no embedding could be
	// produced for the input. The knowledge base is left untouched; the
	// caller may retry the same input later.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
)
