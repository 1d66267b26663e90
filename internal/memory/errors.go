package memory

import "errors"

var (
	// ErrNotFound is returned when a key has no value in the target tier.
	ErrNotFound = errors.New("memory: item not found")
	// ErrUnknownScope is returned for a Scope the store doesn't recognize.
	ErrUnknownScope = errors.New("memory: unknown scope")
	// ErrMissingEmbedding is returned when a vector-tier Put has no embedding.
	ErrMissingEmbedding = errors.New("memory: embedding required for vector tier")
)
