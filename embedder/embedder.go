// Package embedder defines the embedding contract consumed by the
// memory store and ships two implementations: a Gemini-backed embedder
// for production and a deterministic hashing embedder for offline use
// and tests.
package embedder

import (
	"context"
	"errors"
)

// MinDimension and MaxDimension bound the configurable embedding size.
const (
	MinDimension = 128
	MaxDimension = 3072

	// DefaultDimension balances retrieval quality against storage size.
	DefaultDimension = 768
)

// ErrEmptyText is returned when the input is empty or whitespace-only.
var ErrEmptyText = errors.New("embedder: empty text")

// Embedder turns text into a fixed-length float vector.
//
// Implementations must be deterministic enough for reproducible
// similarity ordering across repeated identical inputs, and must
// return vectors of exactly Dimension() length.
type Embedder interface {
	// EmbedDocument embeds content that will be stored and retrieved.
	EmbedDocument(ctx context.Context, text string) ([]float32, error)

	// EmbedQuery embeds a search query. Some models optimize query and
	// document embeddings differently; both live in the same space.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the fixed output dimensionality.
	Dimension() int
}

func validDimension(dim int) bool {
	return dim >= MinDimension && dim <= MaxDimension
}
