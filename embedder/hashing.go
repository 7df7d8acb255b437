package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// Hashing is a dependency-free Embedder that maps token hashes into a
// fixed-size vector (the classic hashing trick). It is deterministic
// and cheap, which makes it the right collaborator for tests and for
// running the store without network access. It is not a semantic
// model; similarity reflects token overlap only.
type Hashing struct {
	dimension int
}

var _ Embedder = (*Hashing)(nil)

// NewHashing creates a hashing embedder with the given dimension.
func NewHashing(dimension int) (*Hashing, error) {
	if !validDimension(dimension) {
		return nil, fmt.Errorf("embedder: dimension must be in [%d, %d], got %d", MinDimension, MaxDimension, dimension)
	}
	return &Hashing{dimension: dimension}, nil
}

// Dimension returns the fixed output dimensionality.
func (h *Hashing) Dimension() int { return h.dimension }

// EmbedDocument implements Embedder.
func (h *Hashing) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return h.embed(ctx, text)
}

// EmbedQuery implements Embedder.
func (h *Hashing) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return h.embed(ctx, text)
}

func (h *Hashing) embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	vec := make([]float32, h.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		f := fnv.New64a()
		_, _ = f.Write([]byte(token))
		sum := f.Sum64()

		idx := int(sum % uint64(h.dimension))
		// Second hash bit decides the sign, keeping the expected value
		// of each component at zero.
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Whitespace-only already rejected; unreachable for real input.
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}

	return vec, nil
}
