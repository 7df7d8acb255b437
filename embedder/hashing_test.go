package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashingDimensionBounds(t *testing.T) {
	_, err := NewHashing(64)
	assert.Error(t, err)

	_, err = NewHashing(4096)
	assert.Error(t, err)

	h, err := NewHashing(128)
	require.NoError(t, err)
	assert.Equal(t, 128, h.Dimension())
}

func TestHashingDeterministic(t *testing.T) {
	h, err := NewHashing(256)
	require.NoError(t, err)

	ctx := context.Background()
	a, err := h.EmbedDocument(ctx, "the quick brown fox")
	require.NoError(t, err)
	b, err := h.EmbedDocument(ctx, "the quick brown fox")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 256)
}

func TestHashingQueryDocumentSameSpace(t *testing.T) {
	h, err := NewHashing(256)
	require.NoError(t, err)

	ctx := context.Background()
	doc, err := h.EmbedDocument(ctx, "hello world")
	require.NoError(t, err)
	query, err := h.EmbedQuery(ctx, "hello world")
	require.NoError(t, err)

	assert.Equal(t, doc, query)
}

func TestHashingNormalized(t *testing.T) {
	h, err := NewHashing(256)
	require.NoError(t, err)

	vec, err := h.EmbedDocument(context.Background(), "alpha beta gamma delta")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestHashingEmptyText(t *testing.T) {
	h, err := NewHashing(128)
	require.NoError(t, err)

	_, err = h.EmbedDocument(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestHashingCancelledContext(t *testing.T) {
	h, err := NewHashing(128)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = h.EmbedDocument(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
}
