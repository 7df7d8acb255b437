package embedder

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// GeminiModel is the embedding model used by the Gemini embedder.
const GeminiModel = "gemini-embedding-001"

const (
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// GeminiOptions configures the Gemini embedder.
type GeminiOptions struct {
	// Dimension is the output dimensionality (128-3072).
	Dimension int

	// RequestsPerSecond caps outgoing embed calls. Zero disables
	// client-side limiting.
	RequestsPerSecond float64

	// Burst is the limiter burst size when rate limiting is enabled.
	Burst int
}

// Gemini embeds text with the Gemini embedding API. Document and query
// embeddings use the matching retrieval task types so that stored
// content and search queries land in compatible regions of the space.
type Gemini struct {
	client    *genai.Client
	dimension int
	limiter   *rate.Limiter
}

var _ Embedder = (*Gemini)(nil)

// NewGemini creates a Gemini embedder. apiKey may be empty if the
// environment provides credentials the genai client can discover.
func NewGemini(ctx context.Context, apiKey string, optFns ...func(o *GeminiOptions)) (*Gemini, error) {
	opts := GeminiOptions{
		Dimension:         DefaultDimension,
		RequestsPerSecond: 0,
		Burst:             1,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if !validDimension(opts.Dimension) {
		return nil, fmt.Errorf("embedder: dimension must be in [%d, %d], got %d", MinDimension, MaxDimension, opts.Dimension)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: failed to create genai client: %w", err)
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Gemini{
		client:    client,
		dimension: opts.Dimension,
		limiter:   limiter,
	}, nil
}

// Dimension returns the fixed output dimensionality.
func (g *Gemini) Dimension() int { return g.dimension }

// EmbedDocument implements Embedder.
func (g *Gemini) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return g.embed(ctx, text, taskRetrievalDocument)
}

// EmbedQuery implements Embedder.
func (g *Gemini) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return g.embed(ctx, text, taskRetrievalQuery)
}

func (g *Gemini) embed(ctx context.Context, text, taskType string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := g.client.Models.EmbedContent(ctx, GeminiModel, genai.Text(text), &genai.EmbedContentConfig{
		TaskType:             taskType,
		OutputDimensionality: genai.Ptr(int32(g.dimension)),
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: embed content: %w", err)
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embedder: no embeddings returned")
	}

	values := resp.Embeddings[0].Values
	if len(values) != g.dimension {
		return nil, fmt.Errorf("embedder: expected dimension %d, got %d", g.dimension, len(values))
	}

	return values, nil
}

// EmbedBatch embeds multiple documents in one API call, falling back
// to sequential embedding if the batch call fails. The result slice is
// index-aligned with texts; failed entries are nil.
func (g *Gemini) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}

	resp, err := g.client.Models.EmbedContent(ctx, GeminiModel, contents, &genai.EmbedContentConfig{
		TaskType:             taskRetrievalDocument,
		OutputDimensionality: genai.Ptr(int32(g.dimension)),
	})
	if err == nil && len(resp.Embeddings) == len(texts) {
		out := make([][]float32, len(texts))
		for i, emb := range resp.Embeddings {
			if len(emb.Values) == g.dimension {
				out[i] = emb.Values
			}
		}
		return out, nil
	}

	// Batch failed or came back short: embed one by one so a single bad
	// input doesn't sink the rest.
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, embErr := g.EmbedDocument(ctx, t)
		if embErr != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			continue
		}
		out[i] = vec
	}
	return out, nil
}
