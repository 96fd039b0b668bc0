// Package embeddings provides embedding generation via pluggable providers.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeindexd/internal/config"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingUnavailable indicates the provider failed after all retry
	// attempts were exhausted. File-scoped: callers skip the affected files
	// and retry them on the next run.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
)

// Provider generates vector embeddings from text.
type Provider interface {
	// EmbedDocuments generates embeddings for multiple texts, one vector per
	// input, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query. Some models
	// optimize differently for queries vs documents.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension for the current model.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg config.EmbeddingsConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case "tei", "":
		return NewTEIProvider(cfg, logger)
	case "nop":
		return NewNopProvider(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// NopProvider returns zero vectors. Useful for offline operation and tests
// where similarity quality does not matter.
type NopProvider struct {
	dimension int
}

// NewNopProvider creates a NopProvider with the given dimension.
func NewNopProvider(dimension int) *NopProvider {
	return &NopProvider{dimension: dimension}
}

// EmbedDocuments returns one zero vector per input text.
func (p *NopProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, p.dimension)
	}
	return out, nil
}

// EmbedQuery returns a zero vector.
func (p *NopProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	return make([]float32, p.dimension), nil
}

// Dimension returns the configured dimension.
func (p *NopProvider) Dimension() int { return p.dimension }

// Close is a no-op.
func (p *NopProvider) Close() error { return nil }
