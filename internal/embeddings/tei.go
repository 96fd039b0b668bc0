package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/codeindexd/internal/config"
)

// TEIProvider generates embeddings via a TEI-compatible HTTP endpoint
// (text-embeddings-inference, or any service exposing POST /embed).
//
// Requests are batched up to the configured batch size. Transient failures
// (HTTP 429, 5xx, network errors) are retried with exponential backoff up to
// a bounded attempt count; exhaustion yields ErrEmbeddingUnavailable.
type TEIProvider struct {
	cfg     config.EmbeddingsConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewTEIProvider creates a TEIProvider from config.
func NewTEIProvider(cfg config.EmbeddingsConfig, logger *zap.Logger) (*TEIProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &TEIProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: 60 * time.Second},
		limiter: limiter,
		logger:  logger.Named("embeddings"),
	}, nil
}

// teiRequest is the request body for the TEI embed endpoint.
type teiRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

// EmbedDocuments generates embeddings for multiple texts, batching requests
// up to the configured batch size. The result has one vector per input, in
// input order.
func (p *TEIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := p.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *TEIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embedBatch sends one batch with retry and backoff.
func (p *TEIProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := p.cfg.RetryBackoff.Duration()
	if backoff <= 0 {
		backoff = time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
			}
		}

		vectors, retryable, err := p.doRequest(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		p.logger.Warn("embedding request failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("batch_size", len(texts)),
			zap.Error(err))
	}

	return nil, fmt.Errorf("%w: %d attempts: %v", ErrEmbeddingUnavailable, p.cfg.MaxRetries+1, lastErr)
}

// doRequest performs one HTTP call. The second return value reports whether
// the failure is transient and worth retrying.
func (p *TEIProvider) doRequest(ctx context.Context, texts []string) ([][]float32, bool, error) {
	body, err := json.Marshal(teiRequest{Inputs: texts, Truncate: true})
	if err != nil {
		return nil, false, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey.IsSet() {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey.Value())
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// Network errors and timeouts are transient unless the context is done.
		if errors.Is(err, context.Canceled) {
			return nil, false, err
		}
		return nil, true, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, string(respBody))
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, transient, err
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, false, fmt.Errorf("decoding response: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, false, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(vectors))
	}
	return vectors, false, nil
}

// Dimension returns the configured embedding dimension.
func (p *TEIProvider) Dimension() int { return p.cfg.Dimension }

// Close is a no-op for the HTTP provider.
func (p *TEIProvider) Close() error { return nil }
