// Package vectorstore provides vector index backends for code chunks.
//
// Two backends are supported:
//   - qdrant: native gRPC client, suited for server deployments
//   - chromem: embedded pure-Go store, suited for local/single-node use
//
// Both implement the Store interface. Callers that reconcile file changes
// must delete a file's stale chunks before upserting its replacements so
// that no query window observes both generations for longer than the gap
// between the two calls.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeindexd/internal/chunker"
	"github.com/fyrsmithlabs/codeindexd/internal/config"
)

var (
	// ErrInvalidCollectionName indicates a collection name that does not
	// match the allowed pattern.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrCollectionNotFound indicates the target collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrIndexWrite indicates a write to the vector index failed after
	// retries were exhausted. Callers must not treat the affected chunks
	// as indexed.
	ErrIndexWrite = errors.New("vector index write failed")

	// ErrMissingEmbedding indicates a chunk was passed to Upsert without
	// an embedding vector.
	ErrMissingEmbedding = errors.New("chunk has no embedding")
)

// collectionNamePattern restricts collection names to lowercase
// alphanumerics and underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName checks that a collection name is safe to use
// with both backends.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// SearchResult is a chunk returned from a similarity query together with
// its similarity score (higher is more similar).
type SearchResult struct {
	Chunk chunker.Chunk
	Score float32
}

// Store is the vector index abstraction used by the ingestion pipeline.
type Store interface {
	// Upsert inserts or replaces chunks by their deterministic IDs.
	// Re-upserting an identical chunk is a no-op at the index level.
	// Every chunk must carry an embedding.
	Upsert(ctx context.Context, chunks []chunker.Chunk) error

	// DeleteByFiles removes all chunks belonging to the given file paths
	// within a repository. Paths that have no chunks are ignored.
	DeleteByFiles(ctx context.Context, repoName string, filePaths []string) error

	// DeleteByRepo removes every chunk belonging to a repository.
	DeleteByRepo(ctx context.Context, repoName string) error

	// Query returns the k nearest chunks to the given vector, optionally
	// restricted by exact-match payload filters (e.g. repo_name, language).
	Query(ctx context.Context, vector []float32, k int, filters map[string]string) ([]SearchResult, error)

	// Count returns the total number of chunks in the collection.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// New constructs a Store for the configured backend. The dimension is the
// embedding vector size and must match the embedding provider.
func New(cfg config.VectorStoreConfig, dimension int, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "qdrant":
		return NewQdrantStore(cfg.Qdrant, cfg.Collection, dimension, logger)
	case "chromem":
		return NewChromemStore(cfg.Chromem, cfg.Collection, logger)
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.Backend)
	}
}
