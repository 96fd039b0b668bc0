package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeindexd/internal/chunker"
	"github.com/fyrsmithlabs/codeindexd/internal/config"
)

// ChromemStore is an embedded Store backed by chromem-go with filesystem
// persistence. It requires no external service, which makes it the default
// backend for local use.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *zap.Logger
}

// NewChromemStore opens (or creates) the persistent database and collection.
func NewChromemStore(cfg config.ChromemConfig, collection string, logger *zap.Logger) (*ChromemStore, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("chromem path cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	path, err := config.ExpandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding chromem path: %w", err)
	}

	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem db at %s: %w", path, err)
	}

	// Embeddings are always supplied by the caller; the embedding func is
	// only a guard against accidental text queries.
	col, err := db.GetOrCreateCollection(collection, nil, rejectTextEmbedding)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", collection, err)
	}

	return &ChromemStore{
		db:         db,
		collection: col,
		logger:     logger.Named("chromem"),
	}, nil
}

func rejectTextEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("store holds precomputed embeddings, embed the query before searching")
}

// Upsert writes chunks as documents keyed by their deterministic chunk IDs.
// chromem replaces documents with matching IDs, so re-ingestion is idempotent.
func (s *ChromemStore) Upsert(ctx context.Context, chunks []chunker.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: %s", ErrMissingEmbedding, c.ID)
		}
		docs[i] = chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Metadata:  chunkMetadata(c),
			Embedding: c.Embedding,
		}
	}

	// Concurrency of 1: embeddings are precomputed, nothing to parallelize.
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexWrite, err)
	}

	s.logger.Debug("upserted documents", zap.Int("count", len(docs)))
	return nil
}

// DeleteByFiles removes all documents belonging to the given file paths
// within a repository.
func (s *ChromemStore) DeleteByFiles(ctx context.Context, repoName string, filePaths []string) error {
	for _, path := range filePaths {
		where := map[string]string{
			"repo_name": repoName,
			"file_path": path,
		}
		if err := s.collection.Delete(ctx, where, nil); err != nil {
			return fmt.Errorf("%w: deleting chunks for %s: %v", ErrIndexWrite, path, err)
		}
	}
	return nil
}

// DeleteByRepo removes every document belonging to a repository.
func (s *ChromemStore) DeleteByRepo(ctx context.Context, repoName string) error {
	where := map[string]string{"repo_name": repoName}
	if err := s.collection.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("%w: deleting repo %s: %v", ErrIndexWrite, repoName, err)
	}
	return nil
}

// Query searches the collection for the k nearest chunks.
func (s *ChromemStore) Query(ctx context.Context, vector []float32, k int, filters map[string]string) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	// chromem requires nResults <= document count.
	docCount := s.collection.Count()
	if docCount == 0 {
		return []SearchResult{}, nil
	}
	if k > docCount {
		k = docCount
	}

	results, err := s.collection.QueryEmbedding(ctx, vector, k, filters, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	searchResults := make([]SearchResult, len(results))
	for i, r := range results {
		searchResults[i] = SearchResult{
			Chunk: chunkFromDocument(r.ID, r.Content, r.Metadata),
			Score: r.Similarity,
		}
	}
	return searchResults, nil
}

// Count returns the total number of documents in the collection.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	return s.collection.Count(), nil
}

// Close is a no-op; chromem persists on every write.
func (s *ChromemStore) Close() error {
	return nil
}

// chunkMetadata flattens a chunk into chromem's string-valued metadata.
func chunkMetadata(c chunker.Chunk) map[string]string {
	md := map[string]string{
		"repo_name":  c.RepoName,
		"file_path":  c.FilePath,
		"language":   c.Language,
		"chunk_type": c.ChunkType,
		"start_line": strconv.Itoa(c.StartLine),
		"end_line":   strconv.Itoa(c.EndLine),
	}
	for k, v := range c.Metadata {
		md["meta_"+k] = v
	}
	return md
}

func chunkFromDocument(id, content string, md map[string]string) chunker.Chunk {
	c := chunker.Chunk{
		ID:        id,
		RepoName:  md["repo_name"],
		FilePath:  md["file_path"],
		Language:  md["language"],
		ChunkType: md["chunk_type"],
		Content:   content,
	}
	c.StartLine, _ = strconv.Atoi(md["start_line"])
	c.EndLine, _ = strconv.Atoi(md["end_line"])
	for k, v := range md {
		if len(k) > 5 && k[:5] == "meta_" {
			if c.Metadata == nil {
				c.Metadata = make(map[string]string)
			}
			c.Metadata[k[5:]] = v
		}
	}
	return c
}
