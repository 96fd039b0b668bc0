package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/codeindexd/internal/chunker"
	"github.com/fyrsmithlabs/codeindexd/internal/config"
)

const (
	qdrantMaxRetries   = 3
	qdrantRetryBackoff = 500 * time.Millisecond
)

// IsTransientError reports whether a gRPC error is worth retrying.
// Returns true for temporary unavailability and timeouts, false for
// invalid arguments, missing resources, and auth failures.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore is a Store backed by Qdrant's native gRPC client.
//
// The gRPC transport (port 6334) avoids the HTTP layer's payload size
// limit, which matters when upserting large batches of code chunks.
// Points use the chunk's deterministic UUID as their ID, so re-ingesting
// unchanged content overwrites in place instead of accumulating duplicates.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	logger     *zap.Logger
}

// NewQdrantStore connects to Qdrant and ensures the collection exists.
func NewQdrantStore(cfg config.QdrantConfig, collection string, dimension int, logger *zap.Logger) (*QdrantStore, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dimension)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey.Value(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	s := &QdrantStore{
		client:     client,
		collection: collection,
		dimension:  dimension,
		logger:     logger.Named("qdrant"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check failed: %w", err)
	}

	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.collection, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.collection, err)
	}

	s.logger.Info("created collection",
		zap.String("collection", s.collection),
		zap.Int("dimension", s.dimension),
	)
	return nil
}

// retryOperation retries a transient-failing operation with exponential
// backoff. Permanent errors return immediately.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := qdrantRetryBackoff

	for attempt := 0; attempt <= qdrantMaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		if attempt == qdrantMaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, qdrantMaxRetries, err)
		}

		s.logger.Warn("retrying operation",
			zap.String("operation", operationName),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

// Upsert writes chunks as points keyed by their deterministic chunk IDs.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []chunker.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: %s", ErrMissingEmbedding, c.ID)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: chunkPayload(c),
		}
	}

	err := s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexWrite, err)
	}

	s.logger.Debug("upserted points",
		zap.String("collection", s.collection),
		zap.Int("count", len(points)),
	)
	return nil
}

// DeleteByFiles removes all points whose payload matches the repository
// and one of the file paths.
func (s *QdrantStore) DeleteByFiles(ctx context.Context, repoName string, filePaths []string) error {
	if len(filePaths) == 0 {
		return nil
	}

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			keywordCondition("repo_name", repoName),
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "file_path",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keywords{
								Keywords: &qdrant.RepeatedStrings{Strings: filePaths},
							},
						},
					},
				},
			},
		},
	}

	return s.deleteByFilter(ctx, filter)
}

// DeleteByRepo removes every point belonging to a repository.
func (s *QdrantStore) DeleteByRepo(ctx context.Context, repoName string) error {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{keywordCondition("repo_name", repoName)},
	}
	return s.deleteByFilter(ctx, filter)
}

func (s *QdrantStore) deleteByFilter(ctx context.Context, filter *qdrant.Filter) error {
	err := s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: filter,
				},
			},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexWrite, err)
	}
	return nil
}

// Query searches the collection for the k nearest chunks.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, k int, filters map[string]string) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("query vector has dimension %d, collection expects %d", len(vector), s.dimension)
	}

	var filter *qdrant.Filter
	if len(filters) > 0 {
		conditions := make([]*qdrant.Condition, 0, len(filters))
		for key, value := range filters {
			conditions = append(conditions, keywordCondition(key, value))
		}
		filter = &qdrant.Filter{Must: conditions}
	}

	var points []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         filter,
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", s.collection, err)
	}

	results := make([]SearchResult, len(points))
	for i, p := range points {
		results[i] = SearchResult{
			Chunk: chunkFromPayload(p.Payload),
			Score: p.Score,
		}
	}
	return results, nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting points in %s: %w", s.collection, err)
	}
	return int(n), nil
}

// Close closes the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// chunkPayload converts a chunk into a Qdrant payload map. The chunk ID
// is duplicated into the payload so results can be correlated without
// point-ID round trips.
func chunkPayload(c chunker.Chunk) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		"id":         {Kind: &qdrant.Value_StringValue{StringValue: c.ID}},
		"repo_name":  {Kind: &qdrant.Value_StringValue{StringValue: c.RepoName}},
		"file_path":  {Kind: &qdrant.Value_StringValue{StringValue: c.FilePath}},
		"language":   {Kind: &qdrant.Value_StringValue{StringValue: c.Language}},
		"chunk_type": {Kind: &qdrant.Value_StringValue{StringValue: c.ChunkType}},
		"content":    {Kind: &qdrant.Value_StringValue{StringValue: c.Content}},
		"start_line": {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(c.StartLine)}},
		"end_line":   {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(c.EndLine)}},
	}
	for k, v := range c.Metadata {
		payload["meta_"+k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
	}
	return payload
}

func chunkFromPayload(payload map[string]*qdrant.Value) chunker.Chunk {
	var c chunker.Chunk
	for k, v := range payload {
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			switch k {
			case "id":
				c.ID = val.StringValue
			case "repo_name":
				c.RepoName = val.StringValue
			case "file_path":
				c.FilePath = val.StringValue
			case "language":
				c.Language = val.StringValue
			case "chunk_type":
				c.ChunkType = val.StringValue
			case "content":
				c.Content = val.StringValue
			default:
				if len(k) > 5 && k[:5] == "meta_" {
					if c.Metadata == nil {
						c.Metadata = make(map[string]string)
					}
					c.Metadata[k[5:]] = val.StringValue
				}
			}
		case *qdrant.Value_IntegerValue:
			switch k {
			case "start_line":
				c.StartLine = int(val.IntegerValue)
			case "end_line":
				c.EndLine = int(val.IntegerValue)
			}
		}
	}
	return c
}
