package chunker

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// chunkNamespace is the fixed UUID namespace for deterministic chunk IDs.
var chunkNamespace = uuid.MustParse("b9c1f3a0-5a92-4f6e-9d36-7c1f2e8a4b10")

// Chunk is the atomic indexed unit: a bounded, independently embeddable
// piece of source text with structural metadata.
//
// Chunks are owned exclusively by the ingestion pipeline and read-only to
// the serving layer. A chunk is created when its source file is added or
// modified and removed from the index when the file is modified or deleted.
type Chunk struct {
	// ID is deterministic: derived from repository name, file path, and the
	// within-file sequence number. Stable across runs for unchanged files.
	ID string `json:"id"`

	RepoName string `json:"repo_name"`
	FilePath string `json:"file_path"`
	Language string `json:"language"`

	// Content is the chunk text.
	Content string `json:"content"`

	// StartLine and EndLine are 1-based and inclusive.
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	// ChunkType classifies the structural origin: "function", "method",
	// "type", "section", or "fallback-window".
	ChunkType string `json:"chunk_type"`

	// Metadata holds structural context such as the enclosing declaration
	// name.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Embedding is populated by the embedding step, not by the chunker.
	Embedding []float32 `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// ChunkID returns the deterministic ID for a chunk of a file.
//
// The ID is a UUIDv5 over repo name, file path, and sequence number, so
// re-chunking identical content yields identical IDs and upserts replace
// rather than duplicate.
func ChunkID(repoName, filePath string, seq int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s\x00%s\x00%d", repoName, filePath, seq))).String()
}

// Unit is a structural region of a file identified by a language parser.
// Lines are 1-based and inclusive.
type Unit struct {
	// Name is the declaration or section name, empty when anonymous.
	Name string

	// Type classifies the unit: "function", "method", "type", "section".
	Type string

	StartLine int
	EndLine   int
}
