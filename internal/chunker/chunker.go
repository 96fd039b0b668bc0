// Package chunker converts file content into ordered, semantically bounded
// chunks using grammar-aware parsers, with a deterministic sliding-window
// fallback for unsupported or malformed input.
package chunker

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// Parser splits file content into structural units for one language.
//
// A returned error marks the content as unparseable; the chunker falls back
// to windowed splitting. Parsers must not fail on valid input of their
// language.
type Parser interface {
	Parse(content string) ([]Unit, error)
}

// Options configures chunk sizing.
type Options struct {
	// MaxChunkSize is the maximum chunk size in bytes. Structural units
	// larger than this are split into overlapping windows.
	MaxChunkSize int

	// ChunkOverlap is the byte overlap between consecutive fallback windows.
	ChunkOverlap int
}

// Chunker produces chunks from file content. Parsing failures are
// recoverable events handled by the fallback, never surfaced as errors.
type Chunker struct {
	parsers map[string]Parser
	opts    Options
	logger  *zap.Logger
}

// New creates a Chunker with the default parser registry: grammar-aware
// parsing for Go and Markdown, windowed fallback for everything else.
func New(opts Options, logger *zap.Logger) *Chunker {
	return &Chunker{
		parsers: map[string]Parser{
			"go":       &goParser{},
			"markdown": &markdownParser{},
		},
		opts:   opts,
		logger: logger.Named("chunker"),
	}
}

// Register adds or replaces the parser for a language.
func (c *Chunker) Register(language string, p Parser) {
	c.parsers[language] = p
}

// Chunk converts one file's content into an ordered chunk sequence.
//
// Empty content yields no chunks. All other content yields at least one
// chunk: structural units when a parser succeeds, deterministic fallback
// windows otherwise. Embeddings are left unpopulated.
func (c *Chunker) Chunk(repoName, filePath, language, content string) []Chunk {
	if len(strings.TrimSpace(content)) == 0 {
		return nil
	}

	now := time.Now().UTC()

	parser := c.parsers[language]
	if parser == nil {
		return c.assignIDs(repoName, filePath, c.fallbackChunks(repoName, filePath, language, content, now))
	}

	units, err := parser.Parse(content)
	if err != nil || len(units) == 0 {
		if err != nil {
			// Recoverable: malformed source falls back to windowing.
			c.logger.Debug("structural parse failed, using fallback",
				zap.String("file", filePath),
				zap.String("language", language),
				zap.Error(err))
		}
		return c.assignIDs(repoName, filePath, c.fallbackChunks(repoName, filePath, language, content, now))
	}

	lines := strings.Split(content, "\n")
	var chunks []Chunk
	for _, u := range units {
		chunks = append(chunks, c.unitChunks(repoName, filePath, language, lines, u, now)...)
	}
	if len(chunks) == 0 {
		return c.assignIDs(repoName, filePath, c.fallbackChunks(repoName, filePath, language, content, now))
	}
	return c.assignIDs(repoName, filePath, chunks)
}

// unitChunks emits one chunk per structural unit, splitting oversized units
// into overlapping windows that preserve line ranges.
func (c *Chunker) unitChunks(repoName, filePath, language string, lines []string, u Unit, now time.Time) []Chunk {
	start, end := u.StartLine, u.EndLine
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return nil
	}

	text := strings.Join(lines[start-1:end], "\n")
	meta := map[string]string{}
	if u.Name != "" {
		meta["name"] = u.Name
	}

	if len(text) <= c.opts.MaxChunkSize {
		return []Chunk{{
			RepoName:  repoName,
			FilePath:  filePath,
			Language:  language,
			Content:   text,
			StartLine: start,
			EndLine:   end,
			ChunkType: u.Type,
			Metadata:  meta,
			CreatedAt: now,
		}}
	}

	windows := splitWindows(lines[start-1:end], c.opts.MaxChunkSize, c.opts.ChunkOverlap)
	chunks := make([]Chunk, 0, len(windows))
	for _, w := range windows {
		chunks = append(chunks, Chunk{
			RepoName:  repoName,
			FilePath:  filePath,
			Language:  language,
			Content:   w.text,
			StartLine: start + w.startLine - 1,
			EndLine:   start + w.endLine - 1,
			ChunkType: u.Type,
			Metadata:  meta,
			CreatedAt: now,
		})
	}
	return chunks
}

// fallbackChunks windows the raw content. Total and deterministic: identical
// content always yields byte-identical boundaries.
func (c *Chunker) fallbackChunks(repoName, filePath, language, content string, now time.Time) []Chunk {
	windows := splitWindows(strings.Split(content, "\n"), c.opts.MaxChunkSize, c.opts.ChunkOverlap)
	chunks := make([]Chunk, 0, len(windows))
	for _, w := range windows {
		chunks = append(chunks, Chunk{
			RepoName:  repoName,
			FilePath:  filePath,
			Language:  language,
			Content:   w.text,
			StartLine: w.startLine,
			EndLine:   w.endLine,
			ChunkType: "fallback-window",
			CreatedAt: now,
		})
	}
	return chunks
}

// assignIDs finalizes deterministic IDs from the within-file sequence order.
func (c *Chunker) assignIDs(repoName, filePath string, chunks []Chunk) []Chunk {
	for i := range chunks {
		chunks[i].ID = ChunkID(repoName, filePath, i)
	}
	return chunks
}
