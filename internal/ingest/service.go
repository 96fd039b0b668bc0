// Package ingest implements the incremental ingestion orchestrator.
//
// A run reconciles the vector index with a repository's current file tree:
// it syncs the local mirror, diffs against the last ingested revision,
// purges chunks of deleted files, and re-chunks, re-embeds, and re-upserts
// added or modified files. Failures are isolated per file; a failed file
// keeps its previous chunks and fingerprint and is retried on the next run.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/codeindexd/internal/chunker"
	"github.com/fyrsmithlabs/codeindexd/internal/config"
	"github.com/fyrsmithlabs/codeindexd/internal/mirror"
	"github.com/fyrsmithlabs/codeindexd/internal/state"
)

// ErrRunInProgress is returned when a run is requested for a repository
// that already has an active run. Concurrent runs over the same state
// would race on the state commit, so they are rejected, not queued.
var ErrRunInProgress = errors.New("ingestion run already in progress for repository")

// Syncer provides mirror operations against a tracked repository.
type Syncer interface {
	Sync(ctx context.Context, repo *config.Repository) (string, error)
	Diff(ctx context.Context, repo *config.Repository, fromRev, toRev string) (*mirror.ChangeSet, error)
	ReadFile(repo *config.Repository, relPath string) ([]byte, error)
}

// FileChunker splits file content into chunks.
type FileChunker interface {
	Chunk(repoName, filePath, language, content string) []chunker.Chunk
}

// Embedder generates embeddings for chunk contents.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the subset of the vector store the orchestrator writes to.
type Index interface {
	Upsert(ctx context.Context, chunks []chunker.Chunk) error
	DeleteByFiles(ctx context.Context, repoName string, filePaths []string) error
	DeleteByRepo(ctx context.Context, repoName string) error
}

// StateStore persists per-repository ingestion state.
type StateStore interface {
	Load(ctx context.Context, repoName string) (*state.RepositoryState, error)
	Commit(ctx context.Context, st *state.RepositoryState) error
	Delete(ctx context.Context, repoName string) error
}

// Service orchestrates ingestion runs. Collaborators are injected so the
// orchestrator can be exercised with in-memory fakes.
type Service struct {
	cfg      config.IngestConfig
	mirror   Syncer
	chunker  FileChunker
	embedder Embedder
	index    Index
	state    StateStore
	logger   *zap.Logger

	// active holds repository names with a run in flight.
	active sync.Map
}

// New creates an ingestion service.
func New(cfg config.IngestConfig, m Syncer, c FileChunker, e Embedder, idx Index, st StateStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		mirror:   m,
		chunker:  c,
		embedder: e,
		index:    idx,
		state:    st,
		logger:   logger.Named("ingest"),
	}
}

// Run executes one ingestion run for a repository. force ignores prior
// state, purges the repository's chunks, and re-indexes everything.
//
// Run returns an error only for run-scoped failures (source unavailable,
// diverged history, state commit failure, rejected concurrent run).
// Per-file failures are reported in Report.Errors.
func (s *Service) Run(ctx context.Context, repo *config.Repository, force bool) (*Report, error) {
	if _, inFlight := s.active.LoadOrStore(repo.Name, struct{}{}); inFlight {
		recordRun(repo.Name, "rejected", nil)
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, repo.Name)
	}
	defer s.active.Delete(repo.Name)

	start := time.Now()
	logger := s.logger.With(zap.String("repo", repo.Name))

	report, err := s.run(ctx, logger, repo, force)
	if report != nil {
		report.Duration = time.Since(start)
	}
	switch {
	case err != nil:
		recordRun(repo.Name, "failed", report)
		return nil, err
	case report.UpToDate:
		recordRun(repo.Name, "up_to_date", report)
	case report.Partial():
		recordRun(repo.Name, "partial", report)
	default:
		recordRun(repo.Name, "success", report)
	}
	return report, nil
}

func (s *Service) run(ctx context.Context, logger *zap.Logger, repo *config.Repository, force bool) (*Report, error) {
	rev, err := s.mirror.Sync(ctx, repo)
	if err != nil {
		return nil, err
	}

	prior, err := s.state.Load(ctx, repo.Name)
	if errors.Is(err, state.ErrNotFound) {
		prior = &state.RepositoryState{RepoName: repo.Name, Files: make(map[string]state.FileState)}
	} else if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	forcePurged := 0
	if force {
		// A forced run rebuilds against a synthetic empty state. Purging
		// the repository first keeps files that vanished since the last
		// recorded state from lingering in the index. The purge is counted
		// from the prior state's per-file chunk counts.
		if err := s.index.DeleteByRepo(ctx, repo.Name); err != nil {
			return nil, err
		}
		for _, fs := range prior.Files {
			forcePurged += fs.ChunkCount
		}
		prior = &state.RepositoryState{RepoName: repo.Name, Files: make(map[string]state.FileState)}
	}

	report := &Report{
		RepoName:      repo.Name,
		FromRevision:  prior.LastRevision,
		ToRevision:    rev,
		ChunksDeleted: forcePurged,
	}

	if !force && prior.LastRevision == rev {
		report.UpToDate = true
		return report, nil
	}

	cs, err := s.mirror.Diff(ctx, repo, prior.LastRevision, rev)
	if err != nil {
		// HistoryDiverged surfaces here; the caller is advised to re-run
		// with force. State stays untouched.
		return nil, err
	}

	next := &state.RepositoryState{
		RepoName:     repo.Name,
		LastRevision: prior.LastRevision,
		Files:        make(map[string]state.FileState, len(prior.Files)),
	}
	for path, fs := range prior.Files {
		next.Files[path] = fs
	}

	s.purgeDeleted(ctx, repo, cs.Deleted, next, report)

	for _, path := range cs.ToChunk() {
		s.processFile(ctx, logger, repo, path, next, report)
	}

	// last_revision advances only when every file in the change set
	// succeeded. On partial failure it stays pinned so the next diff
	// re-surfaces the failed files.
	if !report.Partial() {
		next.LastRevision = rev
	}
	next.LastIngestedAt = time.Now().UTC()

	if err := s.state.Commit(ctx, next); err != nil {
		return nil, fmt.Errorf("committing state: %w", err)
	}

	logger.Info("ingestion run complete",
		zap.String("revision", rev),
		zap.Int("added", report.FilesAdded),
		zap.Int("modified", report.FilesModified),
		zap.Int("deleted", report.FilesDeleted),
		zap.Int("chunks_written", report.ChunksWritten),
		zap.Int("chunks_deleted", report.ChunksDeleted),
		zap.Int("failed", len(report.Errors)),
	)
	return report, nil
}

// purgeDeleted removes chunks for files that no longer exist. Deleted
// files have no replacement, so their purge is unconditional.
func (s *Service) purgeDeleted(ctx context.Context, repo *config.Repository, deleted []string, next *state.RepositoryState, report *Report) {
	if len(deleted) == 0 {
		return
	}
	if err := s.index.DeleteByFiles(ctx, repo.Name, deleted); err != nil {
		for _, path := range deleted {
			report.addError(path, err)
		}
		return
	}
	for _, path := range deleted {
		report.FilesDeleted++
		report.ChunksDeleted += next.Files[path].ChunkCount
		delete(next.Files, path)
	}
}

// processFile reconciles one added or modified file. The file's old chunks
// are deleted only after its replacement chunks have been embedded, so an
// embedding failure leaves the previous chunks queryable.
func (s *Service) processFile(ctx context.Context, logger *zap.Logger, repo *config.Repository, path string, next *state.RepositoryState, report *Report) {
	prior, hasPrior := next.Files[path]

	content, err := s.mirror.ReadFile(repo, path)
	if errors.Is(err, os.ErrNotExist) {
		// The file vanished between diff and read, e.g. a concurrent
		// force-push. Discard it rather than count it deleted: the change
		// set classified it as added or modified, and FilesDeleted must
		// not exceed what the diff contained.
		s.discardFile(ctx, repo, path, next, report)
		return
	}
	if err != nil {
		report.addError(path, err)
		return
	}

	if int64(len(content)) > s.cfg.MaxFileSize || isBinary(content) {
		s.discardFile(ctx, repo, path, next, report)
		return
	}

	sum := sha256.Sum256(content)
	fingerprint := hex.EncodeToString(sum[:])
	if hasPrior && prior.Fingerprint == fingerprint {
		// Path-level diff reported a change but the content is identical,
		// e.g. a mode-only change or a revert landing mid-run.
		report.FilesSkipped++
		return
	}

	chunks := s.chunker.Chunk(repo.Name, path, mirror.LanguageForPath(path), string(content))
	if len(chunks) == 0 {
		// Empty or whitespace-only content indexes nothing.
		s.discardFile(ctx, repo, path, next, report)
		return
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		report.addError(path, err)
		return
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	// Delete-then-upsert, scoped to this file, and unconditional: even a
	// file the state does not track may have chunks in the index, left by
	// a run that died between its index writes and the state commit. A
	// stale higher-sequence chunk would survive a shrinking re-chunk if
	// the delete were skipped.
	if err := s.index.DeleteByFiles(ctx, repo.Name, []string{path}); err != nil {
		report.addError(path, err)
		return
	}
	if err := s.index.Upsert(ctx, chunks); err != nil {
		report.addError(path, err)
		return
	}

	next.Files[path] = state.FileState{Fingerprint: fingerprint, ChunkCount: len(chunks)}
	if hasPrior {
		report.FilesModified++
		report.ChunksDeleted += prior.ChunkCount
	} else {
		report.FilesAdded++
	}
	report.ChunksWritten += len(chunks)

	logger.Debug("file reconciled",
		zap.String("path", path),
		zap.Int("chunks", len(chunks)),
	)
}

// discardFile drops a file from the index and from tracking: oversized,
// binary, or empty files are not indexed, and any chunks from a previous
// indexable version must go.
func (s *Service) discardFile(ctx context.Context, repo *config.Repository, path string, next *state.RepositoryState, report *Report) {
	prior, hasPrior := next.Files[path]
	if hasPrior {
		if err := s.index.DeleteByFiles(ctx, repo.Name, []string{path}); err != nil {
			report.addError(path, err)
			return
		}
		report.ChunksDeleted += prior.ChunkCount
		delete(next.Files, path)
	}
	report.FilesSkipped++
}

// RunAll runs ingestion for every enabled repository, bounded by the
// configured worker count. Per-repository failures are captured in the
// corresponding report's Err field; RunAll itself fails only on context
// cancellation.
func (s *Service) RunAll(ctx context.Context, repos []config.Repository, force bool) ([]*Report, error) {
	g, ctx := errgroup.WithContext(ctx)
	workers := s.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	var mu sync.Mutex
	var reports []*Report

	for i := range repos {
		repo := repos[i]
		if !repo.Enabled {
			continue
		}
		g.Go(func() error {
			report, err := s.Run(ctx, &repo, force)
			if err != nil {
				report = &Report{RepoName: repo.Name, Err: err.Error()}
				s.logger.Error("ingestion run failed",
					zap.String("repo", repo.Name),
					zap.Error(err),
				)
			}
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
			return ctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}

// Reset clears a repository's persisted state and all of its indexed
// chunks. The next run will be a full re-index.
func (s *Service) Reset(ctx context.Context, repoName string) error {
	if _, inFlight := s.active.LoadOrStore(repoName, struct{}{}); inFlight {
		return fmt.Errorf("%w: %s", ErrRunInProgress, repoName)
	}
	defer s.active.Delete(repoName)

	if err := s.index.DeleteByRepo(ctx, repoName); err != nil {
		return err
	}
	if err := s.state.Delete(ctx, repoName); err != nil {
		return err
	}
	s.logger.Info("repository reset", zap.String("repo", repoName))
	return nil
}

// isBinary applies the classic NUL-byte heuristic.
func isBinary(content []byte) bool {
	return bytes.IndexByte(content, 0) != -1
}
