package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeindexd/internal/chunker"
	"github.com/fyrsmithlabs/codeindexd/internal/config"
	"github.com/fyrsmithlabs/codeindexd/internal/embeddings"
	"github.com/fyrsmithlabs/codeindexd/internal/ingest"
	"github.com/fyrsmithlabs/codeindexd/internal/logging"
	"github.com/fyrsmithlabs/codeindexd/internal/mirror"
	"github.com/fyrsmithlabs/codeindexd/internal/state"
	"github.com/fyrsmithlabs/codeindexd/internal/vectorstore"
)

// app holds the wired components shared by subcommands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	embedder embeddings.Provider
	store    vectorstore.Store
	states   *state.Store
	ingestor *ingest.Service
}

// newApp loads configuration and wires every component the ingestion
// pipeline needs. Call close when done.
func newApp() (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	embedder, err := embeddings.NewProvider(cfg.Embeddings, logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	store, err := vectorstore.New(cfg.VectorStore, embedder.Dimension(), logger)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	states, err := state.Open(cfg.State)
	if err != nil {
		_ = store.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	mirrorPath, err := config.ExpandPath(cfg.Ingest.MirrorPath)
	if err != nil {
		_ = states.Close()
		_ = store.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("expanding mirror path: %w", err)
	}

	mirrors := mirror.New(mirrorPath, cfg.Ingest.GitToken, logger)
	chunks := chunker.New(chunker.Options{
		MaxChunkSize: cfg.Ingest.MaxChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
	}, logger)

	ingestor := ingest.New(cfg.Ingest, mirrors, chunks, embedder, store, states, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		embedder: embedder,
		store:    store,
		states:   states,
		ingestor: ingestor,
	}, nil
}

func (a *app) close() {
	if err := a.states.Close(); err != nil {
		a.logger.Warn("closing state store", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing vector store", zap.Error(err))
	}
	if err := a.embedder.Close(); err != nil {
		a.logger.Warn("closing embedding provider", zap.Error(err))
	}
	logging.Sync(a.logger)
}
