// Package server provides the HTTP API for codeindexd: manual ingestion
// triggers, state inspection, repository reset, and GitHub push webhooks.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeindexd/internal/config"
	"github.com/fyrsmithlabs/codeindexd/internal/ingest"
	"github.com/fyrsmithlabs/codeindexd/internal/state"
)

// Ingestor triggers ingestion runs. Implemented by *ingest.Service.
type Ingestor interface {
	Run(ctx context.Context, repo *config.Repository, force bool) (*ingest.Report, error)
	RunAll(ctx context.Context, repos []config.Repository, force bool) ([]*ingest.Report, error)
	Reset(ctx context.Context, repoName string) error
}

// StateReader exposes read-only repository state. Implemented by *state.Store.
type StateReader interface {
	Load(ctx context.Context, repoName string) (*state.RepositoryState, error)
	List(ctx context.Context) ([]*state.RepositoryState, error)
}

// Server hosts the HTTP API.
type Server struct {
	echo     *echo.Echo
	cfg      *config.Config
	ingestor Ingestor
	states   StateReader
	logger   *zap.Logger
}

// New creates an HTTP server wired to the given collaborators.
func New(cfg *config.Config, ingestor Ingestor, states StateReader, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor is required")
	}
	if states == nil {
		return nil, fmt.Errorf("state reader is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		cfg:      cfg,
		ingestor: ingestor,
		states:   states,
		logger:   logger.Named("http"),
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	api.POST("/ingest", s.handleIngest)
	api.GET("/state", s.handleListState)
	api.GET("/state/:repo", s.handleGetState)
	api.POST("/reset/:repo", s.handleReset)

	s.echo.POST("/webhook/github", s.handleGitHubWebhook)
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
