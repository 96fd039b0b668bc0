package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeindexd/internal/ingest"
	"github.com/fyrsmithlabs/codeindexd/internal/mirror"
	"github.com/fyrsmithlabs/codeindexd/internal/state"
)

// IngestRequest is the request body for POST /api/ingest.
type IngestRequest struct {
	// Repo limits the run to one repository. Empty runs all enabled ones.
	Repo  string `json:"repo,omitempty"`
	Force bool   `json:"force,omitempty"`
}

// IngestResponse is the response body for POST /api/ingest.
type IngestResponse struct {
	Reports []*ingest.Report `json:"reports"`
}

// StateResponse is one repository's state without per-file detail.
type StateResponse struct {
	RepoName       string `json:"repo_name"`
	LastRevision   string `json:"last_revision"`
	TrackedFiles   int    `json:"tracked_files"`
	LastIngestedAt string `json:"last_ingested_at"`
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()

	if req.Repo == "" {
		reports, err := s.ingestor.RunAll(ctx, s.cfg.Repositories, req.Force)
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return c.JSON(http.StatusOK, IngestResponse{Reports: reports})
	}

	repo := s.cfg.FindRepository(req.Repo)
	if repo == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown repository")
	}

	report, err := s.ingestor.Run(ctx, repo, req.Force)
	if err != nil {
		return ingestError(err)
	}
	return c.JSON(http.StatusOK, IngestResponse{Reports: []*ingest.Report{report}})
}

func (s *Server) handleListState(c echo.Context) error {
	states, err := s.states.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := make([]StateResponse, len(states))
	for i, st := range states {
		resp[i] = toStateResponse(st)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetState(c echo.Context) error {
	repoName := c.Param("repo")
	st, err := s.states.Load(c.Request().Context(), repoName)
	if errors.Is(err, state.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "repository has no recorded state")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toStateResponse(st))
}

func (s *Server) handleReset(c echo.Context) error {
	repoName := c.Param("repo")
	if s.cfg.FindRepository(repoName) == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown repository")
	}

	if err := s.ingestor.Reset(c.Request().Context(), repoName); err != nil {
		if errors.Is(err, ingest.ErrRunInProgress) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	s.logger.Info("repository reset via api", zap.String("repo", repoName))
	return c.NoContent(http.StatusNoContent)
}

func toStateResponse(st *state.RepositoryState) StateResponse {
	resp := StateResponse{
		RepoName:     st.RepoName,
		LastRevision: st.LastRevision,
		TrackedFiles: len(st.Files),
	}
	if !st.LastIngestedAt.IsZero() {
		resp.LastIngestedAt = st.LastIngestedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// ingestError maps run-scoped ingestion failures to HTTP status codes.
func ingestError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ingest.ErrRunInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, mirror.ErrSourceUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, mirror.ErrHistoryDiverged):
		return echo.NewHTTPError(http.StatusConflict, err.Error()+" (re-run with force to rebuild)")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
