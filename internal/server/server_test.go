package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeindexd/internal/config"
	"github.com/fyrsmithlabs/codeindexd/internal/ingest"
	"github.com/fyrsmithlabs/codeindexd/internal/state"
)

type fakeIngestor struct {
	runCalls   chan string
	runErr     error
	resetCalls []string
}

func (f *fakeIngestor) Run(ctx context.Context, repo *config.Repository, force bool) (*ingest.Report, error) {
	if f.runCalls != nil {
		f.runCalls <- repo.Name
	}
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &ingest.Report{RepoName: repo.Name, ToRevision: "rev1", FilesAdded: 1}, nil
}

func (f *fakeIngestor) RunAll(ctx context.Context, repos []config.Repository, force bool) ([]*ingest.Report, error) {
	var reports []*ingest.Report
	for _, r := range repos {
		if r.Enabled {
			reports = append(reports, &ingest.Report{RepoName: r.Name})
		}
	}
	return reports, nil
}

func (f *fakeIngestor) Reset(ctx context.Context, repoName string) error {
	f.resetCalls = append(f.resetCalls, repoName)
	return nil
}

type fakeStates struct {
	states map[string]*state.RepositoryState
}

func (f *fakeStates) Load(ctx context.Context, repoName string) (*state.RepositoryState, error) {
	st, ok := f.states[repoName]
	if !ok {
		return nil, state.ErrNotFound
	}
	return st, nil
}

func (f *fakeStates) List(ctx context.Context) ([]*state.RepositoryState, error) {
	var out []*state.RepositoryState
	for _, st := range f.states {
		out = append(out, st)
	}
	return out, nil
}

const testWebhookSecret = "hunter2"

func newTestServer(t *testing.T) (*Server, *fakeIngestor, *fakeStates) {
	t.Helper()

	cfg := config.NewDefaultConfig()
	cfg.Server.WebhookSecret = config.Secret(testWebhookSecret)
	cfg.Repositories = []config.Repository{
		{
			Name:    "demo",
			URL:     "https://github.com/acme/demo.git",
			Branch:  "main",
			Enabled: true,
		},
	}
	for i := range cfg.Repositories {
		cfg.Repositories[i].ApplyDefaults()
	}

	ingestor := &fakeIngestor{}
	states := &fakeStates{states: map[string]*state.RepositoryState{
		"demo": {
			RepoName:       "demo",
			LastRevision:   "abc",
			Files:          map[string]state.FileState{"a.go": {Fingerprint: "f", ChunkCount: 2}},
			LastIngestedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		},
	}}

	srv, err := New(cfg, ingestor, states, zap.NewNop())
	require.NoError(t, err)
	return srv, ingestor, states
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleIngest_SingleRepo(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := bytes.NewBufferString(`{"repo":"demo","force":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Reports, 1)
	assert.Equal(t, "demo", resp.Reports[0].RepoName)
}

func TestHandleIngest_UnknownRepo(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := bytes.NewBufferString(`{"repo":"nope"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleIngest_RunInProgress(t *testing.T) {
	srv, ingestor, _ := newTestServer(t)
	ingestor.runErr = fmt.Errorf("%w: demo", ingest.ErrRunInProgress)

	body := bytes.NewBufferString(`{"repo":"demo"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleGetState(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/state/demo", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp StateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "demo", resp.RepoName)
	assert.Equal(t, "abc", resp.LastRevision)
	assert.Equal(t, 1, resp.TrackedFiles)
}

func TestHandleGetState_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/state/missing", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleReset(t *testing.T) {
	srv, ingestor, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/reset/demo", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"demo"}, ingestor.resetCalls)
}

func TestHandleReset_UnknownRepo(t *testing.T) {
	srv, ingestor, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/reset/nope", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, ingestor.resetCalls)
}

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func pushPayload(cloneURL, ref string) []byte {
	payload := map[string]any{
		"ref":   ref,
		"after": "abc123",
		"repository": map[string]any{
			"full_name": "acme/demo",
			"clone_url": cloneURL,
		},
	}
	b, _ := json.Marshal(payload)
	return b
}

func TestWebhook_PushTriggersRun(t *testing.T) {
	srv, ingestor, _ := newTestServer(t)
	ingestor.runCalls = make(chan string, 1)

	payload := pushPayload("https://github.com/acme/demo.git", "refs/heads/main")
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", signPayload(testWebhookSecret, payload))
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case name := <-ingestor.runCalls:
		assert.Equal(t, "demo", name)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook did not trigger an ingestion run")
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	srv, _, _ := newTestServer(t)

	payload := pushPayload("https://github.com/acme/demo.git", "refs/heads/main")
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", signPayload("wrong-secret", payload))
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_UntrackedBranchIgnored(t *testing.T) {
	srv, ingestor, _ := newTestServer(t)
	ingestor.runCalls = make(chan string, 1)

	payload := pushPayload("https://github.com/acme/demo.git", "refs/heads/feature")
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", signPayload(testWebhookSecret, payload))
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-ingestor.runCalls:
		t.Fatal("push to untracked branch must not trigger a run")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebhook_UnknownRepoIgnored(t *testing.T) {
	srv, ingestor, _ := newTestServer(t)
	ingestor.runCalls = make(chan string, 1)

	payload := pushPayload("https://github.com/acme/unrelated.git", "refs/heads/main")
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", signPayload(testWebhookSecret, payload))
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-ingestor.runCalls:
		t.Fatal("push for unknown repository must not trigger a run")
	case <-time.After(100 * time.Millisecond):
	}
}
