package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyrsmithlabs/codeindexd/internal/config"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.StateConfig{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoad_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Load(context.Background(), "unknown")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Load error = %v, want ErrNotFound", err)
	}
}

func TestCommitAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := &RepositoryState{
		RepoName:     "myrepo",
		LastRevision: "abc123",
		Files: map[string]FileState{
			"main.go":   {Fingerprint: "f1", ChunkCount: 3},
			"README.md": {Fingerprint: "f2", ChunkCount: 1},
		},
		LastIngestedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := s.Commit(ctx, in); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	out, err := s.Load(ctx, "myrepo")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.LastRevision != "abc123" {
		t.Errorf("LastRevision = %q, want abc123", out.LastRevision)
	}
	if len(out.Files) != 2 {
		t.Fatalf("got %d files, want 2", len(out.Files))
	}
	if out.Files["main.go"] != (FileState{Fingerprint: "f1", ChunkCount: 3}) {
		t.Errorf("main.go state = %+v", out.Files["main.go"])
	}
	if !out.LastIngestedAt.Equal(in.LastIngestedAt) {
		t.Errorf("LastIngestedAt = %v, want %v", out.LastIngestedAt, in.LastIngestedAt)
	}
}

func TestCommit_ReplacesFingerprintsAtomically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &RepositoryState{
		RepoName:     "myrepo",
		LastRevision: "rev1",
		Files: map[string]FileState{
			"a.go": {Fingerprint: "fa", ChunkCount: 1},
			"b.go": {Fingerprint: "fb", ChunkCount: 2},
		},
	}
	if err := s.Commit(ctx, first); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Second commit drops b.go and adds c.go.
	second := &RepositoryState{
		RepoName:     "myrepo",
		LastRevision: "rev2",
		Files: map[string]FileState{
			"a.go": {Fingerprint: "fa2", ChunkCount: 1},
			"c.go": {Fingerprint: "fc", ChunkCount: 4},
		},
	}
	if err := s.Commit(ctx, second); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	out, err := s.Load(ctx, "myrepo")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.LastRevision != "rev2" {
		t.Errorf("LastRevision = %q, want rev2", out.LastRevision)
	}
	if _, stale := out.Files["b.go"]; stale {
		t.Error("b.go should have been removed by the second commit")
	}
	if out.Files["a.go"].Fingerprint != "fa2" {
		t.Errorf("a.go fingerprint = %q, want fa2", out.Files["a.go"].Fingerprint)
	}
	if out.Files["c.go"].ChunkCount != 4 {
		t.Errorf("c.go chunk count = %d, want 4", out.Files["c.go"].ChunkCount)
	}
}

func TestDelete_CascadesFingerprints(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Commit(ctx, &RepositoryState{
		RepoName:     "myrepo",
		LastRevision: "rev1",
		Files:        map[string]FileState{"a.go": {Fingerprint: "fa", ChunkCount: 1}},
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := s.Delete(ctx, "myrepo"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := s.Load(ctx, "myrepo"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after delete = %v, want ErrNotFound", err)
	}

	// Committing again must start clean.
	if err := s.Commit(ctx, &RepositoryState{
		RepoName:     "myrepo",
		LastRevision: "rev2",
		Files:        map[string]FileState{},
	}); err != nil {
		t.Fatalf("Commit after delete: %v", err)
	}
	out, err := s.Load(ctx, "myrepo")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out.Files) != 0 {
		t.Errorf("expected no fingerprints after re-commit, got %d", len(out.Files))
	}
}

func TestDelete_Unknown(t *testing.T) {
	s := openTestStore(t)
	if err := s.Delete(context.Background(), "never-seen"); err != nil {
		t.Errorf("Delete of unknown repo should be a no-op, got %v", err)
	}
}

func TestList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha"} {
		if err := s.Commit(ctx, &RepositoryState{
			RepoName:     name,
			LastRevision: "rev-" + name,
			Files:        map[string]FileState{"f.go": {Fingerprint: "x", ChunkCount: 1}},
		}); err != nil {
			t.Fatalf("Commit %s: %v", name, err)
		}
	}

	states, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("got %d states, want 2", len(states))
	}
	if states[0].RepoName != "alpha" || states[1].RepoName != "zeta" {
		t.Errorf("List not ordered by name: %s, %s", states[0].RepoName, states[1].RepoName)
	}
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "state.db")
	s, err := Open(config.StateConfig{Path: path})
	if err != nil {
		t.Fatalf("Open with missing parent dirs: %v", err)
	}
	_ = s.Close()
}
