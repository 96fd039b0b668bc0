package ingest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/codeindexd/internal/chunker"
	"github.com/fyrsmithlabs/codeindexd/internal/config"
	"github.com/fyrsmithlabs/codeindexd/internal/embeddings"
	"github.com/fyrsmithlabs/codeindexd/internal/mirror"
	"github.com/fyrsmithlabs/codeindexd/internal/state"
)

// fakeMirror serves canned revisions, change sets, and file contents.
type fakeMirror struct {
	mu       sync.Mutex
	revision string
	syncErr  error
	diffErr  error
	// changes overrides the diff result for incremental runs. When nil,
	// every known file is reported as added (full-tree semantics).
	changes *mirror.ChangeSet
	files   map[string]string
}

func (m *fakeMirror) Sync(ctx context.Context, repo *config.Repository) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.syncErr != nil {
		return "", m.syncErr
	}
	return m.revision, nil
}

func (m *fakeMirror) Diff(ctx context.Context, repo *config.Repository, fromRev, toRev string) (*mirror.ChangeSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.diffErr != nil {
		return nil, m.diffErr
	}
	if fromRev == "" || m.changes == nil {
		cs := &mirror.ChangeSet{}
		for path := range m.files {
			cs.Added = append(cs.Added, path)
		}
		return cs, nil
	}
	return m.changes, nil
}

func (m *fakeMirror) ReadFile(repo *config.Repository, relPath string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[relPath]
	if !ok {
		return nil, os.ErrNotExist
	}
	return []byte(content), nil
}

// fakeEmbedder produces fixed-size vectors and can be told to fail for
// texts containing a marker substring.
type fakeEmbedder struct {
	mu            sync.Mutex
	failSubstring string
	calls         int
	entered       chan struct{} // optional: closed-once signal for concurrency tests
	release       chan struct{} // optional: blocks until closed
	enterOnce     sync.Once
}

func (e *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	fail := e.failSubstring
	e.mu.Unlock()

	if e.entered != nil {
		e.enterOnce.Do(func() { close(e.entered) })
	}
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	for _, text := range texts {
		if fail != "" && strings.Contains(text, fail) {
			return nil, fmt.Errorf("%w: simulated outage", embeddings.ErrEmbeddingUnavailable)
		}
	}

	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{1, 2, 3, 4}
	}
	return vectors, nil
}

func (e *fakeEmbedder) setFailSubstring(s string) {
	e.mu.Lock()
	e.failSubstring = s
	e.mu.Unlock()
}

// fakeIndex is an in-memory chunk store keyed by chunk ID.
type fakeIndex struct {
	mu        sync.Mutex
	chunks    map[string]chunker.Chunk
	upsertErr error
	deleteErr error
	// deletedPaths records every path passed to DeleteByFiles.
	deletedPaths []string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{chunks: make(map[string]chunker.Chunk)}
}

func (f *fakeIndex) Upsert(ctx context.Context, chunks []chunker.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	for _, c := range chunks {
		f.chunks[c.ID] = c
	}
	return nil
}

func (f *fakeIndex) DeleteByFiles(ctx context.Context, repoName string, filePaths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	paths := make(map[string]bool, len(filePaths))
	for _, p := range filePaths {
		paths[p] = true
		f.deletedPaths = append(f.deletedPaths, p)
	}
	for id, c := range f.chunks {
		if c.RepoName == repoName && paths[c.FilePath] {
			delete(f.chunks, id)
		}
	}
	return nil
}

func (f *fakeIndex) DeleteByRepo(ctx context.Context, repoName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for id, c := range f.chunks {
		if c.RepoName == repoName {
			delete(f.chunks, id)
		}
	}
	return nil
}

// chunksForPath returns the chunks currently indexed for a file.
func (f *fakeIndex) chunksForPath(path string) []chunker.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chunker.Chunk
	for _, c := range f.chunks {
		if c.FilePath == path {
			out = append(out, c)
		}
	}
	return out
}

// indexedPaths returns the set of file paths with at least one chunk.
func (f *fakeIndex) indexedPaths() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := make(map[string]bool)
	for _, c := range f.chunks {
		paths[c.FilePath] = true
	}
	return paths
}

func (f *fakeIndex) wasDeleted(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.deletedPaths {
		if p == path {
			return true
		}
	}
	return false
}

// fakeState is an in-memory StateStore with atomic replace semantics.
type fakeState struct {
	mu        sync.Mutex
	states    map[string]*state.RepositoryState
	commitErr error
}

func newFakeState() *fakeState {
	return &fakeState{states: make(map[string]*state.RepositoryState)}
}

func (f *fakeState) Load(ctx context.Context, repoName string) (*state.RepositoryState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[repoName]
	if !ok {
		return nil, state.ErrNotFound
	}
	return copyState(st), nil
}

func (f *fakeState) Commit(ctx context.Context, st *state.RepositoryState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.states[st.RepoName] = copyState(st)
	return nil
}

func (f *fakeState) Delete(ctx context.Context, repoName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, repoName)
	return nil
}

func copyState(st *state.RepositoryState) *state.RepositoryState {
	out := &state.RepositoryState{
		RepoName:       st.RepoName,
		LastRevision:   st.LastRevision,
		Files:          make(map[string]state.FileState, len(st.Files)),
		LastIngestedAt: st.LastIngestedAt,
	}
	for k, v := range st.Files {
		out.Files[k] = v
	}
	return out
}
