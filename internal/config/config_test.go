package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadWithFile_Defaults(t *testing.T) {
	// Point at a nonexistent file so only defaults apply.
	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8420, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "tei", cfg.Embeddings.Provider)
	assert.Equal(t, 384, cfg.Embeddings.Dimension)
	assert.Equal(t, "chromem", cfg.VectorStore.Backend)
	assert.Equal(t, "code_chunks", cfg.VectorStore.Collection)
	assert.Equal(t, 2048, cfg.Ingest.MaxChunkSize)
	assert.Equal(t, 256, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, int64(1024*1024), cfg.Ingest.MaxFileSize)
	assert.Equal(t, 2, cfg.Ingest.Workers)
	assert.Empty(t, cfg.Repositories)
}

func TestLoadWithFile_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9000
logging:
  level: debug
  format: console
vectorstore:
  backend: qdrant
  qdrant:
    host: qdrant.internal
    api_key: super-secret
repositories:
  - name: demo
    url: https://github.com/acme/demo.git
    enabled: true
`)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host) // untouched default
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "qdrant", cfg.VectorStore.Backend)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.Qdrant.Host)
	assert.Equal(t, "super-secret", cfg.VectorStore.Qdrant.APIKey.Value())

	require.Len(t, cfg.Repositories, 1)
	repo := cfg.Repositories[0]
	assert.Equal(t, "demo", repo.Name)
	assert.Equal(t, "main", repo.Branch)
	assert.Equal(t, "demo", repo.Path)
	assert.Equal(t, []string{"go", "markdown"}, repo.Languages)
	assert.True(t, repo.Enabled)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 9000\n")

	t.Setenv("CODEINDEXD_SERVER_PORT", "9001")
	t.Setenv("CODEINDEXD_EMBEDDINGS_BASE_URL", "http://tei.internal:8080")
	t.Setenv("CODEINDEXD_INGEST_GIT_TOKEN", "ghp_token")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "http://tei.internal:8080", cfg.Embeddings.BaseURL)
	assert.Equal(t, "ghp_token", cfg.Ingest.GitToken.Value())
}

func TestLoadWithFile_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a map")

	_, err := LoadWithFile(path)
	require.Error(t, err)
}

func TestLoadWithFile_ValidationFailure(t *testing.T) {
	path := writeConfigFile(t, "logging:\n  format: xml\n")

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "bad embeddings provider",
			mutate:  func(c *Config) { c.Embeddings.Provider = "openai" },
			wantErr: "embeddings.provider",
		},
		{
			name:    "zero dimension",
			mutate:  func(c *Config) { c.Embeddings.Dimension = 0 },
			wantErr: "embeddings.dimension",
		},
		{
			name:    "bad backend",
			mutate:  func(c *Config) { c.VectorStore.Backend = "pinecone" },
			wantErr: "vectorstore.backend",
		},
		{
			name:    "overlap not below chunk size",
			mutate:  func(c *Config) { c.Ingest.ChunkOverlap = c.Ingest.MaxChunkSize },
			wantErr: "ingest.chunk_overlap",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_DuplicateRepositoryNames(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Repositories = []Repository{
		{Name: "demo", URL: "https://example.com/a.git"},
		{Name: "demo", URL: "https://example.com/b.git"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate name")
}

func TestRepositoryValidate(t *testing.T) {
	tests := []struct {
		name    string
		repo    Repository
		wantErr bool
	}{
		{"valid", Repository{Name: "demo", URL: "https://example.com/demo.git"}, false},
		{"missing name", Repository{URL: "https://example.com/demo.git"}, true},
		{"name with slash", Repository{Name: "a/b", URL: "https://example.com/demo.git"}, true},
		{"missing url", Repository{Name: "demo"}, true},
		{"absolute path", Repository{Name: "demo", URL: "u", Path: "/etc/demo"}, true},
		{"path traversal", Repository{Name: "demo", URL: "u", Path: "../demo"}, true},
		{"bad exclude pattern", Repository{Name: "demo", URL: "u", ExcludePatterns: []string{"[unclosed"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.repo.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFindRepository(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Repositories = []Repository{
		{Name: "alpha", URL: "u"},
		{Name: "beta", URL: "u"},
	}

	require.NotNil(t, cfg.FindRepository("beta"))
	assert.Equal(t, "beta", cfg.FindRepository("beta").Name)
	assert.Nil(t, cfg.FindRepository("gamma"))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	expanded, err := ExpandPath("~/.local/share/codeindexd")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "codeindexd"), expanded)

	plain, err := ExpandPath("/var/lib/codeindexd")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/codeindexd", plain)
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	text, err := Duration(2 * time.Second).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2s", string(text))
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	j, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(j))

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())

	var parsed Secret
	require.NoError(t, parsed.UnmarshalText([]byte("tok")))
	assert.Equal(t, "tok", parsed.Value())
}
