// Package config provides configuration loading for codeindexd.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration for the daemon.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	Embeddings   EmbeddingsConfig   `koanf:"embeddings"`
	VectorStore  VectorStoreConfig  `koanf:"vectorstore"`
	State        StateConfig        `koanf:"state"`
	Ingest       IngestConfig       `koanf:"ingest"`
	Repositories []Repository       `koanf:"repositories"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the listen address. Default: "127.0.0.1".
	Host string `koanf:"host"`

	// Port is the HTTP port. Default: 8420.
	Port int `koanf:"port"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`

	// WebhookSecret validates GitHub webhook signatures. Optional;
	// when unset, webhook payloads are accepted unverified.
	WebhookSecret Secret `koanf:"webhook_secret"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error. Default: "info".
	Level string `koanf:"level"`

	// Format is "json" or "console". Default: "json".
	Format string `koanf:"format"`
}

// EmbeddingsConfig holds embedding provider settings.
type EmbeddingsConfig struct {
	// Provider selects the embedding backend: "tei" or "nop".
	// Default: "tei".
	Provider string `koanf:"provider"`

	// BaseURL is the TEI-compatible endpoint. Default: "http://localhost:8080".
	BaseURL string `koanf:"base_url"`

	// Model is the embedding model name, informational for TEI.
	Model string `koanf:"model"`

	// APIKey is sent as a bearer token when set.
	APIKey Secret `koanf:"api_key"`

	// Dimension is the embedding vector size. Must match the model.
	// Default: 384 (bge-small-en-v1.5).
	Dimension int `koanf:"dimension"`

	// BatchSize is the maximum texts per provider request. Default: 32.
	BatchSize int `koanf:"batch_size"`

	// MaxRetries bounds retry attempts on transient failures. Default: 3.
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the initial backoff, doubled per attempt. Default: 1s.
	RetryBackoff Duration `koanf:"retry_backoff"`

	// RequestsPerSecond is a client-side rate limit. 0 disables limiting.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// VectorStoreConfig holds vector index settings.
type VectorStoreConfig struct {
	// Backend selects the store: "chromem" (embedded) or "qdrant".
	// Default: "chromem".
	Backend string `koanf:"backend"`

	// Collection is the logical collection name for this deployment.
	// Default: "code_chunks".
	Collection string `koanf:"collection"`

	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig holds settings for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the persistence directory. Default: "~/.local/share/codeindexd/vectors".
	Path string `koanf:"path"`

	// Compress enables gzip compression of persisted data.
	Compress bool `koanf:"compress"`
}

// QdrantConfig holds settings for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant hostname. Default: "localhost".
	Host string `koanf:"host"`

	// Port is the Qdrant gRPC port (not the HTTP REST port). Default: 6334.
	Port int `koanf:"port"`

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool `koanf:"use_tls"`

	// APIKey authenticates against Qdrant Cloud when set.
	APIKey Secret `koanf:"api_key"`
}

// StateConfig holds repository state store settings.
type StateConfig struct {
	// Path is the SQLite database file. Default: "~/.local/share/codeindexd/state.db".
	Path string `koanf:"path"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	// MirrorPath is the base directory for local repository mirrors.
	// Default: "~/.local/share/codeindexd/repos".
	MirrorPath string `koanf:"mirror_path"`

	// GitToken authenticates HTTPS clones and fetches when set.
	GitToken Secret `koanf:"git_token"`

	// MaxChunkSize is the maximum chunk size in bytes. Default: 2048.
	MaxChunkSize int `koanf:"max_chunk_size"`

	// ChunkOverlap is the overlap between fallback windows in bytes.
	// Default: 256.
	ChunkOverlap int `koanf:"chunk_overlap"`

	// MaxFileSize is the largest file considered for indexing. Default: 1MB.
	MaxFileSize int64 `koanf:"max_file_size"`

	// Workers bounds concurrent repository runs for RunAll. Default: 2.
	Workers int `koanf:"workers"`
}

// Repository describes one tracked repository. Immutable within a run.
type Repository struct {
	// Name uniquely identifies the repository across state and index.
	Name string `koanf:"name"`

	// URL is the remote clone URL (HTTPS or SSH).
	URL string `koanf:"url"`

	// Branch is the tracked branch. Default: "main".
	Branch string `koanf:"branch"`

	// Path is the mirror directory name under ingest.mirror_path.
	// Default: Name.
	Path string `koanf:"path"`

	// Languages restricts indexing to these languages (by extension).
	// Default: ["go", "markdown"].
	Languages []string `koanf:"languages"`

	// ExcludePatterns are glob patterns for paths to skip.
	// Matched against basename, relative path, and "dir/**" prefixes.
	ExcludePatterns []string `koanf:"exclude_patterns"`

	// Enabled controls whether RunAll processes this repository.
	Enabled bool `koanf:"enabled"`
}

// NewDefaultConfig returns config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8420,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Embeddings: EmbeddingsConfig{
			Provider:     "tei",
			BaseURL:      "http://localhost:8080",
			Model:        "BAAI/bge-small-en-v1.5",
			Dimension:    384,
			BatchSize:    32,
			MaxRetries:   3,
			RetryBackoff: Duration(time.Second),
		},
		VectorStore: VectorStoreConfig{
			Backend:    "chromem",
			Collection: "code_chunks",
			Chromem: ChromemConfig{
				Path: "~/.local/share/codeindexd/vectors",
			},
			Qdrant: QdrantConfig{
				Host: "localhost",
				Port: 6334,
			},
		},
		State: StateConfig{
			Path: "~/.local/share/codeindexd/state.db",
		},
		Ingest: IngestConfig{
			MirrorPath:   "~/.local/share/codeindexd/repos",
			MaxChunkSize: 2048,
			ChunkOverlap: 256,
			MaxFileSize:  1024 * 1024,
			Workers:      2,
		},
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	switch c.Embeddings.Provider {
	case "tei", "nop":
	default:
		return fmt.Errorf("embeddings.provider must be 'tei' or 'nop', got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings.dimension must be positive, got %d", c.Embeddings.Dimension)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	switch c.VectorStore.Backend {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("vectorstore.backend must be 'chromem' or 'qdrant', got %q", c.VectorStore.Backend)
	}
	if c.Ingest.MaxChunkSize <= 0 {
		return fmt.Errorf("ingest.max_chunk_size must be positive, got %d", c.Ingest.MaxChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.MaxChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, max_chunk_size), got %d", c.Ingest.ChunkOverlap)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be positive, got %d", c.Ingest.Workers)
	}

	seen := make(map[string]bool, len(c.Repositories))
	for i := range c.Repositories {
		repo := &c.Repositories[i]
		if err := repo.Validate(); err != nil {
			return fmt.Errorf("repositories[%d]: %w", i, err)
		}
		if seen[repo.Name] {
			return fmt.Errorf("repositories[%d]: duplicate name %q", i, repo.Name)
		}
		seen[repo.Name] = true
	}
	return nil
}

// ApplyDefaults fills unset repository fields.
func (r *Repository) ApplyDefaults() {
	if r.Branch == "" {
		r.Branch = "main"
	}
	if r.Path == "" {
		r.Path = r.Name
	}
	if len(r.Languages) == 0 {
		r.Languages = []string{"go", "markdown"}
	}
}

// Validate checks a repository descriptor for errors.
func (r *Repository) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(r.Name, "/\\ ") {
		return fmt.Errorf("name %q must not contain slashes or spaces", r.Name)
	}
	if r.URL == "" {
		return fmt.Errorf("url is required")
	}
	if r.Path != "" && (filepath.IsAbs(r.Path) || strings.Contains(r.Path, "..")) {
		return fmt.Errorf("path %q must be a plain directory name", r.Path)
	}
	for _, pattern := range r.ExcludePatterns {
		if _, err := filepath.Match(pattern, "probe"); err != nil {
			return fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// FindRepository returns the descriptor with the given name, or nil.
func (c *Config) FindRepository(name string) *Repository {
	for i := range c.Repositories {
		if c.Repositories[i].Name == name {
			return &c.Repositories[i]
		}
	}
	return nil
}
