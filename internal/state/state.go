// Package state persists per-repository ingestion state: the last fully
// ingested revision and a fingerprint per indexed file.
//
// The store's single invariant is atomicity: Commit replaces a repository's
// revision and its entire fingerprint map in one transaction, so readers
// never observe a revision paired with another revision's fingerprints.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fyrsmithlabs/codeindexd/internal/config"
)

// ErrNotFound is returned when no state exists for a repository.
var ErrNotFound = errors.New("repository state not found")

// FileState records what the index holds for one file: the content
// fingerprint at the time its chunks were written, and how many chunks
// that write produced.
type FileState struct {
	Fingerprint string
	ChunkCount  int
}

// RepositoryState is the durable record of a repository's last successful
// ingestion.
type RepositoryState struct {
	RepoName     string
	LastRevision string
	// Files maps file path to the state recorded when the file's chunks
	// were last written to the index.
	Files          map[string]FileState
	LastIngestedAt time.Time
}

// Store persists repository state in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the state database at the configured path and
// runs migrations.
func Open(cfg config.StateConfig) (*Store, error) {
	path, err := config.ExpandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding state path: %w", err)
	}
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	// Foreign keys are disabled by default in SQLite.
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// SQLite allows a single writer; more connections only add lock churn.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging state db: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS repositories (
			name TEXT PRIMARY KEY,
			last_revision TEXT NOT NULL,
			last_ingested_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS file_fingerprints (
			repo_name TEXT NOT NULL,
			file_path TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			chunk_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (repo_name, file_path),
			FOREIGN KEY (repo_name) REFERENCES repositories(name) ON DELETE CASCADE
		);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}
	return nil
}

// Load returns the stored state for a repository, or ErrNotFound if the
// repository has never been committed.
func (s *Store) Load(ctx context.Context, repoName string) (*RepositoryState, error) {
	state := &RepositoryState{
		RepoName: repoName,
		Files:    make(map[string]FileState),
	}

	var ingestedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT last_revision, last_ingested_at FROM repositories WHERE name = ?",
		repoName,
	).Scan(&state.LastRevision, &ingestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying repository state: %w", err)
	}

	state.LastIngestedAt, err = parseSQLiteTime(ingestedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing last_ingested_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT file_path, fingerprint, chunk_count FROM file_fingerprints WHERE repo_name = ?",
		repoName,
	)
	if err != nil {
		return nil, fmt.Errorf("querying fingerprints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var path string
		var fs FileState
		if err := rows.Scan(&path, &fs.Fingerprint, &fs.ChunkCount); err != nil {
			return nil, fmt.Errorf("scanning fingerprint row: %w", err)
		}
		state.Files[path] = fs
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fingerprints: %w", err)
	}

	return state, nil
}

// Commit atomically replaces a repository's revision and fingerprint map.
// Either every row lands or none does.
func (s *Store) Commit(ctx context.Context, state *RepositoryState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning state transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ingestedAt := state.LastIngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO repositories (name, last_revision, last_ingested_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET last_revision = excluded.last_revision, last_ingested_at = excluded.last_ingested_at`,
		state.RepoName, state.LastRevision, ingestedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting repository row: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM file_fingerprints WHERE repo_name = ?", state.RepoName,
	); err != nil {
		return fmt.Errorf("clearing fingerprints: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO file_fingerprints (repo_name, file_path, fingerprint, chunk_count) VALUES (?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("preparing fingerprint insert: %w", err)
	}
	defer stmt.Close()

	for path, fs := range state.Files {
		if _, err := stmt.ExecContext(ctx, state.RepoName, path, fs.Fingerprint, fs.ChunkCount); err != nil {
			return fmt.Errorf("inserting fingerprint for %s: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing state transaction: %w", err)
	}
	return nil
}

// Delete removes all state for a repository. Fingerprints cascade.
func (s *Store) Delete(ctx context.Context, repoName string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM repositories WHERE name = ?", repoName,
	); err != nil {
		return fmt.Errorf("deleting repository state: %w", err)
	}
	return nil
}

// List returns the state of every known repository, without fingerprints.
func (s *Store) List(ctx context.Context) ([]*RepositoryState, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, last_revision, last_ingested_at FROM repositories ORDER BY name",
	)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	defer rows.Close()

	var states []*RepositoryState
	for rows.Next() {
		state := &RepositoryState{}
		var ingestedAt string
		if err := rows.Scan(&state.RepoName, &state.LastRevision, &ingestedAt); err != nil {
			return nil, fmt.Errorf("scanning repository row: %w", err)
		}
		state.LastIngestedAt, err = parseSQLiteTime(ingestedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing last_ingested_at: %w", err)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating repositories: %w", err)
	}
	return states, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	return nil
}

func parseSQLiteTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return t, nil
	}
	// SQLite's CURRENT_TIMESTAMP format, in case rows were written by hand.
	return time.Parse("2006-01-02 15:04:05", value)
}
