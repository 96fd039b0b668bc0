// Package mirror maintains local working copies of remote repositories and
// computes path-level diffs between revisions.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeindexd/internal/config"
)

// Sentinel errors for mirror operations.
var (
	// ErrSourceUnavailable indicates the remote could not be reached or
	// authentication failed. The run for this repository must abort with
	// state untouched.
	ErrSourceUnavailable = errors.New("repository source unavailable")

	// ErrHistoryDiverged indicates the local mirror's history is
	// incompatible with the remote (forced push, rewritten history, or an
	// unknown prior revision). Callers must treat this as requiring a full
	// re-index.
	ErrHistoryDiverged = errors.New("repository history diverged")
)

// Mirror manages local clones of tracked repositories under a base directory.
type Mirror struct {
	basePath string
	token    config.Secret
	logger   *zap.Logger
}

// New creates a Mirror rooted at basePath. The token, when set, authenticates
// HTTPS clone and fetch operations.
func New(basePath string, token config.Secret, logger *zap.Logger) *Mirror {
	return &Mirror{
		basePath: basePath,
		token:    token,
		logger:   logger.Named("mirror"),
	}
}

// LocalPath returns the working copy directory for a descriptor.
func (m *Mirror) LocalPath(repo *config.Repository) string {
	return filepath.Join(m.basePath, repo.Path)
}

func (m *Mirror) auth() *http.BasicAuth {
	if !m.token.IsSet() {
		return nil
	}
	// GitHub and GitLab accept the token as password with any username.
	return &http.BasicAuth{Username: "token", Password: m.token.Value()}
}

// Sync clones the repository if absent, otherwise fetches and fast-forwards
// the tracked branch. Returns the current revision (commit hash) after sync.
//
// Returns ErrSourceUnavailable on network or auth failure and
// ErrHistoryDiverged when the remote branch is not a descendant of the local
// branch head.
func (m *Mirror) Sync(ctx context.Context, repo *config.Repository) (string, error) {
	path := m.LocalPath(repo)
	branchRef := plumbing.NewBranchReferenceName(repo.Branch)

	gitRepo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return m.clone(ctx, repo, path, branchRef)
	}
	if err != nil {
		// Corrupted working copy: remove and re-clone.
		m.logger.Warn("failed to open mirror, re-cloning",
			zap.String("repo", repo.Name), zap.Error(err))
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return "", fmt.Errorf("removing corrupted mirror %s: %w", path, rmErr)
		}
		return m.clone(ctx, repo, path, branchRef)
	}

	refSpec := gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", repo.Branch, repo.Branch))
	err = gitRepo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{refSpec},
		Auth:       m.auth(),
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return "", fmt.Errorf("%w: fetching %s: %v", ErrSourceUnavailable, repo.Name, err)
	}

	remoteRef, err := gitRepo.Reference(plumbing.NewRemoteReferenceName("origin", repo.Branch), true)
	if err != nil {
		return "", fmt.Errorf("%w: resolving origin/%s: %v", ErrSourceUnavailable, repo.Branch, err)
	}
	remoteHash := remoteRef.Hash()

	head, err := gitRepo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD for %s: %w", repo.Name, err)
	}

	if head.Hash() != remoteHash {
		if err := m.fastForward(gitRepo, repo, branchRef, head.Hash(), remoteHash); err != nil {
			return "", err
		}
	}

	return remoteHash.String(), nil
}

func (m *Mirror) clone(ctx context.Context, repo *config.Repository, path string, branchRef plumbing.ReferenceName) (string, error) {
	m.logger.Info("cloning repository",
		zap.String("repo", repo.Name), zap.String("branch", repo.Branch))

	gitRepo, err := git.PlainCloneContext(ctx, path, false, &git.CloneOptions{
		URL:           repo.URL,
		ReferenceName: branchRef,
		SingleBranch:  true,
		Auth:          m.auth(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: cloning %s: %v", ErrSourceUnavailable, repo.Name, err)
	}

	head, err := gitRepo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD after clone of %s: %w", repo.Name, err)
	}
	return head.Hash().String(), nil
}

// fastForward moves the local branch to remoteHash. The move must be a
// fast-forward: the current head has to be an ancestor of the remote head.
func (m *Mirror) fastForward(gitRepo *git.Repository, repo *config.Repository, branchRef plumbing.ReferenceName, localHash, remoteHash plumbing.Hash) error {
	localCommit, err := gitRepo.CommitObject(localHash)
	if err != nil {
		return fmt.Errorf("%w: local head %s unknown", ErrHistoryDiverged, localHash)
	}
	remoteCommit, err := gitRepo.CommitObject(remoteHash)
	if err != nil {
		return fmt.Errorf("resolving remote commit %s: %w", remoteHash, err)
	}

	isAncestor, err := localCommit.IsAncestor(remoteCommit)
	if err != nil {
		return fmt.Errorf("checking ancestry for %s: %w", repo.Name, err)
	}
	if !isAncestor {
		return fmt.Errorf("%w: origin/%s was force-pushed (local %s, remote %s)",
			ErrHistoryDiverged, repo.Branch, localHash, remoteHash)
	}

	worktree, err := gitRepo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree for %s: %w", repo.Name, err)
	}
	if err := worktree.Reset(&git.ResetOptions{Commit: remoteHash, Mode: git.HardReset}); err != nil {
		return fmt.Errorf("resetting worktree for %s: %w", repo.Name, err)
	}
	if err := gitRepo.Storer.SetReference(plumbing.NewHashReference(branchRef, remoteHash)); err != nil {
		return fmt.Errorf("updating branch ref for %s: %w", repo.Name, err)
	}

	m.logger.Info("fast-forwarded mirror",
		zap.String("repo", repo.Name),
		zap.String("from", localHash.String()[:7]),
		zap.String("to", remoteHash.String()[:7]))
	return nil
}

// Diff returns the set of paths that changed between two revisions, with the
// descriptor's language and exclusion filters applied.
//
// When fromRev is empty (first-ever ingestion, or a forced full run), every
// tracked file at toRev is classified as added. When fromRev is no longer
// resolvable in the local history, Diff returns ErrHistoryDiverged so the
// caller falls back to a full re-index.
func (m *Mirror) Diff(ctx context.Context, repo *config.Repository, fromRev, toRev string) (*ChangeSet, error) {
	gitRepo, err := git.PlainOpen(m.LocalPath(repo))
	if err != nil {
		return nil, fmt.Errorf("opening mirror for %s: %w", repo.Name, err)
	}

	filter := newFileFilter(repo.Languages, repo.ExcludePatterns)

	toCommit, err := gitRepo.CommitObject(plumbing.NewHash(toRev))
	if err != nil {
		return nil, fmt.Errorf("resolving revision %s: %w", toRev, err)
	}

	if fromRev == "" {
		return m.fullTree(toCommit, filter)
	}

	fromCommit, err := gitRepo.CommitObject(plumbing.NewHash(fromRev))
	if err != nil {
		return nil, fmt.Errorf("%w: prior revision %s not found", ErrHistoryDiverged, fromRev)
	}

	fromTree, err := fromCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("loading tree for %s: %w", fromRev, err)
	}
	toTree, err := toCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("loading tree for %s: %w", toRev, err)
	}

	changes, err := object.DiffTreeWithOptions(ctx, fromTree, toTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("diffing %s..%s: %w", fromRev, toRev, err)
	}

	cs := &ChangeSet{}
	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			return nil, fmt.Errorf("classifying change: %w", err)
		}
		switch action {
		case merkletrie.Insert:
			if filter.Match(change.To.Name) {
				cs.Added = append(cs.Added, change.To.Name)
			}
		case merkletrie.Delete:
			if filter.Match(change.From.Name) {
				cs.Deleted = append(cs.Deleted, change.From.Name)
			}
		case merkletrie.Modify:
			if change.From.Name != change.To.Name {
				// Renames surface as delete + add.
				if filter.Match(change.From.Name) {
					cs.Deleted = append(cs.Deleted, change.From.Name)
				}
				if filter.Match(change.To.Name) {
					cs.Added = append(cs.Added, change.To.Name)
				}
				continue
			}
			if filter.Match(change.To.Name) {
				cs.Modified = append(cs.Modified, change.To.Name)
			}
		}
	}
	cs.sorted()
	return cs, nil
}

// fullTree classifies every tracked file at a commit as added.
func (m *Mirror) fullTree(commit *object.Commit, filter *fileFilter) (*ChangeSet, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("loading tree: %w", err)
	}

	cs := &ChangeSet{}
	err = tree.Files().ForEach(func(f *object.File) error {
		if filter.Match(f.Name) {
			cs.Added = append(cs.Added, f.Name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking tree: %w", err)
	}
	cs.sorted()
	return cs, nil
}

// ReadFile reads a file from the working copy.
func (m *Mirror) ReadFile(repo *config.Repository, relPath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(m.LocalPath(repo), filepath.FromSlash(relPath)))
}
