package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/codeindexd/internal/config"
	"github.com/fyrsmithlabs/codeindexd/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state [repo]",
	Short: "Inspect persisted ingestion state",
	Long: `Show what has been ingested. With a repository name, includes the
per-file fingerprint count; otherwise lists every known repository.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runState,
}

type stateOutput struct {
	RepoName       string `json:"repo_name"`
	LastRevision   string `json:"last_revision"`
	TrackedFiles   int    `json:"tracked_files"`
	LastIngestedAt string `json:"last_ingested_at,omitempty"`
}

func runState(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	states, err := state.Open(cfg.State)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer states.Close()

	ctx := cmd.Context()
	var out []stateOutput

	if len(args) == 1 {
		st, err := states.Load(ctx, args[0])
		if errors.Is(err, state.ErrNotFound) {
			return fmt.Errorf("repository %q has no recorded state", args[0])
		}
		if err != nil {
			return err
		}
		out = []stateOutput{toStateOutput(st)}
	} else {
		all, err := states.List(ctx)
		if err != nil {
			return err
		}
		for _, st := range all {
			out = append(out, toStateOutput(st))
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func toStateOutput(st *state.RepositoryState) stateOutput {
	out := stateOutput{
		RepoName:     st.RepoName,
		LastRevision: st.LastRevision,
		TrackedFiles: len(st.Files),
	}
	if !st.LastIngestedAt.IsZero() {
		out.LastIngestedAt = st.LastIngestedAt.UTC().Format(time.RFC3339)
	}
	return out
}
