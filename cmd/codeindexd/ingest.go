package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/codeindexd/internal/ingest"
)

var ingestForce bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [repo]",
	Short: "Run ingestion for one or all repositories",
	Long: `Run an incremental ingestion pass. With a repository name, only that
repository is processed; otherwise every enabled repository runs.

Examples:
  # Ingest everything
  codeindexd ingest

  # Re-index one repository from scratch
  codeindexd ingest myrepo --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "ignore prior state and re-index everything")
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	var reports []*ingest.Report

	if len(args) == 1 {
		repo := a.cfg.FindRepository(args[0])
		if repo == nil {
			return fmt.Errorf("unknown repository %q", args[0])
		}
		report, err := a.ingestor.Run(ctx, repo, ingestForce)
		if err != nil {
			return err
		}
		reports = []*ingest.Report{report}
	} else {
		reports, err = a.ingestor.RunAll(ctx, a.cfg.Repositories, ingestForce)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}
