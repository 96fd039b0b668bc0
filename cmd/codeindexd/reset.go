package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset <repo>",
	Short: "Clear a repository's state and indexed chunks",
	Long: `Delete a repository's persisted ingestion state and every chunk it has
in the vector index. The next ingestion run will re-index it from scratch.`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

func runReset(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	repoName := args[0]
	if err := a.ingestor.Reset(cmd.Context(), repoName); err != nil {
		return err
	}

	fmt.Printf("repository %s reset\n", repoName)
	return nil
}
