package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leadpipe/leadpipe/internal/engine"
	"github.com/leadpipe/leadpipe/internal/model"
)

func candidatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "Generate candidate pairs without resolving them",
		Long: `Run only the blocking and pair-generation stage. Useful for inspecting
what the resolver would consider before spending any LLM budget.

Examples:
  leadpipe candidates
  leadpipe candidates --list`,
		RunE: runCandidates,
	}

	cmd.Flags().Bool("list", false, "List pending pairs after generation")
	cmd.Flags().Int("limit", 50, "Maximum pairs to list")

	return cmd
}

func runCandidates(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	list, _ := cmd.Flags().GetBool("list")
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
	}()

	// Generation never invokes the verifier.
	eng := engine.New(store, nil)
	created, err := eng.GenerateCandidates(ctx)
	if err != nil {
		return fmt.Errorf("candidate generation failed: %w", err)
	}

	fmt.Printf("Generated %d new candidate pairs\n", created)

	if !list {
		return nil
	}

	pairs, err := store.GetPairsByStatus(ctx, model.PairPending, limit)
	if err != nil {
		return fmt.Errorf("failed to list pending pairs: %w", err)
	}

	for _, p := range pairs {
		fmt.Printf("  %s <-> %s  score=%.3f\n", p.BusinessID1, p.BusinessID2, p.Score)
	}
	if len(pairs) == limit {
		fmt.Printf("  (showing first %d)\n", limit)
	}

	return nil
}
