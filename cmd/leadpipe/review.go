package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leadpipe/leadpipe/internal/match"
	"github.com/leadpipe/leadpipe/internal/model"
)

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "List pairs awaiting human review",
		Long: `List candidate pairs the resolver could not settle automatically, along
with the verifier's reasoning when one was consulted.

Examples:
  leadpipe review
  leadpipe review --requeue id-a id-b   # Send a pair back through resolution`,
		RunE: runReview,
	}

	cmd.Flags().Int("limit", 0, "Maximum pairs to list (0 = all)")
	cmd.Flags().StringSlice("requeue", nil, "Two business ids: requeue that pair for resolution")

	return cmd
}

func runReview(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt("limit")
	requeue, _ := cmd.Flags().GetStringSlice("requeue")

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
	}()

	if len(requeue) > 0 {
		if len(requeue) != 2 {
			return fmt.Errorf("--requeue takes exactly two business ids")
		}
		id1, id2 := model.OrderPair(requeue[0], requeue[1])
		if err := store.RequeuePair(ctx, id1, id2); err != nil {
			return fmt.Errorf("failed to requeue pair: %w", err)
		}
		fmt.Printf("Requeued pair (%s, %s)\n", id1, id2)
		return nil
	}

	pairs, err := store.GetPairsByStatus(ctx, model.PairNeedsReview, limit)
	if err != nil {
		return fmt.Errorf("failed to load review queue: %w", err)
	}

	if len(pairs) == 0 {
		fmt.Println("Review queue is empty")
		return nil
	}

	// Strongest matches first: those are the ones a reviewer most wants to see.
	match.SortPairsByStrength(pairs)

	fmt.Printf("%d pairs need review:\n\n", len(pairs))
	for _, p := range pairs {
		fmt.Printf("%s <-> %s  score=%.3f\n", p.BusinessID1, p.BusinessID2, p.Score)
		for _, id := range []string{p.BusinessID1, p.BusinessID2} {
			b, getErr := store.GetBusiness(ctx, id)
			if getErr != nil {
				fmt.Printf("  %s: <unavailable: %v>\n", id, getErr)
				continue
			}
			fmt.Printf("  %s: %s\n", id, describeBusiness(b))
		}
		if p.LLMVerified {
			fmt.Printf("  verifier: %s (confidence %.2f)\n", p.LLMReason, p.LLMConfidence)
		}
		fmt.Println()
	}

	return nil
}

func describeBusiness(b *model.Business) string {
	parts := []string{b.Name}
	if b.Street != "" {
		parts = append(parts, b.Street)
	}
	if b.City != "" {
		parts = append(parts, b.City)
	}
	if b.Phone != "" {
		parts = append(parts, b.Phone)
	}
	return strings.Join(parts, ", ")
}
