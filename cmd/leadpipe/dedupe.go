package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/leadpipe/leadpipe/internal/common"
	"github.com/leadpipe/leadpipe/internal/cost"
	"github.com/leadpipe/leadpipe/internal/engine"
	"github.com/leadpipe/leadpipe/internal/llm"
)

func dedupeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Find and merge duplicate business records",
		Long: `Run the full deduplication pipeline: generate candidate pairs with
blocking, score them, escalate ambiguous pairs to the LLM verifier, and merge
confirmed duplicates.

Examples:
  leadpipe dedupe                     # Full pipeline with defaults
  leadpipe dedupe --workers 8         # More concurrent workers
  leadpipe dedupe --skip-generation   # Only resolve already-generated pairs
  leadpipe dedupe --budget 5.00       # Stop calling the LLM after $5 of spend`,
		RunE: runDedupe,
	}

	// Flags
	cmd.Flags().Int("workers", 4, "Number of concurrent resolution workers")
	cmd.Flags().Float64("high", 0.9, "Fuzzy score at or above which a pair is an automatic duplicate")
	cmd.Flags().Float64("low", 0.5, "Fuzzy score below which a pair is automatically distinct")
	cmd.Flags().Float64("floor", 0.7, "Minimum LLM confidence to act on a verdict")
	cmd.Flags().Float64("budget", 0, "LLM budget ceiling in dollars (0 = unlimited)")
	cmd.Flags().Bool("skip-generation", false, "Skip candidate generation and only resolve pending pairs")

	// Bind to viper (errors are rare and can be ignored in practice)
	_ = viper.BindPFlag("dedupe.workers", cmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag("dedupe.high_threshold", cmd.Flags().Lookup("high"))
	_ = viper.BindPFlag("dedupe.low_threshold", cmd.Flags().Lookup("low"))
	_ = viper.BindPFlag("dedupe.confidence_floor", cmd.Flags().Lookup("floor"))
	_ = viper.BindPFlag("dedupe.budget", cmd.Flags().Lookup("budget"))

	return cmd
}

func runDedupe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	skipGeneration, _ := cmd.Flags().GetBool("skip-generation")

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
	}()

	tracker := cost.NewTracker(viper.GetFloat64("dedupe.budget"))

	verifier, err := llm.NewVerifier(llm.Config{
		Provider:    viper.GetString("llm.provider"),
		APIKey:      viper.GetString("llm.api_key"),
		Model:       viper.GetString("llm.model"),
		MaxTokens:   viper.GetInt("llm.max_tokens"),
		MaxRetries:  viper.GetInt("llm.max_retries"),
		RateLimit:   viper.GetInt("llm.rate_limit"),
		Temperature: viper.GetFloat64("llm.temperature"),
		Timeout:     viper.GetDuration("llm.timeout"),
	}, tracker, slog.Default())
	if err != nil {
		return common.NewUserError("could not configure LLM verifier", err)
	}
	defer func() { _ = verifier.Close() }()

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Resolving pairs"),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
	)

	eng := engine.NewWithConfig(store, verifier, engine.Config{
		HighThreshold:   viper.GetFloat64("dedupe.high_threshold"),
		LowThreshold:    viper.GetFloat64("dedupe.low_threshold"),
		ConfidenceFloor: viper.GetFloat64("dedupe.confidence_floor"),
		Workers:         viper.GetInt("dedupe.workers"),
		OnProgress:      func(_ int) { _ = bar.Add(1) },
	})

	if !skipGeneration {
		created, genErr := eng.GenerateCandidates(ctx)
		if genErr != nil {
			return fmt.Errorf("candidate generation failed: %w", genErr)
		}
		fmt.Printf("Generated %d new candidate pairs\n", created)
	}

	stats, err := eng.ResolvePairs(ctx)
	_ = bar.Finish()
	if err != nil {
		return fmt.Errorf("resolution failed: %w", err)
	}

	fmt.Printf("\nDeduplication complete in %s\n", stats.Duration.Round(time.Millisecond))
	fmt.Printf("  Evaluated:     %d\n", stats.Evaluated)
	fmt.Printf("  Auto matched:  %d\n", stats.AutoMatched)
	fmt.Printf("  Auto distinct: %d\n", stats.AutoDistinct)
	fmt.Printf("  Escalated:     %d\n", stats.Escalated)
	fmt.Printf("  Merged:        %d\n", stats.Merged)
	fmt.Printf("  Needs review:  %d\n", stats.NeedsReview)
	if tracker.Calls() > 0 {
		fmt.Printf("  LLM calls:     %d ($%.4f)\n", tracker.Calls(), tracker.Spent())
	}

	return nil
}
