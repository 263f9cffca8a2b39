// Package engine implements the core deduplication engine: candidate-pair
// generation, multi-stage similarity evaluation, and merge resolution.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leadpipe/leadpipe/internal/common"
	"github.com/leadpipe/leadpipe/internal/match"
	"github.com/leadpipe/leadpipe/internal/model"
	"github.com/leadpipe/leadpipe/internal/service"
)

// ResolutionEngine orchestrates the deduplication pipeline. It is the sole
// writer of pair status; the scorer is pure, the verifier is side-effect
// isolated, and the store applies merges atomically.
type ResolutionEngine struct {
	storage  service.Storage
	verifier Verifier
	config   Config

	mu    sync.Mutex
	stats service.RunStats
}

// Config holds configuration options for the resolution engine.
type Config struct {
	// OnProgress, when set, is called after each pair is processed.
	OnProgress func(done int)
	// HighThreshold and above is an automatic duplicate; below LowThreshold is
	// an automatic distinct; the interval between them is the gray zone that
	// escalates to the LLM verifier.
	HighThreshold float64
	LowThreshold  float64
	// ConfidenceFloor is the minimum verifier confidence for its verdict to be
	// acted on; anything lower routes the pair to review.
	ConfidenceFloor float64
	Workers         int
	BatchSize       int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		HighThreshold:   0.9,
		LowThreshold:    0.5,
		ConfidenceFloor: 0.7,
		Workers:         4,
		BatchSize:       200,
	}
}

// New creates a new resolution engine with the given dependencies.
func New(storage service.Storage, verifier Verifier) *ResolutionEngine {
	return NewWithConfig(storage, verifier, DefaultConfig())
}

// NewWithConfig creates a new resolution engine with custom configuration.
func NewWithConfig(storage service.Storage, verifier Verifier, config Config) *ResolutionEngine {
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.HighThreshold <= 0 {
		config.HighThreshold = DefaultConfig().HighThreshold
	}
	if config.LowThreshold <= 0 {
		config.LowThreshold = DefaultConfig().LowThreshold
	}
	if config.ConfidenceFloor <= 0 {
		config.ConfidenceFloor = DefaultConfig().ConfidenceFloor
	}
	return &ResolutionEngine{
		storage:  storage,
		verifier: verifier,
		config:   config,
	}
}

// GenerateCandidates produces candidate pairs worth comparing without
// enumerating all O(n²) pairs. Active records are partitioned into blocks
// sharing a blocking key (normalized zip, or the first name token when zip is
// missing) and every pair within a block is considered. True duplicates that
// disagree on the blocking key are never compared; that recall loss is the
// price of tractability. The pass is idempotent: pairs that already exist are
// left untouched, whatever their status.
func (e *ResolutionEngine) GenerateCandidates(ctx context.Context) (int, error) {
	businesses, err := e.storage.GetActiveBusinesses(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load active businesses: %w", err)
	}

	blocks := make(map[string][]model.Business)
	for _, b := range businesses {
		key := blockingKey(&b)
		if key == "" {
			continue
		}
		blocks[key] = append(blocks[key], b)
	}

	slog.Info("Generating candidate pairs",
		"businesses", len(businesses),
		"blocks", len(blocks))

	created := 0
	for _, block := range blocks {
		for i := 0; i < len(block); i++ {
			for j := i + 1; j < len(block); j++ {
				select {
				case <-ctx.Done():
					return created, ctx.Err()
				default:
				}

				a, b := &block[i], &block[j]
				id1, id2 := model.OrderPair(a.ID, b.ID)
				result := match.Compare(a, b)

				inserted, insErr := e.storage.CreatePairIfAbsent(ctx, &model.CandidatePair{
					BusinessID1: id1,
					BusinessID2: id2,
					Score:       result.Fuzzy,
					NameScore:   result.NameScore,
					Status:      model.PairPending,
				})
				if insErr != nil {
					return created, fmt.Errorf("failed to create candidate pair: %w", insErr)
				}
				if inserted {
					created++
				}
			}
		}
	}

	slog.Info("Candidate generation complete", "created", created)
	return created, nil
}

// blockingKey picks the coarse attribute that decides which records get
// compared with each other.
func blockingKey(b *model.Business) string {
	if zip := strings.TrimSpace(b.Zip); zip != "" {
		return "zip:" + strings.ToLower(zip)
	}
	name := match.NormalizeName(b.Name)
	if name == "" {
		return ""
	}
	first, _, _ := strings.Cut(name, " ")
	return "name:" + first
}

// ResolvePairs evaluates pending pairs until none remain and returns run
// statistics. It is safe to re-enter and safe to run from multiple workers
// concurrently against the same store: each pair is claimed through an
// optimistic status transition, and a claim lost to another worker is skipped.
func (e *ResolutionEngine) ResolvePairs(ctx context.Context) (service.RunStats, error) {
	start := time.Now()
	e.mu.Lock()
	e.stats = service.RunStats{}
	e.mu.Unlock()

	// Pairs left in verified_duplicate by an interrupted run still owe their
	// merge; finish those first.
	if err := e.processBatches(ctx, model.PairVerifiedDuplicate, e.mergePair); err != nil {
		return e.snapshotStats(start), err
	}

	// Pairs parked in escalate_to_llm by an interrupted run never received
	// their verdict; pick them up before the pending backlog.
	if err := e.processBatches(ctx, model.PairEscalated, e.resumeEscalated); err != nil {
		return e.snapshotStats(start), err
	}

	if err := e.processBatches(ctx, model.PairPending, e.resolvePair); err != nil {
		return e.snapshotStats(start), err
	}

	stats := e.snapshotStats(start)
	slog.Info("Resolution complete",
		"evaluated", stats.Evaluated,
		"auto_matched", stats.AutoMatched,
		"auto_distinct", stats.AutoDistinct,
		"escalated", stats.Escalated,
		"merged", stats.Merged,
		"needs_review", stats.NeedsReview,
		"conflicts", stats.Conflicts)
	return stats, nil
}

// processBatches drains all pairs in the given status through fn with a
// bounded worker pool. Each pair is attempted at most once per run: a pair
// whose handler leaves it in the same status (a merge kept for inspection
// after an integrity violation) must not be refetched forever.
func (e *ResolutionEngine) processBatches(ctx context.Context, status model.PairStatus, fn func(context.Context, model.CandidatePair) error) error {
	attempted := make(map[string]struct{})
	for {
		pairs, err := e.storage.GetPairsByStatus(ctx, status, e.config.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to load %s pairs: %w", status, err)
		}

		var fresh []model.CandidatePair
		for _, pair := range pairs {
			key := pair.BusinessID1 + "|" + pair.BusinessID2
			if _, ok := attempted[key]; ok {
				continue
			}
			attempted[key] = struct{}{}
			fresh = append(fresh, pair)
		}
		if len(fresh) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.config.Workers)
		for _, pair := range fresh {
			pair := pair
			g.Go(func() error {
				if err := fn(gctx, pair); err != nil {
					return err
				}
				e.bumpProgress()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

// resolvePair runs one pair through the decision policy. Transition failures
// caused by another worker winning the claim are counted and skipped, never
// escalated: losing a race is not an error.
func (e *ResolutionEngine) resolvePair(ctx context.Context, pair model.CandidatePair) error {
	if pair.Status.IsTerminal() || pair.Status == model.PairEscalated {
		return nil
	}

	a, err := e.storage.GetBusiness(ctx, pair.BusinessID1)
	if err != nil {
		return fmt.Errorf("failed to load business %s: %w", pair.BusinessID1, err)
	}
	b, err := e.storage.GetBusiness(ctx, pair.BusinessID2)
	if err != nil {
		return fmt.Errorf("failed to load business %s: %w", pair.BusinessID2, err)
	}

	// A record that was merged or deleted since generation leaves nothing to
	// compare; the pair row stays as audit trail.
	if !a.IsActive() || !b.IsActive() {
		_, trErr := e.transitionCounted(ctx, pair, model.PairPending, model.PairRejected, nil)
		return trErr
	}

	e.count(func(s *service.RunStats) { s.Evaluated++ })

	result := match.Compare(a, b)

	switch {
	case result.Exact:
		// Deterministic matches are never second-guessed.
		applied, trErr := e.transitionCounted(ctx, pair, model.PairPending, model.PairVerifiedDuplicate, nil)
		if trErr != nil || !applied {
			return trErr
		}
		e.count(func(s *service.RunStats) { s.AutoMatched++ })
		return e.mergePair(ctx, pair)

	case result.Fuzzy >= e.config.HighThreshold:
		applied, trErr := e.transitionCounted(ctx, pair, model.PairPending, model.PairVerifiedDuplicate, nil)
		if trErr != nil || !applied {
			return trErr
		}
		e.count(func(s *service.RunStats) { s.AutoMatched++ })
		return e.mergePair(ctx, pair)

	case result.Fuzzy < e.config.LowThreshold:
		applied, trErr := e.transitionCounted(ctx, pair, model.PairPending, model.PairVerifiedDistinct, nil)
		if trErr != nil || !applied {
			return trErr
		}
		e.count(func(s *service.RunStats) { s.AutoDistinct++ })
		return nil

	default:
		return e.escalatePair(ctx, pair, a, b)
	}
}

// escalatePair sends a gray-zone pair to the LLM verifier. The pair is parked
// in escalate_to_llm before the call so no store lock is held during the
// network round trip; the verdict is recorded through a second optimistic
// transition.
func (e *ResolutionEngine) escalatePair(ctx context.Context, pair model.CandidatePair, a, b *model.Business) error {
	applied, err := e.transitionCounted(ctx, pair, model.PairPending, model.PairEscalated, nil)
	if err != nil || !applied {
		return err
	}
	e.count(func(s *service.RunStats) { s.Escalated++ })

	return e.verdictPair(ctx, pair, a, b)
}

// resumeEscalated handles a pair left in escalate_to_llm by an earlier run.
func (e *ResolutionEngine) resumeEscalated(ctx context.Context, pair model.CandidatePair) error {
	a, err := e.storage.GetBusiness(ctx, pair.BusinessID1)
	if err != nil {
		return fmt.Errorf("failed to load business %s: %w", pair.BusinessID1, err)
	}
	b, err := e.storage.GetBusiness(ctx, pair.BusinessID2)
	if err != nil {
		return fmt.Errorf("failed to load business %s: %w", pair.BusinessID2, err)
	}
	if !a.IsActive() || !b.IsActive() {
		_, trErr := e.transitionCounted(ctx, pair, model.PairEscalated, model.PairRejected, nil)
		return trErr
	}
	e.count(func(s *service.RunStats) { s.Evaluated++ })
	return e.verdictPair(ctx, pair, a, b)
}

// verdictPair obtains and records the verifier's judgment for a pair sitting
// in escalate_to_llm.
func (e *ResolutionEngine) verdictPair(ctx context.Context, pair model.CandidatePair, a, b *model.Business) error {
	verdict, err := e.verifier.Verify(ctx, a, b)
	if err != nil {
		if !errors.Is(err, common.ErrVerificationUnavailable) {
			return fmt.Errorf("verifier failed for pair (%s, %s): %w", pair.BusinessID1, pair.BusinessID2, err)
		}
		// Cannot verify now is not "verified distinct".
		slog.Warn("Verification unavailable, routing pair to review",
			"business_1", pair.BusinessID1,
			"business_2", pair.BusinessID2,
			"error", err)
		applied, trErr := e.transitionCounted(ctx, pair, model.PairEscalated, model.PairNeedsReview, nil)
		if trErr != nil || !applied {
			return trErr
		}
		e.count(func(s *service.RunStats) { s.NeedsReview++ })
		return nil
	}

	evidence := &service.PairEvidence{
		LLMVerified:   true,
		LLMConfidence: verdict.Confidence,
		LLMReason:     verdict.Reason,
	}

	switch {
	case verdict.IsDuplicate && verdict.Confidence >= e.config.ConfidenceFloor:
		applied, trErr := e.transitionCounted(ctx, pair, model.PairEscalated, model.PairVerifiedDuplicate, evidence)
		if trErr != nil || !applied {
			return trErr
		}
		return e.mergePair(ctx, pair)

	case !verdict.IsDuplicate && verdict.Confidence >= e.config.ConfidenceFloor:
		_, trErr := e.transitionCounted(ctx, pair, model.PairEscalated, model.PairVerifiedDistinct, evidence)
		return trErr

	default:
		applied, trErr := e.transitionCounted(ctx, pair, model.PairEscalated, model.PairNeedsReview, evidence)
		if trErr != nil || !applied {
			return trErr
		}
		e.count(func(s *service.RunStats) { s.NeedsReview++ })
		return nil
	}
}

// transitionCounted applies a pair transition, absorbing claim races. It
// reports whether the transition was actually applied: false means another
// worker got there first and this worker should leave the pair alone.
func (e *ResolutionEngine) transitionCounted(ctx context.Context, pair model.CandidatePair, from, to model.PairStatus, evidence *service.PairEvidence) (bool, error) {
	err := e.storage.TransitionPair(ctx, pair.BusinessID1, pair.BusinessID2, from, to, evidence)
	if errors.Is(err, common.ErrMergeConflict) {
		e.count(func(s *service.RunStats) { s.Conflicts++ })
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e *ResolutionEngine) count(fn func(*service.RunStats)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}

func (e *ResolutionEngine) bumpProgress() {
	if e.config.OnProgress == nil {
		return
	}
	e.mu.Lock()
	done := e.stats.Evaluated
	e.mu.Unlock()
	e.config.OnProgress(done)
}

func (e *ResolutionEngine) snapshotStats(start time.Time) service.RunStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := e.stats
	stats.Duration = time.Since(start)
	return stats
}
