package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leadpipe/leadpipe/internal/common"
	"github.com/leadpipe/leadpipe/internal/model"
	"github.com/leadpipe/leadpipe/internal/service"
)

// mergePair applies the structural effect of a verified_duplicate decision.
// A concurrent-status conflict is retried once and then routed to review; an
// integrity violation leaves the pair verified_duplicate for manual inspection.
func (e *ResolutionEngine) mergePair(ctx context.Context, pair model.CandidatePair) error {
	const maxAttempts = 2

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := e.tryMerge(ctx, pair)
		if err == nil {
			return nil
		}
		if errors.Is(err, common.ErrIntegrityViolation) {
			slog.Error("Merge aborted on integrity violation, pair kept for inspection",
				"business_1", pair.BusinessID1,
				"business_2", pair.BusinessID2,
				"error", err)
			return nil
		}
		if !errors.Is(err, common.ErrMergeConflict) {
			return err
		}
		slog.Warn("Merge conflict, retrying",
			"business_1", pair.BusinessID1,
			"business_2", pair.BusinessID2,
			"attempt", attempt)
	}

	applied, err := e.transitionCounted(ctx, pair, model.PairVerifiedDuplicate, model.PairNeedsReview, nil)
	if err != nil || !applied {
		return err
	}
	e.count(func(s *service.RunStats) { s.NeedsReview++ })
	return nil
}

// tryMerge performs one merge attempt. Survivor selection follows merged_into
// pointers first, so a record that already lost an earlier merge contributes
// its current survivor instead of its tombstone; merges therefore always
// collapse toward live records and can never form a cycle.
func (e *ResolutionEngine) tryMerge(ctx context.Context, pair model.CandidatePair) error {
	currentA, err := e.storage.ResolveSurvivor(ctx, pair.BusinessID1)
	if err != nil {
		return fmt.Errorf("failed to resolve survivor of %s: %w", pair.BusinessID1, err)
	}
	currentB, err := e.storage.ResolveSurvivor(ctx, pair.BusinessID2)
	if err != nil {
		return fmt.Errorf("failed to resolve survivor of %s: %w", pair.BusinessID2, err)
	}

	// Both sides already collapsed into the same record: only the pair status
	// is left to update.
	if currentA == currentB {
		applied, trErr := e.transitionCounted(ctx, pair, model.PairVerifiedDuplicate, model.PairMerged, nil)
		if trErr != nil || !applied {
			return trErr
		}
		e.count(func(s *service.RunStats) { s.Merged++ })
		return nil
	}

	a, err := e.storage.GetBusiness(ctx, currentA)
	if err != nil {
		return fmt.Errorf("failed to load business %s: %w", currentA, err)
	}
	b, err := e.storage.GetBusiness(ctx, currentB)
	if err != nil {
		return fmt.Errorf("failed to load business %s: %w", currentB, err)
	}

	survivor, loser := chooseSurvivor(a, b)

	if err := e.storage.MergeBusinesses(ctx, pair.BusinessID1, pair.BusinessID2, survivor.ID, loser.ID); err != nil {
		return err
	}

	e.count(func(s *service.RunStats) { s.Merged++ })
	return nil
}

// chooseSurvivor picks the record to keep: higher quality score wins, ties
// break toward the lower identifier (the earlier-created record).
func chooseSurvivor(a, b *model.Business) (survivor, loser *model.Business) {
	if a.QualityScore > b.QualityScore {
		return a, b
	}
	if b.QualityScore > a.QualityScore {
		return b, a
	}
	if a.ID < b.ID {
		return a, b
	}
	return b, a
}
