package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leadpipe/leadpipe/internal/common"
	"github.com/leadpipe/leadpipe/internal/model"
)

// MergeBusinesses applies a confirmed duplicate decision as one atomic unit:
// every dependent row of the loser is reparented to the survivor (or deleted
// when reparenting would collide with the survivor's own dependents), the loser
// becomes a merged tombstone pointing at the survivor, and the pair moves to
// merged. The transaction re-checks that both records and the pair are still in
// the expected state, so a concurrent merge of either record aborts here with
// common.ErrMergeConflict instead of double-merging. On any failure the store
// is left exactly as it was.
func (s *SQLiteStorage) MergeBusinesses(ctx context.Context, id1, id2, survivorID, loserID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePairIDs(id1, id2); err != nil {
		return err
	}
	if err := validateString(survivorID, "survivorID"); err != nil {
		return err
	}
	if err := validateString(loserID, "loserID"); err != nil {
		return err
	}
	if survivorID == loserID {
		return fmt.Errorf("%w: survivor and loser are the same record", ErrInvalidPair)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin merge transaction: %w", classifyErr(err))
	}
	defer func() { _ = tx.Rollback() }()

	// Both records must still be active. A record that lost a concurrent merge
	// is already a tombstone and must not lose (or win) a second one.
	for _, id := range []string{survivorID, loserID} {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM businesses WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("business %s: %w", id, common.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to check status of %s: %w", id, err)
		}
		if model.BusinessStatus(status) != model.BusinessActive {
			return fmt.Errorf("business %s is %s, not active: %w", id, status, common.ErrMergeConflict)
		}
	}

	if err := reparentDependentsTx(ctx, tx, survivorID, loserID); err != nil {
		return err
	}

	// Tombstone the loser. The row is retained with a back-reference to the
	// survivor; ids are never reused and merged records are never reactivated.
	res, err := tx.ExecContext(ctx, `
		UPDATE businesses
		SET status = ?, merged_into = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`,
		string(model.BusinessMerged), survivorID, loserID, string(model.BusinessActive))
	if err != nil {
		return fmt.Errorf("failed to tombstone business %s: %w", loserID, err)
	}
	if n, raErr := res.RowsAffected(); raErr != nil {
		return fmt.Errorf("failed to read rows affected: %w", raErr)
	} else if n == 0 {
		return fmt.Errorf("business %s changed concurrently: %w", loserID, common.ErrMergeConflict)
	}

	if err := s.transitionPairTx(ctx, tx, id1, id2, model.PairVerifiedDuplicate, model.PairMerged, nil); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit merge: %w", classifyErr(err))
	}

	slog.Info("Merged duplicate business",
		"survivor", survivorID,
		"loser", loserID)

	return nil
}

// reparentDependentsTx points every dependent row of the loser at the survivor.
// Features carry a per-business uniqueness constraint on name, so a loser
// feature whose name the survivor already has cannot be reparented and is
// deleted instead. Mockups and emails have no such constraint and reparent
// unconditionally.
func reparentDependentsTx(ctx context.Context, tx *sql.Tx, survivorID, loserID string) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM features
		WHERE business_id = ?
		  AND name IN (SELECT name FROM features WHERE business_id = ?)`,
		loserID, survivorID); err != nil {
		return fmt.Errorf("%w: failed to drop conflicting features of %s: %v",
			common.ErrIntegrityViolation, loserID, err)
	}

	for _, table := range []string{"features", "mockups", "emails"} {
		if _, err := tx.ExecContext(ctx,
			`UPDATE `+table+` SET business_id = ? WHERE business_id = ?`,
			survivorID, loserID); err != nil {
			return fmt.Errorf("%w: failed to reparent %s of %s: %v",
				common.ErrIntegrityViolation, table, loserID, err)
		}
	}
	return nil
}
