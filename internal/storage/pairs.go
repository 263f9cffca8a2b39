package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/leadpipe/leadpipe/internal/common"
	"github.com/leadpipe/leadpipe/internal/model"
	"github.com/leadpipe/leadpipe/internal/service"
)

// execer abstracts *sql.DB and *sql.Tx for write paths.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreatePairIfAbsent inserts a pending pair row unless the unordered pair
// already exists. Pair rows are the audit trail of every comparison ever made
// and are never deleted, so the insert is the only write path that creates
// them. Returns true when a new row was created.
func (s *SQLiteStorage) CreatePairIfAbsent(ctx context.Context, pair *model.CandidatePair) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validatePair(pair); err != nil {
		return false, err
	}
	return s.createPairIfAbsentTx(ctx, s.db, pair)
}

func (s *SQLiteStorage) createPairIfAbsentTx(ctx context.Context, e execer, pair *model.CandidatePair) (bool, error) {
	status := pair.Status
	if status == "" {
		status = model.PairPending
	}
	res, err := e.ExecContext(ctx, `
		INSERT OR IGNORE INTO duplicate_pairs (
			business_id_1, business_id_2, similarity_score, name_score, status
		) VALUES (?, ?, ?, ?, ?)`,
		pair.BusinessID1, pair.BusinessID2, pair.Score, pair.NameScore, string(status))
	if err != nil {
		return false, fmt.Errorf("failed to create pair (%s, %s): %w",
			pair.BusinessID1, pair.BusinessID2, classifyErr(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetPair retrieves the pair row for a canonically ordered id pair.
func (s *SQLiteStorage) GetPair(ctx context.Context, id1, id2 string) (*model.CandidatePair, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validatePairIDs(id1, id2); err != nil {
		return nil, err
	}
	return s.getPairTx(ctx, s.db, id1, id2)
}

const pairColumns = `business_id_1, business_id_2, similarity_score, name_score,
	status, llm_verified, llm_confidence, COALESCE(llm_reason, ''),
	created_at, updated_at`

func (s *SQLiteStorage) getPairTx(ctx context.Context, q queryer, id1, id2 string) (*model.CandidatePair, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+pairColumns+` FROM duplicate_pairs WHERE business_id_1 = ? AND business_id_2 = ?`,
		id1, id2)

	p, err := scanPair(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pair (%s, %s): %w", id1, id2, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pair (%s, %s): %w", id1, id2, err)
	}
	return p, nil
}

// GetPairsByStatus returns pairs in the given state, oldest first. A limit of
// zero or less means no limit.
func (s *SQLiteStorage) GetPairsByStatus(ctx context.Context, status model.PairStatus, limit int) ([]model.CandidatePair, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validatePairStatus(status); err != nil {
		return nil, err
	}
	return s.getPairsByStatusTx(ctx, s.db, status, limit)
}

func (s *SQLiteStorage) getPairsByStatusTx(ctx context.Context, q queryer, status model.PairStatus, limit int) ([]model.CandidatePair, error) {
	query := `SELECT ` + pairColumns + ` FROM duplicate_pairs WHERE status = ? ORDER BY created_at, business_id_1, business_id_2`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pairs by status %s: %w", status, err)
	}
	defer func() { _ = rows.Close() }()

	var pairs []model.CandidatePair
	for rows.Next() {
		p, scanErr := scanPair(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan pair: %w", scanErr)
		}
		pairs = append(pairs, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pairs: %w", err)
	}
	return pairs, nil
}

// TransitionPair moves a pair between states with an optimistic status check.
// The WHERE clause on the previous status is what makes concurrent workers
// safe: whichever worker commits first wins, the other observes
// common.ErrMergeConflict and moves on. Evidence is recorded on the same row;
// LLM fields are only written when the evidence carries a verifier result, so
// earlier evidence is never erased by later transitions.
func (s *SQLiteStorage) TransitionPair(ctx context.Context, id1, id2 string, from, to model.PairStatus, evidence *service.PairEvidence) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePairIDs(id1, id2); err != nil {
		return err
	}
	if err := validatePairStatus(from); err != nil {
		return err
	}
	if err := validatePairStatus(to); err != nil {
		return err
	}
	return s.transitionPairTx(ctx, s.db, id1, id2, from, to, evidence)
}

func (s *SQLiteStorage) transitionPairTx(ctx context.Context, e execer, id1, id2 string, from, to model.PairStatus, evidence *service.PairEvidence) error {
	var res sql.Result
	var err error

	if evidence != nil && evidence.LLMVerified {
		res, err = e.ExecContext(ctx, `
			UPDATE duplicate_pairs
			SET status = ?, llm_verified = 1, llm_confidence = ?, llm_reason = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE business_id_1 = ? AND business_id_2 = ? AND status = ?`,
			string(to), evidence.LLMConfidence, evidence.LLMReason,
			id1, id2, string(from))
	} else {
		res, err = e.ExecContext(ctx, `
			UPDATE duplicate_pairs
			SET status = ?, updated_at = CURRENT_TIMESTAMP
			WHERE business_id_1 = ? AND business_id_2 = ? AND status = ?`,
			string(to), id1, id2, string(from))
	}
	if err != nil {
		return fmt.Errorf("failed to transition pair (%s, %s): %w", id1, id2, classifyErr(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("pair (%s, %s) not in state %s: %w", id1, id2, from, common.ErrMergeConflict)
	}
	return nil
}

// RequeuePair pushes a needs_review pair back to pending so a later run
// revisits it.
func (s *SQLiteStorage) RequeuePair(ctx context.Context, id1, id2 string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePairIDs(id1, id2); err != nil {
		return err
	}
	return s.requeuePairTx(ctx, s.db, id1, id2)
}

func (s *SQLiteStorage) requeuePairTx(ctx context.Context, e execer, id1, id2 string) error {
	return s.transitionPairTx(ctx, e, id1, id2, model.PairNeedsReview, model.PairPending, nil)
}

func scanPair(row scanner) (*model.CandidatePair, error) {
	var p model.CandidatePair
	var status string
	var verified int
	if err := row.Scan(
		&p.BusinessID1, &p.BusinessID2, &p.Score, &p.NameScore,
		&status, &verified, &p.LLMConfidence, &p.LLMReason,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Status = model.PairStatus(status)
	p.LLMVerified = verified != 0
	return &p, nil
}
