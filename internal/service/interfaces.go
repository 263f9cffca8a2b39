// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/leadpipe/leadpipe/internal/model"
)

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Business operations
	SaveBusinesses(ctx context.Context, businesses []model.Business) error
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	GetActiveBusinesses(ctx context.Context) ([]model.Business, error)
	// ResolveSurvivor follows merged_into pointers until it reaches a record
	// that has not itself been merged away, and returns that record's id.
	ResolveSurvivor(ctx context.Context, id string) (string, error)

	// Pair operations
	CreatePairIfAbsent(ctx context.Context, pair *model.CandidatePair) (bool, error)
	GetPair(ctx context.Context, id1, id2 string) (*model.CandidatePair, error)
	GetPairsByStatus(ctx context.Context, status model.PairStatus, limit int) ([]model.CandidatePair, error)
	// TransitionPair moves a pair from one status to another with an optimistic
	// status check: it fails with common.ErrMergeConflict when the pair is no
	// longer in the expected state. Evidence fields, when present, are recorded
	// on the same row; existing evidence is updated, never erased.
	TransitionPair(ctx context.Context, id1, id2 string, from, to model.PairStatus, evidence *PairEvidence) error
	RequeuePair(ctx context.Context, id1, id2 string) error

	// MergeBusinesses applies the structural effect of a confirmed duplicate as
	// one atomic unit: dependents of the loser are reparented to the survivor
	// (or removed when reparenting would violate a dependent's own uniqueness
	// constraint), the loser is tombstoned with a back-reference, and the pair
	// becomes merged. Partial merges are never observable.
	MergeBusinesses(ctx context.Context, id1, id2, survivorID, loserID string) error
	CountDependents(ctx context.Context, businessID string) (DependentCounts, error)

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}

// PairEvidence carries the facts that produced a pair transition.
type PairEvidence struct {
	LLMReason     string
	LLMConfidence float64
	LLMVerified   bool
}

// Verdict is the structured judgment returned by the LLM verifier for an
// ambiguous candidate pair.
type Verdict struct {
	Reason      string
	Confidence  float64
	IsDuplicate bool
}

// LLMCallCost describes the billable units of one completed verifier call.
type LLMCallCost struct {
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
}

// CostRecorder is the budget collaborator's recording hook. Implementations may
// reject further calls once a ceiling is reached; the verifier treats such a
// rejection as verification being unavailable.
type CostRecorder interface {
	RecordCall(ctx context.Context, cost LLMCallCost) error
}

// BudgetChecker is an optional extension of CostRecorder. Recorders that can
// tell in advance whether the ceiling has been reached implement it, letting
// the verifier refuse a call before paying for the round trip rather than
// only after recording it.
type BudgetChecker interface {
	CheckBudget(ctx context.Context) error
}

// DependentCounts reports how many rows in each dependent table reference a
// business record.
type DependentCounts struct {
	Features int
	Mockups  int
	Emails   int
}

// RunStats shows the results of a deduplication run.
type RunStats struct {
	Duration     time.Duration
	Generated    int
	Evaluated    int
	AutoMatched  int
	AutoDistinct int
	Escalated    int
	Merged       int
	NeedsReview  int
	Conflicts    int
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
