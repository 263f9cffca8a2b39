package model

import "time"

// PairStatus represents the evaluation state of a candidate duplicate pair.
type PairStatus string

// Candidate pair states. A pair row is the audit trail of every comparison ever
// made: it is created once per unordered id pair and never deleted.
const (
	PairPending           PairStatus = "pending"
	PairEscalated         PairStatus = "escalate_to_llm"
	PairVerifiedDuplicate PairStatus = "verified_duplicate"
	PairVerifiedDistinct  PairStatus = "verified_distinct"
	PairNeedsReview       PairStatus = "needs_review"
	PairMerged            PairStatus = "merged"
	PairRejected          PairStatus = "rejected"
)

// IsTerminal reports whether a pair in this state should be skipped on
// subsequent resolution runs. needs_review is terminal until explicitly
// requeued.
func (s PairStatus) IsTerminal() bool {
	switch s {
	case PairVerifiedDistinct, PairNeedsReview, PairMerged, PairRejected:
		return true
	default:
		return false
	}
}

// CandidatePair is an unordered pair of business record ids flagged as
// potentially identical. BusinessID1 < BusinessID2 always holds, so each
// unordered pair maps to exactly one row.
type CandidatePair struct {
	CreatedAt     time.Time
	UpdatedAt     time.Time
	BusinessID1   string
	BusinessID2   string
	Status        PairStatus
	LLMReason     string
	Score         float64
	NameScore     float64
	LLMConfidence float64
	LLMVerified   bool
}

// OrderPair returns the two ids in canonical order (smaller first).
func OrderPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
