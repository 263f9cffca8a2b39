package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/leadpipe/leadpipe/internal/common"
	"github.com/leadpipe/leadpipe/internal/model"
	"github.com/leadpipe/leadpipe/internal/service"
)

func createTestPair(id1, id2 string) *model.CandidatePair {
	return &model.CandidatePair{
		BusinessID1: id1,
		BusinessID2: id2,
		Score:       0.75,
		NameScore:   0.8,
		Status:      model.PairPending,
	}
}

func TestSQLiteStorage_CreatePairIfAbsent(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.SaveBusinesses(ctx, createTestBusinesses(2)); err != nil {
		t.Fatalf("Failed to save businesses: %v", err)
	}

	created, err := store.CreatePairIfAbsent(ctx, createTestPair("biz-001", "biz-002"))
	if err != nil {
		t.Fatalf("Failed to create pair: %v", err)
	}
	if !created {
		t.Error("Expected first insert to create the pair")
	}

	// Second insert of the same unordered pair is a no-op.
	created, err = store.CreatePairIfAbsent(ctx, createTestPair("biz-001", "biz-002"))
	if err != nil {
		t.Fatalf("Failed on duplicate insert: %v", err)
	}
	if created {
		t.Error("Expected duplicate insert to be a no-op")
	}
}

func TestSQLiteStorage_CreatePairValidation(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tests := []struct {
		pair     *model.CandidatePair
		expected error
		name     string
	}{
		{name: "nil pair", pair: nil, expected: ErrNilParameter},
		{name: "self pair", pair: createTestPair("biz-001", "biz-001"), expected: ErrSelfPair},
		{name: "wrong order", pair: createTestPair("biz-002", "biz-001"), expected: ErrUnorderedPair},
		{
			name:     "score out of range",
			pair:     &model.CandidatePair{BusinessID1: "a", BusinessID2: "b", Score: 1.5},
			expected: ErrInvalidPair,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.CreatePairIfAbsent(ctx, tt.pair)
			if !errors.Is(err, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, err)
			}
		})
	}
}

func TestSQLiteStorage_GetPair(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.SaveBusinesses(ctx, createTestBusinesses(2)); err != nil {
		t.Fatalf("Failed to save businesses: %v", err)
	}
	if _, err := store.CreatePairIfAbsent(ctx, createTestPair("biz-001", "biz-002")); err != nil {
		t.Fatalf("Failed to create pair: %v", err)
	}

	pair, err := store.GetPair(ctx, "biz-001", "biz-002")
	if err != nil {
		t.Fatalf("Failed to get pair: %v", err)
	}
	if pair.Status != model.PairPending {
		t.Errorf("Expected pending status, got %s", pair.Status)
	}
	if pair.Score != 0.75 {
		t.Errorf("Expected score 0.75, got %f", pair.Score)
	}

	_, err = store.GetPair(ctx, "biz-001", "biz-099")
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStorage_GetPairsByStatus(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.SaveBusinesses(ctx, createTestBusinesses(4)); err != nil {
		t.Fatalf("Failed to save businesses: %v", err)
	}
	for _, ids := range [][2]string{
		{"biz-001", "biz-002"},
		{"biz-001", "biz-003"},
		{"biz-002", "biz-003"},
	} {
		if _, err := store.CreatePairIfAbsent(ctx, createTestPair(ids[0], ids[1])); err != nil {
			t.Fatalf("Failed to create pair: %v", err)
		}
	}
	if err := store.TransitionPair(ctx, "biz-001", "biz-002", model.PairPending, model.PairVerifiedDistinct, nil); err != nil {
		t.Fatalf("Failed to transition pair: %v", err)
	}

	pending, err := store.GetPairsByStatus(ctx, model.PairPending, 0)
	if err != nil {
		t.Fatalf("Failed to get pending pairs: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("Expected 2 pending pairs, got %d", len(pending))
	}

	limited, err := store.GetPairsByStatus(ctx, model.PairPending, 1)
	if err != nil {
		t.Fatalf("Failed to get limited pairs: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected 1 pair with limit, got %d", len(limited))
	}

	distinct, err := store.GetPairsByStatus(ctx, model.PairVerifiedDistinct, 0)
	if err != nil {
		t.Fatalf("Failed to get distinct pairs: %v", err)
	}
	if len(distinct) != 1 {
		t.Errorf("Expected 1 distinct pair, got %d", len(distinct))
	}
}

func TestSQLiteStorage_TransitionPair(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.SaveBusinesses(ctx, createTestBusinesses(2)); err != nil {
		t.Fatalf("Failed to save businesses: %v", err)
	}
	if _, err := store.CreatePairIfAbsent(ctx, createTestPair("biz-001", "biz-002")); err != nil {
		t.Fatalf("Failed to create pair: %v", err)
	}

	err := store.TransitionPair(ctx, "biz-001", "biz-002",
		model.PairPending, model.PairEscalated, nil)
	if err != nil {
		t.Fatalf("Failed to transition pair: %v", err)
	}

	pair, err := store.GetPair(ctx, "biz-001", "biz-002")
	if err != nil {
		t.Fatalf("Failed to get pair: %v", err)
	}
	if pair.Status != model.PairEscalated {
		t.Errorf("Expected escalated, got %s", pair.Status)
	}

	// A second transition expecting the old state must conflict.
	err = store.TransitionPair(ctx, "biz-001", "biz-002",
		model.PairPending, model.PairEscalated, nil)
	if !errors.Is(err, common.ErrMergeConflict) {
		t.Errorf("Expected ErrMergeConflict, got %v", err)
	}
}

func TestSQLiteStorage_TransitionPairRecordsEvidence(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.SaveBusinesses(ctx, createTestBusinesses(2)); err != nil {
		t.Fatalf("Failed to save businesses: %v", err)
	}
	if _, err := store.CreatePairIfAbsent(ctx, createTestPair("biz-001", "biz-002")); err != nil {
		t.Fatalf("Failed to create pair: %v", err)
	}

	evidence := &service.PairEvidence{
		LLMReason:     "same phone and address",
		LLMConfidence: 0.92,
		LLMVerified:   true,
	}
	err := store.TransitionPair(ctx, "biz-001", "biz-002",
		model.PairPending, model.PairVerifiedDuplicate, evidence)
	if err != nil {
		t.Fatalf("Failed to transition with evidence: %v", err)
	}

	pair, err := store.GetPair(ctx, "biz-001", "biz-002")
	if err != nil {
		t.Fatalf("Failed to get pair: %v", err)
	}
	if !pair.LLMVerified {
		t.Error("Expected pair to be marked LLM verified")
	}
	if pair.LLMConfidence != 0.92 {
		t.Errorf("Expected confidence 0.92, got %f", pair.LLMConfidence)
	}
	if pair.LLMReason != "same phone and address" {
		t.Errorf("Unexpected reason: %q", pair.LLMReason)
	}

	// A later status-only transition must not erase the recorded evidence.
	err = store.TransitionPair(ctx, "biz-001", "biz-002",
		model.PairVerifiedDuplicate, model.PairMerged, nil)
	if err != nil {
		t.Fatalf("Failed to transition to merged: %v", err)
	}
	pair, err = store.GetPair(ctx, "biz-001", "biz-002")
	if err != nil {
		t.Fatalf("Failed to get pair: %v", err)
	}
	if !pair.LLMVerified || pair.LLMReason == "" {
		t.Error("Expected evidence to survive later transitions")
	}
}

func TestSQLiteStorage_TransitionPairMissing(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	err := store.TransitionPair(ctx, "biz-001", "biz-002",
		model.PairPending, model.PairEscalated, nil)
	if !errors.Is(err, common.ErrMergeConflict) {
		t.Errorf("Expected ErrMergeConflict for missing pair, got %v", err)
	}
}

func TestSQLiteStorage_RequeuePair(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.SaveBusinesses(ctx, createTestBusinesses(2)); err != nil {
		t.Fatalf("Failed to save businesses: %v", err)
	}
	if _, err := store.CreatePairIfAbsent(ctx, createTestPair("biz-001", "biz-002")); err != nil {
		t.Fatalf("Failed to create pair: %v", err)
	}
	if err := store.TransitionPair(ctx, "biz-001", "biz-002",
		model.PairPending, model.PairNeedsReview, nil); err != nil {
		t.Fatalf("Failed to transition to needs_review: %v", err)
	}

	if err := store.RequeuePair(ctx, "biz-001", "biz-002"); err != nil {
		t.Fatalf("Failed to requeue pair: %v", err)
	}

	pair, err := store.GetPair(ctx, "biz-001", "biz-002")
	if err != nil {
		t.Fatalf("Failed to get pair: %v", err)
	}
	if pair.Status != model.PairPending {
		t.Errorf("Expected pending after requeue, got %s", pair.Status)
	}

	// Requeue only applies to needs_review pairs.
	err = store.RequeuePair(ctx, "biz-001", "biz-002")
	if !errors.Is(err, common.ErrMergeConflict) {
		t.Errorf("Expected ErrMergeConflict requeueing a pending pair, got %v", err)
	}
}
