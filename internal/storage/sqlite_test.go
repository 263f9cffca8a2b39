package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/leadpipe/leadpipe/internal/common"
	"github.com/leadpipe/leadpipe/internal/model"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

// Helper function to create test businesses.
func createTestBusinesses(count int) []model.Business {
	businesses := make([]model.Business, count)
	for i := 0; i < count; i++ {
		businesses[i] = model.Business{
			ID:           fmt.Sprintf("biz-%03d", i+1),
			Name:         fmt.Sprintf("Business %d", i+1),
			Street:       fmt.Sprintf("%d Main St", 100+i),
			City:         "Springfield",
			State:        "IL",
			Zip:          "62701",
			Phone:        fmt.Sprintf("555000%04d", i+1),
			Status:       model.BusinessActive,
			Source:       "test",
			QualityScore: float64(50 + i),
		}
	}
	return businesses
}

func TestSQLiteStorage_SaveBusinesses(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	businesses := createTestBusinesses(3)
	if err := store.SaveBusinesses(ctx, businesses); err != nil {
		t.Fatalf("Failed to save businesses: %v", err)
	}

	active, err := store.GetActiveBusinesses(ctx)
	if err != nil {
		t.Fatalf("Failed to get active businesses: %v", err)
	}
	if len(active) != 3 {
		t.Errorf("Expected 3 active businesses, got %d", len(active))
	}
}

func TestSQLiteStorage_SaveBusinessesIdempotent(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	businesses := createTestBusinesses(2)
	if err := store.SaveBusinesses(ctx, businesses); err != nil {
		t.Fatalf("Failed to save businesses: %v", err)
	}

	// Re-importing the same records must not clobber existing rows.
	modified := createTestBusinesses(2)
	modified[0].Name = "Renamed Business"
	if err := store.SaveBusinesses(ctx, modified); err != nil {
		t.Fatalf("Failed to re-save businesses: %v", err)
	}

	b, err := store.GetBusiness(ctx, "biz-001")
	if err != nil {
		t.Fatalf("Failed to get business: %v", err)
	}
	if b.Name != "Business 1" {
		t.Errorf("Expected original name to survive re-import, got %q", b.Name)
	}
}

func TestSQLiteStorage_SaveBusinessesValidation(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tests := []struct {
		name       string
		businesses []model.Business
	}{
		{name: "nil slice", businesses: nil},
		{name: "empty slice", businesses: []model.Business{}},
		{name: "missing id", businesses: []model.Business{{Name: "No ID"}}},
		{name: "missing name", businesses: []model.Business{{ID: "biz-x"}}},
		{name: "unknown status", businesses: []model.Business{{ID: "biz-x", Name: "X", Status: "zombie"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.SaveBusinesses(ctx, tt.businesses); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestSQLiteStorage_GetBusinessNotFound(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.GetBusiness(ctx, "no-such-id")
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStorage_GetActiveBusinessesExcludesMerged(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	businesses := createTestBusinesses(3)
	businesses[2].Status = model.BusinessMerged
	if err := store.SaveBusinesses(ctx, businesses); err != nil {
		t.Fatalf("Failed to save businesses: %v", err)
	}

	active, err := store.GetActiveBusinesses(ctx)
	if err != nil {
		t.Fatalf("Failed to get active businesses: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("Expected 2 active businesses, got %d", len(active))
	}
	for _, b := range active {
		if !b.IsActive() {
			t.Errorf("Business %s is not active", b.ID)
		}
	}
}

func TestSQLiteStorage_ResolveSurvivor(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	// Chain: biz-001 -> biz-002 -> biz-003 (the survivor).
	businesses := createTestBusinesses(3)
	if err := store.SaveBusinesses(ctx, businesses); err != nil {
		t.Fatalf("Failed to save businesses: %v", err)
	}
	tombstone(t, store, "biz-001", "biz-002")
	tombstone(t, store, "biz-002", "biz-003")

	tests := []struct {
		name     string
		id       string
		expected string
	}{
		{name: "two hops", id: "biz-001", expected: "biz-003"},
		{name: "one hop", id: "biz-002", expected: "biz-003"},
		{name: "already the survivor", id: "biz-003", expected: "biz-003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			survivor, err := store.ResolveSurvivor(ctx, tt.id)
			if err != nil {
				t.Fatalf("Failed to resolve survivor: %v", err)
			}
			if survivor != tt.expected {
				t.Errorf("Expected survivor %s, got %s", tt.expected, survivor)
			}
		})
	}
}

func TestSQLiteStorage_ResolveSurvivorNotFound(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	_, err := store.ResolveSurvivor(context.Background(), "no-such-id")
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStorage_ResolveSurvivorCycle(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	// Corrupt data: a merge cycle. The walk must fail rather than spin.
	businesses := createTestBusinesses(2)
	if err := store.SaveBusinesses(ctx, businesses); err != nil {
		t.Fatalf("Failed to save businesses: %v", err)
	}
	tombstone(t, store, "biz-001", "biz-002")
	tombstone(t, store, "biz-002", "biz-001")

	_, err := store.ResolveSurvivor(ctx, "biz-001")
	if !errors.Is(err, common.ErrIntegrityViolation) {
		t.Errorf("Expected ErrIntegrityViolation, got %v", err)
	}
}

func TestSQLiteStorage_CountDependents(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.SaveBusinesses(ctx, createTestBusinesses(1)); err != nil {
		t.Fatalf("Failed to save businesses: %v", err)
	}
	if err := store.AddFeature(ctx, "biz-001", "has_website", "true"); err != nil {
		t.Fatalf("Failed to add feature: %v", err)
	}
	if err := store.AddFeature(ctx, "biz-001", "rating", "4.5"); err != nil {
		t.Fatalf("Failed to add feature: %v", err)
	}
	if err := store.AddMockup(ctx, "biz-001", "https://cdn.example.com/m1.png"); err != nil {
		t.Fatalf("Failed to add mockup: %v", err)
	}

	counts, err := store.CountDependents(ctx, "biz-001")
	if err != nil {
		t.Fatalf("Failed to count dependents: %v", err)
	}
	if counts.Features != 2 {
		t.Errorf("Expected 2 features, got %d", counts.Features)
	}
	if counts.Mockups != 1 {
		t.Errorf("Expected 1 mockup, got %d", counts.Mockups)
	}
	if counts.Emails != 0 {
		t.Errorf("Expected 0 emails, got %d", counts.Emails)
	}
}

func TestSQLiteStorage_AddFeatureDuplicate(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.SaveBusinesses(ctx, createTestBusinesses(1)); err != nil {
		t.Fatalf("Failed to save businesses: %v", err)
	}
	if err := store.AddFeature(ctx, "biz-001", "has_website", "true"); err != nil {
		t.Fatalf("Failed to add feature: %v", err)
	}

	err := store.AddFeature(ctx, "biz-001", "has_website", "false")
	if !errors.Is(err, common.ErrDuplicateEntry) {
		t.Errorf("Expected ErrDuplicateEntry for repeated feature name, got %v", err)
	}
}

func TestClassifyErr(t *testing.T) {
	busy := classifyErr(sqlite3.Error{Code: sqlite3.ErrBusy})
	if !errors.Is(busy, common.ErrTransientStore) {
		t.Errorf("Expected busy error to be transient, got %v", busy)
	}

	locked := classifyErr(sqlite3.Error{Code: sqlite3.ErrLocked})
	if !errors.Is(locked, common.ErrTransientStore) {
		t.Errorf("Expected locked error to be transient, got %v", locked)
	}

	plain := errors.New("disk I/O error")
	if got := classifyErr(plain); got != plain {
		t.Errorf("Expected non-contention error to pass through, got %v", got)
	}
}

func TestSQLiteStorage_TransactionRollback(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	if err := tx.SaveBusinesses(ctx, createTestBusinesses(1)); err != nil {
		t.Fatalf("Failed to save in transaction: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Failed to rollback: %v", err)
	}

	_, err = store.GetBusiness(ctx, "biz-001")
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected rolled-back record to be absent, got %v", err)
	}
}

func TestSQLiteStorage_TransactionRestrictions(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.Migrate(ctx); err == nil {
		t.Error("Expected migrate within transaction to fail")
	}
	if _, err := tx.BeginTx(ctx); err == nil {
		t.Error("Expected nested transaction to fail")
	}
	if err := tx.MergeBusinesses(ctx, "a", "b", "a", "b"); err == nil {
		t.Error("Expected merge within transaction to fail")
	}
	if err := tx.Close(); err == nil {
		t.Error("Expected close of transaction to fail")
	}
}

// tombstone marks a record merged into another, bypassing the merge path, for
// tests that only need the pointer structure.
func tombstone(t *testing.T, store *SQLiteStorage, loserID, survivorID string) {
	t.Helper()
	_, err := store.db.Exec(
		`UPDATE businesses SET status = ?, merged_into = ? WHERE id = ?`,
		string(model.BusinessMerged), survivorID, loserID)
	if err != nil {
		t.Fatalf("Failed to tombstone %s: %v", loserID, err)
	}
}
