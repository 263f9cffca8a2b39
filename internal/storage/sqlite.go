package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/leadpipe/leadpipe/internal/common"
	"github.com/leadpipe/leadpipe/internal/model"
	"github.com/leadpipe/leadpipe/internal/service"
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Validate input
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite doesn't benefit from multiple connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// isConstraintUnique reports whether the driver error is a uniqueness
// violation.
func isConstraintUnique(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// classifyErr marks driver lock contention as common.ErrTransientStore so
// callers can distinguish a retryable busy database from a real failure. The
// single-connection pool and busy timeout make contention rare, not
// impossible: a second process on the same file still produces it.
func classifyErr(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", common.ErrTransientStore, err)
	}
	return err
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{
		tx:      tx,
		storage: s,
	}, nil
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

// Transaction methods delegate to the main storage with the transaction.
func (t *sqliteTransaction) SaveBusinesses(ctx context.Context, businesses []model.Business) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBusinesses(businesses); err != nil {
		return err
	}
	return t.storage.saveBusinessesTx(ctx, t.tx, businesses)
}

func (t *sqliteTransaction) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getBusinessTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetActiveBusinesses(ctx context.Context) ([]model.Business, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getActiveBusinessesTx(ctx, t.tx)
}

func (t *sqliteTransaction) ResolveSurvivor(ctx context.Context, id string) (string, error) {
	if err := validateContext(ctx); err != nil {
		return "", err
	}
	if err := validateString(id, "id"); err != nil {
		return "", err
	}
	return t.storage.resolveSurvivorTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) CreatePairIfAbsent(ctx context.Context, pair *model.CandidatePair) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validatePair(pair); err != nil {
		return false, err
	}
	return t.storage.createPairIfAbsentTx(ctx, t.tx, pair)
}

func (t *sqliteTransaction) GetPair(ctx context.Context, id1, id2 string) (*model.CandidatePair, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validatePairIDs(id1, id2); err != nil {
		return nil, err
	}
	return t.storage.getPairTx(ctx, t.tx, id1, id2)
}

func (t *sqliteTransaction) GetPairsByStatus(ctx context.Context, status model.PairStatus, limit int) ([]model.CandidatePair, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validatePairStatus(status); err != nil {
		return nil, err
	}
	return t.storage.getPairsByStatusTx(ctx, t.tx, status, limit)
}

func (t *sqliteTransaction) TransitionPair(ctx context.Context, id1, id2 string, from, to model.PairStatus, evidence *service.PairEvidence) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePairIDs(id1, id2); err != nil {
		return err
	}
	return t.storage.transitionPairTx(ctx, t.tx, id1, id2, from, to, evidence)
}

func (t *sqliteTransaction) RequeuePair(ctx context.Context, id1, id2 string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePairIDs(id1, id2); err != nil {
		return err
	}
	return t.storage.requeuePairTx(ctx, t.tx, id1, id2)
}

func (t *sqliteTransaction) MergeBusinesses(_ context.Context, _, _, _, _ string) error {
	// The merge is itself a transactional unit and cannot nest.
	return fmt.Errorf("merge cannot be run within a transaction")
}

func (t *sqliteTransaction) CountDependents(ctx context.Context, businessID string) (service.DependentCounts, error) {
	if err := validateContext(ctx); err != nil {
		return service.DependentCounts{}, err
	}
	if err := validateString(businessID, "businessID"); err != nil {
		return service.DependentCounts{}, err
	}
	return t.storage.countDependentsTx(ctx, t.tx, businessID)
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	// Migrations should not be run within a transaction
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	// Nested transactions not supported
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTransaction) Close() error {
	// Transactions should be committed or rolled back, not closed
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}
