package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS businesses (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					street TEXT,
					city TEXT,
					state TEXT,
					zip TEXT,
					phone TEXT,
					email TEXT,
					website TEXT,
					status TEXT NOT NULL DEFAULT 'active',
					quality_score REAL DEFAULT 0,
					source TEXT,
					merged_into TEXT REFERENCES businesses(id),
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_businesses_zip ON businesses(zip)`,
				`CREATE INDEX idx_businesses_status ON businesses(status)`,

				`CREATE TABLE IF NOT EXISTS duplicate_pairs (
					business_id_1 TEXT NOT NULL REFERENCES businesses(id),
					business_id_2 TEXT NOT NULL REFERENCES businesses(id),
					similarity_score REAL NOT NULL DEFAULT 0,
					name_score REAL NOT NULL DEFAULT 0,
					status TEXT NOT NULL DEFAULT 'pending',
					llm_verified INTEGER NOT NULL DEFAULT 0,
					llm_confidence REAL DEFAULT 0,
					llm_reason TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (business_id_1, business_id_2),
					CHECK (business_id_1 < business_id_2)
				)`,
				`CREATE INDEX idx_duplicate_pairs_status ON duplicate_pairs(status)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Dependent tables owned by downstream subsystems",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS features (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					business_id TEXT NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
					name TEXT NOT NULL,
					value TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (business_id, name)
				)`,
				`CREATE INDEX idx_features_business_id ON features(business_id)`,

				`CREATE TABLE IF NOT EXISTS mockups (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					business_id TEXT NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
					url TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_mockups_business_id ON mockups(business_id)`,

				`CREATE TABLE IF NOT EXISTS emails (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					business_id TEXT NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
					subject TEXT,
					body TEXT,
					sent_at DATETIME
				)`,
				`CREATE INDEX idx_emails_business_id ON emails(business_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Index merged_into for survivor chain lookups",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_businesses_merged_into ON businesses(merged_into)`)
			return err
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	// Apply migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		// Update version
		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
