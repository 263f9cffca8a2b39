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

// SaveBusinesses saves multiple business records to the database. Existing ids
// are left untouched, so re-importing the same file is a no-op.
func (s *SQLiteStorage) SaveBusinesses(ctx context.Context, businesses []model.Business) error {
	// Validate inputs
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBusinesses(businesses); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveBusinessesTx(ctx, tx, businesses); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStorage) saveBusinessesTx(ctx context.Context, tx *sql.Tx, businesses []model.Business) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO businesses (
			id, name, street, city, state, zip, phone, email, website,
			status, quality_score, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, b := range businesses {
		status := b.Status
		if status == "" {
			status = model.BusinessActive
		}
		if _, err := stmt.ExecContext(ctx,
			b.ID, b.Name, b.Street, b.City, b.State, b.Zip,
			b.Phone, b.Email, b.Website,
			string(status), b.QualityScore, b.Source,
		); err != nil {
			return fmt.Errorf("failed to save business %s: %w", b.ID, err)
		}
	}
	return nil
}

// GetBusiness retrieves a single business record by id.
func (s *SQLiteStorage) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getBusinessTx(ctx, s.db, id)
}

// queryer abstracts *sql.DB and *sql.Tx for read paths.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const businessColumns = `id, name, COALESCE(street, ''), COALESCE(city, ''),
	COALESCE(state, ''), COALESCE(zip, ''), COALESCE(phone, ''),
	COALESCE(email, ''), COALESCE(website, ''), status, quality_score,
	COALESCE(source, ''), COALESCE(merged_into, ''), created_at, updated_at`

func (s *SQLiteStorage) getBusinessTx(ctx context.Context, q queryer, id string) (*model.Business, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE id = ?`, id)

	b, err := scanBusiness(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("business %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get business %s: %w", id, err)
	}
	return b, nil
}

// GetActiveBusinesses returns every record still eligible for comparison.
func (s *SQLiteStorage) GetActiveBusinesses(ctx context.Context) ([]model.Business, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getActiveBusinessesTx(ctx, s.db)
}

func (s *SQLiteStorage) getActiveBusinessesTx(ctx context.Context, q queryer) ([]model.Business, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE status = ? ORDER BY id`,
		string(model.BusinessActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query active businesses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var businesses []model.Business
	for rows.Next() {
		b, scanErr := scanBusiness(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan business: %w", scanErr)
		}
		businesses = append(businesses, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate businesses: %w", err)
	}
	return businesses, nil
}

// ResolveSurvivor follows merged_into pointers until it reaches a record that
// has not itself been merged away. Merges form a DAG collapsing toward
// survivors, so the walk always terminates; the depth guard only protects
// against corrupted data.
func (s *SQLiteStorage) ResolveSurvivor(ctx context.Context, id string) (string, error) {
	if err := validateContext(ctx); err != nil {
		return "", err
	}
	if err := validateString(id, "id"); err != nil {
		return "", err
	}
	return s.resolveSurvivorTx(ctx, s.db, id)
}

func (s *SQLiteStorage) resolveSurvivorTx(ctx context.Context, q queryer, id string) (string, error) {
	const maxDepth = 64
	current := id
	for i := 0; i < maxDepth; i++ {
		var status, mergedInto string
		err := q.QueryRowContext(ctx,
			`SELECT status, COALESCE(merged_into, '') FROM businesses WHERE id = ?`,
			current).Scan(&status, &mergedInto)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("business %s: %w", current, common.ErrNotFound)
		}
		if err != nil {
			return "", fmt.Errorf("failed to resolve survivor of %s: %w", id, err)
		}
		if model.BusinessStatus(status) != model.BusinessMerged || mergedInto == "" {
			return current, nil
		}
		current = mergedInto
	}
	return "", fmt.Errorf("%w: merge chain from %s exceeds depth %d", common.ErrIntegrityViolation, id, maxDepth)
}

// AddFeature inserts a dependent feature row. Feature names are unique per
// business.
func (s *SQLiteStorage) AddFeature(ctx context.Context, businessID, name, value string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(businessID, "businessID"); err != nil {
		return err
	}
	if err := validateString(name, "name"); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO features (business_id, name, value) VALUES (?, ?, ?)`,
		businessID, name, value)
	if isConstraintUnique(err) {
		return fmt.Errorf("feature %s for business %s: %w", name, businessID, common.ErrDuplicateEntry)
	}
	if err != nil {
		return fmt.Errorf("failed to add feature: %w", err)
	}
	return nil
}

// AddMockup inserts a dependent mockup row.
func (s *SQLiteStorage) AddMockup(ctx context.Context, businessID, url string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(businessID, "businessID"); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mockups (business_id, url) VALUES (?, ?)`, businessID, url)
	if err != nil {
		return fmt.Errorf("failed to add mockup: %w", err)
	}
	return nil
}

// AddEmail inserts a dependent email row.
func (s *SQLiteStorage) AddEmail(ctx context.Context, businessID, subject, body string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(businessID, "businessID"); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO emails (business_id, subject, body) VALUES (?, ?, ?)`,
		businessID, subject, body)
	if err != nil {
		return fmt.Errorf("failed to add email: %w", err)
	}
	return nil
}

// CountDependents reports how many dependent rows reference a business record.
func (s *SQLiteStorage) CountDependents(ctx context.Context, businessID string) (service.DependentCounts, error) {
	if err := validateContext(ctx); err != nil {
		return service.DependentCounts{}, err
	}
	if err := validateString(businessID, "businessID"); err != nil {
		return service.DependentCounts{}, err
	}
	return s.countDependentsTx(ctx, s.db, businessID)
}

func (s *SQLiteStorage) countDependentsTx(ctx context.Context, q queryer, businessID string) (service.DependentCounts, error) {
	var counts service.DependentCounts
	row := q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM features WHERE business_id = ?),
			(SELECT COUNT(*) FROM mockups WHERE business_id = ?),
			(SELECT COUNT(*) FROM emails WHERE business_id = ?)`,
		businessID, businessID, businessID)
	if err := row.Scan(&counts.Features, &counts.Mockups, &counts.Emails); err != nil {
		return service.DependentCounts{}, fmt.Errorf("failed to count dependents: %w", err)
	}
	return counts, nil
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBusiness(row scanner) (*model.Business, error) {
	var b model.Business
	var status string
	if err := row.Scan(
		&b.ID, &b.Name, &b.Street, &b.City, &b.State, &b.Zip,
		&b.Phone, &b.Email, &b.Website, &status, &b.QualityScore,
		&b.Source, &b.MergedInto, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.Status = model.BusinessStatus(status)
	return &b, nil
}
