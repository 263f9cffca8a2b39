// Package storage provides the data persistence layer for the leadpipe application.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/leadpipe/leadpipe/internal/model"
)

// Validation errors.
var (
	ErrNilContext    = errors.New("context cannot be nil")
	ErrEmptyString   = errors.New("string parameter cannot be empty")
	ErrNilParameter  = errors.New("parameter cannot be nil")
	ErrEmptySlice    = errors.New("slice cannot be empty")
	ErrInvalidStatus = errors.New("invalid pair status")
	ErrInvalidPair   = errors.New("invalid candidate pair")
	ErrInvalidRecord = errors.New("invalid business record")
	ErrUnorderedPair = errors.New("pair ids must be in canonical order")
	ErrSelfPair      = errors.New("a record cannot be paired with itself")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validatePairIDs enforces the canonical ordering invariant: every stored pair
// has its smaller id first.
func validatePairIDs(id1, id2 string) error {
	if err := validateString(id1, "id1"); err != nil {
		return err
	}
	if err := validateString(id2, "id2"); err != nil {
		return err
	}
	if id1 == id2 {
		return ErrSelfPair
	}
	if id1 > id2 {
		return fmt.Errorf("%w: %q >= %q", ErrUnorderedPair, id1, id2)
	}
	return nil
}

// validateBusinesses validates a slice of business records.
func validateBusinesses(businesses []model.Business) error {
	if businesses == nil {
		return fmt.Errorf("%w: businesses", ErrNilParameter)
	}
	if len(businesses) == 0 {
		return fmt.Errorf("%w: businesses", ErrEmptySlice)
	}

	for i, b := range businesses {
		if err := validateBusiness(&b); err != nil {
			return fmt.Errorf("business at index %d: %w", i, err)
		}
	}
	return nil
}

// validateBusiness validates a single business record.
func validateBusiness(b *model.Business) error {
	if b == nil {
		return fmt.Errorf("%w: business", ErrNilParameter)
	}
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidRecord)
	}
	switch b.Status {
	case model.BusinessActive, model.BusinessMerged, model.BusinessDeleted:
	case "":
		// Defaulted to active on save.
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, b.Status)
	}
	return nil
}

// validatePair validates a candidate pair prior to insertion.
func validatePair(p *model.CandidatePair) error {
	if p == nil {
		return fmt.Errorf("%w: pair", ErrNilParameter)
	}
	if err := validatePairIDs(p.BusinessID1, p.BusinessID2); err != nil {
		return err
	}
	if p.Score < 0 || p.Score > 1 {
		return fmt.Errorf("%w: score %f out of range", ErrInvalidPair, p.Score)
	}
	return nil
}

// validatePairStatus ensures a status value is one of the known states.
func validatePairStatus(s model.PairStatus) error {
	switch s {
	case model.PairPending, model.PairEscalated, model.PairVerifiedDuplicate,
		model.PairVerifiedDistinct, model.PairNeedsReview, model.PairMerged,
		model.PairRejected:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}
