// Package model defines the core domain types shared across the application.
package model

import "time"

// BusinessStatus represents the lifecycle state of a business record.
type BusinessStatus string

// Business lifecycle states.
const (
	BusinessActive  BusinessStatus = "active"
	BusinessMerged  BusinessStatus = "merged"
	BusinessDeleted BusinessStatus = "deleted"
)

// Business represents one real-world business as currently known to the system.
// Records are supplied by upstream ingestion; the deduplication engine only reads
// them and transitions their status.
type Business struct {
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ID           string
	Name         string
	Street       string
	City         string
	State        string
	Zip          string
	Phone        string
	Email        string
	Website      string
	Status       BusinessStatus
	Source       string
	MergedInto   string // surviving record id when Status is BusinessMerged
	QualityScore float64
}

// IsActive reports whether the record is still a live candidate for comparison.
func (b *Business) IsActive() bool {
	return b.Status == BusinessActive
}
