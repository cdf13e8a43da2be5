package store

import (
	"context"
	"time"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
)

// Store is the backing store for entities, filings and trade records.
// Every method is individually atomic; callers never assume transactions
// spanning more than one call.
type Store interface {
	Close() error
	Ping(ctx context.Context) error

	// Entities
	FindEntity(ctx context.Context, key filing.EntityKey) (filing.Entity, bool, error)
	// CreateEntity assigns an ID when e.ID is empty and returns
	// internalerr.ErrDuplicate when the natural key is already taken.
	CreateEntity(ctx context.Context, e filing.Entity) (filing.Entity, error)
	UpdateEntity(ctx context.Context, e filing.Entity) error

	// Filings
	UpsertFiling(ctx context.Context, f filing.Filing, entityID string) error
	GetFilings(ctx context.Context, ids []string) ([]filing.Filing, error)

	// Records
	FindFingerprints(ctx context.Context, fingerprints []string) (map[string]Record, error)
	// InsertRecord returns internalerr.ErrDuplicate when the fingerprint exists.
	InsertRecord(ctx context.Context, r Record) error
	// UpdateRecord rewrites the mutable fields of the record with r's fingerprint.
	UpdateRecord(ctx context.Context, r Record) error
	IterateRecords(ctx context.Context, fn func(Record) error) error

	IntegrityStats(ctx context.Context) (IntegrityStats, error)
}

// Record is a stored trade: the canonical record plus its storage identity.
type Record struct {
	ID       string `json:"id"`
	EntityID string `json:"entity_id"`
	filing.CanonicalRecord
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IntegrityStats summarizes structural problems in the store.
type IntegrityStats struct {
	Entities              int64 `json:"entities"`
	Filings               int64 `json:"filings"`
	Records               int64 `json:"records"`
	OrphanedRecords       int64 `json:"orphaned_records"`
	MissingRequired       int64 `json:"missing_required"`
	InvalidDates          int64 `json:"invalid_dates"`
	DuplicateFingerprints int64 `json:"duplicate_fingerprints"`
}

// Issues is the count of problems that indicate corruption rather than
// incomplete source data.
func (s IntegrityStats) Issues() int64 {
	return s.OrphanedRecords + s.DuplicateFingerprints
}

// EarliestDate is the lower bound for plausible stored transaction dates.
var EarliestDate = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

// InvalidDate reports whether r's transaction date is implausible: before
// EarliestDate or after the declared filing date.
func InvalidDate(r filing.CanonicalRecord) bool {
	if r.TransactionDate.IsZero() {
		return false
	}
	if r.TransactionDate.Before(EarliestDate) {
		return true
	}
	return !r.FilingDate.IsZero() && r.TransactionDate.After(r.FilingDate)
}

// MissingRequired reports whether a stored record lacks a required field.
func MissingRequired(r Record) bool {
	return r.AssetDescription == "" || r.TransactionType == "" || r.EntityID == ""
}
