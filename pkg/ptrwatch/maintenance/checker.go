// Package maintenance audits stored data for corruption.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/normalize"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store"
)

// maxSamples caps the mismatched fingerprints kept in a Report.
const maxSamples = 10

// Checker replays every stored record against the store's structural
// statistics and the current fingerprint function.
type Checker struct {
	Store  store.Store
	Logger *slog.Logger
	Now    func() time.Time
}

// Report summarizes one integrity check.
type Report struct {
	Stats                 store.IntegrityStats `json:"stats"`
	Checked               int64                `json:"checked"`
	FingerprintMismatches int64                `json:"fingerprint_mismatches"`
	MismatchSamples       []string             `json:"mismatch_samples,omitempty"`
	Issues                int64                `json:"issues"`
	CheckedAt             time.Time            `json:"checked_at"`
}

// Clean reports whether no issue was found. Missing fields and implausible
// dates reflect the source documents and do not count.
func (r Report) Clean() bool { return r.Issues == 0 }

// Check runs the audit. The error is non-nil only when the store could not
// be read; issues are reported in the Report.
func (c *Checker) Check(ctx context.Context) (Report, error) {
	var rep Report
	if c.Store == nil {
		return rep, errors.New("checker: no store configured")
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	rep.CheckedAt = now().UTC()

	stats, err := c.Store.IntegrityStats(ctx)
	if err != nil {
		return rep, fmt.Errorf("integrity stats: %w", err)
	}
	rep.Stats = stats

	err = c.Store.IterateRecords(ctx, func(r store.Record) error {
		rep.Checked++
		if normalize.Fingerprint(r.CanonicalRecord) == r.Fingerprint {
			return nil
		}
		rep.FingerprintMismatches++
		if len(rep.MismatchSamples) < maxSamples {
			rep.MismatchSamples = append(rep.MismatchSamples, r.Fingerprint)
		}
		return nil
	})
	if err != nil {
		return rep, fmt.Errorf("iterate records: %w", err)
	}

	rep.Issues = stats.Issues() + rep.FingerprintMismatches
	attrs := []any{
		"entities", stats.Entities,
		"records", stats.Records,
		"orphaned", stats.OrphanedRecords,
		"duplicates", stats.DuplicateFingerprints,
		"missing_required", stats.MissingRequired,
		"invalid_dates", stats.InvalidDates,
		"fingerprint_mismatches", rep.FingerprintMismatches,
	}
	if rep.Issues > 0 {
		logger.Warn("data integrity issues found", append(attrs, "issues", rep.Issues)...)
	} else {
		logger.Info("data integrity check clean", attrs...)
	}
	return rep, nil
}
