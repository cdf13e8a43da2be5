// Package upsert stores canonical records exactly once.
//
// Records are written in sub-batches. Each sub-batch bulk-fetches the
// fingerprints it carries, inserts what is new, rewrites what changed and
// skips the rest. The store's uniqueness constraint on the fingerprint is
// the final arbiter: a lost insert race surfaces as internalerr.ErrDuplicate
// and is counted as skipped.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/cognicore/ptrwatch/internal/keylock"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store"
)

// DefaultBatchSize is the number of records per sub-batch.
const DefaultBatchSize = 50

// Options configures an Engine.
type Options struct {
	BatchSize int
	Locker    keylock.Locker // defaults to an in-process keyed mutex
	CacheTTL  time.Duration  // entity cache lifetime, default 15m
	Logger    *slog.Logger
}

// Engine is the idempotent storage engine.
type Engine struct {
	store     store.Store
	batchSize int
	locker    keylock.Locker
	entities  *cache.Cache
	logger    *slog.Logger
}

// New creates an engine writing to st.
func New(st store.Store, opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Locker == nil {
		opts.Locker = keylock.NewLocal()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 15 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		store:     st,
		batchSize: opts.BatchSize,
		locker:    opts.Locker,
		entities:  cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		logger:    opts.Logger,
	}
}

// RecordError is a record that could not be stored.
type RecordError struct {
	Fingerprint string
	FilingID    string
	Err         error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %s (filing %s): %v", e.Fingerprint, e.FilingID, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

// Outcome counts what happened to a batch.
type Outcome struct {
	Inserted int
	Updated  int
	Skipped  int
	Errors   []RecordError
}

// Stored is the number of records written.
func (o Outcome) Stored() int { return o.Inserted + o.Updated }

// Add accumulates other into o.
func (o *Outcome) Add(other Outcome) {
	o.Inserted += other.Inserted
	o.Updated += other.Updated
	o.Skipped += other.Skipped
	o.Errors = append(o.Errors, other.Errors...)
}

// StoreRecords writes records, each carrying its resolved EntityID. A
// started sub-batch always runs to completion; ctx is consulted only
// between sub-batches, and a cancellation is returned with the partial
// outcome. Per-record failures never abort the batch.
func (e *Engine) StoreRecords(ctx context.Context, records []store.Record) (Outcome, error) {
	var out Outcome
	seen := make(map[string]bool, len(records))

	for start := 0; start < len(records); start += e.batchSize {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		end := min(start+e.batchSize, len(records))
		out.Add(e.storeBatch(context.WithoutCancel(ctx), records[start:end], seen))
	}
	return out, nil
}

func (e *Engine) storeBatch(ctx context.Context, batch []store.Record, seen map[string]bool) Outcome {
	var out Outcome

	fps := make([]string, 0, len(batch))
	for _, r := range batch {
		if r.Fingerprint != "" {
			fps = append(fps, r.Fingerprint)
		}
	}
	existing, err := e.store.FindFingerprints(ctx, fps)
	if err != nil {
		for _, r := range batch {
			out.Errors = append(out.Errors, RecordError{r.Fingerprint, r.FilingID, err})
		}
		return out
	}

	for _, r := range batch {
		switch {
		case r.Fingerprint == "":
			out.Errors = append(out.Errors, RecordError{"", r.FilingID,
				internalerr.Permanent("store", fmt.Errorf("%w: missing fingerprint", internalerr.ErrInvalidInput))})

		case seen[r.Fingerprint]:
			out.Skipped++

		default:
			if old, ok := existing[r.Fingerprint]; ok {
				seen[r.Fingerprint] = true
				if !changed(old, r) {
					out.Skipped++
					continue
				}
				r.ID = old.ID
				if err := e.store.UpdateRecord(ctx, r); err != nil {
					out.Errors = append(out.Errors, RecordError{r.Fingerprint, r.FilingID, err})
					continue
				}
				out.Updated++
				continue
			}

			err := e.store.InsertRecord(ctx, r)
			switch {
			case err == nil:
				seen[r.Fingerprint] = true
				out.Inserted++
			case errors.Is(err, internalerr.ErrDuplicate):
				seen[r.Fingerprint] = true
				out.Skipped++
			default:
				out.Errors = append(out.Errors, RecordError{r.Fingerprint, r.FilingID, err})
			}
		}
	}

	e.logger.Debug("sub-batch stored",
		"size", len(batch), "inserted", out.Inserted, "updated", out.Updated,
		"skipped", out.Skipped, "errors", len(out.Errors))
	return out
}

// changed compares the fields a re-parse is allowed to revise.
func changed(old, r store.Record) bool {
	return old.AssetType != r.AssetType ||
		!equalBound(old.AmountMin, r.AmountMin) ||
		!equalBound(old.AmountMax, r.AmountMax) ||
		!old.FilingDate.Equal(r.FilingDate) ||
		old.EntityID != r.EntityID
}

func equalBound(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// RegisterFiling resolves the filing's owner and upserts the filing row
// linked to it, without touching records. It returns the owner.
func (e *Engine) RegisterFiling(ctx context.Context, f filing.Filing) (filing.Entity, error) {
	owner, err := e.ResolveEntity(ctx, filing.EntityFromFiling(f))
	if err != nil {
		return filing.Entity{}, fmt.Errorf("resolve owner of %s: %w", f.ID, err)
	}
	if err := e.store.UpsertFiling(ctx, f, owner.ID); err != nil {
		return filing.Entity{}, fmt.Errorf("store filing %s: %w", f.ID, err)
	}
	return owner, nil
}

// StoreFiling resolves the filing's owner, upserts the filing row and
// stores its records linked to the owner.
func (e *Engine) StoreFiling(ctx context.Context, f filing.Filing, records []filing.CanonicalRecord) (Outcome, error) {
	owner, err := e.RegisterFiling(ctx, f)
	if err != nil {
		return Outcome{}, err
	}

	rows := make([]store.Record, len(records))
	for i, r := range records {
		rows[i] = store.Record{EntityID: owner.ID, CanonicalRecord: r}
	}
	return e.StoreRecords(ctx, rows)
}
