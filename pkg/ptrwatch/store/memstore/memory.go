package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store"
)

type storedFiling struct {
	filing   filing.Filing
	entityID string
}

// Store is an in-memory implementation of store.Store for tests and dry runs.
type Store struct {
	mu          sync.RWMutex
	entities    map[string]filing.Entity // by ID
	keyIndex    map[filing.EntityKey]string
	filings     map[string]storedFiling
	records     map[string]store.Record // by fingerprint
	order       []string
	unavailable bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		entities: make(map[string]filing.Entity),
		keyIndex: make(map[filing.EntityKey]string),
		filings:  make(map[string]storedFiling),
		records:  make(map[string]store.Record),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// SetUnavailable makes Ping fail, simulating an unreachable backend.
func (s *Store) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = down
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return internalerr.ErrStoreUnavailable
	}
	return ctx.Err()
}

// FindEntity looks an entity up by natural key.
func (s *Store) FindEntity(ctx context.Context, key filing.EntityKey) (filing.Entity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.keyIndex[key]
	if !ok {
		return filing.Entity{}, false, nil
	}
	return s.entities[id], true, nil
}

// CreateEntity inserts e unless its natural key is taken.
func (s *Store) CreateEntity(ctx context.Context, e filing.Entity) (filing.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keyIndex[e.Key]; ok {
		return filing.Entity{}, fmt.Errorf("entity %s: %w", e.Key, internalerr.ErrDuplicate)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	s.entities[e.ID] = e
	s.keyIndex[e.Key] = e.ID
	return e, nil
}

// UpdateEntity replaces the stored entity with the same ID.
func (s *Store) UpdateEntity(ctx context.Context, e filing.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.entities[e.ID]
	if !ok {
		return fmt.Errorf("entity %s: %w", e.ID, internalerr.ErrNotFound)
	}
	e.Key = old.Key
	e.CreatedAt = old.CreatedAt
	e.UpdatedAt = time.Now().UTC()
	s.entities[e.ID] = e
	return nil
}

// UpsertFiling stores f keyed by filing ID.
func (s *Store) UpsertFiling(ctx context.Context, f filing.Filing, entityID string) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrInvalidInput, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entityID == "" {
		entityID = s.filings[f.ID].entityID
	}
	s.filings[f.ID] = storedFiling{filing: f, entityID: entityID}
	return nil
}

// GetFilings returns the known filings among ids, in request order.
func (s *Store) GetFilings(ctx context.Context, ids []string) ([]filing.Filing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []filing.Filing
	for _, id := range ids {
		if sf, ok := s.filings[id]; ok {
			out = append(out, sf.filing)
		}
	}
	return out, nil
}

// FindFingerprints returns the stored records among fingerprints.
func (s *Store) FindFingerprints(ctx context.Context, fingerprints []string) (map[string]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]store.Record, len(fingerprints))
	for _, fp := range fingerprints {
		if r, ok := s.records[fp]; ok {
			out[fp] = copyRecord(r)
		}
	}
	return out, nil
}

// InsertRecord stores r unless its fingerprint exists.
func (s *Store) InsertRecord(ctx context.Context, r store.Record) error {
	if r.Fingerprint == "" {
		return fmt.Errorf("record without fingerprint: %w", internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.Fingerprint]; ok {
		return fmt.Errorf("record %s: %w", r.Fingerprint, internalerr.ErrDuplicate)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	s.records[r.Fingerprint] = copyRecord(r)
	s.order = append(s.order, r.Fingerprint)
	return nil
}

// UpdateRecord rewrites the mutable fields of an existing record.
func (s *Store) UpdateRecord(ctx context.Context, r store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.records[r.Fingerprint]
	if !ok {
		return fmt.Errorf("record %s: %w", r.Fingerprint, internalerr.ErrNotFound)
	}
	old.EntityID = r.EntityID
	old.AssetType = r.AssetType
	old.AmountMin = copyBound(r.AmountMin)
	old.AmountMax = copyBound(r.AmountMax)
	old.FilingDate = r.FilingDate
	old.UpdatedAt = time.Now().UTC()
	s.records[r.Fingerprint] = old
	return nil
}

// IterateRecords calls fn for every record in insertion order.
func (s *Store) IterateRecords(ctx context.Context, fn func(store.Record) error) error {
	s.mu.RLock()
	recs := make([]store.Record, 0, len(s.order))
	for _, fp := range s.order {
		recs = append(recs, copyRecord(s.records[fp]))
	}
	s.mu.RUnlock()

	for _, r := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// IntegrityStats implements store.Store.
func (s *Store) IntegrityStats(ctx context.Context) (store.IntegrityStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := store.IntegrityStats{
		Entities: int64(len(s.entities)),
		Filings:  int64(len(s.filings)),
		Records:  int64(len(s.records)),
	}
	for _, r := range s.records {
		if _, ok := s.entities[r.EntityID]; !ok {
			stats.OrphanedRecords++
		}
		if store.MissingRequired(r) {
			stats.MissingRequired++
		}
		if store.InvalidDate(r.CanonicalRecord) {
			stats.InvalidDates++
		}
	}
	return stats, nil
}

// Entities returns all entities sorted by name. Test helper.
func (s *Store) Entities() []filing.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]filing.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FilingOwner returns the entity ID linked to a stored filing.
func (s *Store) FilingOwner(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sf, ok := s.filings[id]
	return sf.entityID, ok
}

// RecordCount returns the number of stored records.
func (s *Store) RecordCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func copyRecord(r store.Record) store.Record {
	r.AmountMin = copyBound(r.AmountMin)
	r.AmountMax = copyBound(r.AmountMax)
	return r
}

func copyBound(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
