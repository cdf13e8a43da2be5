// Package postgres implements store.Store on PostgreSQL through lib/pq.
//
// Column encodings match the SQLite backend (see store/codec.go) so the two
// can be swapped without touching callers.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store"
)

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	db *sql.DB
}

// New wraps an open handle. The schema is not touched; call Migrate.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn, verifies the connection and creates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}
	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	id TEXT PRIMARY KEY,
	name_key TEXT NOT NULL,
	jurisdiction_key TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	prefix TEXT NOT NULL DEFAULT '',
	suffix TEXT NOT NULL DEFAULT '',
	jurisdiction TEXT NOT NULL DEFAULT '',
	chamber TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE (name_key, jurisdiction_key)
);

CREATE TABLE IF NOT EXISTS filings (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	url TEXT NOT NULL,
	entity_id TEXT NOT NULL DEFAULT '',
	discovered_at TEXT NOT NULL DEFAULT '',
	filing_date TEXT NOT NULL DEFAULT '',
	filing_type TEXT NOT NULL DEFAULT '',
	year INTEGER NOT NULL DEFAULT 0,
	owner_full_name TEXT NOT NULL DEFAULT '',
	owner_first_name TEXT NOT NULL DEFAULT '',
	owner_last_name TEXT NOT NULL DEFAULT '',
	owner_prefix TEXT NOT NULL DEFAULT '',
	owner_suffix TEXT NOT NULL DEFAULT '',
	state_dst TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	seq BIGSERIAL,
	id TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL UNIQUE,
	entity_id TEXT NOT NULL,
	source TEXT NOT NULL,
	filing_id TEXT NOT NULL,
	owner_name_key TEXT NOT NULL,
	owner_jurisdiction_key TEXT NOT NULL DEFAULT '',
	asset_description TEXT NOT NULL,
	ticker TEXT NOT NULL DEFAULT '',
	asset_type TEXT NOT NULL,
	transaction_type TEXT NOT NULL,
	transaction_date TEXT NOT NULL DEFAULT '',
	amount_range TEXT NOT NULL DEFAULT '',
	amount_min BIGINT,
	amount_max BIGINT,
	filing_date TEXT NOT NULL DEFAULT '',
	provenance TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_entity ON records(entity_id);
CREATE INDEX IF NOT EXISTS idx_records_filing ON records(filing_id);
`

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}
	return nil
}

const entityColumns = `id, name_key, jurisdiction_key, name, first_name, last_name, prefix, suffix, jurisdiction, chamber, created_at, updated_at`

func (s *Store) FindEntity(ctx context.Context, key filing.EntityKey) (filing.Entity, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE name_key = $1 AND jurisdiction_key = $2`,
		key.Name, key.Jurisdiction)

	var e filing.Entity
	var created, updated string
	err := row.Scan(&e.ID, &e.Key.Name, &e.Key.Jurisdiction, &e.Name, &e.FirstName, &e.LastName,
		&e.Prefix, &e.Suffix, &e.Jurisdiction, &e.Chamber, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return filing.Entity{}, false, nil
	}
	if err != nil {
		return filing.Entity{}, false, fmt.Errorf("find entity: %w", err)
	}
	e.CreatedAt, e.UpdatedAt = store.DecodeTime(created), store.DecodeTime(updated)
	return e, true, nil
}

func (s *Store) CreateEntity(ctx context.Context, e filing.Entity) (filing.Entity, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now

	res, err := s.db.ExecContext(ctx, `
INSERT INTO entities (`+entityColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (name_key, jurisdiction_key) DO NOTHING`,
		e.ID, e.Key.Name, e.Key.Jurisdiction, e.Name, e.FirstName, e.LastName,
		e.Prefix, e.Suffix, e.Jurisdiction, e.Chamber,
		store.EncodeTime(e.CreatedAt), store.EncodeTime(e.UpdatedAt))
	if err != nil {
		return filing.Entity{}, fmt.Errorf("create entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return filing.Entity{}, fmt.Errorf("entity %s: %w", e.Key, internalerr.ErrDuplicate)
	}
	return e, nil
}

func (s *Store) UpdateEntity(ctx context.Context, e filing.Entity) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE entities SET name = $1, first_name = $2, last_name = $3, prefix = $4, suffix = $5,
	jurisdiction = $6, chamber = $7, updated_at = $8
WHERE id = $9`,
		e.Name, e.FirstName, e.LastName, e.Prefix, e.Suffix, e.Jurisdiction, e.Chamber,
		store.EncodeTime(time.Now().UTC()), e.ID)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entity %s: %w", e.ID, internalerr.ErrNotFound)
	}
	return nil
}

func (s *Store) UpsertFiling(ctx context.Context, f filing.Filing, entityID string) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrInvalidInput, err)
	}
	const stmt = `
INSERT INTO filings (id, source, url, entity_id, discovered_at, filing_date, filing_type, year,
	owner_full_name, owner_first_name, owner_last_name, owner_prefix, owner_suffix, state_dst, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (id) DO UPDATE SET
	source = EXCLUDED.source,
	url = EXCLUDED.url,
	entity_id = CASE WHEN EXCLUDED.entity_id = '' THEN filings.entity_id ELSE EXCLUDED.entity_id END,
	filing_date = EXCLUDED.filing_date,
	filing_type = EXCLUDED.filing_type,
	year = EXCLUDED.year,
	owner_full_name = EXCLUDED.owner_full_name,
	owner_first_name = EXCLUDED.owner_first_name,
	owner_last_name = EXCLUDED.owner_last_name,
	owner_prefix = EXCLUDED.owner_prefix,
	owner_suffix = EXCLUDED.owner_suffix,
	state_dst = EXCLUDED.state_dst,
	updated_at = EXCLUDED.updated_at
`
	_, err := s.db.ExecContext(ctx, stmt,
		f.ID, f.SourceOrDefault(), f.URL, entityID,
		store.EncodeTime(f.DiscoveredAt), store.EncodeDate(f.FilingDate), f.FilingType, f.Year,
		f.Owner.FullName, f.Owner.FirstName, f.Owner.LastName, f.Owner.Prefix, f.Owner.Suffix,
		f.StateDst, store.EncodeTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("upsert filing %s: %w", f.ID, err)
	}
	return nil
}

func (s *Store) GetFilings(ctx context.Context, ids []string) ([]filing.Filing, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, source, url, discovered_at, filing_date, filing_type, year,
	owner_full_name, owner_first_name, owner_last_name, owner_prefix, owner_suffix, state_dst
FROM filings WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get filings: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]filing.Filing, len(ids))
	for rows.Next() {
		var f filing.Filing
		var discovered, filed string
		if err := rows.Scan(&f.ID, &f.Source, &f.URL, &discovered, &filed, &f.FilingType, &f.Year,
			&f.Owner.FullName, &f.Owner.FirstName, &f.Owner.LastName, &f.Owner.Prefix, &f.Owner.Suffix,
			&f.StateDst); err != nil {
			return nil, err
		}
		f.DiscoveredAt = store.DecodeTime(discovered)
		f.FilingDate = store.DecodeDate(filed)
		byID[f.ID] = f
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]filing.Filing, 0, len(byID))
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			out = append(out, f)
			delete(byID, id)
		}
	}
	return out, nil
}

const recordColumns = `id, fingerprint, entity_id, source, filing_id, owner_name_key, owner_jurisdiction_key,
	asset_description, ticker, asset_type, transaction_type, transaction_date, amount_range,
	amount_min, amount_max, filing_date, provenance, created_at, updated_at`

func (s *Store) FindFingerprints(ctx context.Context, fingerprints []string) (map[string]store.Record, error) {
	out := make(map[string]store.Record, len(fingerprints))
	if len(fingerprints) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE fingerprint = ANY($1)`, pq.Array(fingerprints))
	if err != nil {
		return nil, fmt.Errorf("find fingerprints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[r.Fingerprint] = r
	}
	return out, rows.Err()
}

func (s *Store) InsertRecord(ctx context.Context, r store.Record) error {
	if r.Fingerprint == "" {
		return fmt.Errorf("record without fingerprint: %w", internalerr.ErrInvalidInput)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := store.EncodeTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx, `
INSERT INTO records (`+recordColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
ON CONFLICT (fingerprint) DO NOTHING`,
		r.ID, r.Fingerprint, r.EntityID, r.Source, r.FilingID, r.Owner.Name, r.Owner.Jurisdiction,
		r.AssetDescription, r.Ticker, r.AssetType, r.TransactionType, store.EncodeDate(r.TransactionDate), r.AmountRange,
		store.NullInt64(r.AmountMin), store.NullInt64(r.AmountMax), store.EncodeDate(r.FilingDate),
		store.EncodeProvenance(r.Provenance), now, now)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record %s: %w", r.Fingerprint, internalerr.ErrDuplicate)
	}
	return nil
}

func (s *Store) UpdateRecord(ctx context.Context, r store.Record) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE records SET entity_id = $1, asset_type = $2, amount_min = $3, amount_max = $4, filing_date = $5, updated_at = $6
WHERE fingerprint = $7`,
		r.EntityID, r.AssetType, store.NullInt64(r.AmountMin), store.NullInt64(r.AmountMax),
		store.EncodeDate(r.FilingDate), store.EncodeTime(time.Now().UTC()), r.Fingerprint)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record %s: %w", r.Fingerprint, internalerr.ErrNotFound)
	}
	return nil
}

// IterateRecords streams records in insertion order. The pool has more
// than one connection, so fn may query the store while rows are open.
func (s *Store) IterateRecords(ctx context.Context, fn func(store.Record) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM records ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) IntegrityStats(ctx context.Context) (store.IntegrityStats, error) {
	var st store.IntegrityStats
	queries := []struct {
		dst   *int64
		query string
		args  []any
	}{
		{&st.Entities, `SELECT COUNT(*) FROM entities`, nil},
		{&st.Filings, `SELECT COUNT(*) FROM filings`, nil},
		{&st.Records, `SELECT COUNT(*) FROM records`, nil},
		{&st.OrphanedRecords, `SELECT COUNT(*) FROM records r LEFT JOIN entities e ON e.id = r.entity_id WHERE e.id IS NULL`, nil},
		{&st.MissingRequired, `SELECT COUNT(*) FROM records WHERE asset_description = '' OR transaction_type = '' OR entity_id = ''`, nil},
		{&st.InvalidDates, `SELECT COUNT(*) FROM records WHERE transaction_date <> '' AND (transaction_date < $1 OR (filing_date <> '' AND transaction_date > filing_date))`,
			[]any{store.EncodeDate(store.EarliestDate)}},
		{&st.DuplicateFingerprints, `SELECT COUNT(*) FROM (SELECT fingerprint FROM records GROUP BY fingerprint HAVING COUNT(*) > 1) d`, nil},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query, q.args...).Scan(q.dst); err != nil {
			return store.IntegrityStats{}, fmt.Errorf("integrity stats: %w", err)
		}
	}
	return st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (store.Record, error) {
	var r store.Record
	var txDate, filingDate, prov, created, updated string
	var minV, maxV sql.NullInt64
	err := sc.Scan(&r.ID, &r.Fingerprint, &r.EntityID, &r.Source, &r.FilingID, &r.Owner.Name, &r.Owner.Jurisdiction,
		&r.AssetDescription, &r.Ticker, &r.AssetType, &r.TransactionType, &txDate, &r.AmountRange,
		&minV, &maxV, &filingDate, &prov, &created, &updated)
	if err != nil {
		return store.Record{}, err
	}
	r.TransactionDate = store.DecodeDate(txDate)
	r.FilingDate = store.DecodeDate(filingDate)
	r.AmountMin = store.Int64Ptr(minV)
	r.AmountMax = store.Int64Ptr(maxV)
	r.Provenance = store.DecodeProvenance(prov)
	r.CreatedAt = store.DecodeTime(created)
	r.UpdatedAt = store.DecodeTime(updated)
	return r, nil
}

var _ store.Store = (*Store)(nil)
