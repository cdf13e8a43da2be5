package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store"
)

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled and creates
// the schema if needed.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}
	return nil
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
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
	UNIQUE(name_key, jurisdiction_key)
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
	amount_min INTEGER,
	amount_max INTEGER,
	filing_date TEXT NOT NULL DEFAULT '',
	provenance TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_entity ON records(entity_id);
CREATE INDEX IF NOT EXISTS idx_records_filing ON records(filing_id);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

const entityColumns = `id, name_key, jurisdiction_key, name, first_name, last_name, prefix, suffix, jurisdiction, chamber, created_at, updated_at`

// FindEntity looks an entity up by natural key.
func (s *sqliteStore) FindEntity(ctx context.Context, key filing.EntityKey) (filing.Entity, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE name_key = ? AND jurisdiction_key = ?`,
		key.Name, key.Jurisdiction)

	var e filing.Entity
	var created, updated string
	err := row.Scan(&e.ID, &e.Key.Name, &e.Key.Jurisdiction, &e.Name, &e.FirstName, &e.LastName,
		&e.Prefix, &e.Suffix, &e.Jurisdiction, &e.Chamber, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return filing.Entity{}, false, nil
	}
	if err != nil {
		return filing.Entity{}, false, err
	}
	e.CreatedAt, e.UpdatedAt = store.DecodeTime(created), store.DecodeTime(updated)
	return e, true, nil
}

// CreateEntity inserts e, relying on the natural-key constraint to detect races.
func (s *sqliteStore) CreateEntity(ctx context.Context, e filing.Entity) (filing.Entity, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now

	res, err := s.db.ExecContext(ctx, `
INSERT INTO entities (`+entityColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name_key, jurisdiction_key) DO NOTHING`,
		e.ID, e.Key.Name, e.Key.Jurisdiction, e.Name, e.FirstName, e.LastName,
		e.Prefix, e.Suffix, e.Jurisdiction, e.Chamber,
		store.EncodeTime(e.CreatedAt), store.EncodeTime(e.UpdatedAt))
	if err != nil {
		return filing.Entity{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return filing.Entity{}, fmt.Errorf("entity %s: %w", e.Key, internalerr.ErrDuplicate)
	}
	return e, nil
}

// UpdateEntity rewrites the descriptive fields of an entity.
func (s *sqliteStore) UpdateEntity(ctx context.Context, e filing.Entity) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE entities SET name = ?, first_name = ?, last_name = ?, prefix = ?, suffix = ?,
	jurisdiction = ?, chamber = ?, updated_at = ?
WHERE id = ?`,
		e.Name, e.FirstName, e.LastName, e.Prefix, e.Suffix, e.Jurisdiction, e.Chamber,
		store.EncodeTime(time.Now().UTC()), e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entity %s: %w", e.ID, internalerr.ErrNotFound)
	}
	return nil
}

// UpsertFiling inserts or updates a filing keyed by ID. An empty entityID
// keeps the existing link.
func (s *sqliteStore) UpsertFiling(ctx context.Context, f filing.Filing, entityID string) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrInvalidInput, err)
	}
	const stmt = `
INSERT INTO filings (id, source, url, entity_id, discovered_at, filing_date, filing_type, year,
	owner_full_name, owner_first_name, owner_last_name, owner_prefix, owner_suffix, state_dst, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	source=excluded.source,
	url=excluded.url,
	entity_id=CASE WHEN excluded.entity_id = '' THEN filings.entity_id ELSE excluded.entity_id END,
	filing_date=excluded.filing_date,
	filing_type=excluded.filing_type,
	year=excluded.year,
	owner_full_name=excluded.owner_full_name,
	owner_first_name=excluded.owner_first_name,
	owner_last_name=excluded.owner_last_name,
	owner_prefix=excluded.owner_prefix,
	owner_suffix=excluded.owner_suffix,
	state_dst=excluded.state_dst,
	updated_at=excluded.updated_at
`
	_, err := s.db.ExecContext(ctx, stmt,
		f.ID, f.SourceOrDefault(), f.URL, entityID,
		store.EncodeTime(f.DiscoveredAt), store.EncodeDate(f.FilingDate), f.FilingType, f.Year,
		f.Owner.FullName, f.Owner.FirstName, f.Owner.LastName, f.Owner.Prefix, f.Owner.Suffix,
		f.StateDst, store.EncodeTime(time.Now().UTC()))
	return err
}

// GetFilings returns the known filings among ids, in request order.
func (s *sqliteStore) GetFilings(ctx context.Context, ids []string) ([]filing.Filing, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, source, url, discovered_at, filing_date, filing_type, year,
	owner_full_name, owner_first_name, owner_last_name, owner_prefix, owner_suffix, state_dst
FROM filings WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, err
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

// FindFingerprints bulk-fetches stored records by fingerprint.
func (s *sqliteStore) FindFingerprints(ctx context.Context, fingerprints []string) (map[string]store.Record, error) {
	out := make(map[string]store.Record, len(fingerprints))
	if len(fingerprints) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE fingerprint IN (`+placeholders(len(fingerprints))+`)`,
		stringArgs(fingerprints)...)
	if err != nil {
		return nil, err
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

// InsertRecord inserts r; the fingerprint constraint turns a lost race
// into ErrDuplicate.
func (s *sqliteStore) InsertRecord(ctx context.Context, r store.Record) error {
	if r.Fingerprint == "" {
		return fmt.Errorf("record without fingerprint: %w", internalerr.ErrInvalidInput)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := store.EncodeTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx, `
INSERT INTO records (`+recordColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(fingerprint) DO NOTHING`,
		r.ID, r.Fingerprint, r.EntityID, r.Source, r.FilingID, r.Owner.Name, r.Owner.Jurisdiction,
		r.AssetDescription, r.Ticker, r.AssetType, r.TransactionType, store.EncodeDate(r.TransactionDate), r.AmountRange,
		store.NullInt64(r.AmountMin), store.NullInt64(r.AmountMax), store.EncodeDate(r.FilingDate),
		store.EncodeProvenance(r.Provenance), now, now)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record %s: %w", r.Fingerprint, internalerr.ErrDuplicate)
	}
	return nil
}

// UpdateRecord rewrites the mutable fields of an existing record.
func (s *sqliteStore) UpdateRecord(ctx context.Context, r store.Record) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE records SET entity_id = ?, asset_type = ?, amount_min = ?, amount_max = ?, filing_date = ?, updated_at = ?
WHERE fingerprint = ?`,
		r.EntityID, r.AssetType, store.NullInt64(r.AmountMin), store.NullInt64(r.AmountMax),
		store.EncodeDate(r.FilingDate), store.EncodeTime(time.Now().UTC()), r.Fingerprint)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record %s: %w", r.Fingerprint, internalerr.ErrNotFound)
	}
	return nil
}

// IterateRecords streams every record in insertion order.
func (s *sqliteStore) IterateRecords(ctx context.Context, fn func(store.Record) error) error {
	// Rows are buffered because fn may query the single connection.
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM records ORDER BY rowid`)
	if err != nil {
		return err
	}
	var recs []store.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return err
		}
		recs = append(recs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

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

// IntegrityStats counts structural problems with a handful of aggregate queries.
func (s *sqliteStore) IntegrityStats(ctx context.Context) (store.IntegrityStats, error) {
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
		{&st.InvalidDates, `SELECT COUNT(*) FROM records WHERE transaction_date != '' AND (transaction_date < ? OR (filing_date != '' AND transaction_date > filing_date))`,
			[]any{store.EncodeDate(store.EarliestDate)}},
		{&st.DuplicateFingerprints, `SELECT COUNT(*) FROM (SELECT fingerprint FROM records GROUP BY fingerprint HAVING COUNT(*) > 1)`, nil},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query, q.args...).Scan(q.dst); err != nil {
			return store.IntegrityStats{}, err
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

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}
