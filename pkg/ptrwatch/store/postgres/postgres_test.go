package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"reflect"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store/storetest"
)

// newMock wraps the results of sqlmock.New, e.g. newMock(t)(sqlmock.New()).
// sqlmock's option type is unexported, so options are passed to sqlmock.New
// at the call site rather than through this helper.
func newMock(t *testing.T) func(*sql.DB, sqlmock.Sqlmock, error) (*Store, sqlmock.Sqlmock) {
	return func(db *sql.DB, mock sqlmock.Sqlmock, err error) (*Store, sqlmock.Sqlmock) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { db.Close() })
		return New(db), mock
	}
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func anyArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}

var recordCols = []string{"id", "fingerprint", "entity_id", "source", "filing_id", "owner_name_key",
	"owner_jurisdiction_key", "asset_description", "ticker", "asset_type", "transaction_type",
	"transaction_date", "amount_range", "amount_min", "amount_max", "filing_date", "provenance",
	"created_at", "updated_at"}

func TestCreateEntity(t *testing.T) {
	s, mock := newMock(t)(sqlmock.New())
	ctx := context.Background()
	key := filing.NewEntityKey("Nancy Pelosi", "CA")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO entities")).
		WithArgs(anyArgs(12)...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e, err := s.CreateEntity(ctx, filing.Entity{Key: key, Name: "Nancy Pelosi"})
	if err != nil {
		t.Fatal(err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Errorf("created entity missing ID or timestamp: %+v", e)
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO entities")).
		WithArgs(anyArgs(12)...).
		WillReturnResult(sqlmock.NewResult(0, 0))
	_, err = s.CreateEntity(ctx, filing.Entity{Key: key, Name: "Nancy Pelosi"})
	if !errors.Is(err, internalerr.ErrDuplicate) {
		t.Errorf("got %v, want duplicate", err)
	}

	expectationsMet(t, mock)
}

func TestFindEntity(t *testing.T) {
	s, mock := newMock(t)(sqlmock.New())
	ctx := context.Background()
	key := filing.NewEntityKey("Nancy Pelosi", "CA")
	query := regexp.QuoteMeta("FROM entities WHERE name_key = $1 AND jurisdiction_key = $2")

	rows := sqlmock.NewRows([]string{"id", "name_key", "jurisdiction_key", "name", "first_name", "last_name",
		"prefix", "suffix", "jurisdiction", "chamber", "created_at", "updated_at"}).
		AddRow("e1", key.Name, key.Jurisdiction, "Nancy Pelosi", "Nancy", "Pelosi", "Hon.", "", "CA", "House",
			"2024-01-01T00:00:00Z", "2024-01-02T00:00:00Z")
	mock.ExpectQuery(query).WithArgs(key.Name, key.Jurisdiction).WillReturnRows(rows)

	e, found, err := s.FindEntity(ctx, key)
	if err != nil || !found {
		t.Fatalf("FindEntity = %v, %v", found, err)
	}
	if e.ID != "e1" || e.Chamber != "House" || e.CreatedAt.Year() != 2024 {
		t.Errorf("unexpected entity %+v", e)
	}

	mock.ExpectQuery(query).WithArgs("nobody", "").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, found, err = s.FindEntity(ctx, filing.EntityKey{Name: "nobody"})
	if err != nil || found {
		t.Errorf("FindEntity(nobody) = %v, %v", found, err)
	}

	expectationsMet(t, mock)
}

func TestUpdateEntityNotFound(t *testing.T) {
	s, mock := newMock(t)(sqlmock.New())
	mock.ExpectExec(regexp.QuoteMeta("UPDATE entities SET")).
		WithArgs(anyArgs(9)...).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateEntity(context.Background(), filing.Entity{ID: "missing"})
	if !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("got %v, want not found", err)
	}
}

func TestUpsertFiling(t *testing.T) {
	s, mock := newMock(t)(sqlmock.New())
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE SET")).
		WithArgs("20024512", filing.SourceHouseClerk, "https://example.test/20024512.pdf", "e1",
			sqlmock.AnyArg(), "2024-04-01", "P", 2024, "Nancy Pelosi", "", "", "", "", "CA11", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	f := filing.Filing{
		ID: "20024512", URL: "https://example.test/20024512.pdf", FilingType: "P", Year: 2024,
		FilingDate: storetest.SampleRecord("", "").FilingDate,
		Owner:      filing.Owner{FullName: "Nancy Pelosi"}, StateDst: "CA11",
	}
	if err := s.UpsertFiling(ctx, f, "e1"); err != nil {
		t.Fatal(err)
	}

	err := s.UpsertFiling(ctx, filing.Filing{ID: "no-url"}, "")
	if !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("got %v, want invalid input", err)
	}

	expectationsMet(t, mock)
}

func TestGetFilingsKeepsRequestOrder(t *testing.T) {
	s, mock := newMock(t)(sqlmock.New())
	cols := []string{"id", "source", "url", "discovered_at", "filing_date", "filing_type", "year",
		"owner_full_name", "owner_first_name", "owner_last_name", "owner_prefix", "owner_suffix", "state_dst"}
	rows := sqlmock.NewRows(cols).
		AddRow("b", "house_clerk", "u-b", "", "2024-04-01", "P", 2024, "B", "", "", "", "", "TX02").
		AddRow("a", "house_clerk", "u-a", "", "", "P", 2024, "A", "", "", "", "", "CA11")
	mock.ExpectQuery(regexp.QuoteMeta("FROM filings WHERE id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	got, err := s.GetFilings(context.Background(), []string{"a", "missing", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d filings, want 2", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("order = %s, %s; want a, b", got[0].ID, got[1].ID)
	}
	if got[1].FilingDate.Month() != 4 || !got[0].FilingDate.IsZero() {
		t.Errorf("filing dates = %v, %v", got[0].FilingDate, got[1].FilingDate)
	}
}

func TestFindFingerprints(t *testing.T) {
	s, mock := newMock(t)(sqlmock.New())
	rows := sqlmock.NewRows(recordCols).
		AddRow("r1", "fp-1", "e1", "house_clerk", "20024512", "nancy pelosi", "CA",
			"Apple Inc", "AAPL", "Stock", "Purchase", "2024-03-05", "$1,001 - $15,000",
			int64(1001), int64(15000), "2024-04-01", `{"page":1,"table":0,"row":2,"strategy":"table"}`,
			"2024-04-02T00:00:00Z", "2024-04-02T00:00:00Z").
		AddRow("r2", "fp-2", "e1", "house_clerk", "20024512", "nancy pelosi", "CA",
			"Blackstone Inc", "BX", "Stock", "Sale", "", "Over $50,000,000",
			int64(50000001), nil, "2024-04-01", `{}`,
			"2024-04-02T00:00:00Z", "2024-04-02T00:00:00Z")
	mock.ExpectQuery(regexp.QuoteMeta("FROM records WHERE fingerprint = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	found, err := s.FindFingerprints(context.Background(), []string{"fp-1", "fp-2", "fp-3"})
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 {
		t.Fatalf("found %d records, want 2", len(found))
	}

	r1 := found["fp-1"]
	if r1.DateString() != "2024-03-05" {
		t.Errorf("date = %q", r1.DateString())
	}
	if r1.AmountMax == nil || *r1.AmountMax != 15000 {
		t.Errorf("amount max = %v, want 15000", r1.AmountMax)
	}
	if r1.Provenance.Strategy != filing.StrategyTable {
		t.Errorf("strategy = %q", r1.Provenance.Strategy)
	}

	r2 := found["fp-2"]
	if r2.AmountMax != nil || !r2.TransactionDate.IsZero() {
		t.Errorf("open bound or date lost: %+v", r2)
	}

	empty, err := s.FindFingerprints(context.Background(), nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("FindFingerprints(nil) = %v, %v", empty, err)
	}

	expectationsMet(t, mock)
}

func TestInsertAndUpdateRecord(t *testing.T) {
	s, mock := newMock(t)(sqlmock.New())
	ctx := context.Background()
	rec := storetest.SampleRecord("fp-1", "e1")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO records")).
		WithArgs(anyArgs(19)...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.InsertRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO records")).
		WithArgs(anyArgs(19)...).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := s.InsertRecord(ctx, rec)
	if !errors.Is(err, internalerr.ErrDuplicate) {
		t.Errorf("got %v, want duplicate", err)
	}

	if err := s.InsertRecord(ctx, store.Record{}); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("empty record: got %v, want invalid input", err)
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE records SET")).
		WithArgs("e1", "Stock", sqlmock.AnyArg(), sqlmock.AnyArg(), "2024-04-01", sqlmock.AnyArg(), "fp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.UpdateRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE records SET")).
		WithArgs(anyArgs(7)...).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = s.UpdateRecord(ctx, storetest.SampleRecord("gone", "e1"))
	if !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("got %v, want not found", err)
	}

	expectationsMet(t, mock)
}

func TestIterateRecordsStopsOnCallbackError(t *testing.T) {
	s, mock := newMock(t)(sqlmock.New())
	rows := sqlmock.NewRows(recordCols)
	for _, fp := range []string{"fp-1", "fp-2", "fp-3"} {
		rows.AddRow("id-"+fp, fp, "e1", "house_clerk", "1", "n", "", "Asset", "", "Stock", "Sale", "",
			"", nil, nil, "", "{}", "", "")
	}
	mock.ExpectQuery(regexp.QuoteMeta("FROM records ORDER BY seq")).WillReturnRows(rows)

	stop := errors.New("stop")
	var seen []string
	err := s.IterateRecords(context.Background(), func(r store.Record) error {
		seen = append(seen, r.Fingerprint)
		if len(seen) == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Errorf("got %v, want callback error", err)
	}
	if !reflect.DeepEqual(seen, []string{"fp-1", "fp-2"}) {
		t.Errorf("seen = %v", seen)
	}
}

func TestIntegrityStats(t *testing.T) {
	s, mock := newMock(t)(sqlmock.New())
	counts := []int64{2, 3, 10, 1, 0, 2, 0}
	for _, n := range counts {
		mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
	}

	st, err := s.IntegrityStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := store.IntegrityStats{Entities: 2, Filings: 3, Records: 10, OrphanedRecords: 1, InvalidDates: 2}
	if st != want {
		t.Errorf("stats = %+v, want %+v", st, want)
	}
	if st.Issues() != 1 {
		t.Errorf("issues = %d, want 1", st.Issues())
	}
	expectationsMet(t, mock)
}

func TestPingUnavailable(t *testing.T) {
	s, mock := newMock(t)(sqlmock.New(sqlmock.MonitorPingsOption(true)))
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	err := s.Ping(context.Background())
	if !errors.Is(err, internalerr.ErrStoreUnavailable) {
		t.Errorf("got %v, want store unavailable", err)
	}
}
