package upsert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/normalize"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store/memstore"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store/storetest"
)

// spyStore counts lookups and can inject failures.
type spyStore struct {
	store.Store
	mu          sync.Mutex
	finds       int
	failInsert  map[string]bool
	hideLookups bool
	onInsert    func()
}

func (s *spyStore) FindFingerprints(ctx context.Context, fps []string) (map[string]store.Record, error) {
	s.mu.Lock()
	s.finds++
	hide := s.hideLookups
	s.mu.Unlock()
	if hide {
		return map[string]store.Record{}, nil
	}
	return s.Store.FindFingerprints(ctx, fps)
}

func (s *spyStore) InsertRecord(ctx context.Context, r store.Record) error {
	if s.onInsert != nil {
		s.onInsert()
	}
	if s.failInsert[r.Fingerprint] {
		return internalerr.Transient("insert", errors.New("connection reset"))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.InsertRecord(ctx, r)
}

func records(n int, entityID string) []store.Record {
	out := make([]store.Record, n)
	for i := range out {
		out[i] = storetest.SampleRecord(fmt.Sprintf("fp-%02d", i), entityID)
	}
	return out
}

func TestStoreRecordsIsIdempotent(t *testing.T) {
	ms := memstore.New()
	e := New(ms, Options{})
	ctx := context.Background()

	first, err := e.StoreRecords(ctx, records(7, "e1"))
	require.NoError(t, err)
	assert.Equal(t, 7, first.Inserted)
	assert.Equal(t, 7, first.Stored())

	second, err := e.StoreRecords(ctx, records(7, "e1"))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 7, second.Skipped)
	assert.Equal(t, 7, ms.RecordCount())
}

func TestStoreRecordsUpdatesMutableFields(t *testing.T) {
	ms := memstore.New()
	e := New(ms, Options{})
	ctx := context.Background()

	_, err := e.StoreRecords(ctx, records(3, "e1"))
	require.NoError(t, err)

	revised := records(3, "e1")
	revised[0].AssetType = filing.AssetETF
	revised[1].FilingDate = revised[1].FilingDate.AddDate(0, 0, 1)
	hi := int64(20000)
	revised[2].AmountMax = &hi

	out, err := e.StoreRecords(ctx, revised)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Updated)
	assert.Equal(t, 0, out.Inserted)

	got, err := ms.FindFingerprints(ctx, []string{"fp-00", "fp-02"})
	require.NoError(t, err)
	assert.Equal(t, filing.AssetETF, got["fp-00"].AssetType)
	assert.Equal(t, int64(20000), *got["fp-02"].AmountMax)
}

func TestFirstOccurrenceWinsWithinBatch(t *testing.T) {
	ms := memstore.New()
	e := New(ms, Options{})

	a := storetest.SampleRecord("same", "e1")
	b := storetest.SampleRecord("same", "e1")
	b.AssetType = filing.AssetBond

	out, err := e.StoreRecords(context.Background(), []store.Record{a, b})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Inserted)
	assert.Equal(t, 1, out.Skipped)

	got, _ := ms.FindFingerprints(context.Background(), []string{"same"})
	assert.Equal(t, filing.AssetStock, got["same"].AssetType)
}

func TestSubBatchesFetchOncePerBatch(t *testing.T) {
	spy := &spyStore{Store: memstore.New()}
	e := New(spy, Options{BatchSize: 2})

	out, err := e.StoreRecords(context.Background(), records(5, "e1"))
	require.NoError(t, err)
	assert.Equal(t, 5, out.Inserted)
	assert.Equal(t, 3, spy.finds)
}

func TestInsertFailureDoesNotAbortBatch(t *testing.T) {
	spy := &spyStore{Store: memstore.New(), failInsert: map[string]bool{"fp-01": true}}
	e := New(spy, Options{})

	out, err := e.StoreRecords(context.Background(), records(4, "e1"))
	require.NoError(t, err)
	assert.Equal(t, 3, out.Inserted)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "fp-01", out.Errors[0].Fingerprint)
	assert.True(t, internalerr.IsTransient(out.Errors[0].Err))
}

func TestLostInsertRaceCountsAsSkipped(t *testing.T) {
	ms := memstore.New()
	require.NoError(t, ms.InsertRecord(context.Background(), storetest.SampleRecord("fp-00", "e1")))

	// The lookup misses the stored row, so only the constraint catches it.
	spy := &spyStore{Store: ms, hideLookups: true}
	e := New(spy, Options{})

	out, err := e.StoreRecords(context.Background(), records(2, "e1"))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Inserted)
	assert.Equal(t, 1, out.Skipped)
	assert.Empty(t, out.Errors)
}

func TestCancellationFinishesCurrentSubBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ms := memstore.New()
	spy := &spyStore{Store: ms, onInsert: cancel}
	e := New(spy, Options{BatchSize: 3})

	out, err := e.StoreRecords(ctx, records(7, "e1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, out.Inserted)
	assert.Equal(t, 3, ms.RecordCount())
}

func TestResolveEntityIsAdditive(t *testing.T) {
	ms := memstore.New()
	e := New(ms, Options{})
	ctx := context.Background()
	key := filing.NewEntityKey("Nancy Pelosi", "CA")

	first, err := e.ResolveEntity(ctx, filing.Entity{Key: key, Name: "Nancy Pelosi", FirstName: "Nancy"})
	require.NoError(t, err)

	second, err := e.ResolveEntity(ctx, filing.Entity{Key: key, Name: "Nancy Pelosi", Chamber: "House"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Nancy", second.FirstName)
	assert.Equal(t, "House", second.Chamber)

	stored, found, err := ms.FindEntity(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "House", stored.Chamber)
	assert.Equal(t, "Nancy", stored.FirstName)

	_, err = e.ResolveEntity(ctx, filing.Entity{})
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
}

func TestConcurrentResolutionCreatesOneEntity(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	key := filing.NewEntityKey("Dan Crenshaw", "TX")

	// Separate engines share only the store, like separate workers.
	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := New(ms, Options{CacheTTL: time.Minute})
			ent, err := e.ResolveEntity(ctx, filing.Entity{Key: key, Name: "Dan Crenshaw"})
			if assert.NoError(t, err) {
				ids[i] = ent.ID
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, ms.Entities(), 1)
	for _, id := range ids {
		assert.Equal(t, ms.Entities()[0].ID, id)
	}
}

func TestStoreFilingLinksRecordsToOwner(t *testing.T) {
	ms := memstore.New()
	e := New(ms, Options{})
	ctx := context.Background()

	f := filing.Filing{
		ID:       "20024512",
		URL:      "https://example.test/20024512.pdf",
		Owner:    filing.Owner{FullName: "Nancy Pelosi", FirstName: "Nancy", LastName: "Pelosi"},
		StateDst: "CA11",
	}
	n := normalize.New(normalize.Options{Now: func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }})
	res := n.Normalize(filing.ParsedRecord{
		AssetName: "Apple Inc", Ticker: "AAPL", TransactionType: "P",
		DateText: "03/05/2024", AmountText: "$1,001 - $15,000",
	}, normalize.ContextFor(f))
	require.True(t, res.OK, "normalize: %v", res.Reason)

	out, err := e.StoreFiling(ctx, f, []filing.CanonicalRecord{res.Record})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Inserted)

	owner, found, err := ms.FindEntity(ctx, filing.NewEntityKey("Nancy Pelosi", "CA"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "House", owner.Chamber)

	got, _ := ms.FindFingerprints(ctx, []string{res.Record.Fingerprint})
	assert.Equal(t, owner.ID, got[res.Record.Fingerprint].EntityID)

	filings, err := ms.GetFilings(ctx, []string{f.ID})
	require.NoError(t, err)
	assert.Len(t, filings, 1)

	again, err := e.StoreFiling(ctx, f, []filing.CanonicalRecord{res.Record})
	require.NoError(t, err)
	assert.Equal(t, 1, again.Skipped)
}

func TestRegisterFilingResolvesOwnerWithoutRecords(t *testing.T) {
	ms := memstore.New()
	e := New(ms, Options{})
	ctx := context.Background()
	f := filing.Filing{
		ID:       "20024513",
		URL:      "https://example.test/20024513.pdf",
		Owner:    filing.Owner{FullName: "Dan Crenshaw"},
		StateDst: "TX02",
	}

	owner, err := e.RegisterFiling(ctx, f)
	require.NoError(t, err)
	assert.NotEmpty(t, owner.ID)
	assert.Equal(t, "House", owner.Chamber)

	linked, ok := ms.FilingOwner(f.ID)
	require.True(t, ok)
	assert.Equal(t, owner.ID, linked)
	assert.Zero(t, ms.RecordCount())

	again, err := e.RegisterFiling(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, again.ID)
	assert.Len(t, ms.Entities(), 1)

	_, err = e.RegisterFiling(ctx, filing.Filing{ID: "20024514", URL: "https://example.test/20024514.pdf"})
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
}
