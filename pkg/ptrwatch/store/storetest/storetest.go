// Package storetest holds behaviour tests every store.Store backend must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store"
)

// Run exercises a fresh store from open for each subtest.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("EntityLifecycle", func(t *testing.T) { testEntityLifecycle(t, open(t)) })
	t.Run("Filings", func(t *testing.T) { testFilings(t, open(t)) })
	t.Run("Records", func(t *testing.T) { testRecords(t, open(t)) })
	t.Run("IntegrityStats", func(t *testing.T) { testIntegrityStats(t, open(t)) })
}

func bound(v int64) *int64 { return &v }

// SampleRecord returns a record with every field populated.
func SampleRecord(fp, entityID string) store.Record {
	return store.Record{
		EntityID: entityID,
		CanonicalRecord: filing.CanonicalRecord{
			Fingerprint:      fp,
			Source:           filing.SourceHouseClerk,
			FilingID:         "20024512",
			Owner:            filing.NewEntityKey("Nancy Pelosi", "CA"),
			AssetDescription: "Apple Inc",
			Ticker:           "AAPL",
			AssetType:        filing.AssetStock,
			TransactionType:  filing.TxPurchase,
			TransactionDate:  time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
			AmountRange:      "$1,001 - $15,000",
			AmountMin:        bound(1001),
			AmountMax:        bound(15000),
			FilingDate:       time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
			Provenance:       filing.Provenance{Page: 1, Row: 2, Strategy: filing.StrategyTable},
		},
	}
}

func testEntityLifecycle(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()
	key := filing.NewEntityKey("Nancy Pelosi", "CA")

	if _, found, err := st.FindEntity(ctx, key); err != nil || found {
		t.Fatalf("FindEntity on empty store: found=%v err=%v", found, err)
	}

	created, err := st.CreateEntity(ctx, filing.Entity{Key: key, Name: "Nancy Pelosi", Jurisdiction: "CA"})
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if created.ID == "" {
		t.Fatal("CreateEntity should assign an ID")
	}

	if _, err := st.CreateEntity(ctx, filing.Entity{Key: key, Name: "Nancy Pelosi"}); !errors.Is(err, internalerr.ErrDuplicate) {
		t.Fatalf("second CreateEntity: want ErrDuplicate, got %v", err)
	}

	created.Chamber = "House"
	if err := st.UpdateEntity(ctx, created); err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}
	got, found, err := st.FindEntity(ctx, key)
	if err != nil || !found {
		t.Fatalf("FindEntity: found=%v err=%v", found, err)
	}
	if got.ID != created.ID || got.Chamber != "House" || got.Name != "Nancy Pelosi" {
		t.Errorf("FindEntity = %+v", got)
	}
}

func testFilings(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()

	f := filing.Filing{
		ID:         "20024512",
		Source:     filing.SourceHouseClerk,
		URL:        "https://example.test/20024512.pdf",
		FilingDate: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		FilingType: filing.TypePTR,
		Year:       2024,
		Owner:      filing.Owner{FullName: "Nancy Pelosi", FirstName: "Nancy", LastName: "Pelosi"},
		StateDst:   "CA11",
	}
	if err := st.UpsertFiling(ctx, f, ""); err != nil {
		t.Fatalf("UpsertFiling: %v", err)
	}
	f.FilingType = filing.TypeAmendment
	if err := st.UpsertFiling(ctx, f, ""); err != nil {
		t.Fatalf("UpsertFiling again: %v", err)
	}
	if err := st.UpsertFiling(ctx, filing.Filing{ID: "x"}, ""); err == nil {
		t.Error("UpsertFiling should reject a filing without URL")
	}

	got, err := st.GetFilings(ctx, []string{"20024512", "missing"})
	if err != nil {
		t.Fatalf("GetFilings: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("GetFilings returned %d filings, want 1", len(got))
	}
	g := got[0]
	if g.URL != f.URL || g.FilingType != filing.TypeAmendment || g.StateDst != "CA11" || g.Owner.LastName != "Pelosi" {
		t.Errorf("GetFilings = %+v", g)
	}
	if !g.FilingDate.Equal(f.FilingDate) {
		t.Errorf("FilingDate = %v, want %v", g.FilingDate, f.FilingDate)
	}
}

func testRecords(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()

	ent, err := st.CreateEntity(ctx, filing.Entity{Key: filing.NewEntityKey("Nancy Pelosi", "CA"), Name: "Nancy Pelosi"})
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	rec := SampleRecord("fp-1", ent.ID)
	if err := st.InsertRecord(ctx, rec); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := st.InsertRecord(ctx, rec); !errors.Is(err, internalerr.ErrDuplicate) {
		t.Fatalf("duplicate InsertRecord: want ErrDuplicate, got %v", err)
	}

	found, err := st.FindFingerprints(ctx, []string{"fp-1", "fp-2"})
	if err != nil {
		t.Fatalf("FindFingerprints: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("FindFingerprints returned %d, want 1", len(found))
	}
	got := found["fp-1"]
	if got.ID == "" || got.EntityID != ent.ID || got.AssetDescription != "Apple Inc" || got.Ticker != "AAPL" {
		t.Errorf("stored record = %+v", got)
	}
	if got.AmountMin == nil || *got.AmountMin != 1001 || got.AmountMax == nil || *got.AmountMax != 15000 {
		t.Errorf("amount bounds = %v %v", got.AmountMin, got.AmountMax)
	}
	if got.DateString() != "2024-03-05" {
		t.Errorf("date = %q", got.DateString())
	}

	rec.AssetType = filing.AssetETF
	rec.AmountMax = nil
	if err := st.UpdateRecord(ctx, rec); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	found, _ = st.FindFingerprints(ctx, []string{"fp-1"})
	if found["fp-1"].AssetType != filing.AssetETF || found["fp-1"].AmountMax != nil {
		t.Errorf("updated record = %+v", found["fp-1"])
	}

	if err := st.InsertRecord(ctx, SampleRecord("fp-2", ent.ID)); err != nil {
		t.Fatalf("InsertRecord fp-2: %v", err)
	}
	var seen []string
	err = st.IterateRecords(ctx, func(r store.Record) error {
		seen = append(seen, r.Fingerprint)
		return nil
	})
	if err != nil {
		t.Fatalf("IterateRecords: %v", err)
	}
	if len(seen) != 2 {
		t.Errorf("IterateRecords visited %v", seen)
	}

	stop := errors.New("stop")
	if err := st.IterateRecords(ctx, func(store.Record) error { return stop }); !errors.Is(err, stop) {
		t.Errorf("IterateRecords should surface callback errors, got %v", err)
	}
}

func testIntegrityStats(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()

	if err := st.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	ent, err := st.CreateEntity(ctx, filing.Entity{Key: filing.NewEntityKey("Nancy Pelosi", "CA"), Name: "Nancy Pelosi"})
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if err := st.InsertRecord(ctx, SampleRecord("ok", ent.ID)); err != nil {
		t.Fatal(err)
	}

	orphan := SampleRecord("orphan", "no-such-entity")
	if err := st.InsertRecord(ctx, orphan); err != nil {
		t.Fatal(err)
	}

	late := SampleRecord("late", ent.ID)
	late.TransactionDate = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) // after filing date
	if err := st.InsertRecord(ctx, late); err != nil {
		t.Fatal(err)
	}

	stats, err := st.IntegrityStats(ctx)
	if err != nil {
		t.Fatalf("IntegrityStats: %v", err)
	}
	if stats.Entities != 1 || stats.Records != 3 {
		t.Errorf("counts = %+v", stats)
	}
	if stats.OrphanedRecords != 1 {
		t.Errorf("OrphanedRecords = %d, want 1", stats.OrphanedRecords)
	}
	if stats.InvalidDates != 1 {
		t.Errorf("InvalidDates = %d, want 1", stats.InvalidDates)
	}
	if stats.DuplicateFingerprints != 0 {
		t.Errorf("DuplicateFingerprints = %d, want 0", stats.DuplicateFingerprints)
	}
}
