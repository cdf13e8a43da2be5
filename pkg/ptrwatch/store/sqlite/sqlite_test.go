package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store/storetest"
)

func openTemp(t *testing.T) store.Store {
	t.Helper()
	st, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	return st
}

func TestSQLiteConformance(t *testing.T) {
	storetest.Run(t, openTemp)
}

// TestDataSurvivesReopen checks that records written before a restart
// still dedupe afterwards.
func TestDataSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "reopen.db")

	st, err := OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	ent, err := st.CreateEntity(ctx, filing.Entity{Key: filing.NewEntityKey("Nancy Pelosi", "CA"), Name: "Nancy Pelosi"})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.InsertRecord(ctx, storetest.SampleRecord("fp-1", ent.ID)); err != nil {
		t.Fatal(err)
	}
	st.Close()

	st2, err := OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("Reopen database: %v", err)
	}
	defer st2.Close()

	if err := st2.InsertRecord(ctx, storetest.SampleRecord("fp-1", ent.ID)); !errors.Is(err, internalerr.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate after reopen, got %v", err)
	}
	got, found, err := st2.FindEntity(ctx, ent.Key)
	if err != nil || !found || got.ID != ent.ID {
		t.Fatalf("FindEntity after reopen: %+v found=%v err=%v", got, found, err)
	}
}

// TestConcurrentCreateEntity relies on the natural-key constraint: exactly
// one of many racing creators wins.
func TestConcurrentCreateEntity(t *testing.T) {
	st := openTemp(t)
	defer st.Close()
	ctx := context.Background()
	key := filing.NewEntityKey("Dan Crenshaw", "TX")

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, dups := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.CreateEntity(ctx, filing.Entity{Key: key, Name: "Dan Crenshaw"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, internalerr.ErrDuplicate):
				dups++
			default:
				t.Errorf("CreateEntity: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || dups != workers-1 {
		t.Errorf("wins=%d dups=%d", wins, dups)
	}
}
