package ptrwatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/config"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/scheduler"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store/memstore"
)

// stubDiscoverer returns filings or err. With block set it waits for ctx
// to end instead.
type stubDiscoverer struct {
	filings []filing.Filing
	err     error
	block   bool
}

func (d stubDiscoverer) Discover(ctx context.Context, years filing.YearRange, limit int) ([]filing.Filing, error) {
	if d.block {
		<-ctx.Done()
		return nil, fmt.Errorf("fetch filing index: %w", ctx.Err())
	}
	if d.err != nil {
		return nil, d.err
	}
	if limit > 0 && len(d.filings) > limit {
		return d.filings[:limit], nil
	}
	return d.filings, nil
}

type stubRetriever struct{}

func (stubRetriever) Fetch(ctx context.Context, f filing.Filing) (filing.RawDocument, error) {
	body := "PERIODIC TRANSACTION REPORT\nPurchase Microsoft Corp MSFT 03/06/2024 $15,001 - $50,000\n"
	return filing.NewRawDocument(f.ID, f.URL, "text/plain", []byte(body)), nil
}

func filings(n int) []filing.Filing {
	out := make([]filing.Filing, n)
	for i := range out {
		id := fmt.Sprintf("2002471%d", i)
		out[i] = filing.Filing{
			ID:         id,
			Source:     filing.SourceHouseClerk,
			URL:        "https://example.test/" + id + ".pdf",
			FilingDate: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
			FilingType: filing.TypePTR,
			Year:       2024,
			Owner:      filing.Owner{FullName: fmt.Sprintf("Member %d", i)},
		}
	}
	return out
}

func memoryConfig() config.Config {
	cfg := config.Default()
	cfg.Store = config.StoreConfig{Driver: "memory"}
	return cfg
}

func openWorker(t *testing.T, d stubDiscoverer) (*Worker, *memstore.Store) {
	t.Helper()
	ms := memstore.New()
	w, err := Open(context.Background(), Options{
		Config:     memoryConfig(),
		Version:    "test",
		Store:      ms,
		Discoverer: d,
		Retriever:  stubRetriever{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w, ms
}

func TestOpenRegistersStandardTasks(t *testing.T) {
	w, _ := openWorker(t, stubDiscoverer{})
	want := map[string]struct {
		minutes float64
		retries int
		backoff float64
	}{
		TaskFullIngestion:  {15, 3, 2},
		TaskDiscovery:      {30, 2, 1.5},
		TaskHealthCheck:    {15, 1, 1},
		TaskIntegrityCheck: {1440, 2, 2},
	}

	stats := w.Scheduler().Stats()
	require.Len(t, stats.Tasks, len(want))
	for _, ts := range stats.Tasks {
		exp, ok := want[ts.Name]
		require.True(t, ok, ts.Name)
		assert.Equal(t, exp.minutes, ts.IntervalMinutes, ts.Name)
		assert.Equal(t, exp.retries, ts.MaxRetries, ts.Name)
		assert.Equal(t, exp.backoff, ts.BackoffMultiplier, ts.Name)
	}
	assert.Equal(t, filing.YearRange{From: 2023, To: 2025}, w.Years())
}

func TestFullIngestionTaskStoresRecords(t *testing.T) {
	w, ms := openWorker(t, stubDiscoverer{filings: filings(3)})

	require.NoError(t, w.Scheduler().RunNow(context.Background(), TaskFullIngestion))
	assert.Equal(t, 3, ms.RecordCount())

	rep := w.Pipeline().LastReport()
	require.NotNil(t, rep)
	assert.Equal(t, "completed", string(rep.Status))

	report, err := w.CheckIntegrity(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.EqualValues(t, 3, report.Checked)

	require.NoError(t, w.Scheduler().RunNow(context.Background(), TaskIntegrityCheck))
}

func TestFailedRunFailsTask(t *testing.T) {
	w, _ := openWorker(t, stubDiscoverer{err: errors.New("clerk down")})

	err := w.Scheduler().RunNow(context.Background(), TaskFullIngestion)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")

	st, err := w.Scheduler().Status(TaskFullIngestion)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ErrorCount)
	assert.Equal(t, 1, st.CurrentRetry)

	assert.Error(t, w.Scheduler().RunNow(context.Background(), TaskHealthCheck))
}

func TestCancelledRunIsNotCountedAsFailure(t *testing.T) {
	for _, task := range []string{TaskFullIngestion, TaskDiscovery} {
		t.Run(task, func(t *testing.T) {
			w, _ := openWorker(t, stubDiscoverer{block: true})
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			err := w.Scheduler().RunNow(ctx, task)
			require.Error(t, err)
			assert.ErrorIs(t, err, context.DeadlineExceeded)

			st, err := w.Scheduler().Status(task)
			require.NoError(t, err)
			assert.Equal(t, scheduler.StatusCancelled, st.Status)
			assert.Zero(t, st.ErrorCount)
			assert.Zero(t, st.CurrentRetry)
		})
	}
}

func TestDiscoveryTaskPersistsFilings(t *testing.T) {
	w, ms := openWorker(t, stubDiscoverer{filings: filings(2)})

	require.NoError(t, w.Scheduler().RunNow(context.Background(), TaskDiscovery))
	got, err := ms.GetFilings(context.Background(), []string{"20024710", "20024711"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Zero(t, ms.RecordCount())

	entities := ms.Entities()
	require.Len(t, entities, 2)
	owner, ok := ms.FilingOwner("20024710")
	require.True(t, ok)
	assert.Equal(t, entities[0].ID, owner)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Store = config.StoreConfig{Driver: "mongo"}
	_, err := Open(context.Background(), Options{Config: cfg})
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)

	_, err = OpenStore(context.Background(), config.StoreConfig{Driver: "mongo"})
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
}

func TestOpenBuildsSQLiteStoreAndArchive(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store = config.StoreConfig{Driver: "sqlite", DSN: filepath.Join(dir, "ptr.db")}
	cfg.Archive = config.ArchiveConfig{Kind: "fs", Dir: filepath.Join(dir, "archive")}

	w, err := Open(context.Background(), Options{Config: cfg})
	require.NoError(t, err)
	require.NoError(t, w.Store().Ping(context.Background()))
	require.NoError(t, w.Close())
}

func TestHealthServerServesLiveness(t *testing.T) {
	w, _ := openWorker(t, stubDiscoverer{})
	srv := w.HealthServer()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
}
