// Package pipeline runs filings through discovery, retrieval, parsing,
// normalization and idempotent storage.
//
// Stages never overlap: each one processes its whole input before the next
// starts. Inside a stage, items run on a bounded pool. Item failures are
// counted and the run carries on with the survivors; only stage-level
// failures end a run as failed.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/normalize"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/parse"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/upsert"
)

// Discoverer lists candidate filings. Implementations dedupe by URL and
// return an error only when nothing could be discovered.
type Discoverer interface {
	Discover(ctx context.Context, years filing.YearRange, limit int) ([]filing.Filing, error)
}

// Retriever fetches the document behind a filing.
type Retriever interface {
	Fetch(ctx context.Context, f filing.Filing) (filing.RawDocument, error)
}

// DefaultMaxConcurrency bounds each stage's worker pool.
const DefaultMaxConcurrency = 5

// Options configures a Pipeline. Discoverer, Retriever and Store are required
// for the operations that use them.
type Options struct {
	Discoverer      Discoverer
	Retriever       Retriever
	Store           store.Store
	Parser          *parse.Engine
	Normalizer      *normalize.Normalizer
	Storage         *upsert.Engine
	MaxConcurrency  int
	MaxErrorDetails int // default 100
	Logger          *slog.Logger
	Meter           metric.Meter
	Now             func() time.Time
}

// Pipeline is the orchestrator.
type Pipeline struct {
	discoverer Discoverer
	retriever  Retriever
	store      store.Store
	parser     *parse.Engine
	normalizer *normalize.Normalizer
	storage    *upsert.Engine
	limit      int
	maxDetails int
	logger     *slog.Logger
	metrics    *metrics
	now        func() time.Time

	mu     sync.Mutex
	status Status
	active map[string]Status
	last   *RunReport
}

// New builds a pipeline, filling defaults for optional collaborators.
func New(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.MaxErrorDetails <= 0 {
		opts.MaxErrorDetails = 100
	}
	if opts.Parser == nil {
		opts.Parser = parse.NewEngine(parse.Options{Logger: opts.Logger})
	}
	if opts.Normalizer == nil {
		opts.Normalizer = normalize.New(normalize.Options{Now: opts.Now, Logger: opts.Logger})
	}
	if opts.Storage == nil && opts.Store != nil {
		opts.Storage = upsert.New(opts.Store, upsert.Options{Logger: opts.Logger})
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter("github.com/cognicore/ptrwatch/pipeline")
	}
	return &Pipeline{
		discoverer: opts.Discoverer,
		retriever:  opts.Retriever,
		store:      opts.Store,
		parser:     opts.Parser,
		normalizer: opts.Normalizer,
		storage:    opts.Storage,
		limit:      opts.MaxConcurrency,
		maxDetails: opts.MaxErrorDetails,
		logger:     opts.Logger,
		metrics:    newMetrics(opts.Meter),
		now:        opts.Now,
		status:     StatusNotStarted,
		active:     make(map[string]Status),
	}
}

// Status is the most recent state change of any run. Runs may overlap
// (the scheduler starts discovery and full ingestion independently), in
// which case the last writer wins; ActiveRuns has the per-run view.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// LastReport returns a copy of the most recent run report, or nil.
func (p *Pipeline) LastReport() *RunReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	r := *p.last
	r.ErrorDetails = append([]ItemError(nil), p.last.ErrorDetails...)
	return &r
}

// ActiveRuns maps the ID of every run in progress to its current state.
func (p *Pipeline) ActiveRuns() map[string]Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Status, len(p.active))
	for id, s := range p.active {
		out[id] = s
	}
	return out
}

func (p *Pipeline) setStatus(runID string, s Status) {
	p.mu.Lock()
	p.status = s
	p.active[runID] = s
	p.mu.Unlock()
}

// run is the state of one execution.
type run struct {
	id     string
	rec    *recorder
	logger *slog.Logger
	start  time.Time
}

func (p *Pipeline) begin(mode string) *run {
	now := p.now()
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	rep := &RunReport{
		RunID:        id,
		Mode:         mode,
		Status:       StatusNotStarted,
		ErrorDetails: []ItemError{},
		StartTime:    now.UTC(),
	}
	p.setStatus(id, StatusNotStarted)
	logger := p.logger.With("run_id", id, "mode", mode)
	logger.Info("pipeline run started")
	return &run{id: id, rec: &recorder{report: rep, maxDetails: p.maxDetails}, logger: logger, start: now}
}

func (p *Pipeline) stage(r *run, s Status) {
	p.setStatus(r.id, s)
	r.rec.add(func(rep *RunReport) { rep.Status = s })
	r.logger.Debug("stage started", "stage", string(s))
}

// failRun records a stage-level failure.
func (p *Pipeline) failRun(r *run, stage string, err error) {
	r.rec.add(func(rep *RunReport) {
		rep.Status = StatusFailed
		rep.Failure = fmt.Sprintf("%s: %v", stage, err)
		rep.cause = err
	})
	r.rec.fail(stage, "", err)
	r.logger.Error("pipeline stage failed", "stage", stage, "error", err)
}

func (p *Pipeline) finish(ctx context.Context, r *run) *RunReport {
	end := p.now()
	r.rec.add(func(rep *RunReport) {
		rep.EndTime = end.UTC()
		rep.DurationSeconds = end.Sub(r.start).Seconds()
		if rep.Status != StatusFailed {
			rep.Status = StatusCompleted
			if rep.Errors > 0 {
				rep.Status = StatusCompletedWithErrors
			}
		}
	})
	rep := r.rec.snapshot()

	p.mu.Lock()
	p.status = rep.Status
	delete(p.active, r.id)
	p.last = &rep
	p.mu.Unlock()

	p.metrics.recordRun(ctx, &rep)
	r.logger.Info("pipeline run finished",
		"status", string(rep.Status),
		"duration_seconds", rep.DurationSeconds,
		"discovered", rep.Discovered,
		"retrieved", rep.Retrieved,
		"parsed", rep.Parsed,
		"normalized", rep.Normalized,
		"inserted", rep.Inserted,
		"updated", rep.Updated,
		"skipped", rep.Skipped,
		"rejected", rep.Rejected,
		"errors", rep.Errors)
	out := rep
	return &out
}

// forEach runs fn for every index on a bounded pool. Errors and panics
// are recorded as item errors for that index; they never stop the pool.
func (p *Pipeline) forEach(ctx context.Context, r *run, stage string, n int, id func(int) string, fn func(ctx context.Context, i int) error) {
	var g errgroup.Group
	g.SetLimit(p.limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			p.metrics.item(ctx, stage)
			if err := guard(func() error { return fn(ctx, i) }); err != nil {
				r.rec.fail(stage, id(i), err)
				p.metrics.itemError(ctx, stage)
				r.logger.Warn("item failed", "stage", stage, "filing_id", id(i), "kind", internalerr.Kind(err), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func guard(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return fn()
}
