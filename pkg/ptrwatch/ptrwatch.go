// Package ptrwatch wires the ingestion worker together: store, archive,
// clerk client, pipeline, scheduler and integrity checker.
package ptrwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cognicore/ptrwatch/internal/archive"
	"github.com/cognicore/ptrwatch/internal/clerk"
	"github.com/cognicore/ptrwatch/internal/healthsrv"
	"github.com/cognicore/ptrwatch/internal/keylock"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/config"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/maintenance"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/normalize"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/parse"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/pipeline"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/scheduler"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store/memstore"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store/postgres"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store/sqlite"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/upsert"
)

// Names of the standard scheduled tasks.
const (
	TaskFullIngestion  = "ptr_full_ingestion"
	TaskDiscovery      = "ptr_discovery"
	TaskHealthCheck    = "health_check"
	TaskIntegrityCheck = "data_integrity_check"
)

// Worker is the assembled ingestion service.
type Worker struct {
	cfg       config.Config
	years     filing.YearRange
	store     store.Store
	redis     *keylock.Redis
	archive   *archive.Archive
	pipeline  *pipeline.Pipeline
	scheduler *scheduler.Scheduler
	checker   *maintenance.Checker
	version   string
	logger    *slog.Logger
}

// Options configures a Worker. Store, Discoverer and Retriever override
// what Config would build.
type Options struct {
	Config     config.Config
	Version    string
	Logger     *slog.Logger
	HTTPClient *http.Client
	Store      store.Store
	Discoverer pipeline.Discoverer
	Retriever  pipeline.Retriever
	Clock      scheduler.Clock
}

// Open validates the configuration and builds every component. The
// returned worker owns the store and must be closed.
func Open(ctx context.Context, opts Options) (*Worker, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	years, err := cfg.YearWindow()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w := &Worker{cfg: cfg, years: years, version: opts.Version, logger: logger}
	ok := false
	defer func() {
		if !ok {
			w.Close()
		}
	}()

	w.store = opts.Store
	if w.store == nil {
		if w.store, err = OpenStore(ctx, cfg.Store); err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	var locker keylock.Locker = keylock.NewLocal()
	if cfg.Redis.Addr != "" {
		w.redis = keylock.NewRedis(keylock.RedisOptions{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
		})
		if err := w.redis.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		locker = w.redis
	}

	if w.archive, err = archive.Open(ctx, cfg.Archive); err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	clerkOpts := clerk.Options{
		BaseURL:    cfg.ClerkBaseURL,
		UserAgent:  cfg.UserAgent,
		Throttle:   cfg.Throttle(),
		MaxRetries: cfg.MaxRetries,
		HTTPClient: opts.HTTPClient,
		Logger:     logger.With("component", "clerk"),
	}
	discoverer := opts.Discoverer
	if discoverer == nil {
		discoverer = clerk.NewDiscoverer(clerkOpts)
	}
	retriever := opts.Retriever
	if retriever == nil {
		retriever = clerk.NewRetriever(clerkOpts, w.archive)
	}

	w.pipeline = pipeline.New(pipeline.Options{
		Discoverer:     discoverer,
		Retriever:      retriever,
		Store:          w.store,
		Parser:         parse.NewEngine(parse.Options{TableThreshold: cfg.TableThreshold, Logger: logger}),
		Normalizer:     normalize.New(normalize.Options{Logger: logger}),
		Storage:        upsert.New(w.store, upsert.Options{BatchSize: cfg.BatchSize, Locker: locker, Logger: logger}),
		MaxConcurrency: cfg.MaxConcurrency,
		Logger:         logger,
	})
	w.checker = &maintenance.Checker{Store: w.store, Logger: logger}

	w.scheduler = scheduler.New(scheduler.Options{Clock: opts.Clock, Logger: logger})
	if err := w.registerTasks(); err != nil {
		return nil, err
	}

	ok = true
	return w, nil
}

// OpenStore opens the backend cfg names.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memstore.New(), nil
	case "sqlite":
		return sqlite.OpenSQLite(ctx, cfg.DSN)
	case "postgres":
		return postgres.Open(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", internalerr.ErrInvalidConfig, cfg.Driver)
	}
}

func (w *Worker) registerTasks() error {
	backoff := w.cfg.RetryBackoffFactor
	tasks := []scheduler.Task{
		{
			Name: TaskFullIngestion,
			Fn: func(ctx context.Context) error {
				return w.pipeline.RunFull(ctx, w.years, 0).Err()
			},
			Interval:          w.cfg.ScanInterval(),
			MaxRetries:        w.cfg.MaxRetries,
			BackoffMultiplier: backoff,
		},
		{
			Name: TaskDiscovery,
			Fn: func(ctx context.Context) error {
				_, rep := w.pipeline.RunDiscoveryOnly(ctx, w.years, 0)
				return rep.Err()
			},
			Interval:          w.cfg.DiscoveryInterval(),
			MaxRetries:        2,
			BackoffMultiplier: 1.5,
		},
		{
			Name: TaskHealthCheck,
			Fn: func(ctx context.Context) error {
				return w.pipeline.HealthCheck(ctx).Err()
			},
			Interval:          15 * time.Minute,
			MaxRetries:        1,
			BackoffMultiplier: 1,
		},
		{
			Name: TaskIntegrityCheck,
			Fn: func(ctx context.Context) error {
				_, err := w.checker.Check(ctx)
				return err
			},
			Interval:          24 * time.Hour,
			MaxRetries:        2,
			BackoffMultiplier: 2,
		},
	}
	for _, t := range tasks {
		if err := w.scheduler.Add(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Name, err)
		}
	}
	return nil
}

// Years is the configured year window.
func (w *Worker) Years() filing.YearRange { return w.years }

// Pipeline returns the orchestrator.
func (w *Worker) Pipeline() *pipeline.Pipeline { return w.pipeline }

// Scheduler returns the task scheduler. It is not started by Open.
func (w *Worker) Scheduler() *scheduler.Scheduler { return w.scheduler }

// Store returns the backing store.
func (w *Worker) Store() store.Store { return w.store }

// CheckIntegrity runs the data integrity audit once.
func (w *Worker) CheckIntegrity(ctx context.Context) (maintenance.Report, error) {
	return w.checker.Check(ctx)
}

// HealthServer builds the HTTP surface on the configured port.
func (w *Worker) HealthServer() *healthsrv.Server {
	return healthsrv.New(healthsrv.Options{
		Addr:    w.cfg.HealthAddr(),
		Probe:   w.pipeline,
		Tasks:   w.scheduler,
		Version: w.version,
		Logger:  w.logger.With("component", "http"),
	})
}

// Close stops the scheduler and releases the store, archive and lock
// backends.
func (w *Worker) Close() error {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
	var errs []error
	if w.archive != nil {
		errs = append(errs, w.archive.Close())
	}
	if w.redis != nil {
		errs = append(errs, w.redis.Close())
	}
	if w.store != nil {
		errs = append(errs, w.store.Close())
	}
	return errors.Join(errs...)
}
