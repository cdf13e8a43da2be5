// Package scheduler runs named recurring tasks with retry and exponential
// backoff.
//
// A single loop wakes on a fixed tick and launches every task whose next
// run time has passed and which is not already running. Each launch gets
// its own goroutine. After a success the next run is one interval after the
// last start. After a failure it is multiplier^retry minutes away, until
// retries are exhausted; then the retry count resets and the task falls
// back to its interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrTaskRunning    = errors.New("task already running")
	ErrTaskExists     = errors.New("task already registered")
	ErrAlreadyStarted = errors.New("scheduler already started")
)

// DefaultTick is how often the loop looks for due tasks.
const DefaultTick = 60 * time.Second

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// TaskFunc is a task body. It should return promptly once ctx is done.
type TaskFunc func(ctx context.Context) error

// Task is a recurring unit of work.
type Task struct {
	Name              string
	Fn                TaskFunc
	Interval          time.Duration
	MaxRetries        int
	BackoffMultiplier float64
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// TaskState is the mutable bookkeeping of one task.
type TaskState struct {
	Status       TaskStatus
	LastRun      time.Time
	NextRun      time.Time
	RunCount     int
	SuccessCount int
	ErrorCount   int
	CurrentRetry int
	LastError    string
}

type entry struct {
	task  Task
	state TaskState
}

// Options configures a Scheduler.
type Options struct {
	Tick   time.Duration
	Clock  Clock
	Logger *slog.Logger
	Meter  metric.Meter
}

// Scheduler owns a set of tasks and the loop that runs them.
type Scheduler struct {
	tick   time.Duration
	clock  Clock
	logger *slog.Logger
	runs   metric.Int64Counter

	mu      sync.Mutex
	tasks   map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// New creates a stopped scheduler with no tasks.
func New(opts Options) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter("github.com/cognicore/ptrwatch/scheduler")
	}
	runs, err := opts.Meter.Int64Counter("ptrwatch.scheduler.task_runs",
		metric.WithDescription("Task executions by outcome"),
		metric.WithUnit("{run}"))
	if err != nil {
		opts.Logger.Warn("scheduler metrics disabled", "error", err)
	}
	return &Scheduler{
		tick:   opts.Tick,
		clock:  opts.Clock,
		logger: opts.Logger,
		runs:   runs,
		tasks:  make(map[string]*entry),
	}
}

// Add registers t. Its first run is due one interval from now.
func (s *Scheduler) Add(t Task) error {
	if t.Name == "" || t.Fn == nil {
		return fmt.Errorf("task needs a name and a body")
	}
	if t.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", t.Name)
	}
	if t.MaxRetries < 0 {
		t.MaxRetries = 0
	}
	if t.BackoffMultiplier <= 0 {
		t.BackoffMultiplier = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.Name]; ok {
		return fmt.Errorf("%s: %w", t.Name, ErrTaskExists)
	}
	s.tasks[t.Name] = &entry{
		task:  t,
		state: TaskState{Status: StatusPending, NextRun: s.clock.Now().Add(t.Interval)},
	}
	s.logger.Info("task added", "task", t.Name, "interval", t.Interval.String(), "max_retries", t.MaxRetries)
	return nil
}

// Remove drops a task. A running execution finishes but is not rescheduled.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; !ok {
		return fmt.Errorf("%s: %w", name, ErrTaskNotFound)
	}
	delete(s.tasks, name)
	return nil
}

// Start launches the tick loop. Tasks run under a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.wg.Add(1)
	go s.loop(s.ctx)
	s.logger.Info("scheduler started", "tick", s.tick.String(), "tasks", len(s.tasks))
	return nil
}

// Stop cancels the loop and every running task and waits for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.started = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue launches every due task that is not running.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.tasks {
		if e.state.Status == StatusRunning || now.Before(e.state.NextRun) {
			continue
		}
		s.begin(e)
		s.wg.Add(1)
		go func(e *entry) {
			defer s.wg.Done()
			s.execute(ctx, e)
		}(e)
	}
}

// RunNow runs the named task synchronously, bypassing its schedule, and
// returns the task's error.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.tasks[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrTaskNotFound)
	}
	if e.state.Status == StatusRunning {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrTaskRunning)
	}
	s.begin(e)
	s.mu.Unlock()

	return s.execute(ctx, e)
}

// Trigger starts the named task in the background and returns at once.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrTaskNotFound)
	}
	if e.state.Status == StatusRunning {
		return fmt.Errorf("%s: %w", name, ErrTaskRunning)
	}
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.begin(e)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(ctx, e)
	}()
	return nil
}

// begin marks e running. Callers hold s.mu.
func (s *Scheduler) begin(e *entry) {
	e.state.Status = StatusRunning
	e.state.LastRun = s.clock.Now()
	e.state.RunCount++
}

func (s *Scheduler) execute(ctx context.Context, e *entry) error {
	name := e.task.Name
	logger := s.logger.With("task", name)
	logger.Debug("task started")

	err := guard(ctx, e.task.Fn)

	s.mu.Lock()
	defer s.mu.Unlock()
	st := &e.state
	now := s.clock.Now()
	outcome := "success"

	switch {
	case err == nil:
		st.Status = StatusCompleted
		st.SuccessCount++
		st.CurrentRetry = 0
		st.LastError = ""
		st.NextRun = st.LastRun.Add(e.task.Interval)
		logger.Info("task completed", "duration", now.Sub(st.LastRun).String(), "next_run", st.NextRun)

	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		outcome = "cancelled"
		st.Status = StatusCancelled
		st.LastError = err.Error()
		st.NextRun = st.LastRun.Add(e.task.Interval)
		logger.Info("task cancelled")

	default:
		outcome = "error"
		st.Status = StatusFailed
		st.ErrorCount++
		st.LastError = err.Error()
		st.CurrentRetry++
		if st.CurrentRetry <= e.task.MaxRetries {
			st.NextRun = now.Add(backoffDelay(e.task.BackoffMultiplier, st.CurrentRetry))
			logger.Warn("task failed, retrying",
				"error", err, "retry", st.CurrentRetry, "max_retries", e.task.MaxRetries, "next_run", st.NextRun)
		} else {
			st.CurrentRetry = 0
			st.NextRun = st.LastRun.Add(e.task.Interval)
			logger.Error("task failed, retries exhausted", "error", err, "next_run", st.NextRun)
		}
	}

	if s.runs != nil {
		s.runs.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
			attribute.String("task", name), attribute.String("outcome", outcome)))
	}
	return err
}

// backoffDelay is multiplier^retry minutes.
func backoffDelay(multiplier float64, retry int) time.Duration {
	return time.Duration(math.Pow(multiplier, float64(retry)) * float64(time.Minute))
}

func guard(ctx context.Context, fn TaskFunc) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("task panicked: %v", v)
		}
	}()
	return fn(ctx)
}

// TaskStats is a snapshot of one task for status reporting.
type TaskStats struct {
	Name              string     `json:"name"`
	Status            TaskStatus `json:"status"`
	IntervalMinutes   float64    `json:"interval_minutes"`
	MaxRetries        int        `json:"max_retries"`
	BackoffMultiplier float64    `json:"backoff_multiplier"`
	LastRun           *time.Time `json:"last_run,omitempty"`
	NextRun           *time.Time `json:"next_run,omitempty"`
	RunCount          int        `json:"run_count"`
	SuccessCount      int        `json:"success_count"`
	ErrorCount        int        `json:"error_count"`
	CurrentRetry      int        `json:"current_retry"`
	LastError         string     `json:"last_error,omitempty"`
	SuccessRate       float64    `json:"success_rate"`
}

// Stats aggregates every task.
type Stats struct {
	Running            bool        `json:"running"`
	TotalTasks         int         `json:"total_tasks"`
	TotalRuns          int         `json:"total_runs"`
	TotalSuccesses     int         `json:"total_successes"`
	TotalErrors        int         `json:"total_errors"`
	OverallSuccessRate float64     `json:"overall_success_rate"`
	Tasks              []TaskStats `json:"tasks"`
}

// Status reports one task.
func (s *Scheduler) Status(name string) (TaskStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[name]
	if !ok {
		return TaskStats{}, fmt.Errorf("%s: %w", name, ErrTaskNotFound)
	}
	return snapshot(e), nil
}

// Stats reports every task, sorted by name.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Running: s.started, TotalTasks: len(s.tasks), Tasks: make([]TaskStats, 0, len(s.tasks))}
	for _, e := range s.tasks {
		ts := snapshot(e)
		st.TotalRuns += ts.RunCount
		st.TotalSuccesses += ts.SuccessCount
		st.TotalErrors += ts.ErrorCount
		st.Tasks = append(st.Tasks, ts)
	}
	sort.Slice(st.Tasks, func(i, j int) bool { return st.Tasks[i].Name < st.Tasks[j].Name })
	st.OverallSuccessRate = rate(st.TotalSuccesses, st.TotalRuns)
	return st
}

func snapshot(e *entry) TaskStats {
	ts := TaskStats{
		Name:              e.task.Name,
		Status:            e.state.Status,
		IntervalMinutes:   e.task.Interval.Minutes(),
		MaxRetries:        e.task.MaxRetries,
		BackoffMultiplier: e.task.BackoffMultiplier,
		RunCount:          e.state.RunCount,
		SuccessCount:      e.state.SuccessCount,
		ErrorCount:        e.state.ErrorCount,
		CurrentRetry:      e.state.CurrentRetry,
		LastError:         e.state.LastError,
		SuccessRate:       rate(e.state.SuccessCount, e.state.RunCount),
	}
	if !e.state.LastRun.IsZero() {
		t := e.state.LastRun
		ts.LastRun = &t
	}
	if !e.state.NextRun.IsZero() {
		t := e.state.NextRun
		ts.NextRun = &t
	}
	return ts
}

func rate(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
