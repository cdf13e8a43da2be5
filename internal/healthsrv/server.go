// Package healthsrv serves liveness, component health, scheduler status
// and manual task triggers over HTTP.
package healthsrv

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/pipeline"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/scheduler"
)

// Probe is the pipeline view the server reports on.
type Probe interface {
	HealthCheck(ctx context.Context) pipeline.Health
	Status() pipeline.Status
	ActiveRuns() map[string]pipeline.Status
	LastReport() *pipeline.RunReport
}

// Tasks is the scheduler view the server reports on and triggers.
type Tasks interface {
	Stats() scheduler.Stats
	Trigger(name string) error
}

// Options configures a Server.
type Options struct {
	Addr    string
	Probe   Probe
	Tasks   Tasks
	Version string
	Logger  *slog.Logger
	Now     func() time.Time
	Timeout time.Duration // per-request, default 30s
}

// Server is the health HTTP surface.
type Server struct {
	e       *echo.Echo
	opts    Options
	started time.Time
}

// New builds the router without listening.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	s := &Server{e: echo.New(), opts: opts, started: opts.Now()}
	s.e.HideBanner = true
	s.e.HidePort = true

	s.e.Use(middleware.Recover())
	s.e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency.String()}
			if v.Error != nil {
				s.opts.Logger.Warn("request failed", append(attrs, "error", v.Error)...)
			} else {
				s.opts.Logger.Debug("request", attrs...)
			}
			return nil
		},
	}))

	s.e.GET("/health", s.handleLiveness)
	s.e.GET("/health/components", s.handleComponents)
	s.e.GET("/status", s.handleStatus)
	s.e.GET("/runs/latest", s.handleLatestRun)
	s.e.POST("/tasks/:name/run", s.handleRunTask)
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.e }

// Start listens on Addr until Shutdown.
func (s *Server) Start() error {
	s.opts.Logger.Info("health server listening", "addr", s.opts.Addr)
	if err := s.e.Start(s.opts.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.opts.Version,
		"uptime_seconds": int64(s.opts.Now().Sub(s.started).Seconds()),
	})
}

func (s *Server) handleComponents(c echo.Context) error {
	if s.opts.Probe == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "pipeline not configured")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.opts.Timeout)
	defer cancel()

	h := s.opts.Probe.HealthCheck(ctx)
	code := http.StatusOK
	if h.Status != pipeline.Healthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, h)
}

type statusResponse struct {
	PipelineStatus pipeline.Status            `json:"pipeline_status"`
	ActiveRuns     map[string]pipeline.Status `json:"active_runs"`
	Scheduler      *scheduler.Stats           `json:"scheduler,omitempty"`
	Timestamp      time.Time                  `json:"timestamp"`
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := statusResponse{
		PipelineStatus: pipeline.StatusNotStarted,
		ActiveRuns:     map[string]pipeline.Status{},
		Timestamp:      s.opts.Now().UTC(),
	}
	if s.opts.Probe != nil {
		resp.PipelineStatus = s.opts.Probe.Status()
		resp.ActiveRuns = s.opts.Probe.ActiveRuns()
	}
	if s.opts.Tasks != nil {
		stats := s.opts.Tasks.Stats()
		resp.Scheduler = &stats
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleLatestRun(c echo.Context) error {
	if s.opts.Probe == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no runs yet")
	}
	r := s.opts.Probe.LastReport()
	if r == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no runs yet")
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) handleRunTask(c echo.Context) error {
	name := c.Param("name")
	if s.opts.Tasks == nil {
		return echo.NewHTTPError(http.StatusNotFound, "scheduler not running")
	}
	err := s.opts.Tasks.Trigger(name)
	switch {
	case err == nil:
		s.opts.Logger.Info("task triggered over http", "task", name)
		return c.JSON(http.StatusAccepted, map[string]string{"task": name, "status": "started"})
	case errors.Is(err, scheduler.ErrTaskNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrTaskRunning):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
