package healthsrv

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/pipeline"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/scheduler"
)

type fakeProbe struct {
	health pipeline.Health
	status pipeline.Status
	active map[string]pipeline.Status
	last   *pipeline.RunReport
}

func (f *fakeProbe) HealthCheck(context.Context) pipeline.Health { return f.health }
func (f *fakeProbe) Status() pipeline.Status                     { return f.status }
func (f *fakeProbe) ActiveRuns() map[string]pipeline.Status      { return f.active }
func (f *fakeProbe) LastReport() *pipeline.RunReport             { return f.last }

type fakeTasks struct {
	triggered []string
	err       error
}

func (f *fakeTasks) Stats() scheduler.Stats {
	return scheduler.Stats{Running: true, TotalTasks: 4, TotalRuns: 10, TotalSuccesses: 9, OverallSuccessRate: 0.9}
}

func (f *fakeTasks) Trigger(name string) error {
	if f.err != nil {
		return f.err
	}
	f.triggered = append(f.triggered, name)
	return nil
}

func serve(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestLiveness(t *testing.T) {
	start := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	now := start
	s := New(Options{Version: "1.2.3", Now: func() time.Time { return now }})
	now = start.Add(90 * time.Second)

	rec := serve(t, s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
	assert.EqualValues(t, 90, body["uptime_seconds"])
}

func TestComponents(t *testing.T) {
	probe := &fakeProbe{health: pipeline.Health{
		Status:     pipeline.Healthy,
		Components: map[string]pipeline.ComponentHealth{"store": {Status: pipeline.Healthy}},
	}}
	s := New(Options{Probe: probe})

	rec := serve(t, s, http.MethodGet, "/health/components")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	probe.health.Status = pipeline.Degraded
	probe.health.Components["store"] = pipeline.ComponentHealth{Status: pipeline.Unhealthy, Detail: "store unavailable"}
	rec = serve(t, s, http.MethodGet, "/health/components")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "store unavailable")
}

func TestStatus(t *testing.T) {
	probe := &fakeProbe{
		status: pipeline.StatusParsing,
		active: map[string]pipeline.Status{
			"01JA0000000000000000000001": pipeline.StatusParsing,
			"01JA0000000000000000000002": pipeline.StatusDiscovering,
		},
	}
	s := New(Options{Probe: probe, Tasks: &fakeTasks{}})
	rec := serve(t, s, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, pipeline.StatusParsing, body.PipelineStatus)
	assert.Equal(t, probe.active, body.ActiveRuns)
	require.NotNil(t, body.Scheduler)
	assert.Equal(t, 4, body.Scheduler.TotalTasks)
	assert.InDelta(t, 0.9, body.Scheduler.OverallSuccessRate, 1e-9)
}

func TestLatestRun(t *testing.T) {
	probe := &fakeProbe{}
	s := New(Options{Probe: probe})

	assert.Equal(t, http.StatusNotFound, serve(t, s, http.MethodGet, "/runs/latest").Code)

	probe.last = &pipeline.RunReport{RunID: "01HX", Mode: pipeline.ModeFull, Status: pipeline.StatusCompleted, Stored: 7}
	rec := serve(t, s, http.MethodGet, "/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var got pipeline.RunReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "01HX", got.RunID)
	assert.Equal(t, 7, got.Stored)
}

func TestRunTask(t *testing.T) {
	tasks := &fakeTasks{}
	s := New(Options{Tasks: tasks})

	rec := serve(t, s, http.MethodPost, "/tasks/ptr_full_ingestion/run")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"ptr_full_ingestion"}, tasks.triggered)

	tests := []struct {
		err  error
		code int
	}{
		{scheduler.ErrTaskNotFound, http.StatusNotFound},
		{scheduler.ErrTaskRunning, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		tasks.err = tt.err
		assert.Equal(t, tt.code, serve(t, s, http.MethodPost, "/tasks/x/run").Code, tt.err.Error())
	}

	assert.Equal(t, http.StatusMethodNotAllowed, serve(t, s, http.MethodGet, "/tasks/x/run").Code)
}

func TestNothingConfigured(t *testing.T) {
	s := New(Options{})
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, http.MethodGet, "/health/components").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, s, http.MethodPost, "/tasks/x/run").Code)

	rec := serve(t, s, http.MethodGet, "/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(pipeline.StatusNotStarted))
}
