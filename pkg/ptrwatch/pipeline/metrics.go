package pipeline

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	itemCounter  metric.Int64Counter
	errorCounter metric.Int64Counter
	runCounter   metric.Int64Counter
	durationHist metric.Float64Histogram
}

// newMetrics registers the pipeline instruments, falling back to no-ops
// when the meter rejects one.
func newMetrics(m metric.Meter) *metrics {
	fallback := noop.NewMeterProvider().Meter("pipeline")
	var err error
	mt := &metrics{}

	if mt.itemCounter, err = m.Int64Counter("ptrwatch.pipeline.items",
		metric.WithDescription("Items entering a pipeline stage"),
		metric.WithUnit("{item}")); err != nil {
		mt.itemCounter, _ = fallback.Int64Counter("items")
	}
	if mt.errorCounter, err = m.Int64Counter("ptrwatch.pipeline.errors",
		metric.WithDescription("Item failures per pipeline stage"),
		metric.WithUnit("{error}")); err != nil {
		mt.errorCounter, _ = fallback.Int64Counter("errors")
	}
	if mt.runCounter, err = m.Int64Counter("ptrwatch.pipeline.runs",
		metric.WithDescription("Pipeline runs by final status"),
		metric.WithUnit("{run}")); err != nil {
		mt.runCounter, _ = fallback.Int64Counter("runs")
	}
	if mt.durationHist, err = m.Float64Histogram("ptrwatch.pipeline.duration",
		metric.WithDescription("Pipeline run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300, 600, 1800)); err != nil {
		mt.durationHist, _ = fallback.Float64Histogram("duration")
	}
	return mt
}

func (m *metrics) item(ctx context.Context, stage string) {
	m.items(ctx, stage, 1)
}

func (m *metrics) items(ctx context.Context, stage string, n int) {
	m.itemCounter.Add(ctx, int64(n), metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *metrics) itemError(ctx context.Context, stage string) {
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *metrics) recordRun(ctx context.Context, r *RunReport) {
	attrs := metric.WithAttributes(
		attribute.String("mode", r.Mode),
		attribute.String("status", string(r.Status)))
	m.runCounter.Add(ctx, 1, attrs)
	m.durationHist.Record(ctx, r.DurationSeconds, attrs)
}
