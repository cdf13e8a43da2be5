// Package telemetry wires the OpenTelemetry metric pipeline.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Options configures Setup.
type Options struct {
	Endpoint    string // host:port or http(s)://host:port; empty disables export
	ServiceName string
	Version     string
	Interval    time.Duration
	Logger      *slog.Logger
}

// ShutdownFunc flushes and stops the meter provider.
type ShutdownFunc func(context.Context) error

// Setup installs a global MeterProvider exporting over OTLP/gRPC. Without
// an endpoint the global no-op provider is left in place.
func Setup(ctx context.Context, opts Options) (ShutdownFunc, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Endpoint == "" {
		logger.Debug("metrics export disabled")
		return func(context.Context) error { return nil }, nil
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "ptrwatch"
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", opts.ServiceName),
		attribute.String("service.version", opts.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	endpoint, insecure := splitEndpoint(opts.Endpoint)
	exOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(endpoint)}
	if insecure {
		exOpts = append(exOpts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, exOpts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(opts.Interval))),
	)
	otel.SetMeterProvider(mp)
	logger.Info("metrics export enabled", "endpoint", endpoint, "insecure", insecure)

	return func(ctx context.Context) error {
		if err := mp.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter provider: %w", err)
		}
		return nil
	}, nil
}

// splitEndpoint strips a scheme. Only https endpoints use TLS.
func splitEndpoint(raw string) (string, bool) {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return strings.TrimPrefix(raw, "https://"), false
	case strings.HasPrefix(raw, "http://"):
		return strings.TrimPrefix(raw, "http://"), true
	default:
		return raw, true
	}
}
