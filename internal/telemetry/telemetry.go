// Package telemetry wires the guard's own OpenTelemetry providers.
//
// Traces and metrics export over OTLP HTTP. When no collector endpoint is
// configured, setup succeeds with no-op providers and a no-op shutdown so
// the guard keeps serving; observability is best-effort and must never take
// the primary path down with it.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/studioml/beacon/internal/log"
)

// ServiceName identifies the guard in exported telemetry.
const ServiceName = "beacon-telemetry-guard"

// Config for provider setup.
type Config struct {
	// Endpoint is the OTLP HTTP host:port for the guard's own telemetry.
	// Empty disables export.
	Endpoint string
	// Insecure disables TLS; for localhost agents.
	Insecure bool
	// Environment tags exported telemetry (dev, staging, prod).
	Environment string
}

// Setup registers global tracer and meter providers.
// Returns a shutdown function that flushes pending telemetry.
func Setup(ctx context.Context, cfg Config, logger log.Logger) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		logger.Debug("no telemetry endpoint configured, export disabled")
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		logger.Warn("failed to create trace exporter, telemetry export disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	metricExporter, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		logger.Warn("failed to create metric exporter, telemetry export disabled", "error", err)
		_ = traceExporter.Shutdown(ctx)
		return func(context.Context) error { return nil }, nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	logger.Debug("telemetry export enabled", "endpoint", cfg.Endpoint)

	return func(ctx context.Context) error {
		terr := tp.Shutdown(ctx)
		merr := mp.Shutdown(ctx)
		if terr != nil {
			return terr
		}
		return merr
	}, nil
}
