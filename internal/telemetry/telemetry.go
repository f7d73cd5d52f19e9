// Package telemetry sets up OpenTelemetry tracing and metrics for the
// bridge. Spans and metric snapshots are written to a local writer; with
// both disabled the global no-op providers stay in place.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer and meter name used by the bridge.
const InstrumentationName = "github.com/clibridge/clibridge"

// DefaultMetricsInterval is the metric export period.
const DefaultMetricsInterval = time.Minute

// Config configures Setup.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Traces enables span export.
	Traces bool
	// Metrics enables periodic metric export.
	Metrics bool
	// MetricsInterval is the export period. Default: one minute.
	MetricsInterval time.Duration
	// Output receives exported data. Default: os.Stdout.
	Output io.Writer
}

// Providers holds the tracer and meter the service layer should use and
// the shutdown hook that flushes them.
type Providers struct {
	Tracer   trace.Tracer
	Meter    metric.Meter
	shutdown []func(context.Context) error
}

// Shutdown flushes and stops every provider Setup started.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdown) - 1; i >= 0; i-- {
		if err := p.shutdown[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Setup installs the configured providers as the otel globals and returns
// a tracer and meter from them.
func Setup(ctx context.Context, cfg Config) (*Providers, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	interval := cfg.MetricsInterval
	if interval <= 0 {
		interval = DefaultMetricsInterval
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Providers{}

	if cfg.Traces {
		tp, err := setupTracing(out, res)
		if err != nil {
			return nil, fmt.Errorf("setup tracing: %w", err)
		}
		p.shutdown = append(p.shutdown, func(ctx context.Context) error {
			if err := tp.Shutdown(ctx); err != nil {
				return fmt.Errorf("tracer provider: %w", err)
			}
			return nil
		})
	}

	if cfg.Metrics {
		mp, err := setupMetrics(out, res, interval)
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("setup metrics: %w", err)
		}
		p.shutdown = append(p.shutdown, func(ctx context.Context) error {
			if err := mp.Shutdown(ctx); err != nil {
				return fmt.Errorf("meter provider: %w", err)
			}
			return nil
		})
	}

	p.Tracer = otel.Tracer(InstrumentationName)
	p.Meter = otel.Meter(InstrumentationName)
	return p, nil
}

func setupTracing(out io.Writer, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return provider, nil
}

func setupMetrics(out io.Writer, res *resource.Resource, interval time.Duration) (*sdkmetric.MeterProvider, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(out))
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)
	return provider, nil
}
