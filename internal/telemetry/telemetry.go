// Package telemetry sets up OpenTelemetry tracing and metrics and wraps the
// capability ports with instrumented versions. Exporters are configured by
// the standard OTEL_EXPORTER_OTLP_* variables.
package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/dgallion1/parentdoc"

// Instruments holds the tracer and metric instruments used by the wrappers.
type Instruments struct {
	Tracer trace.Tracer

	EmbedRequests    metric.Int64Counter
	EmbedDuration    metric.Float64Histogram
	GenerateRequests metric.Int64Counter
	GenerateDuration metric.Float64Histogram
	IndexOps         metric.Int64Counter
	IndexDuration    metric.Float64Histogram
}

// Init installs OTLP/HTTP trace and metric providers. The returned function
// flushes and stops them.
func Init(ctx context.Context, serviceName string) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := NewInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return inst, shutdown, nil
}

// NewInstruments builds instruments from the global providers. Before Init
// those are no-ops, which is what tests and disabled telemetry use.
func NewInstruments() (*Instruments, error) {
	meter := otel.Meter(scopeName)
	inst := &Instruments{Tracer: otel.Tracer(scopeName)}

	var err error
	if inst.EmbedRequests, err = meter.Int64Counter("parentdoc.embed.requests",
		metric.WithDescription("Embedding calls"), metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if inst.EmbedDuration, err = meter.Float64Histogram("parentdoc.embed.duration",
		metric.WithDescription("Embedding call latency"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if inst.GenerateRequests, err = meter.Int64Counter("parentdoc.generate.requests",
		metric.WithDescription("Generation calls"), metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if inst.GenerateDuration, err = meter.Float64Histogram("parentdoc.generate.duration",
		metric.WithDescription("Generation call latency"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if inst.IndexOps, err = meter.Int64Counter("parentdoc.index.operations",
		metric.WithDescription("Vector index calls"), metric.WithUnit("{operation}")); err != nil {
		return nil, err
	}
	if inst.IndexDuration, err = meter.Float64Histogram("parentdoc.index.duration",
		metric.WithDescription("Vector index call latency"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return inst, nil
}
