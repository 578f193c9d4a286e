// Package observer provides OTEL-based observability for the streaming agent
// runtime. It wraps Provider with an instrumented version emitting traces
// and metrics via OpenTelemetry, and records per-stream counters (events,
// bytes, iterations, tool executions) as instruments. Export goes to any
// OTEL-compatible backend via the standard OTEL env vars.
package observer

import (
	"context"

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

const scopeName = "github.com/ziya-ai/ziya/observer"

// Instruments holds all OTEL instruments used by the observer wrappers.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	// Counters
	ModelRequests  metric.Int64Counter
	ModelErrors    metric.Int64Counter
	ToolExecutions metric.Int64Counter
	EventsSent     metric.Int64Counter
	BytesSent      metric.Int64Counter
	Iterations     metric.Int64Counter

	// Histograms
	ModelDuration  metric.Float64Histogram
	StreamDuration metric.Float64Histogram
}

// Init sets up OTEL trace and metric providers with OTLP HTTP exporters.
// Configuration comes from the standard OTEL env vars
// (OTEL_EXPORTER_OTLP_ENDPOINT, ...). Returns a shutdown function that must
// be called on application exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("ziya")),
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
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := newInstruments(tp.Tracer(scopeName), mp.Meter(scopeName))
	if err != nil {
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}
	return inst, shutdown, nil
}

func newInstruments(tracer trace.Tracer, meter metric.Meter) (*Instruments, error) {
	inst := &Instruments{Tracer: tracer, Meter: meter}
	var err error
	if inst.ModelRequests, err = meter.Int64Counter("ziya.model.requests",
		metric.WithDescription("Model invocations")); err != nil {
		return nil, err
	}
	if inst.ModelErrors, err = meter.Int64Counter("ziya.model.errors",
		metric.WithDescription("Failed model invocations by error kind")); err != nil {
		return nil, err
	}
	if inst.ToolExecutions, err = meter.Int64Counter("ziya.tool.executions",
		metric.WithDescription("Tool executions")); err != nil {
		return nil, err
	}
	if inst.EventsSent, err = meter.Int64Counter("ziya.stream.events",
		metric.WithDescription("Stream events sent to clients")); err != nil {
		return nil, err
	}
	if inst.BytesSent, err = meter.Int64Counter("ziya.stream.bytes",
		metric.WithDescription("Stream bytes sent to clients")); err != nil {
		return nil, err
	}
	if inst.Iterations, err = meter.Int64Counter("ziya.stream.iterations",
		metric.WithDescription("Tool-loop iterations")); err != nil {
		return nil, err
	}
	if inst.ModelDuration, err = meter.Float64Histogram("ziya.model.duration",
		metric.WithDescription("Model call duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if inst.StreamDuration, err = meter.Float64Histogram("ziya.stream.duration",
		metric.WithDescription("End-to-end stream duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return inst, nil
}
