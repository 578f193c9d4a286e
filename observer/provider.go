package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	ziya "github.com/ziya-ai/ziya"
)

// observedProvider wraps a Provider with traces and metrics.
type observedProvider struct {
	inner ziya.Provider
	inst  *Instruments
}

// WrapProvider returns p instrumented with the observer's OTEL instruments.
func WrapProvider(p ziya.Provider, inst *Instruments) ziya.Provider {
	if inst == nil {
		return p
	}
	return &observedProvider{inner: p, inst: inst}
}

func (o *observedProvider) Name() string                     { return o.inner.Name() }
func (o *observedProvider) Descriptor() ziya.ModelDescriptor { return o.inner.Descriptor() }

func (o *observedProvider) attrs() metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("provider", o.inner.Name()),
		attribute.String("model", o.inner.Descriptor().ModelID),
	)
}

// Invoke implements ziya.Provider.
func (o *observedProvider) Invoke(ctx context.Context, req ziya.Request) (ziya.Message, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "model.invoke", trace.WithAttributes(
		attribute.String("provider", o.inner.Name()),
		attribute.String("model", o.inner.Descriptor().ModelID),
	))
	defer span.End()

	start := time.Now()
	o.inst.ModelRequests.Add(ctx, 1, o.attrs())
	msg, err := o.inner.Invoke(ctx, req)
	o.inst.ModelDuration.Record(ctx, time.Since(start).Seconds(), o.attrs())
	if err != nil {
		span.RecordError(err)
		o.inst.ModelErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", o.inner.Name()),
			attribute.String("kind", string(ziya.Classify(err).Kind)),
		))
	}
	return msg, err
}

// Stream implements ziya.Provider. The span covers the time to first open
// the stream; chunk flow is accounted by RecordStream at end of request.
func (o *observedProvider) Stream(ctx context.Context, req ziya.Request) (<-chan ziya.Chunk, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "model.stream", trace.WithAttributes(
		attribute.String("provider", o.inner.Name()),
		attribute.String("model", o.inner.Descriptor().ModelID),
	))
	defer span.End()

	o.inst.ModelRequests.Add(ctx, 1, o.attrs())
	ch, err := o.inner.Stream(ctx, req)
	if err != nil {
		span.RecordError(err)
		o.inst.ModelErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", o.inner.Name()),
			attribute.String("kind", string(ziya.Classify(err).Kind)),
		))
	}
	return ch, err
}

// compile-time check
var _ ziya.Provider = (*observedProvider)(nil)
