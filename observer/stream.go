package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	ziya "github.com/ziya-ai/ziya"
)

// RecordStream folds one finished stream's counters into the OTEL
// instruments. Call once per request, after the event channel drains.
func RecordStream(ctx context.Context, inst *Instruments, conversationID string, m ziya.StreamMetrics, elapsed time.Duration) {
	if inst == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("conversation", conversationID))
	inst.EventsSent.Add(ctx, int64(m.EventsSent), attrs)
	inst.BytesSent.Add(ctx, m.BytesSent, attrs)
	inst.Iterations.Add(ctx, int64(m.Iterations), attrs)
	inst.ToolExecutions.Add(ctx, int64(m.ToolExecutions), attrs)
	inst.StreamDuration.Record(ctx, elapsed.Seconds(), attrs)
}
