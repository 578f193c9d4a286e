package anthropic

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	ziya "github.com/ziya-ai/ziya"
)

// pumpStream adapts the SDK's pull-based event stream into the unified chunk
// channel. It closes out when the provider stream ends; a terminal stream
// error is surfaced as a ProviderError chunk.
func pumpStream(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], out chan<- ziya.Chunk) {
	defer close(out)
	defer stream.Close()

	emit := func(c ziya.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				if !emit(ziya.ToolUseStart{ID: toolUse.ID, Name: toolUse.Name, Index: int(ev.Index)}) {
					return
				}
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				if !emit(ziya.TextDelta{Text: delta.Text}) {
					return
				}
			case sdk.InputJSONDelta:
				if delta.PartialJSON == "" {
					continue
				}
				if !emit(ziya.ToolInputDelta{Index: int(ev.Index), Fragment: delta.PartialJSON}) {
					return
				}
			}
		case sdk.ContentBlockStopEvent:
			if !emit(ziya.ContentBlockStop{Index: int(ev.Index)}) {
				return
			}
		case sdk.MessageStopEvent:
			emit(ziya.MessageStop{})
			return
		}
	}
	if err := stream.Err(); err != nil {
		emit(ziya.ProviderError{Err: err})
	}
}
