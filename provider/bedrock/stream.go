package bedrock

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	ziya "github.com/ziya-ai/ziya"
)

// pumpStream adapts the Converse event stream into the unified chunk
// channel. The channel closes at end of stream; terminal stream errors are
// surfaced as a ProviderError chunk.
func pumpStream(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream, out chan<- ziya.Chunk) {
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

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-stream.Events():
			if !ok {
				if err := stream.Err(); err != nil {
					emit(ziya.ProviderError{Err: err})
				}
				return
			}
			switch ev := event.(type) {
			case *brtypes.ConverseStreamOutputMemberContentBlockStart:
				start, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse)
				if !ok {
					continue
				}
				if !emit(ziya.ToolUseStart{
					ID:    aws.ToString(start.Value.ToolUseId),
					Name:  aws.ToString(start.Value.Name),
					Index: int(aws.ToInt32(ev.Value.ContentBlockIndex)),
				}) {
					return
				}
			case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *brtypes.ContentBlockDeltaMemberText:
					if delta.Value == "" {
						continue
					}
					if !emit(ziya.TextDelta{Text: delta.Value}) {
						return
					}
				case *brtypes.ContentBlockDeltaMemberToolUse:
					fragment := aws.ToString(delta.Value.Input)
					if fragment == "" {
						continue
					}
					if !emit(ziya.ToolInputDelta{
						Index:    int(aws.ToInt32(ev.Value.ContentBlockIndex)),
						Fragment: fragment,
					}) {
						return
					}
				}
			case *brtypes.ConverseStreamOutputMemberContentBlockStop:
				if !emit(ziya.ContentBlockStop{Index: int(aws.ToInt32(ev.Value.ContentBlockIndex))}) {
					return
				}
			case *brtypes.ConverseStreamOutputMemberMessageStop:
				emit(ziya.MessageStop{StopReason: string(ev.Value.StopReason)})
				return
			}
		}
	}
}
