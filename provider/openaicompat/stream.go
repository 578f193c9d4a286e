package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	ziya "github.com/ziya-ai/ziya"
)

// StreamSSE reads a chat completions SSE stream from body and emits unified
// chunks on ch. The channel is closed when the stream ends.
//
// OpenAI streams tool calls incrementally: each delta carries a tool-call
// index, with id/name on the first fragment and argument text on the rest.
// The scanner surfaces the first fragment as a ToolUseStart, later fragments
// as ToolInputDeltas, and closes every open call before the MessageStop.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func StreamSSE(ctx context.Context, body io.Reader, ch chan<- ziya.Chunk) {
	defer close(ch)

	emit := func(c ziya.Chunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	// Large SSE payloads (long tool arguments) need room.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	// Block indexes: text occupies index 0; tool call i maps to block i+1.
	open := map[int]bool{}

	closeOpenCalls := func() bool {
		for idx := range open {
			if !emit(ziya.ContentBlockStop{Index: idx + 1}) {
				return false
			}
			delete(open, idx)
		}
		return true
	}

	for scanner.Scan() {
		line := scanner.Text()
		data, found := strings.CutPrefix(line, "data: ")
		if !found {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk ChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta != nil {
			if choice.Delta.Content != "" {
				if !emit(ziya.TextDelta{Text: choice.Delta.Content}) {
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := tc.Index
				if !open[idx] && (tc.ID != "" || tc.Function.Name != "") {
					open[idx] = true
					if !emit(ziya.ToolUseStart{ID: tc.ID, Name: tc.Function.Name, Index: idx + 1}) {
						return
					}
				}
				if tc.Function.Arguments != "" {
					if !emit(ziya.ToolInputDelta{Index: idx + 1, Fragment: tc.Function.Arguments}) {
						return
					}
				}
			}
		}
		if choice.FinishReason != "" {
			if !closeOpenCalls() {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		emit(ziya.ProviderError{Err: err})
		return
	}
	if !closeOpenCalls() {
		return
	}
	emit(ziya.MessageStop{})
}
