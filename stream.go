package ziya

import "encoding/json"

// --- Provider chunk stream ---

// Chunk is one element of a model's streamed response. Drivers unwrap their
// provider-native chunk formats into these variants; consumers receive them
// over a single-consumer channel whose closure marks end of stream.
type Chunk interface{ chunk() }

// TextDelta carries an incremental piece of assistant text.
type TextDelta struct {
	Text string
}

// ToolUseStart opens a streamed tool call at content-block Index.
type ToolUseStart struct {
	ID    string
	Name  string
	Index int
}

// ToolInputDelta carries a fragment of the JSON input for the tool call
// streaming at Index.
type ToolInputDelta struct {
	Index    int
	Fragment string
}

// ContentBlockStop closes the content block at Index. For tool calls this is
// the point at which the accumulated input is parsed and the tool executed.
type ContentBlockStop struct {
	Index int
}

// MessageStop ends the model turn.
type MessageStop struct {
	StopReason string
}

// ProviderError surfaces a backend failure mid-stream. Err is normalized by
// the error classifier before any retry decision.
type ProviderError struct {
	Err error
}

func (TextDelta) chunk()        {}
func (ToolUseStart) chunk()     {}
func (ToolInputDelta) chunk()   {}
func (ContentBlockStop) chunk() {}
func (MessageStop) chunk()      {}
func (ProviderError) chunk()    {}

// --- Client-facing event stream ---

// EventType identifies the kind of streaming event emitted to the client.
type EventType string

const (
	// EventText carries assistant text for display.
	EventText EventType = "text"
	// EventToolStart announces a tool invocation. Frontend-only.
	EventToolStart EventType = "tool_start"
	// EventToolDisplay carries a tool result for display. Frontend-only;
	// the model never sees these.
	EventToolDisplay EventType = "tool_display"
	// EventHeartbeat keeps the connection alive across long tool runs and
	// backoff sleeps.
	EventHeartbeat EventType = "heartbeat"
	// EventIterationContinue marks the boundary between tool-loop turns.
	EventIterationContinue EventType = "iteration_continue"
	// EventStreamEnd is the final event of every successful stream.
	EventStreamEnd EventType = "stream_end"
	// EventError carries the structured error envelope. Always followed by
	// the stream terminator.
	EventError EventType = "error"
)

// StreamEvent is one event emitted by the streaming tool loop toward the
// client. The SSE framer marshals each event into a data: frame.
type StreamEvent struct {
	Type EventType `json:"type"`

	// EventText
	Content string `json:"content,omitempty"`

	// EventToolStart / EventToolDisplay
	ToolID   string          `json:"tool_id,omitempty"`
	ToolName string          `json:"tool_name,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Result   string          `json:"result,omitempty"`

	// EventIterationContinue
	Iteration int `json:"iteration,omitempty"`

	// Code-block continuation turns carry a marker so consumers can merge
	// the continuation seamlessly with the preceding partial block.
	CodeBlockContinuation bool   `json:"code_block_continuation,omitempty"`
	BlockType             string `json:"block_type,omitempty"`

	TimestampMS int64 `json:"timestamp_ms,omitempty"`

	// EventError
	Envelope *ErrorEnvelope `json:"-"`
}

// ErrorEnvelope is the structured error payload of an EventError. It carries
// everything the loop preserved before the failure so clients lose nothing
// that was already produced.
type ErrorEnvelope struct {
	Error                 string         `json:"error"`
	Detail                string         `json:"detail"`
	StatusCode            int            `json:"status_code"`
	RetryAfter            string         `json:"retry_after,omitempty"`
	PreservedContent      string         `json:"preserved_content,omitempty"`
	PreservedText         string         `json:"preserved_text,omitempty"`
	SuccessfulToolResults []ToolResult   `json:"successful_tool_results,omitempty"`
	PreStreamingWork      []string       `json:"pre_streaming_work,omitempty"`
	ToolExecutionSummary  *StreamMetrics `json:"tool_execution_summary,omitempty"`
	StreamID              string         `json:"stream_id"`
}

// StreamMetrics are per-stream counters. Each Loop.Run owns one; it is
// reported in error envelopes and mirrored into OTEL instruments by the
// observer package.
type StreamMetrics struct {
	EventsSent                int   `json:"events_sent"`
	BytesSent                 int64 `json:"bytes_sent"`
	LargestChunkBytes         int   `json:"largest_chunk_bytes"`
	Iterations                int   `json:"iterations"`
	ToolExecutions            int   `json:"tool_executions"`
	SuccessfulTools           int   `json:"successful_tools"`
	ConsecutiveEmptyToolCalls int   `json:"consecutive_empty_tool_calls"`
}

func (m *StreamMetrics) recordEvent(n int) {
	m.EventsSent++
	m.BytesSent += int64(n)
	if n > m.LargestChunkBytes {
		m.LargestChunkBytes = n
	}
}
