package openaicompat

import "encoding/json"

// Wire types for the OpenAI chat completions API. Shared by request
// building, response parsing, and SSE streaming.

// ChatRequest is the request body for /chat/completions.
type ChatRequest struct {
	Model         string         `json:"model"`
	Messages      []Msg          `json:"messages"`
	Tools         []ToolDef      `json:"tools,omitempty"`
	ToolChoice    string         `json:"tool_choice,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Stop          []string       `json:"stop,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

// StreamOptions asks the provider to include usage in the final chunk.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// Msg is one chat message on the wire.
type Msg struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []ToolCallMsg `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// ToolCallMsg is an assistant-side tool call.
type ToolCallMsg struct {
	Index    int          `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries a tool name and its (possibly partial) JSON arguments.
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolDef is a tool definition on the wire.
type ToolDef struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a callable function.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ChatResponse is the response body (complete or one stream chunk).
type ChatResponse struct {
	Choices []Choice `json:"choices"`
}

// Choice is one completion choice.
type Choice struct {
	Message      *Msg      `json:"message,omitempty"`
	Delta        *DeltaMsg `json:"delta,omitempty"`
	FinishReason string    `json:"finish_reason,omitempty"`
}

// DeltaMsg is the incremental message inside a stream chunk.
type DeltaMsg struct {
	Content   string        `json:"content,omitempty"`
	ToolCalls []ToolCallMsg `json:"tool_calls,omitempty"`
}
