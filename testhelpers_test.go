package ziya

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/ziya-ai/ziya/mcp"
)

// testDescriptor is a Claude-shaped descriptor with caching support.
func testDescriptor() ModelDescriptor {
	return ModelDescriptor{
		Endpoint:               EndpointBedrock,
		ModelID:                "test.claude-v1",
		Family:                 FamilyClaude,
		TokenLimit:             200000,
		MaxOutputTokens:        4096,
		SupportedParameters:    map[string]bool{ParamTemperature: true, ParamTopK: true, ParamMaxTokens: true},
		SupportsContextCaching: true,
	}
}

// scriptedTurn is one model turn a mockProvider plays back.
type scriptedTurn struct {
	chunks  []Chunk
	openErr error // returned from Stream instead of a channel
}

// mockProvider replays scripted turns and captures every submitted request.
// The last turn repeats once the script runs out.
type mockProvider struct {
	mu         sync.Mutex
	turns      []scriptedTurn
	calls      int
	requests   []Request
	descriptor ModelDescriptor
}

func newMockProvider(turns ...scriptedTurn) *mockProvider {
	return &mockProvider{turns: turns, descriptor: testDescriptor()}
}

func (m *mockProvider) Name() string                { return "mock" }
func (m *mockProvider) Descriptor() ModelDescriptor { return m.descriptor }

func (m *mockProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	turn := m.turns[len(m.turns)-1]
	if m.calls < len(m.turns) {
		turn = m.turns[m.calls]
	}
	m.calls++
	m.mu.Unlock()

	if turn.openErr != nil {
		return nil, turn.openErr
	}
	ch := make(chan Chunk, len(turn.chunks)+1)
	for _, c := range turn.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (m *mockProvider) Invoke(ctx context.Context, req Request) (Message, error) {
	ch, err := m.Stream(ctx, req)
	if err != nil {
		return Message{}, err
	}
	var text string
	for c := range ch {
		if td, ok := c.(TextDelta); ok {
			text += td.Text
		}
	}
	return AssistantMessage(text), nil
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockProvider) submitted() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// textTurn is a convenience: one turn streaming text then stopping.
func textTurn(text string) scriptedTurn {
	return scriptedTurn{chunks: []Chunk{TextDelta{Text: text}, MessageStop{}}}
}

// toolTurn is a convenience: one turn emitting a single complete tool call.
func toolTurn(id, name, input string) scriptedTurn {
	return scriptedTurn{chunks: []Chunk{
		ToolUseStart{ID: id, Name: name, Index: 1},
		ToolInputDelta{Index: 1, Fragment: input},
		ContentBlockStop{Index: 1},
		MessageStop{},
	}}
}

// mockTools is a scriptable ToolRunner.
type mockTools struct {
	mu     sync.Mutex
	defs   []mcp.ToolDefinition
	result mcp.ToolCallResult
	err    error
	calls  []string // tool names invoked
}

func newMockTools(result string) *mockTools {
	return &mockTools{
		defs: []mcp.ToolDefinition{{
			Name:        "run_shell_command",
			Description: "run a command",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"}},"required":["command"]}`),
		}},
		result: mcp.TextResult(result),
	}
}

func (m *mockTools) ListTools(ctx context.Context) ([]mcp.ToolDefinition, error) {
	return m.defs, nil
}

func (m *mockTools) CallTool(ctx context.Context, name string, args map[string]any) (mcp.ToolCallResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.mu.Unlock()
	if m.err != nil {
		return mcp.ToolCallResult{}, m.err
	}
	return m.result, nil
}

func (m *mockTools) callNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// mockOracle tracks change answers and submission marks.
type mockOracle struct {
	mu      sync.Mutex
	changed map[string]bool // path -> changed
	content map[string][]string
	marks   int
}

func newMockOracle() *mockOracle {
	return &mockOracle{changed: map[string]bool{}, content: map[string][]string{}}
}

func (o *mockOracle) ChangedSinceLastSubmission(ctx context.Context, conv, path string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.changed[path]
}

func (o *mockOracle) AnnotatedContent(ctx context.Context, conv, path string) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if lines, ok := o.content[path]; ok {
		return lines, nil
	}
	return []string{"// " + path}, nil
}

func (o *mockOracle) ChangeSummaries(ctx context.Context, conv string) (string, string) {
	return "", ""
}

func (o *mockOracle) MarkContextSubmission(ctx context.Context, conv string) {
	o.mu.Lock()
	o.marks++
	o.mu.Unlock()
}

func (o *mockOracle) markCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.marks
}

// runLoop drives a loop to completion and returns the emitted events.
func runLoop(t *testing.T, cfg LoopConfig, in RunInput) []StreamEvent {
	t.Helper()
	if in.ConversationID == "" {
		in.ConversationID = "conv-test"
	}
	if len(in.Messages) == 0 {
		in.Messages = []Message{SystemMessage("test system"), UserMessage("test question")}
	}
	loop := NewLoop(cfg)
	events := make(chan StreamEvent, 256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(context.Background(), in, events)
	}()

	var out []StreamEvent
	for ev := range events {
		out = append(out, ev)
	}
	<-done
	return out
}

// eventsOfType filters events by type.
func eventsOfType(events []StreamEvent, t EventType) []StreamEvent {
	var out []StreamEvent
	for _, ev := range events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// joinText concatenates the content of all text events.
func joinText(events []StreamEvent) string {
	var out string
	for _, ev := range eventsOfType(events, EventText) {
		out += ev.Content
	}
	return out
}
