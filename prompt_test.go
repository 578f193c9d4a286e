package ziya

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func testAssembler(oracle *mockOracle) *PromptAssembler {
	splitter := NewContextSplitter(oracle, nil, nil)
	return NewPromptAssembler(oracle, splitter, nil)
}

func TestChatHistoryTupleShape(t *testing.T) {
	var h ChatHistory
	if err := json.Unmarshal([]byte(`[["hello", "hi there"], ["next", "sure"]]`), &h); err != nil {
		t.Fatal(err)
	}
	if len(h) != 2 || h[0].Human != "hello" || h[1].Assistant != "sure" {
		t.Errorf("history = %+v", h)
	}
}

func TestChatHistoryRecordShape(t *testing.T) {
	var h ChatHistory
	data := `[{"type":"human","content":"hello"},{"type":"ai","content":"hi"},{"role":"user","content":"more"},{"role":"assistant","content":"ok"}]`
	if err := json.Unmarshal([]byte(data), &h); err != nil {
		t.Fatal(err)
	}
	if len(h) != 2 || h[0].Assistant != "hi" || h[1].Human != "more" {
		t.Errorf("history = %+v", h)
	}
}

func TestAssembleDropsEmptyExchanges(t *testing.T) {
	oracle := newMockOracle()
	a := testAssembler(oracle)

	messages, _, err := a.Assemble(context.Background(), AssembleInput{
		Question: "q",
		History: ChatHistory{
			{Human: "keep", Assistant: "kept"},
			{Human: "   ", Assistant: "dropped"},
			{Human: "dropped too", Assistant: ""},
		},
		ConversationID: "c1",
		Descriptor:     testDescriptor(),
	})
	if err != nil {
		t.Fatal(err)
	}

	var users, assistants int
	for _, m := range messages {
		switch m.Role {
		case "user":
			users++
		case "assistant":
			assistants++
		}
	}
	// One surviving exchange plus the question.
	if users != 2 || assistants != 1 {
		t.Errorf("users = %d assistants = %d, want 2/1", users, assistants)
	}
}

func TestAssembleEmptyQuestion(t *testing.T) {
	a := testAssembler(newMockOracle())
	_, _, err := a.Assemble(context.Background(), AssembleInput{
		Question:   "   ",
		Descriptor: testDescriptor(),
	})
	if err == nil {
		t.Fatal("empty question must fail")
	}
	if Classify(err).Kind != ErrValidation {
		t.Errorf("kind = %s, want validation_error", Classify(err).Kind)
	}
}

func TestAssembleCacheSplit(t *testing.T) {
	oracle := newMockOracle()
	body := make([]string, 200)
	for i := range body {
		body[i] = "line of file content long enough to cross the caching threshold"
	}
	oracle.content["a.py"] = body
	oracle.content["b.py"] = body

	a := testAssembler(oracle)
	in := AssembleInput{
		Question:       "what changed?",
		Files:          []string{"a.py", "b.py"},
		ConversationID: "c1",
		Descriptor:     testDescriptor(),
	}

	// Both files unchanged: one cached system message holding both.
	messages, _, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	systems := systemMessages(messages)
	if len(systems) < 1 || systems[0].CacheControl != CacheEphemeral {
		t.Fatalf("first system message = %+v, want cache_control ephemeral", systems[0])
	}
	if !strings.Contains(systems[0].Text(), "File: a.py") || !strings.Contains(systems[0].Text(), "File: b.py") {
		t.Error("stable system message should contain both files")
	}

	// b.py changes: it moves to the dynamic message.
	oracle.changed["b.py"] = true
	messages, _, err = a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	systems = systemMessages(messages)
	if len(systems) != 2 {
		t.Fatalf("system messages = %d, want 2", len(systems))
	}
	if !strings.Contains(systems[0].Text(), "File: a.py") || strings.Contains(systems[0].Text(), "File: b.py") {
		t.Error("stable message should hold only a.py")
	}
	if !strings.Contains(systems[1].Text(), "File: b.py") {
		t.Error("dynamic message should hold b.py")
	}
	if systems[1].CacheControl != "" {
		t.Error("dynamic message must not carry cache_control")
	}
}

func TestAssembleStableBytesDeterministic(t *testing.T) {
	oracle := newMockOracle()
	body := make([]string, 200)
	for i := range body {
		body[i] = "deterministic content line used to exercise the caching threshold"
	}
	oracle.content["a.py"] = body

	a := testAssembler(oracle)
	in := AssembleInput{
		Question:       "q",
		Files:          []string{"a.py"},
		ConversationID: "c1",
		Descriptor:     testDescriptor(),
	}
	m1, _, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	m2, _, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if systemMessages(m1)[0].Text() != systemMessages(m2)[0].Text() {
		t.Error("stable system prompt differs between identical turns")
	}
}

func TestAssembleNoCachingDescriptor(t *testing.T) {
	oracle := newMockOracle()
	body := make([]string, 200)
	for i := range body {
		body[i] = "content long enough for a split if caching were supported here"
	}
	oracle.content["a.py"] = body

	a := testAssembler(oracle)
	d := testDescriptor()
	d.SupportsContextCaching = false

	messages, _, err := a.Assemble(context.Background(), AssembleInput{
		Question:       "q",
		Files:          []string{"a.py"},
		ConversationID: "c1",
		Descriptor:     d,
	})
	if err != nil {
		t.Fatal(err)
	}
	systems := systemMessages(messages)
	if len(systems) != 1 || systems[0].CacheControl != "" {
		t.Errorf("systems = %+v, want one plain system message", systems)
	}
}

func TestAssembleThinkingMode(t *testing.T) {
	oracle := newMockOracle()
	a := testAssembler(oracle)

	d := testDescriptor()
	d.SupportsThinking = true
	messages, _, err := a.Assemble(context.Background(), AssembleInput{
		Question: "q", ConversationID: "c1", Descriptor: d, ThinkingMode: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(systemMessages(messages)[0].Text(), "step by step") {
		t.Error("thinking instruction missing")
	}

	// Unsupported descriptor: instruction filtered out.
	d.SupportsThinking = false
	messages, _, err = a.Assemble(context.Background(), AssembleInput{
		Question: "q", ConversationID: "c1", Descriptor: d, ThinkingMode: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(systemMessages(messages)[0].Text(), "step by step") {
		t.Error("thinking instruction must be dropped without support")
	}
}

func TestMergeSystemMessages(t *testing.T) {
	in := []Message{
		SystemMessage("one"),
		SystemMessage("two"),
		UserMessage("q"),
	}
	out := MergeSystemMessages(in)
	if len(out) != 2 {
		t.Fatalf("messages = %d, want 2", len(out))
	}
	if out[0].Text() != "one\n\ntwo" {
		t.Errorf("merged = %q", out[0].Text())
	}

	// A cache boundary keeps stable and dynamic apart.
	stable := SystemMessage("stable")
	stable.CacheControl = CacheEphemeral
	out = MergeSystemMessages([]Message{stable, SystemMessage("dynamic"), UserMessage("q")})
	if len(out) != 3 {
		t.Fatalf("messages = %d, want 3 (no merge across the boundary)", len(out))
	}
	if out[0].CacheControl != CacheEphemeral {
		t.Error("cache_control lost in merge")
	}
}

func systemMessages(messages []Message) []Message {
	var out []Message
	for _, m := range messages {
		if m.Role == "system" {
			out = append(out, m)
		}
	}
	return out
}
