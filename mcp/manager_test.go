package mcp

import (
	"context"
	"errors"
	"testing"
)

// fakeServer is a scriptable in-process Server.
type fakeServer struct {
	tools    []ToolDefinition
	initErr  error
	initN    int
	calls    []string
	response ToolCallResult
}

func (f *fakeServer) Initialize(ctx context.Context) error {
	f.initN++
	return f.initErr
}

func (f *fakeServer) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	return f.tools, nil
}

func (f *fakeServer) CallTool(ctx context.Context, name string, args map[string]any) (ToolCallResult, error) {
	f.calls = append(f.calls, name)
	return f.response, nil
}

func (f *fakeServer) Close() error { return nil }

func TestManagerRoutesByToolName(t *testing.T) {
	a := &fakeServer{
		tools:    []ToolDefinition{{Name: "run_shell_command"}},
		response: TextResult("from a"),
	}
	b := &fakeServer{
		tools:    []ToolDefinition{{Name: "get_current_time"}},
		response: TextResult("from b"),
	}
	m := NewManager(nil)
	m.AddServer("a", a)
	m.AddServer("b", b)

	res, err := m.CallTool(context.Background(), "get_current_time", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text() != "from b" {
		t.Errorf("result = %q, want from b", res.Text())
	}
	if len(a.calls) != 0 || len(b.calls) != 1 {
		t.Errorf("routing wrong: a=%v b=%v", a.calls, b.calls)
	}
}

func TestManagerStripsMCPPrefix(t *testing.T) {
	s := &fakeServer{
		tools:    []ToolDefinition{{Name: "run_shell_command"}},
		response: TextResult("ok"),
	}
	m := NewManager(nil)
	m.AddServer("s", s)

	if _, err := m.CallTool(context.Background(), "mcp_run_shell_command", map[string]any{"command": "ls"}); err != nil {
		t.Fatal(err)
	}
	if len(s.calls) != 1 || s.calls[0] != "run_shell_command" {
		t.Errorf("calls = %v, want unprefixed run_shell_command", s.calls)
	}
}

func TestManagerInitializesOnce(t *testing.T) {
	s := &fakeServer{tools: []ToolDefinition{{Name: "t"}}}
	m := NewManager(nil)
	m.AddServer("s", s)

	for i := 0; i < 3; i++ {
		if _, err := m.ListTools(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if s.initN != 1 {
		t.Errorf("Initialize ran %d times, want 1", s.initN)
	}
}

func TestManagerDropsFailingServer(t *testing.T) {
	bad := &fakeServer{initErr: errors.New("spawn failed")}
	good := &fakeServer{tools: []ToolDefinition{{Name: "t"}}}
	m := NewManager(nil)
	m.AddServer("bad", bad)
	m.AddServer("good", good)

	defs, err := m.ListTools(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 1 || defs[0].Name != "t" {
		t.Errorf("defs = %v, want only the good server's tool", defs)
	}
}

func TestManagerUnknownTool(t *testing.T) {
	m := NewManager(nil)
	m.AddServer("s", &fakeServer{})
	if _, err := m.CallTool(context.Background(), "nope", nil); err == nil {
		t.Error("unknown tool must error")
	}
}

func TestManagerDuplicateToolKeepsFirst(t *testing.T) {
	a := &fakeServer{tools: []ToolDefinition{{Name: "dup"}}, response: TextResult("a")}
	b := &fakeServer{tools: []ToolDefinition{{Name: "dup"}}, response: TextResult("b")}
	m := NewManager(nil)
	m.AddServer("a", a)
	m.AddServer("b", b)

	defs, err := m.ListTools(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 1 {
		t.Fatalf("defs = %d, want 1 after dedup", len(defs))
	}
}
