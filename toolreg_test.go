package ziya

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ziya-ai/ziya/mcp"
)

type staticLister struct {
	defs []mcp.ToolDefinition
}

func (s staticLister) ListTools(ctx context.Context) ([]mcp.ToolDefinition, error) {
	return s.defs, nil
}

func TestBuildToolsetPrefixesAndDedupes(t *testing.T) {
	lister := staticLister{defs: []mcp.ToolDefinition{
		{Name: "run_shell_command", Description: "first", InputSchema: json.RawMessage(`{"type":"object"}`)},
		{Name: "mcp_run_shell_command", Description: "duplicate", InputSchema: json.RawMessage(`{"type":"object"}`)},
		{Name: "get_current_time", InputSchema: json.RawMessage(`{"type":"object"}`)},
	}}

	tools := BuildToolset(context.Background(), lister, nil)
	if len(tools) != 2 {
		t.Fatalf("tools = %d, want 2 after dedup", len(tools))
	}
	if tools[0].Name != "mcp_run_shell_command" || tools[0].Description != "first" {
		t.Errorf("first tool = %+v, want prefixed first occurrence", tools[0])
	}
	if tools[1].Name != "mcp_get_current_time" {
		t.Errorf("second tool = %s, want mcp_get_current_time", tools[1].Name)
	}
}

func TestBuildToolsetSchemaFallback(t *testing.T) {
	lister := staticLister{defs: []mcp.ToolDefinition{
		{Name: "broken", InputSchema: json.RawMessage(`{not json`)},
	}}
	tools := BuildToolset(context.Background(), lister, nil)
	if len(tools) != 1 {
		t.Fatal("tool with broken schema should survive with a fallback")
	}
	var schema map[string]any
	if err := json.Unmarshal(tools[0].InputSchema, &schema); err != nil {
		t.Fatalf("fallback schema invalid: %v", err)
	}
	if schema["type"] != "object" {
		t.Errorf("fallback schema = %v, want object", schema)
	}
}
