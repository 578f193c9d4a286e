package openaicompat

import (
	"encoding/json"
	"testing"

	ziya "github.com/ziya-ai/ziya"
)

func TestBuildBodyMessageMapping(t *testing.T) {
	req := ziya.Request{
		Messages: []ziya.Message{
			ziya.SystemMessage("be helpful"),
			ziya.UserMessage("list files"),
			{Role: "assistant", Content: []ziya.ContentBlock{
				{Type: ziya.BlockText, Text: "let me check"},
				{Type: ziya.BlockToolUse, ID: "t1", Name: "mcp_run_shell_command", Input: json.RawMessage(`{"command":"ls"}`)},
			}},
			ziya.ToolResultMessage(ziya.ToolResult{ToolUseID: "t1", ToolName: "mcp_run_shell_command", Content: "main.go"}),
		},
		Tools: []ziya.ToolDescriptor{{
			Name:        "mcp_run_shell_command",
			InputSchema: json.RawMessage(`{"type":"object"}`),
		}},
		Params: map[string]any{ziya.ParamTemperature: 0.5, ziya.ParamMaxTokens: 100},
	}

	body := BuildBody(req, "gpt-4o")
	if body.Model != "gpt-4o" {
		t.Errorf("model = %q", body.Model)
	}
	if len(body.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(body.Messages))
	}
	if body.Messages[0].Role != "system" || body.Messages[1].Role != "user" {
		t.Errorf("head roles = %s/%s", body.Messages[0].Role, body.Messages[1].Role)
	}
	asst := body.Messages[2]
	if len(asst.ToolCalls) != 1 || asst.ToolCalls[0].ID != "t1" || asst.ToolCalls[0].Function.Name != "mcp_run_shell_command" {
		t.Errorf("assistant tool_calls = %+v", asst.ToolCalls)
	}
	toolMsg := body.Messages[3]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "t1" || toolMsg.Content != "main.go" {
		t.Errorf("tool message = %+v", toolMsg)
	}
	if body.ToolChoice != "auto" || len(body.Tools) != 1 {
		t.Errorf("tools = %+v choice = %q", body.Tools, body.ToolChoice)
	}
	if body.Temperature == nil || *body.Temperature != 0.5 {
		t.Error("temperature not mapped")
	}
	if body.MaxTokens == nil || *body.MaxTokens != 100 {
		t.Error("max_tokens not mapped")
	}
	if body.TopP != nil {
		t.Error("top_p must stay unset when not provided")
	}
}
