package openaicompat

import "testing"

func TestParseResponseToolCalls(t *testing.T) {
	resp := ChatResponse{Choices: []Choice{{
		Message: &Msg{
			Content: "checking",
			ToolCalls: []ToolCallMsg{{
				ID:       "c1",
				Function: FunctionCall{Name: "mcp_run_shell_command", Arguments: `{"command":"ls"}`},
			}},
		},
	}}}

	msg, err := ParseResponse(resp)
	if err != nil {
		t.Fatal(err)
	}
	uses := msg.ToolUses()
	if len(uses) != 1 || uses[0].Name != "mcp_run_shell_command" {
		t.Errorf("uses = %+v", uses)
	}
	if msg.Text() != "checking" {
		t.Errorf("text = %q", msg.Text())
	}
}

func TestParseResponseInvalidArguments(t *testing.T) {
	resp := ChatResponse{Choices: []Choice{{
		Message: &Msg{ToolCalls: []ToolCallMsg{{
			ID:       "c1",
			Function: FunctionCall{Name: "x", Arguments: `{broken`},
		}}},
	}}}
	msg, err := ParseResponse(resp)
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.ToolUses()[0].Input) != `{}` {
		t.Errorf("input = %s, want {}", msg.ToolUses()[0].Input)
	}
}

func TestParseResponseNoChoices(t *testing.T) {
	if _, err := ParseResponse(ChatResponse{}); err == nil {
		t.Error("empty response must fail")
	}
}
