package openaicompat

import (
	ziya "github.com/ziya-ai/ziya"
)

// BuildBody assembles the chat completions request body from the runtime's
// message model. Assistant tool_use blocks become tool_calls entries; user
// tool_result blocks become role "tool" messages, one per result, in block
// order. Parameters arrive pre-filtered.
func BuildBody(req ziya.Request, model string) ChatRequest {
	body := ChatRequest{Model: model}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			body.Messages = append(body.Messages, Msg{Role: "system", Content: m.Text()})
		case "assistant":
			msg := Msg{Role: "assistant", Content: m.Text()}
			for _, b := range m.ToolUses() {
				msg.ToolCalls = append(msg.ToolCalls, ToolCallMsg{
					ID:       b.ID,
					Type:     "function",
					Function: FunctionCall{Name: b.Name, Arguments: string(b.Input)},
				})
			}
			body.Messages = append(body.Messages, msg)
		default:
			results := m.ToolResults()
			if len(results) == 0 {
				body.Messages = append(body.Messages, Msg{Role: "user", Content: m.Text()})
				continue
			}
			for _, b := range results {
				body.Messages = append(body.Messages, Msg{
					Role:       "tool",
					ToolCallID: b.ToolUseID,
					Content:    b.Content,
				})
			}
		}
	}

	for _, t := range req.Tools {
		body.Tools = append(body.Tools, ToolDef{
			Type: "function",
			Function: FunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = "auto"
	}

	if v, ok := req.Params[ziya.ParamTemperature]; ok {
		if f, ok := toFloat(v); ok {
			body.Temperature = &f
		}
	}
	if v, ok := req.Params[ziya.ParamTopP]; ok {
		if f, ok := toFloat(v); ok {
			body.TopP = &f
		}
	}
	if v, ok := req.Params[ziya.ParamMaxTokens]; ok {
		if f, ok := toFloat(v); ok {
			n := int(f)
			body.MaxTokens = &n
		}
	}
	if v, ok := req.Params[ziya.ParamStop]; ok {
		switch s := v.(type) {
		case string:
			body.Stop = []string{s}
		case []string:
			body.Stop = s
		}
	}
	return body
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
