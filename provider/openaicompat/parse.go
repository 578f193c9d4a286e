package openaicompat

import (
	"encoding/json"
	"fmt"

	ziya "github.com/ziya-ai/ziya"
)

// ParseResponse converts a complete chat completions response into the
// runtime's message model. Tool calls with invalid argument JSON fall back
// to an empty object so downstream execution can synthesize a corrective
// result instead of failing the turn.
func ParseResponse(resp ChatResponse) (ziya.Message, error) {
	if len(resp.Choices) == 0 {
		return ziya.Message{}, fmt.Errorf("openaicompat: response has no choices")
	}
	msg := resp.Choices[0].Message
	if msg == nil {
		return ziya.Message{}, fmt.Errorf("openaicompat: response choice has no message")
	}

	out := ziya.Message{Role: "assistant"}
	if msg.Content != "" {
		out.Content = append(out.Content, ziya.ContentBlock{Type: ziya.BlockText, Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) || len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		out.Content = append(out.Content, ziya.ContentBlock{
			Type:  ziya.BlockToolUse,
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: args,
		})
	}
	return out, nil
}
