// Package anthropic implements the runtime's Provider over the Anthropic
// Messages API using github.com/anthropics/anthropic-sdk-go. It translates
// the runtime's message model (system blocks with cache boundaries, tool_use
// / tool_result pairs) into Messages API calls and unwraps streaming events
// into the unified chunk variants.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	ziya "github.com/ziya-ai/ziya"
)

// Provider implements ziya.Provider on the Anthropic Messages API.
type Provider struct {
	client     sdk.Client
	descriptor ziya.ModelDescriptor
}

// New creates a provider for the given descriptor. The API key comes from
// the caller (environment resolution happens in config).
func New(apiKey string, d ziya.ModelDescriptor) *Provider {
	return &Provider{
		client:     sdk.NewClient(option.WithAPIKey(apiKey)),
		descriptor: d,
	}
}

func (p *Provider) Name() string                     { return "anthropic" }
func (p *Provider) Descriptor() ziya.ModelDescriptor { return p.descriptor }

// Invoke implements ziya.Provider.
func (p *Provider) Invoke(ctx context.Context, req ziya.Request) (ziya.Message, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return ziya.Message{}, err
	}
	msg, err := p.client.Messages.New(ctx, params, p.requestOptions(req)...)
	if err != nil {
		return ziya.Message{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateMessage(msg), nil
}

// Stream implements ziya.Provider.
func (p *Provider) Stream(ctx context.Context, req ziya.Request) (<-chan ziya.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := p.client.Messages.NewStreaming(ctx, params, p.requestOptions(req)...)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic messages.new stream: %w", err)
	}

	out := make(chan ziya.Chunk, 32)
	go pumpStream(ctx, stream, out)
	return out, nil
}

// requestOptions injects the extended-context beta header when the retry
// wrapper asked for it.
func (p *Provider) requestOptions(req ziya.Request) []option.RequestOption {
	if req.ExtendedContext && p.descriptor.ExtendedContextHeader != "" {
		return []option.RequestOption{option.WithHeaderAdd("anthropic-beta", p.descriptor.ExtendedContextHeader)}
	}
	return nil
}

// buildParams assembles the Messages API request body.
func (p *Provider) buildParams(req ziya.Request) (sdk.MessageNewParams, error) {
	system, conversation, err := encodeMessages(req.Messages)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}

	maxTokens := int64(p.descriptor.MaxOutputTokens)
	if v, ok := req.Params[ziya.ParamMaxTokens]; ok {
		maxTokens = asInt64(v, maxTokens)
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.descriptor.ModelID),
		MaxTokens: maxTokens,
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	if v, ok := req.Params[ziya.ParamTemperature]; ok {
		params.Temperature = sdk.Float(asFloat64(v, 0))
	}
	if v, ok := req.Params[ziya.ParamTopK]; ok {
		params.TopK = sdk.Int(asInt64(v, 0))
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return sdk.MessageNewParams{}, err
		}
		params.Tools = tools
		params.ToolChoice = sdk.ToolChoiceUnionParam{OfAuto: &sdk.ToolChoiceAutoParam{}}
	}
	return params, nil
}

// encodeMessages splits the conversation into the system block list and the
// user/assistant message list. Cache-control annotations become per-block
// cache markers on the system text blocks.
func encodeMessages(messages []ziya.Message) ([]sdk.TextBlockParam, []sdk.MessageParam, error) {
	var system []sdk.TextBlockParam
	var conversation []sdk.MessageParam

	for _, m := range messages {
		if m.Role == "system" {
			block := sdk.TextBlockParam{Text: m.Text()}
			if m.CacheControl == ziya.CacheEphemeral {
				block.CacheControl = sdk.NewCacheControlEphemeralParam()
			}
			system = append(system, block)
			continue
		}

		var blocks []sdk.ContentBlockParamUnion
		for _, b := range m.Content {
			switch b.Type {
			case ziya.BlockText:
				blocks = append(blocks, sdk.NewTextBlock(b.Text))
			case ziya.BlockToolUse:
				blocks = append(blocks, sdk.NewToolUseBlock(b.ID, b.Input, b.Name))
			case ziya.BlockToolResult:
				blocks = append(blocks, sdk.NewToolResultBlock(b.ToolUseID, b.Content, false))
			default:
				return nil, nil, fmt.Errorf("anthropic: unsupported content block type %q", b.Type)
			}
		}
		conversation = append(conversation, sdk.MessageParam{
			Role:    sdk.MessageParamRole(m.Role),
			Content: blocks,
		})
	}
	return system, conversation, nil
}

// encodeTools converts tool descriptors into the SDK's tool schema.
func encodeTools(tools []ziya.ToolDescriptor) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: tool %s schema: %w", t.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schema}, t.Name)
		if u.OfTool != nil && t.Description != "" {
			u.OfTool.Description = sdk.String(t.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

// translateMessage converts a complete SDK response message.
func translateMessage(msg *sdk.Message) ziya.Message {
	out := ziya.Message{Role: "assistant"}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			out.Content = append(out.Content, ziya.ContentBlock{Type: ziya.BlockText, Text: block.Text})
		case "tool_use":
			out.Content = append(out.Content, ziya.ContentBlock{
				Type:  ziya.BlockToolUse,
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	return out
}

func asInt64(v any, fallback int64) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return fallback
}

func asFloat64(v any, fallback float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return fallback
}

// compile-time check
var _ ziya.Provider = (*Provider)(nil)
