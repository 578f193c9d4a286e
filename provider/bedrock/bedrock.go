// Package bedrock implements the runtime's Provider over the AWS Bedrock
// Converse API. One driver serves both hosted model families the runtime
// knows there, Claude and Nova, selecting request shaping by the descriptor's
// family tag: Claude models take top_k and the extended-context
// beta through additional model request fields, Nova models use the plain
// inference configuration.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"golang.org/x/time/rate"

	ziya "github.com/ziya-ai/ziya"
)

// RuntimeClient is the subset of *bedrockruntime.Client the driver uses;
// mocks satisfy it in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Provider implements ziya.Provider on AWS Bedrock.
type Provider struct {
	runtime    RuntimeClient
	descriptor ziya.ModelDescriptor
	region     string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithRateLimit paces outgoing requests client-side (requests per second
// with the given burst). Useful when several conversations share one set of
// account-level quotas.
func WithRateLimit(rps float64, burst int) Option {
	return func(p *Provider) { p.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// New creates a Bedrock provider for the descriptor. region selects the
// region-qualified inference profile id.
func New(runtime RuntimeClient, d ziya.ModelDescriptor, region string, opts ...Option) (*Provider, error) {
	if runtime == nil {
		return nil, fmt.Errorf("bedrock: runtime client is required")
	}
	p := &Provider{
		runtime:    runtime,
		descriptor: d,
		region:     region,
		logger:     ziya.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) Name() string                     { return "bedrock" }
func (p *Provider) Descriptor() ziya.ModelDescriptor { return p.descriptor }

// Invoke implements ziya.Provider via the non-streaming Converse call.
func (p *Provider) Invoke(ctx context.Context, req ziya.Request) (ziya.Message, error) {
	if err := p.wait(ctx); err != nil {
		return ziya.Message{}, err
	}
	input, err := p.buildInput(req)
	if err != nil {
		return ziya.Message{}, err
	}
	out, err := p.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:                      input.ModelId,
		Messages:                     input.Messages,
		System:                       input.System,
		ToolConfig:                   input.ToolConfig,
		InferenceConfig:              input.InferenceConfig,
		AdditionalModelRequestFields: input.AdditionalModelRequestFields,
	})
	if err != nil {
		return ziya.Message{}, fmt.Errorf("bedrock converse: %w", err)
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return ziya.Message{}, fmt.Errorf("bedrock: unexpected converse output %T", out.Output)
	}
	return translateMessage(msg.Value)
}

// Stream implements ziya.Provider via ConverseStream.
func (p *Provider) Stream(ctx context.Context, req ziya.Request) (<-chan ziya.Chunk, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	input, err := p.buildInput(req)
	if err != nil {
		return nil, err
	}
	out, err := p.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse stream: %w", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, fmt.Errorf("bedrock: stream output missing event stream")
	}

	ch := make(chan ziya.Chunk, 32)
	go pumpStream(ctx, stream, ch)
	return ch, nil
}

func (p *Provider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// buildInput assembles the ConverseStream request. Converse and
// ConverseStream share the field set, so Invoke reuses it.
func (p *Provider) buildInput(req ziya.Request) (*bedrockruntime.ConverseStreamInput, error) {
	system, conversation, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(p.descriptor.ResolveModelID(p.region)),
		Messages: conversation,
		System:   system,
	}

	inference := &brtypes.InferenceConfiguration{}
	maxTokens := p.descriptor.MaxOutputTokens
	if v, ok := req.Params[ziya.ParamMaxTokens]; ok {
		maxTokens = int(asFloat64(v))
	}
	if maxTokens > 0 {
		inference.MaxTokens = aws.Int32(int32(maxTokens))
	}
	if v, ok := req.Params[ziya.ParamTemperature]; ok {
		inference.Temperature = aws.Float32(float32(asFloat64(v)))
	}
	if v, ok := req.Params[ziya.ParamTopP]; ok {
		inference.TopP = aws.Float32(float32(asFloat64(v)))
	}
	input.InferenceConfig = inference

	extra := map[string]any{}
	if p.descriptor.Family == ziya.FamilyClaude {
		if v, ok := req.Params[ziya.ParamTopK]; ok {
			extra["top_k"] = int(asFloat64(v))
		}
		if req.ExtendedContext && p.descriptor.ExtendedContextHeader != "" {
			extra["anthropic_beta"] = []string{p.descriptor.ExtendedContextHeader}
		}
	}
	if len(extra) > 0 {
		input.AdditionalModelRequestFields = document.NewLazyDocument(extra)
	}

	if len(req.Tools) > 0 {
		toolConfig, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		input.ToolConfig = toolConfig
	}
	return input, nil
}

// encodeMessages converts the conversation into Bedrock's system block list
// and message list. A cache-control annotation on a system message becomes a
// cache point after its text block.
func encodeMessages(messages []ziya.Message) ([]brtypes.SystemContentBlock, []brtypes.Message, error) {
	var system []brtypes.SystemContentBlock
	var conversation []brtypes.Message

	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Text()})
			if m.CacheControl == ziya.CacheEphemeral {
				system = append(system, &brtypes.SystemContentBlockMemberCachePoint{
					Value: brtypes.CachePointBlock{Type: brtypes.CachePointTypeDefault},
				})
			}
			continue
		}

		var blocks []brtypes.ContentBlock
		for _, b := range m.Content {
			switch b.Type {
			case ziya.BlockText:
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: b.Text})
			case ziya.BlockToolUse:
				var parsed any
				if err := json.Unmarshal(b.Input, &parsed); err != nil {
					parsed = map[string]any{}
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
					Value: brtypes.ToolUseBlock{
						ToolUseId: aws.String(b.ID),
						Name:      aws.String(b.Name),
						Input:     document.NewLazyDocument(parsed),
					},
				})
			case ziya.BlockToolResult:
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{
					Value: brtypes.ToolResultBlock{
						ToolUseId: aws.String(b.ToolUseID),
						Content: []brtypes.ToolResultContentBlock{
							&brtypes.ToolResultContentBlockMemberText{Value: b.Content},
						},
					},
				})
			default:
				return nil, nil, fmt.Errorf("bedrock: unsupported content block type %q", b.Type)
			}
		}
		conversation = append(conversation, brtypes.Message{
			Role:    brtypes.ConversationRole(m.Role),
			Content: blocks,
		})
	}
	return system, conversation, nil
}

// encodeTools converts tool descriptors into Bedrock's tool configuration
// with automatic tool choice.
func encodeTools(tools []ziya.ToolDescriptor) (*brtypes.ToolConfiguration, error) {
	encoded := make([]brtypes.Tool, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("bedrock: tool %s schema: %w", t.Name, err)
		}
		encoded = append(encoded, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schema),
				},
			},
		})
	}
	return &brtypes.ToolConfiguration{
		Tools:      encoded,
		ToolChoice: &brtypes.ToolChoiceMemberAuto{Value: brtypes.AutoToolChoice{}},
	}, nil
}

// translateMessage converts a complete Converse response message.
func translateMessage(msg brtypes.Message) (ziya.Message, error) {
	out := ziya.Message{Role: "assistant"}
	for _, block := range msg.Content {
		switch b := block.(type) {
		case *brtypes.ContentBlockMemberText:
			out.Content = append(out.Content, ziya.ContentBlock{Type: ziya.BlockText, Text: b.Value})
		case *brtypes.ContentBlockMemberToolUse:
			input, err := b.Value.Input.MarshalSmithyDocument()
			if err != nil {
				return ziya.Message{}, fmt.Errorf("bedrock: tool input: %w", err)
			}
			out.Content = append(out.Content, ziya.ContentBlock{
				Type:  ziya.BlockToolUse,
				ID:    aws.ToString(b.Value.ToolUseId),
				Name:  aws.ToString(b.Value.Name),
				Input: json.RawMessage(input),
			})
		}
	}
	return out, nil
}

func asFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// compile-time check
var _ ziya.Provider = (*Provider)(nil)
