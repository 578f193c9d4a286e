package bedrock

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	ziya "github.com/ziya-ai/ziya"
)

// stubRuntime satisfies RuntimeClient without touching AWS.
type stubRuntime struct {
	lastConverse *bedrockruntime.ConverseInput
	output       brtypes.Message
}

func (s *stubRuntime) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s.lastConverse = params
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: s.output},
	}, nil
}

func (s *stubRuntime) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return &bedrockruntime.ConverseStreamOutput{}, nil
}

func claudeDesc() ziya.ModelDescriptor {
	return ziya.ModelDescriptor{
		Endpoint:              ziya.EndpointBedrock,
		ModelID:               "anthropic.claude-3-5-sonnet-20241022-v2:0",
		RegionIDs:             map[string]string{"us": "us.anthropic.claude-3-5-sonnet-20241022-v2:0"},
		Family:                ziya.FamilyClaude,
		MaxOutputTokens:       4096,
		ExtendedContextHeader: "context-1m-2025-08-07",
		SupportedParameters:   map[string]bool{ziya.ParamTemperature: true, ziya.ParamTopK: true, ziya.ParamMaxTokens: true},
	}
}

func TestBuildInputRegionAndParams(t *testing.T) {
	p, err := New(&stubRuntime{}, claudeDesc(), "us-west-2")
	if err != nil {
		t.Fatal(err)
	}
	input, err := p.buildInput(ziya.Request{
		Messages: []ziya.Message{ziya.SystemMessage("s"), ziya.UserMessage("q")},
		Params: map[string]any{
			ziya.ParamTemperature: 0.3,
			ziya.ParamMaxTokens:   1000,
			ziya.ParamTopK:        50,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if aws.ToString(input.ModelId) != "us.anthropic.claude-3-5-sonnet-20241022-v2:0" {
		t.Errorf("model id = %s, want the us inference profile", aws.ToString(input.ModelId))
	}
	if aws.ToInt32(input.InferenceConfig.MaxTokens) != 1000 {
		t.Errorf("max tokens = %d", aws.ToInt32(input.InferenceConfig.MaxTokens))
	}
	if aws.ToFloat32(input.InferenceConfig.Temperature) != 0.3 {
		t.Errorf("temperature = %v", aws.ToFloat32(input.InferenceConfig.Temperature))
	}
	// top_k rides in the additional model request fields for Claude.
	if input.AdditionalModelRequestFields == nil {
		t.Fatal("additional fields missing for top_k")
	}
	raw, err := input.AdditionalModelRequestFields.MarshalSmithyDocument()
	if err != nil {
		t.Fatal(err)
	}
	var extra map[string]any
	if err := json.Unmarshal(raw, &extra); err != nil {
		t.Fatal(err)
	}
	if extra["top_k"] != float64(50) {
		t.Errorf("extra = %v, want top_k 50", extra)
	}
}

func TestBuildInputExtendedContext(t *testing.T) {
	p, err := New(&stubRuntime{}, claudeDesc(), "us-east-1")
	if err != nil {
		t.Fatal(err)
	}
	input, err := p.buildInput(ziya.Request{
		Messages:        []ziya.Message{ziya.UserMessage("q")},
		ExtendedContext: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := input.AdditionalModelRequestFields.MarshalSmithyDocument()
	if err != nil {
		t.Fatal(err)
	}
	var extra map[string]any
	if err := json.Unmarshal(raw, &extra); err != nil {
		t.Fatal(err)
	}
	betas, ok := extra["anthropic_beta"].([]any)
	if !ok || len(betas) != 1 || betas[0] != "context-1m-2025-08-07" {
		t.Errorf("extra = %v, want the beta header value", extra)
	}
}

func TestEncodeMessagesCachePoint(t *testing.T) {
	stable := ziya.SystemMessage("stable prefix")
	stable.CacheControl = ziya.CacheEphemeral
	system, conversation, err := encodeMessages([]ziya.Message{
		stable,
		ziya.SystemMessage("dynamic suffix"),
		ziya.UserMessage("question"),
	})
	if err != nil {
		t.Fatal(err)
	}
	// text, cache point, text
	if len(system) != 3 {
		t.Fatalf("system blocks = %d, want 3", len(system))
	}
	if _, ok := system[1].(*brtypes.SystemContentBlockMemberCachePoint); !ok {
		t.Errorf("block 1 = %T, want a cache point after the stable text", system[1])
	}
	if len(conversation) != 1 || conversation[0].Role != brtypes.ConversationRoleUser {
		t.Errorf("conversation = %+v", conversation)
	}
}

func TestEncodeMessagesToolRoundTrip(t *testing.T) {
	_, conversation, err := encodeMessages([]ziya.Message{
		{Role: "assistant", Content: []ziya.ContentBlock{
			{Type: ziya.BlockText, Text: "let me run it"},
			{Type: ziya.BlockToolUse, ID: "t1", Name: "mcp_run_shell_command", Input: json.RawMessage(`{"command":"ls"}`)},
		}},
		ziya.ToolResultMessage(ziya.ToolResult{ToolUseID: "t1", ToolName: "mcp_run_shell_command", Content: "main.go"}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(conversation) != 2 {
		t.Fatalf("conversation = %d messages, want 2", len(conversation))
	}
	asst := conversation[0]
	if len(asst.Content) != 2 {
		t.Fatalf("assistant blocks = %d, want 2", len(asst.Content))
	}
	toolUse, ok := asst.Content[1].(*brtypes.ContentBlockMemberToolUse)
	if !ok || aws.ToString(toolUse.Value.ToolUseId) != "t1" {
		t.Errorf("tool use block = %+v", asst.Content[1])
	}
	result, ok := conversation[1].Content[0].(*brtypes.ContentBlockMemberToolResult)
	if !ok || aws.ToString(result.Value.ToolUseId) != "t1" {
		t.Errorf("tool result block = %+v", conversation[1].Content[0])
	}
}

func TestEncodeToolsAutoChoice(t *testing.T) {
	cfg, err := encodeTools([]ziya.ToolDescriptor{{
		Name:        "mcp_run_shell_command",
		Description: "run a command",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"}}}`),
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Tools) != 1 {
		t.Fatalf("tools = %d", len(cfg.Tools))
	}
	if _, ok := cfg.ToolChoice.(*brtypes.ToolChoiceMemberAuto); !ok {
		t.Errorf("tool choice = %T, want auto", cfg.ToolChoice)
	}
}

func TestInvokeTranslatesResponse(t *testing.T) {
	stub := &stubRuntime{output: brtypes.Message{
		Role: brtypes.ConversationRoleAssistant,
		Content: []brtypes.ContentBlock{
			&brtypes.ContentBlockMemberText{Value: "hello"},
		},
	}}
	p, err := New(stub, claudeDesc(), "us-east-1")
	if err != nil {
		t.Fatal(err)
	}
	msg, err := p.Invoke(context.Background(), ziya.Request{
		Messages: []ziya.Message{ziya.UserMessage("hi")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Text() != "hello" {
		t.Errorf("text = %q", msg.Text())
	}
	if stub.lastConverse == nil {
		t.Fatal("Converse not called")
	}
}

func TestRateLimitPacesCalls(t *testing.T) {
	stub := &stubRuntime{output: brtypes.Message{
		Role:    brtypes.ConversationRoleAssistant,
		Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "ok"}},
	}}
	p, err := New(stub, claudeDesc(), "us-east-1", WithRateLimit(20, 1))
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := p.Invoke(context.Background(), ziya.Request{
			Messages: []ziya.Message{ziya.UserMessage("hi")},
		}); err != nil {
			t.Fatal(err)
		}
	}
	// 20 rps with burst 1: the second and third calls wait ~50ms each.
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("elapsed = %v, want the limiter to pace calls", elapsed)
	}
}
