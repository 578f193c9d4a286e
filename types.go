package ziya

import (
	"encoding/json"
	"strings"
)

// --- Message model ---

// Content block types. A Message carries an ordered sequence of typed blocks;
// plain-text messages are a single text block.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// CacheEphemeral marks a message as a provider-side cache boundary.
const CacheEphemeral = "ephemeral"

// ContentBlock is one typed element of a message's content.
// Exactly the fields for its Type are set, except that tool_result blocks
// also carry the tool's Name.
type ContentBlock struct {
	Type string `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockToolUse
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// BlockToolResult
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Message is one conversation entry submitted to a model backend.
//
// Invariants: system messages appear only at the head of a conversation;
// consecutive system messages are merged before submission; an assistant
// message containing tool_use blocks must be immediately followed by a user
// message whose content carries matching tool_result blocks.
type Message struct {
	Role         string         `json:"role"` // "system", "user", "assistant"
	Content      []ContentBlock `json:"content"`
	CacheControl string         `json:"cache_control,omitempty"` // "" or CacheEphemeral
}

// Text returns the concatenated text of all text blocks.
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns the tool_use blocks of the message, in order.
func (m Message) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// ToolResults returns the tool_result blocks of the message, in order.
func (m Message) ToolResults() []ContentBlock {
	var results []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolResult {
			results = append(results, b)
		}
	}
	return results
}

// --- Model descriptors ---

// Supported request parameter names, as listed in a descriptor's
// SupportedParameters set.
const (
	ParamTemperature    = "temperature"
	ParamTopK           = "top_k"
	ParamTopP           = "top_p"
	ParamMaxTokens      = "max_tokens"
	ParamStop           = "stop"
	ParamThinkingMode   = "thinking_mode"
	ParamMaxInputTokens = "max_input_tokens"
)

// Model family tags. The family selects the request/response shaping inside a
// driver (one endpoint can serve several families, e.g. Bedrock hosts both
// Claude and Nova models).
const (
	FamilyClaude = "claude"
	FamilyNova   = "nova"
	FamilyOpenAI = "openai"
	FamilyGemini = "gemini"
)

// ModelDescriptor describes one hosted model: where it lives, what it is
// called there, and which request parameters it accepts. The registry is
// read-only after startup.
type ModelDescriptor struct {
	// Endpoint tag ("bedrock", "google", ...).
	Endpoint string
	// ModelID is the canonical identifier sent to the backend.
	ModelID string
	// RegionIDs maps a region prefix ("us", "eu", "apac") to a
	// region-qualified model id. Empty when the id is region-independent.
	RegionIDs map[string]string
	// Family selects request shaping within the endpoint's driver.
	Family string
	// TokenLimit is the model context window in tokens.
	TokenLimit int
	// MaxOutputTokens caps a single response.
	MaxOutputTokens int
	// SupportedParameters is the set of parameter names the backend accepts.
	SupportedParameters map[string]bool
	// ExtendedContextHeader, when non-empty, is the beta header value that
	// unlocks the extended context window on a context-limit failure.
	ExtendedContextHeader string
	// SupportsContextCaching enables the stable/dynamic system prompt split.
	SupportsContextCaching bool
	// SupportsThinking allows the step-by-step thinking instruction.
	SupportsThinking bool
}

// ResolveModelID returns the model id for the given region, falling back to
// the canonical id when no region mapping applies. The region prefix is the
// part before the first "-" ("us-west-2" resolves through "us"); "ap-*"
// regions resolve through "apac".
func (d ModelDescriptor) ResolveModelID(region string) string {
	if len(d.RegionIDs) == 0 || region == "" {
		return d.ModelID
	}
	prefix, _, _ := strings.Cut(region, "-")
	if prefix == "ap" {
		prefix = "apac"
	}
	if id, ok := d.RegionIDs[prefix]; ok {
		return id
	}
	return d.ModelID
}

// --- Tools ---

// MCPPrefix qualifies tool names surfaced to the model.
const MCPPrefix = "mcp_"

// ToolDescriptor describes one tool offered to the model.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolCall is a tool invocation the model is emitting. PartialInput
// accumulates streamed JSON fragments until the content block closes.
type ToolCall struct {
	ID           string
	Name         string
	PartialInput string
	// Index is the position of the tool_use block in the current assistant
	// content sequence.
	Index int
}

// ToolResult is the outcome of one executed tool call.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	ToolName  string `json:"tool_name"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// --- Context split ---

// ContextSplit partitions the codebase section of a system prompt into a
// stable prefix (files unchanged since the last context submission, a
// candidate for provider-side caching) and a dynamic suffix (changed files).
type ContextSplit struct {
	StableContent  string
	StableFiles    []string
	DynamicContent string
	DynamicFiles   []string
}

// Empty reports whether the split carries no stable part.
func (s ContextSplit) Empty() bool { return s.StableContent == "" }

// --- Constructors ---

func TextMessage(role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{{Type: BlockText, Text: text}}}
}

func SystemMessage(text string) Message    { return TextMessage("system", text) }
func UserMessage(text string) Message      { return TextMessage("user", text) }
func AssistantMessage(text string) Message { return TextMessage("assistant", text) }

// ToolResultMessage builds the user message that answers one or more tool_use
// blocks from the preceding assistant message.
func ToolResultMessage(results ...ToolResult) Message {
	blocks := make([]ContentBlock, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, ContentBlock{
			Type:      BlockToolResult,
			ToolUseID: r.ToolUseID,
			Name:      r.ToolName,
			Content:   r.Content,
		})
	}
	return Message{Role: "user", Content: blocks}
}
