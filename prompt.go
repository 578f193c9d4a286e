package ziya

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultSystemTemplate is the model-facing instruction preamble. Kept short
// here; deployments override it via PromptAssembler options.
const DefaultSystemTemplate = `You are Ziya, an expert software engineering assistant with full access to the user's codebase. Answer questions about the code, propose changes as unified diffs, and use the provided tools when you need to interact with the system.`

// thinkingInstruction is prepended when thinking mode is enabled and the
// descriptor supports it.
const thinkingInstruction = "Think step by step before answering. Work through the problem carefully and show your reasoning.\n\n"

// HistoryPair is one prior human/assistant exchange.
type HistoryPair struct {
	Human     string
	Assistant string
}

// ChatHistory is the list of prior exchanges. It unmarshals from either wire
// shape: ["human text", "ai text"] tuples, or {"type": ..., "content": ...}
// records in which human/user entries pair with the assistant entry that
// follows them.
type ChatHistory []HistoryPair

// UnmarshalJSON accepts both history wire shapes.
func (h *ChatHistory) UnmarshalJSON(data []byte) error {
	// Tuple shape first: [["h","a"], ...]
	var tuples [][]string
	if err := json.Unmarshal(data, &tuples); err == nil {
		for _, t := range tuples {
			pair := HistoryPair{}
			if len(t) > 0 {
				pair.Human = t[0]
			}
			if len(t) > 1 {
				pair.Assistant = t[1]
			}
			*h = append(*h, pair)
		}
		return nil
	}

	// Record shape: [{"type":"human","content":"..."}, ...]
	var records []struct {
		Type    string `json:"type"`
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("chat history: unrecognized shape: %w", err)
	}
	var pending *HistoryPair
	for _, rec := range records {
		kind := rec.Type
		if kind == "" {
			kind = rec.Role
		}
		switch kind {
		case "human", "user":
			if pending != nil {
				*h = append(*h, *pending)
			}
			pending = &HistoryPair{Human: rec.Content}
		case "ai", "assistant":
			if pending == nil {
				pending = &HistoryPair{}
			}
			pending.Assistant = rec.Content
			*h = append(*h, *pending)
			pending = nil
		}
	}
	if pending != nil {
		*h = append(*h, *pending)
	}
	return nil
}

// normalize drops exchanges where either side is empty after trimming.
func (h ChatHistory) normalize() ChatHistory {
	var out ChatHistory
	for _, pair := range h {
		if strings.TrimSpace(pair.Human) == "" || strings.TrimSpace(pair.Assistant) == "" {
			continue
		}
		out = append(out, pair)
	}
	return out
}

// AssembleInput is one prompt assembly request.
type AssembleInput struct {
	Question       string
	History        ChatHistory
	Files          []string
	AuxNotes       string // optional AST-style auxiliary notes
	ConversationID string
	Descriptor     ModelDescriptor
	ThinkingMode   bool
}

// PromptAssembler builds the ordered message list for one request: system
// prompt (split for caching when the descriptor supports it), chat history,
// and the user question.
type PromptAssembler struct {
	oracle   FileStateOracle
	splitter *ContextSplitter
	cache    *PromptCache
	template string
	logger   *slog.Logger
}

// AssemblerOption configures a PromptAssembler.
type AssemblerOption func(*PromptAssembler)

// WithSystemTemplate overrides the system instruction preamble.
func WithSystemTemplate(t string) AssemblerOption {
	return func(a *PromptAssembler) { a.template = t }
}

// WithAssemblerLogger sets a structured logger.
func WithAssemblerLogger(l *slog.Logger) AssemblerOption {
	return func(a *PromptAssembler) { a.logger = l }
}

// NewPromptAssembler creates an assembler. cache may be nil.
func NewPromptAssembler(oracle FileStateOracle, splitter *ContextSplitter, cache *PromptCache, opts ...AssemblerOption) *PromptAssembler {
	a := &PromptAssembler{
		oracle:   oracle,
		splitter: splitter,
		cache:    cache,
		template: DefaultSystemTemplate,
		logger:   NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the message list. The returned notes describe the
// pre-streaming work performed (codebase rendering, cache decisions); they
// ride along in error envelopes.
func (a *PromptAssembler) Assemble(ctx context.Context, in AssembleInput) ([]Message, []string, error) {
	if strings.TrimSpace(in.Question) == "" {
		return nil, nil, &Error{Kind: ErrValidation, Detail: "question must not be empty", StatusCode: 400}
	}

	var notes []string

	codebase := a.renderCodebase(ctx, in.ConversationID, in.Files)
	if codebase != "" {
		notes = append(notes, fmt.Sprintf("rendered codebase section: %d files, %d bytes", len(in.Files), len(codebase)))
	}

	base := a.template
	if in.ThinkingMode && in.Descriptor.SupportsThinking {
		base = thinkingInstruction + base
	}
	system := base
	if codebase != "" {
		system += "\n\n" + codebase
	}
	if in.AuxNotes != "" {
		system += "\n\n" + in.AuxNotes
	}

	var messages []Message
	if in.Descriptor.SupportsContextCaching && codebase != "" {
		split := a.splitter.Split(ctx, in.ConversationID, base+"\n\n"+codebase, in.Files)
		if !split.Empty() {
			stable := SystemMessage(base + "\n\n" + CodebasePreamble + "\n" + split.StableContent)
			stable.CacheControl = CacheEphemeral
			messages = append(messages, stable)
			dynamic := split.DynamicContent
			if in.AuxNotes != "" {
				dynamic += "\n" + in.AuxNotes
			}
			if dynamic != "" {
				messages = append(messages, SystemMessage(dynamic))
			}
			notes = append(notes, fmt.Sprintf("context split: %d stable / %d dynamic files",
				len(split.StableFiles), len(split.DynamicFiles)))
			a.recordCacheEntry(in, system)
		} else {
			messages = append(messages, SystemMessage(system))
			notes = append(notes, "context split below threshold, unsplit system message")
		}
	} else {
		messages = append(messages, SystemMessage(system))
	}

	for _, pair := range in.History.normalize() {
		messages = append(messages, UserMessage(pair.Human), AssistantMessage(pair.Assistant))
	}
	messages = append(messages, UserMessage(in.Question))

	return MergeSystemMessages(messages), notes, nil
}

// renderCodebase builds the codebase section: change-summary prefaces, then
// each file's annotated content delimited by "File: <path>" lines, in file
// selection order.
func (a *PromptAssembler) renderCodebase(ctx context.Context, conversationID string, files []string) string {
	if len(files) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(CodebasePreamble)
	b.WriteString("\n")

	overall, recent := a.oracle.ChangeSummaries(ctx, conversationID)
	if overall != "" {
		b.WriteString("Overall changes:\n" + overall + "\n")
	}
	if recent != "" {
		b.WriteString("Recent changes:\n" + recent + "\n")
	}

	for _, path := range files {
		lines, err := a.oracle.AnnotatedContent(ctx, conversationID, path)
		if err != nil {
			a.logger.Warn("skipping unreadable file", "path", path, "error", err)
			continue
		}
		b.WriteString(filePrefix + path + "\n")
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

// recordCacheEntry registers the assembled prompt in the prompt cache.
func (a *PromptAssembler) recordCacheEntry(in AssembleInput, system string) {
	if a.cache == nil {
		return
	}
	key := a.cache.Key(in.ConversationID, a.template, in.Files)
	a.cache.Put(key, CacheEntry{
		StructureHash:   hashContent(a.template),
		FileContentHash: hashContent(system),
		ConversationID:  in.ConversationID,
		FilePaths:       append([]string(nil), in.Files...),
		TokenCount:      len(system) / 4,
	})
}

// MergeSystemMessages merges consecutive system messages at the head of the
// list into at most two (stable + dynamic), or one when cache-control
// annotations do not force a boundary. System messages found later in the
// list are illegal and dropped.
func MergeSystemMessages(messages []Message) []Message {
	var systems []Message
	var rest []Message
	head := true
	for _, m := range messages {
		if m.Role == "system" && head {
			systems = append(systems, m)
			continue
		}
		head = false
		if m.Role == "system" {
			continue
		}
		rest = append(rest, m)
	}
	if len(systems) <= 1 {
		return append(systems, rest...)
	}

	// Merge runs that share a cache-control annotation, preserving order.
	var merged []Message
	for _, m := range systems {
		if len(merged) > 0 && merged[len(merged)-1].CacheControl == m.CacheControl {
			prev := &merged[len(merged)-1]
			prev.Content = []ContentBlock{{Type: BlockText, Text: prev.Text() + "\n\n" + m.Text()}}
			continue
		}
		merged = append(merged, m)
	}
	return append(merged, rest...)
}
