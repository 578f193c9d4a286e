package ziya

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ziya-ai/ziya/mcp"
)

// Loop bounds and thresholds. Overridable per LoopConfig; the zero value
// takes these defaults.
const (
	DefaultMaxIterations = 50
	DefaultChunkTimeout  = 60 * time.Second
	// After this many consecutive empty tool calls the loop injects an
	// instruction to answer without tools.
	DefaultEmptyToolCallSoftLimit = 3
	// After this many, tools are omitted from the request body entirely.
	DefaultEmptyToolCallHardLimit = 5
	// More blocked (duplicate or suppressed) tool calls than this in one
	// iteration ends the stream.
	DefaultMaxBlockedToolCalls = 3
	// A heartbeat is emitted at least every this many chunks.
	DefaultHeartbeatEvery = 10
)

// ToolRunner is the slice of the MCP manager the loop needs.
type ToolRunner interface {
	ToolLister
	CallTool(ctx context.Context, name string, args map[string]any) (mcp.ToolCallResult, error)
}

// LoopConfig wires one streaming tool loop.
type LoopConfig struct {
	Provider Provider   // already wrapped with WithRetry
	Tools    ToolRunner // nil = no tools offered
	Oracle   FileStateOracle
	Params   map[string]any // caller parameter bag, filtered per descriptor

	MaxIterations          int
	ChunkTimeout           time.Duration
	EmptyToolCallSoftLimit int
	EmptyToolCallHardLimit int
	MaxBlockedToolCalls    int
	HeartbeatEvery         int

	// Tracer, when set, records one span per loop iteration.
	Tracer Tracer

	Logger *slog.Logger
}

func (c *LoopConfig) applyDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.ChunkTimeout == 0 {
		c.ChunkTimeout = DefaultChunkTimeout
	}
	if c.EmptyToolCallSoftLimit == 0 {
		c.EmptyToolCallSoftLimit = DefaultEmptyToolCallSoftLimit
	}
	if c.EmptyToolCallHardLimit == 0 {
		c.EmptyToolCallHardLimit = DefaultEmptyToolCallHardLimit
	}
	if c.MaxBlockedToolCalls == 0 {
		c.MaxBlockedToolCalls = DefaultMaxBlockedToolCalls
	}
	if c.HeartbeatEvery == 0 {
		c.HeartbeatEvery = DefaultHeartbeatEvery
	}
	if c.Logger == nil {
		c.Logger = NopLogger()
	}
}

// RunInput is one streaming request handed to the loop.
type RunInput struct {
	ConversationID string
	Messages       []Message // assembled by the PromptAssembler
	// Notes are the pre-streaming work notes; they ride in error envelopes.
	Notes []string
}

// Loop drives the multi-round tool-using conversation for one request: it
// streams a model turn, executes the tool calls the model emits, feeds the
// results back, and repeats until the model stops or a safety bound trips.
type Loop struct {
	cfg LoopConfig

	// convLocks serializes conversation-state mutation per conversation id.
	convLocks sync.Map // string -> *sync.Mutex
}

// NewLoop creates a streaming tool loop.
func NewLoop(cfg LoopConfig) *Loop {
	cfg.applyDefaults()
	return &Loop{cfg: cfg}
}

// iterState is the per-iteration working set. Request-wide counters live in
// runState instead.
type iterState struct {
	optimizer     ContentOptimizer
	assistantText strings.Builder
	activeTools   map[int]*ToolCall
	skipped       map[int]bool
	toolUses      []indexedToolUse
	toolResults   []ToolResult
	emptyCalls    int
	blockedCalls  int
	sawStop       bool
	timedOut      bool
}

func newIterState() *iterState {
	return &iterState{
		activeTools: map[int]*ToolCall{},
		skipped:     map[int]bool{},
	}
}

// runState is the request-wide working set.
type runState struct {
	streamID      string
	conversation  []Message
	notes         []string
	metrics       StreamMetrics
	executedSigs  map[string]bool // "name\x00id" pairs already executed
	preserved     []ToolResult    // successful results, for error envelopes
	consecEmpty   int
	suppressTools bool
	continuations int
	tracker       CodeBlockTracker
	chunksSinceHB int
}

// Run executes the loop, writing events to events until the request ends,
// and returns the stream's counters. The channel is closed before returning.
// On success the file state oracle's MarkContextSubmission is invoked under
// the per-conversation lock; on error or cancellation it is not.
func (l *Loop) Run(ctx context.Context, in RunInput, events chan<- StreamEvent) StreamMetrics {
	defer close(events)

	run := &runState{
		streamID:     NewID(),
		conversation: append([]Message(nil), in.Messages...),
		notes:        append([]string(nil), in.Notes...),
		executedSigs: map[string]bool{},
	}

	completed := l.iterate(ctx, in, run, events)
	if !completed {
		return run.metrics
	}

	if l.cfg.Oracle != nil {
		mu := l.lockFor(in.ConversationID)
		mu.Lock()
		l.cfg.Oracle.MarkContextSubmission(ctx, in.ConversationID)
		mu.Unlock()
	}
	return run.metrics
}

// iterate runs the bounded turn loop. It returns true when the request
// finished cleanly with a stream_end (including the loop-bound and safety
// cutoffs) and false on fatal error or cancellation.
func (l *Loop) iterate(ctx context.Context, in RunInput, run *runState, events chan<- StreamEvent) bool {
	emit := func(ev StreamEvent) bool { return l.emit(ctx, run, events, ev) }

	for iter := 0; iter < l.cfg.MaxIterations; iter++ {
		run.metrics.Iterations++

		var tools []ToolDescriptor
		if l.cfg.Tools != nil && !run.suppressTools {
			tools = BuildToolset(ctx, l.cfg.Tools, l.cfg.Logger)
		}
		params := FilterParams(l.cfg.Params, l.cfg.Provider.Descriptor())

		// The model call can block through backoff sleeps; keep the
		// connection alive first.
		if !emit(StreamEvent{Type: EventHeartbeat, TimestampMS: NowUnixMS()}) {
			return false
		}

		iterCtx, cancelIter := context.WithCancel(ctx)
		var iterSpan Span
		if l.cfg.Tracer != nil {
			iterCtx, iterSpan = l.cfg.Tracer.Start(iterCtx, "stream.iteration",
				IntAttr("iteration", iter),
				BoolAttr("has_tools", len(tools) > 0))
		}
		endIter := func() {
			if iterSpan != nil {
				iterSpan.End()
			}
			cancelIter()
		}
		ch, err := l.cfg.Provider.Stream(iterCtx, Request{
			Messages: SanitizeConversation(run.conversation),
			Tools:    tools,
			Params:   params,
		})
		if err != nil {
			if iterSpan != nil {
				iterSpan.Error(err)
			}
			endIter()
			l.emitError(ctx, run, events, err)
			return false
		}

		st := newIterState()
		fatal := l.consumeStream(iterCtx, ch, st, run, emit)
		if iterSpan != nil {
			iterSpan.SetAttr(IntAttr("tool_calls", len(st.toolUses)))
			if fatal != nil {
				iterSpan.Error(fatal)
			}
		}
		endIter()
		if fatal != nil {
			l.emitError(ctx, run, events, fatal)
			return false
		}
		if ctx.Err() != nil {
			// Client went away; end quietly at the chunk boundary.
			emit(StreamEvent{Type: EventStreamEnd})
			return false
		}

		l.reconcile(st, run)

		if st.blockedCalls > l.cfg.MaxBlockedToolCalls {
			l.cfg.Logger.Warn("too many blocked tool calls, ending stream",
				"blocked", st.blockedCalls, "iteration", iter)
			emit(StreamEvent{Type: EventStreamEnd})
			return true
		}

		if st.timedOut {
			if !emit(StreamEvent{Type: EventIterationContinue, Iteration: iter + 1}) {
				return false
			}
			continue
		}

		executed := len(st.toolResults) > 0
		if executed {
			if st.emptyCalls == 0 {
				run.consecEmpty = 0
			}
			run.metrics.ConsecutiveEmptyToolCalls = run.consecEmpty
			if run.consecEmpty >= l.cfg.EmptyToolCallHardLimit {
				l.cfg.Logger.Warn("suppressing tools after repeated empty calls",
					"consecutive", run.consecEmpty)
				run.conversation = append(run.conversation, UserMessage(
					"Stop calling tools. Answer the question directly using the context you already have."))
				run.suppressTools = true
			} else if run.consecEmpty >= l.cfg.EmptyToolCallSoftLimit {
				run.conversation = append(run.conversation, UserMessage(
					"Your recent tool calls were malformed. If you cannot produce a valid call, answer directly without tools."))
			}
			if !emit(StreamEvent{Type: EventIterationContinue, Iteration: iter + 1}) {
				return false
			}
			continue
		}

		// No tool ran this turn: decide between auto-continuation of an
		// open fenced block, a finishing turn, and ending the stream.
		if tag, open := run.tracker.Open(); open && run.continuations < MaxContinuations {
			if strings.TrimSpace(st.assistantText.String()) == "" && run.continuations > 0 {
				// A continuation that produced nothing; stop continuing.
				emit(StreamEvent{Type: EventStreamEnd})
				return true
			}
			run.continuations++
			// The model re-produces the unterminated final line in full;
			// drop it from the history and tell the client where to splice
			// the continuation via the rewind comment.
			complete, partial := trimTrailingAssistant(run)
			if !emit(StreamEvent{
				Type:        EventText,
				Content:     rewindComment(complete, partial),
				TimestampMS: NowUnixMS(),
			}) {
				return false
			}
			run.conversation = append(run.conversation, UserMessage(continuationPrompt(tag)))
			if !emit(StreamEvent{
				Type:                  EventIterationContinue,
				Iteration:             iter + 1,
				CodeBlockContinuation: true,
				BlockType:             tag,
			}) {
				return false
			}
			continue
		}

		if l.shouldContinue(st.assistantText.String(), iter) {
			if !emit(StreamEvent{Type: EventIterationContinue, Iteration: iter + 1}) {
				return false
			}
			continue
		}

		emit(StreamEvent{Type: EventStreamEnd})
		return true
	}

	l.cfg.Logger.Warn("iteration bound reached", "max", l.cfg.MaxIterations)
	emit(StreamEvent{Type: EventStreamEnd})
	return true
}

// consumeStream drives one model turn's chunk state machine. A non-nil
// return is a fatal classified error. Inactivity beyond ChunkTimeout ends
// the turn (not the request) with a placeholder note.
func (l *Loop) consumeStream(ctx context.Context, ch <-chan Chunk, st *iterState, run *runState, emit func(StreamEvent) bool) error {
	timer := time.NewTimer(l.cfg.ChunkTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			l.cfg.Logger.Warn("stream inactivity timeout, ending iteration",
				"timeout", l.cfg.ChunkTimeout)
			if st.assistantText.Len() == 0 {
				st.assistantText.WriteString(fmt.Sprintf(
					"[No response received within %s; continuing]", l.cfg.ChunkTimeout))
			}
			st.timedOut = true
			return nil
		case chunk, ok := <-ch:
			if !ok {
				l.flushText(st, run, emit)
				run.tracker.Finalize()
				return nil
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(l.cfg.ChunkTimeout)

			run.chunksSinceHB++
			if run.chunksSinceHB >= l.cfg.HeartbeatEvery {
				run.chunksSinceHB = 0
				if !emit(StreamEvent{Type: EventHeartbeat, TimestampMS: NowUnixMS()}) {
					return nil
				}
			}

			if err := l.handleChunk(ctx, chunk, st, run, emit); err != nil {
				return err
			}
			if st.sawStop {
				return nil
			}
		}
	}
}

// handleChunk advances the per-iteration state machine by one chunk.
func (l *Loop) handleChunk(ctx context.Context, chunk Chunk, st *iterState, run *runState, emit func(StreamEvent) bool) error {
	switch c := chunk.(type) {
	case TextDelta:
		st.assistantText.WriteString(c.Text)
		run.tracker.Feed(c.Text)
		for _, piece := range st.optimizer.Add(c.Text) {
			if !emit(StreamEvent{Type: EventText, Content: piece, TimestampMS: NowUnixMS()}) {
				return nil
			}
		}

	case ToolUseStart:
		sig := c.Name + "\x00" + c.ID
		if run.executedSigs[sig] {
			l.cfg.Logger.Warn("duplicate tool call skipped", "tool", c.Name, "id", c.ID)
			st.skipped[c.Index] = true
			st.blockedCalls++
			return nil
		}
		st.activeTools[c.Index] = &ToolCall{ID: c.ID, Name: c.Name, Index: c.Index}
		if !emit(StreamEvent{
			Type:        EventToolStart,
			ToolID:      c.ID,
			ToolName:    c.Name,
			TimestampMS: NowUnixMS(),
		}) {
			return nil
		}

	case ToolInputDelta:
		if st.skipped[c.Index] {
			return nil
		}
		if tc := st.activeTools[c.Index]; tc != nil {
			tc.PartialInput += c.Fragment
		}

	case ContentBlockStop:
		if st.skipped[c.Index] {
			return nil
		}
		tc := st.activeTools[c.Index]
		if tc == nil {
			return nil
		}
		delete(st.activeTools, c.Index)
		l.finalizeToolCall(ctx, tc, st, run, emit)

	case MessageStop:
		l.flushText(st, run, emit)
		run.tracker.Finalize()
		st.sawStop = true

	case ProviderError:
		return c.Err
	}
	return nil
}

// flushText drains the optimizer at end of turn.
func (l *Loop) flushText(st *iterState, run *runState, emit func(StreamEvent) bool) {
	if tail := st.optimizer.Flush(); tail != "" {
		emit(StreamEvent{Type: EventText, Content: tail, TimestampMS: NowUnixMS()})
	}
	st.blockedCalls += st.optimizer.Blocked()
}

// finalizeToolCall parses the accumulated input and executes the tool,
// synthesizing a corrective result for schema-less shell calls instead of
// invoking them.
func (l *Loop) finalizeToolCall(ctx context.Context, tc *ToolCall, st *iterState, run *runState, emit func(StreamEvent) bool) {
	input := strings.TrimSpace(tc.PartialInput)
	if input == "" {
		input = "{}"
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		l.cfg.Logger.Warn("tool input is not valid JSON", "tool", tc.Name, "error", err)
		args = map[string]any{}
	}
	rawInput := json.RawMessage(input)
	if !json.Valid(rawInput) {
		rawInput = json.RawMessage(`{}`)
	}

	shortName := strings.TrimPrefix(tc.Name, MCPPrefix)
	if shortName == "run_shell_command" {
		if cmd, _ := args["command"].(string); cmd == "" {
			st.emptyCalls++
			run.consecEmpty++
			run.metrics.ConsecutiveEmptyToolCalls = run.consecEmpty
			result := ToolResult{
				ToolUseID: tc.ID,
				ToolName:  tc.Name,
				Content: `Error: Tool call failed - the 'command' parameter is required but was not provided. ` +
					`Call run_shell_command with a JSON object containing the command string, for example {"command": "ls -la"}. Retry with the correct format.`,
				IsError: true,
			}
			l.recordToolResult(tc, rawInput, result, st, run, emit)
			return
		}
	}

	// Long tool runs must not starve the connection.
	emit(StreamEvent{Type: EventHeartbeat, TimestampMS: NowUnixMS()})

	run.metrics.ToolExecutions++
	result := ToolResult{ToolUseID: tc.ID, ToolName: tc.Name}
	if l.cfg.Tools == nil {
		result.Content = "ERROR: no tool servers are available. Answer without tools."
		result.IsError = true
	} else if callRes, err := l.cfg.Tools.CallTool(ctx, tc.Name, args); err != nil {
		result.Content = "ERROR: " + err.Error() + ". Check the tool name and argument schema, then retry or answer without the tool."
		result.IsError = true
	} else if callRes.IsError {
		result.Content = "ERROR: " + callRes.Text()
		result.IsError = true
	} else {
		result.Content = callRes.Text()
		run.metrics.SuccessfulTools++
		run.preserved = append(run.preserved, result)
	}

	l.recordToolResult(tc, rawInput, result, st, run, emit)
}

// recordToolResult files the tool_use block and its result and notifies the
// frontend. The model sees the pair only at the turn boundary.
func (l *Loop) recordToolResult(tc *ToolCall, input json.RawMessage, result ToolResult, st *iterState, run *runState, emit func(StreamEvent) bool) {
	sig := tc.Name + "\x00" + tc.ID
	run.executedSigs[sig] = true
	st.toolUses = append(st.toolUses, indexedToolUse{
		index:  tc.Index,
		block:  ContentBlock{Type: BlockToolUse, ID: tc.ID, Name: tc.Name, Input: input},
		result: result,
	})
	st.toolResults = append(st.toolResults, result)

	emit(StreamEvent{
		Type:        EventToolDisplay,
		ToolID:      tc.ID,
		ToolName:    tc.Name,
		Args:        input,
		Result:      result.Content,
		TimestampMS: NowUnixMS(),
	})
}

// reconcile appends the turn's assistant message and tool results to the
// conversation, in the exact order the blocks appeared.
func (l *Loop) reconcile(st *iterState, run *runState) {
	text, _ := stripFakeToolCalls(st.assistantText.String())

	uses := append([]indexedToolUse(nil), st.toolUses...)
	sort.Slice(uses, func(i, j int) bool { return uses[i].index < uses[j].index })

	var blocks []ContentBlock
	if strings.TrimSpace(text) != "" {
		blocks = append(blocks, ContentBlock{Type: BlockText, Text: text})
	}
	var results []ToolResult
	for _, u := range uses {
		blocks = append(blocks, u.block)
		results = append(results, u.result)
	}
	if len(blocks) == 0 {
		return
	}
	run.conversation = append(run.conversation, Message{Role: "assistant", Content: blocks})

	if len(results) > 0 {
		run.conversation = append(run.conversation, ToolResultMessage(results...))
	}
}

// trimTrailingAssistant removes the unterminated final line from the last
// assistant message's text block before a continuation turn, so the model
// re-produces that line in full instead of resuming mid-line. It returns the
// remaining complete text and the partial line dropped. A message whose text
// is a single unterminated line is left intact: gutting it would cost the
// model the open fence itself.
func trimTrailingAssistant(run *runState) (complete, partial string) {
	for i := len(run.conversation) - 1; i >= 0; i-- {
		m := &run.conversation[i]
		if m.Role != "assistant" {
			continue
		}
		for j := len(m.Content) - 1; j >= 0; j-- {
			b := &m.Content[j]
			if b.Type != BlockText {
				continue
			}
			trimmed := TrimPartialLine(b.Text)
			if trimmed == "" || trimmed == b.Text {
				return b.Text, ""
			}
			partial = b.Text[len(trimmed):]
			b.Text = trimmed
			return trimmed, partial
		}
		return "", ""
	}
	return "", ""
}

// indexedToolUse pairs a finalized tool_use block with its content-block
// index and result so reconciliation can restore the exact emission order.
type indexedToolUse struct {
	index  int
	block  ContentBlock
	result ToolResult
}

// shouldContinue applies the end-of-text heuristic: a turn that stops inside
// trailing commentary after a fenced block, or on a trailing colon, gets one
// more turn to finish; complete prose ends the stream.
func (l *Loop) shouldContinue(text string, iter int) bool {
	if iter+1 >= l.cfg.MaxIterations {
		return false
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if strings.HasSuffix(trimmed, ":") {
		return true
	}

	lastFence := strings.LastIndex(text, "```")
	if lastFence < 0 {
		// Plain prose with no blocks: the model stopped on purpose.
		return false
	}
	// Trailing commentary starts after the fence line itself (the bare
	// closer or the tagged opener, whichever came last).
	tail := text[lastFence:]
	if i := strings.IndexByte(tail, '\n'); i >= 0 {
		tail = strings.TrimSpace(tail[i+1:])
	} else {
		tail = ""
	}
	words := len(strings.Fields(tail))
	if words >= 20 && (strings.HasSuffix(tail, ".") || strings.HasSuffix(tail, "!") || strings.HasSuffix(tail, "?")) {
		return false
	}
	return words < 20
}

// emit sends one event, accounting for metrics. It returns false when the
// context is done.
func (l *Loop) emit(ctx context.Context, run *runState, events chan<- StreamEvent, ev StreamEvent) bool {
	size := len(ev.Content)
	if size == 0 {
		size = len(ev.Result)
	}
	run.metrics.recordEvent(size)
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// emitError packages a fatal failure with everything preserved so far into
// exactly one error event.
func (l *Loop) emitError(ctx context.Context, run *runState, events chan<- StreamEvent, err error) {
	cerr := Classify(err)
	envelope := &ErrorEnvelope{
		Error:                 string(cerr.Kind),
		Detail:                cerr.Detail,
		StatusCode:            cerr.StatusCode,
		RetryAfter:            cerr.RetryAfter,
		SuccessfulToolResults: run.preserved,
		PreStreamingWork:      run.notes,
		ToolExecutionSummary:  &run.metrics,
		StreamID:              run.streamID,
	}
	// Preserve whatever text already reached the conversation this request.
	for i := len(run.conversation) - 1; i >= 0; i-- {
		if run.conversation[i].Role == "assistant" {
			envelope.PreservedText = run.conversation[i].Text()
			break
		}
	}
	l.cfg.Logger.Error("stream failed", "kind", string(cerr.Kind), "detail", cerr.Detail, "stream_id", run.streamID)
	select {
	case events <- StreamEvent{Type: EventError, Envelope: envelope}:
	case <-ctx.Done():
	}
}

func (l *Loop) lockFor(conversationID string) *sync.Mutex {
	mu, _ := l.convLocks.LoadOrStore(conversationID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// SanitizeConversation filters out anything a model must never see: content
// blocks of frontend-only event types and messages left empty by the
// filtering. Defensive; the loop never inserts such blocks itself.
func SanitizeConversation(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		var blocks []ContentBlock
		for _, b := range m.Content {
			switch b.Type {
			case BlockText, BlockToolUse, BlockToolResult:
				blocks = append(blocks, b)
			}
		}
		if len(blocks) == 0 {
			continue
		}
		m.Content = blocks
		out = append(out, m)
	}
	return out
}
