package ziya

import (
	"fmt"
	"strings"
)

// MaxContinuations bounds the auto-continuation turns issued to close a
// fenced block left open at end of stream.
const MaxContinuations = 10

// CodeBlockTracker follows fenced blocks across stream boundaries. It parses
// emitted text line by line, maintaining a stack of open fences: a line whose
// first non-whitespace token starts with ``` and carries a tag opens a block;
// a bare ``` closes the innermost one and is ignored when no block is open.
type CodeBlockTracker struct {
	stack   []string
	partial string // trailing text with no newline yet
}

// Feed consumes a piece of streamed text.
func (t *CodeBlockTracker) Feed(text string) {
	t.partial += text
	for {
		line, rest, found := strings.Cut(t.partial, "\n")
		if !found {
			return
		}
		t.feedLine(line)
		t.partial = rest
	}
}

func (t *CodeBlockTracker) feedLine(line string) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "```") {
		return
	}
	tag := strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
	if tag == "" {
		if len(t.stack) > 0 {
			t.stack = t.stack[:len(t.stack)-1]
		}
		return
	}
	t.stack = append(t.stack, tag)
}

// Finalize folds any trailing partial line into the state. Call at message
// stop, before consulting Open.
func (t *CodeBlockTracker) Finalize() {
	if t.partial != "" {
		t.feedLine(t.partial)
		t.partial = ""
	}
}

// Open reports whether a fenced block is still open and the innermost tag.
func (t *CodeBlockTracker) Open() (string, bool) {
	if len(t.stack) == 0 {
		return "", false
	}
	return t.stack[len(t.stack)-1], true
}

// Depth returns the number of open fences.
func (t *CodeBlockTracker) Depth() int { return len(t.stack) }

// Reset clears the tracker for a fresh turn while keeping nothing.
func (t *CodeBlockTracker) Reset() {
	t.stack = t.stack[:0]
	t.partial = ""
}

// TrimPartialLine removes an unterminated final line from text; the
// continuation turn re-produces it in full.
func TrimPartialLine(text string) string {
	if text == "" || strings.HasSuffix(text, "\n") {
		return text
	}
	i := strings.LastIndexByte(text, '\n')
	if i < 0 {
		return ""
	}
	return text[:i+1]
}

// rewindComment marks the splice point for a continuation turn: the index of
// the last complete line already streamed and the partial line dropped from
// the model-facing history. The client rewinds to that line and merges the
// continuation without duplicating or losing the partial content.
func rewindComment(complete, partial string) string {
	lastComplete := strings.Count(complete, "\n")
	if lastComplete > 0 {
		lastComplete--
	}
	return fmt.Sprintf("<!-- REWIND_MARKER: %d|PARTIAL:%s -->\n", lastComplete, partial)
}

// continuationPrompt instructs the model to resume an interrupted block.
func continuationPrompt(blockType string) string {
	return "Your previous response was interrupted inside an open ```" + blockType +
		" block. Continue exactly where you left off and close the block. " +
		"Do not repeat content you already produced and do not add commentary before the continuation."
}
