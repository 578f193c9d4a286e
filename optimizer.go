package ziya

import (
	"regexp"
	"strings"
)

// visualizationTags are fence tags whose blocks render client-side as a
// whole; emitting them piecemeal produces flicker and broken diagrams, so
// the optimizer holds the entire block and emits it atomically.
var visualizationTags = map[string]bool{
	"mermaid":   true,
	"vega-lite": true,
	"graphviz":  true,
	"d3":        true,
}

// fakeToolPatterns match Markdown pseudo-tool-calls some models emit instead
// of native tool calls. These are suppressed from the outgoing stream and
// never executed.
var fakeToolPatterns = []*regexp.Regexp{
	regexp.MustCompile("(?s)```tool:mcp_\\w+\\n\\$\\s*[^`]*```"),
	regexp.MustCompile(`(?m)^:?(?:mcp_)?run_shell_command\n\$\s*[^\n]*\n`),
}

// fakeToolPrefixes are the openings of the patterns above; while the buffer
// tail could still grow into a full match, the optimizer keeps buffering.
var fakeToolPrefixes = []string{"```tool:", "run_shell_command\n$", ":mcp_run_shell_command\n$"}

const (
	optimizerMinChunk  = 15
	optimizerMaxBuffer = 500
	// Safety valve: even inside a visualization block, a buffer this large
	// flushes to keep memory bounded.
	optimizerHardLimit = 64 * 1024
)

// ContentOptimizer batches streamed text so chunks never split mid-word,
// holds visualization blocks until their closing fence, and strips
// pseudo-tool-call sequences. At most ~500 bytes of trailing unterminated
// content are held back between chunks.
type ContentOptimizer struct {
	buffer  strings.Builder
	blocked int
}

// Blocked returns how many pseudo-tool-call sequences were suppressed.
func (o *ContentOptimizer) Blocked() int { return o.blocked }

// Add appends streamed content and returns any chunks ready to emit.
func (o *ContentOptimizer) Add(content string) []string {
	o.buffer.WriteString(content)
	buf := o.buffer.String()

	if o.holding(buf) {
		if len(buf) < optimizerHardLimit {
			return nil
		}
		// Fall through and flush; better a torn block than unbounded growth.
	}

	buf, stripped := stripFakeToolCalls(buf)
	o.blocked += stripped
	if stripped > 0 {
		o.buffer.Reset()
		o.buffer.WriteString(buf)
	}

	if len(buf) < optimizerMinChunk {
		return nil
	}
	if len(buf) <= optimizerMaxBuffer && !strings.ContainsAny(buf, " \t\n") {
		// No word boundary yet; keep holding.
		return nil
	}

	emit, hold := splitAtLastBoundary(buf)
	if emit == "" {
		return nil
	}
	o.buffer.Reset()
	o.buffer.WriteString(hold)
	return []string{emit}
}

// Flush returns all held content. Call at end of turn.
func (o *ContentOptimizer) Flush() string {
	buf, stripped := stripFakeToolCalls(o.buffer.String())
	o.blocked += stripped
	o.buffer.Reset()
	return buf
}

// holding reports whether the buffer ends inside a region that must be
// emitted atomically: an open visualization block, or a possible
// pseudo-tool-call still being streamed.
func (o *ContentOptimizer) holding(buf string) bool {
	if tag, open := openFenceTag(buf); open && visualizationTags[tag] {
		return true
	}
	for _, prefix := range fakeToolPrefixes {
		if i := strings.LastIndex(buf, prefix); i >= 0 {
			tail := buf[i:]
			if !fakeToolComplete(tail) {
				return true
			}
		}
	}
	return false
}

// openFenceTag reports whether buf ends inside a fenced block and the tag of
// the innermost open fence.
func openFenceTag(buf string) (string, bool) {
	var stack []string
	for _, line := range strings.Split(buf, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "```") {
			continue
		}
		tag := strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
		if tag == "" && len(stack) > 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		if tag == "" {
			tag = "code"
		}
		stack = append(stack, tag)
	}
	if len(stack) == 0 {
		return "", false
	}
	return stack[len(stack)-1], true
}

// fakeToolComplete reports whether tail already contains a full
// pseudo-tool-call match (so it can be stripped rather than held).
func fakeToolComplete(tail string) bool {
	for _, pat := range fakeToolPatterns {
		if pat.MatchString(tail) {
			return true
		}
	}
	return false
}

// stripFakeToolCalls removes complete pseudo-tool-call sequences.
func stripFakeToolCalls(s string) (string, int) {
	stripped := 0
	for _, pat := range fakeToolPatterns {
		matches := pat.FindAllStringIndex(s, -1)
		if len(matches) == 0 {
			continue
		}
		stripped += len(matches)
		s = pat.ReplaceAllString(s, "")
	}
	return s, stripped
}

// splitAtLastBoundary splits s at the last whitespace run, emitting
// everything through it and holding the trailing partial word.
func splitAtLastBoundary(s string) (emit, hold string) {
	i := strings.LastIndexAny(s, " \t\n")
	if i < 0 {
		if len(s) > optimizerMaxBuffer {
			return s, ""
		}
		return "", s
	}
	return s[:i+1], s[i+1:]
}
