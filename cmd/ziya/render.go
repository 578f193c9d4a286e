package main

import (
	"fmt"
	"io"
	"strings"

	ziya "github.com/ziya-ai/ziya"
)

// renderEvents draws the event stream onto a terminal writer and returns the
// concatenated assistant text. An error event becomes the returned error,
// after any preserved content has been printed.
func renderEvents(w io.Writer, events <-chan ziya.StreamEvent) (string, error) {
	var answer strings.Builder
	for ev := range events {
		switch ev.Type {
		case ziya.EventText:
			answer.WriteString(ev.Content)
			fmt.Fprint(w, ev.Content)
		case ziya.EventToolStart:
			fmt.Fprintf(w, "\n[tool] %s ...\n", ev.ToolName)
		case ziya.EventToolDisplay:
			fmt.Fprintf(w, "[tool] %s → %s\n", ev.ToolName, firstLine(ev.Result))
		case ziya.EventIterationContinue:
			if ev.CodeBlockContinuation {
				fmt.Fprintf(w, "\n[continuing %s block]\n", ev.BlockType)
			}
		case ziya.EventError:
			if ev.Envelope == nil {
				return answer.String(), fmt.Errorf("stream failed")
			}
			if ev.Envelope.PreservedText != "" && answer.Len() == 0 {
				fmt.Fprintln(w, ev.Envelope.PreservedText)
			}
			fmt.Fprintln(w)
			return answer.String(), fmt.Errorf("%s: %s", ev.Envelope.Error, ev.Envelope.Detail)
		case ziya.EventStreamEnd:
			fmt.Fprintln(w)
		}
	}
	return answer.String(), nil
}

// firstLine truncates a tool result for the single-line terminal display.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
