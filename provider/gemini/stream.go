package gemini

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	ziya "github.com/ziya-ai/ziya"
)

// streamSSE reads the alt=sse generateContent stream and emits unified
// chunks. Gemini delivers function calls whole inside a part, so each one is
// synthesized into the start/delta/stop chunk triple at a fresh block index.
func streamSSE(ctx context.Context, body io.Reader, ch chan<- ziya.Chunk) {
	defer close(ch)

	emit := func(c ziya.Chunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	nextBlock := 1 // index 0 is the text block
	for scanner.Scan() {
		data, found := strings.CutPrefix(scanner.Text(), "data: ")
		if !found {
			continue
		}

		var chunk genResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		cand := chunk.Candidates[0]
		for _, pt := range cand.Content.Parts {
			if pt.Text != "" {
				if !emit(ziya.TextDelta{Text: pt.Text}) {
					return
				}
			}
			if pt.FunctionCall != nil {
				idx := nextBlock
				nextBlock++
				id := ziya.NewID()
				if !emit(ziya.ToolUseStart{ID: id, Name: pt.FunctionCall.Name, Index: idx}) {
					return
				}
				if !emit(ziya.ToolInputDelta{Index: idx, Fragment: string(argsOrEmpty(pt.FunctionCall.Args))}) {
					return
				}
				if !emit(ziya.ContentBlockStop{Index: idx}) {
					return
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		emit(ziya.ProviderError{Err: err})
		return
	}
	emit(ziya.MessageStop{})
}
