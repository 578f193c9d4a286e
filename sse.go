package ziya

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// doneFrame terminates every event stream, success or error.
const doneFrame = "data: [DONE]\n\n"

// SSEWriter frames stream events as Server-Sent Events: one
// "data: <json>\n\n" frame per event and a literal [DONE] terminator. Write
// failures after the client disconnects are swallowed; they are not
// application errors.
type SSEWriter struct {
	w       io.Writer
	flush   func()
	logger  *slog.Logger
	dead    bool
	done    bool
}

// NewSSEWriter wraps an HTTP response writer. Callers set the event-stream
// headers before the first write.
func NewSSEWriter(w http.ResponseWriter, logger *slog.Logger) *SSEWriter {
	if logger == nil {
		logger = NopLogger()
	}
	s := &SSEWriter{w: w, flush: func() {}, logger: logger}
	if f, ok := w.(http.Flusher); ok {
		s.flush = f.Flush
	}
	return s
}

// WriteEvent frames one event. Error events marshal their envelope; all
// other events marshal the event itself. Each JSON payload occupies exactly
// one frame.
func (s *SSEWriter) WriteEvent(ev StreamEvent) {
	if s.dead || s.done {
		return
	}
	var payload any = ev
	if ev.Type == EventError && ev.Envelope != nil {
		env := *ev.Envelope
		env.Error = nonEmpty(env.Error, string(ErrServer))
		payload = struct {
			*ErrorEnvelope
			Type EventType `json:"type"`
		}{&env, EventError}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("event marshal failed", "type", string(ev.Type), "error", err)
		return
	}
	s.write(append(append([]byte("data: "), data...), '\n', '\n'))
}

// WriteDone emits the stream terminator. Idempotent.
func (s *SSEWriter) WriteDone() {
	if s.done {
		return
	}
	s.done = true
	s.write([]byte(doneFrame))
}

// Pump drains events onto the wire and always terminates with [DONE], even
// when the loop ended in an error event or the channel closed early.
func (s *SSEWriter) Pump(events <-chan StreamEvent) {
	for ev := range events {
		s.WriteEvent(ev)
	}
	s.WriteDone()
}

func (s *SSEWriter) write(frame []byte) {
	if s.dead {
		return
	}
	if _, err := s.w.Write(frame); err != nil {
		// Client hung up mid-stream; stop writing, keep draining.
		s.logger.Debug("client disconnected during write", "error", err)
		s.dead = true
		return
	}
	s.flush()
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// SSEHeaders sets the response headers for an event stream.
func SSEHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}
