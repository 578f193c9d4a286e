// Package server exposes the streaming agent runtime over HTTP: a
// Server-Sent-Events endpoint for chat streaming, cache statistics, and the
// model listing. Routing is chi; the SSE boundary itself lives in the root
// package.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	ziya "github.com/ziya-ai/ziya"
	"github.com/ziya-ai/ziya/internal/config"
	"github.com/ziya-ai/ziya/observer"
)

// ProviderFactory builds the provider for one request. Registered at
// startup; consulted per request so no mutable global model sits in the hot
// path.
type ProviderFactory func(ctx context.Context, d ziya.ModelDescriptor) (ziya.Provider, error)

// Server wires the runtime's pieces behind the HTTP surface.
type Server struct {
	cfg       config.Config
	registry  *ziya.Registry
	assembler *ziya.PromptAssembler
	oracle    ziya.FileStateOracle
	tools     ziya.ToolRunner
	factory   ProviderFactory
	cache     *ziya.PromptCache
	inst      *observer.Instruments
	logger    *slog.Logger
}

// Options configures a Server.
type Options struct {
	Config    config.Config
	Registry  *ziya.Registry
	Assembler *ziya.PromptAssembler
	Oracle    ziya.FileStateOracle
	Tools     ziya.ToolRunner
	Factory   ProviderFactory
	Cache     *ziya.PromptCache
	Observer  *observer.Instruments
	Logger    *slog.Logger
}

// New creates a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = ziya.NopLogger()
	}
	return &Server{
		cfg:       opts.Config,
		registry:  opts.Registry,
		assembler: opts.Assembler,
		oracle:    opts.Oracle,
		tools:     opts.Tools,
		factory:   opts.Factory,
		cache:     opts.Cache,
		inst:      opts.Observer,
		logger:    logger,
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(MaxBytes(s.cfg.Server.MaxRequestBytes))

	r.Post("/ziya/stream", s.handleStream)
	r.Get("/api/cache/stats", s.handleCacheStats)
	r.Get("/api/models", s.handleModels)
	return r
}

// streamRequest is the wire shape of one chat request.
type streamRequest struct {
	Question       string           `json:"question"`
	ChatHistory    ziya.ChatHistory `json:"chat_history"`
	ConversationID string           `json:"conversation_id"`
	Config         struct {
		Files []string `json:"files"`
	} `json:"config"`
}

// handleStream runs one streaming request. An Accept of text/event-stream
// streams SSE; anything else gets a single JSON body with the same payload
// shape and status preserved.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	wantsSSE := strings.Contains(r.Header.Get("Accept"), "text/event-stream")

	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, wantsSSE, &ziya.Error{
			Kind: ziya.ErrValidation, StatusCode: 400,
			Detail: "request body is not valid JSON: " + err.Error(),
		})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.writeError(w, wantsSSE, &ziya.Error{
			Kind: ziya.ErrValidation, StatusCode: 400,
			Detail: "question must not be empty",
		})
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = ziya.NewID()
	}

	descriptor, err := s.registry.Lookup(s.cfg.Endpoint, s.cfg.Model)
	if err != nil {
		s.writeError(w, wantsSSE, ziya.Classify(err))
		return
	}
	provider, err := s.factory(r.Context(), descriptor)
	if err != nil {
		s.writeError(w, wantsSSE, ziya.Classify(err))
		return
	}
	provider = observer.WrapProvider(provider, s.inst)

	messages, notes, err := s.assembler.Assemble(r.Context(), ziya.AssembleInput{
		Question:       req.Question,
		History:        req.ChatHistory,
		Files:          req.Config.Files,
		ConversationID: req.ConversationID,
		Descriptor:     descriptor,
		ThinkingMode:   s.cfg.Sampling.ThinkingMode,
	})
	if err != nil {
		s.writeError(w, wantsSSE, ziya.Classify(err))
		return
	}

	loop := ziya.NewLoop(ziya.LoopConfig{
		Provider:      provider,
		Tools:         s.tools,
		Oracle:        s.oracle,
		Params:        s.cfg.Params(),
		MaxIterations: s.cfg.Stream.MaxIterations,
		ChunkTimeout:  time.Duration(s.cfg.Stream.CommandTimeout) * time.Second,
		Logger:        s.logger,
	})
	in := ziya.RunInput{
		ConversationID: req.ConversationID,
		Messages:       messages,
		Notes:          notes,
	}

	events := make(chan ziya.StreamEvent, 64)
	start := time.Now()
	var metrics ziya.StreamMetrics
	done := make(chan struct{})
	go func() {
		defer close(done)
		metrics = loop.Run(r.Context(), in, events)
	}()

	if wantsSSE {
		ziya.SSEHeaders(w.Header())
		w.WriteHeader(http.StatusOK)
		sse := ziya.NewSSEWriter(w, s.logger)
		sse.Pump(events)
	} else {
		s.respondJSON(w, events)
	}

	<-done
	observer.RecordStream(r.Context(), s.inst, req.ConversationID, metrics, time.Since(start))
}

// respondJSON drains the event stream into a single JSON body for non-SSE
// clients: the concatenated answer on success, the error envelope (with its
// status code) on failure.
func (s *Server) respondJSON(w http.ResponseWriter, events <-chan ziya.StreamEvent) {
	var answer strings.Builder
	for ev := range events {
		switch ev.Type {
		case ziya.EventText:
			answer.WriteString(ev.Content)
		case ziya.EventError:
			status := ev.Envelope.StatusCode
			if status == 0 {
				status = 500
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(ev.Envelope)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"answer": answer.String()})
}

// writeError emits a pre-stream failure: as an SSE error event plus [DONE]
// for streaming clients, as a plain JSON envelope otherwise.
func (s *Server) writeError(w http.ResponseWriter, wantsSSE bool, cerr *ziya.Error) {
	envelope := &ziya.ErrorEnvelope{
		Error:      string(cerr.Kind),
		Detail:     cerr.Detail,
		StatusCode: cerr.StatusCode,
		RetryAfter: cerr.RetryAfter,
		StreamID:   ziya.NewID(),
	}
	if wantsSSE {
		ziya.SSEHeaders(w.Header())
		w.WriteHeader(http.StatusOK)
		sse := ziya.NewSSEWriter(w, s.logger)
		sse.WriteEvent(ziya.StreamEvent{Type: ziya.EventError, Envelope: envelope})
		sse.WriteDone()
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(cerr.StatusCode)
	json.NewEncoder(w).Encode(envelope)
}

// handleCacheStats reports the prompt cache counters.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.cache == nil {
		json.NewEncoder(w).Encode(ziya.CacheStats{})
		return
	}
	json.NewEncoder(w).Encode(s.cache.Stats())
}

// handleModels lists the configured endpoint's model aliases.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"endpoint": s.cfg.Endpoint,
		"models":   s.registry.Aliases(s.cfg.Endpoint),
		"default":  ziya.DefaultModels[s.cfg.Endpoint],
	})
}
