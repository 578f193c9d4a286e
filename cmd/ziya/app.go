package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	ziya "github.com/ziya-ai/ziya"
	"github.com/ziya-ai/ziya/filestate"
	"github.com/ziya-ai/ziya/internal/config"
	"github.com/ziya-ai/ziya/mcp"
	"github.com/ziya-ai/ziya/provider/resolve"
	"github.com/ziya-ai/ziya/server"
	"github.com/ziya-ai/ziya/store/sqlite"
	"github.com/ziya-ai/ziya/tools/clock"
	"github.com/ziya-ai/ziya/tools/shell"
)

// app holds the wired runtime shared by all subcommands.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	registry  *ziya.Registry
	oracle    *filestate.Manager
	tools     *mcp.Manager
	cache     *ziya.PromptCache
	assembler *ziya.PromptAssembler
	store     ziya.ConversationStore
	history   *os.File
}

func newApp(ctx context.Context, cfg config.Config, debug bool) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := ziya.ParseLogLevel(cfg.LogLevel)
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	stateDir, err := config.Dir()
	if err != nil {
		return nil, err
	}

	oracle := filestate.New(cfg.CodebaseDir, filestate.WithLogger(logger))
	cache := ziya.NewPromptCache(
		filepath.Join(stateDir, "cache", "prompt_cache.json"),
		ziya.CacheLogger(logger),
	)
	splitter := ziya.NewContextSplitter(oracle, cache, logger)
	assembler := ziya.NewPromptAssembler(oracle, splitter, cache, ziya.WithAssemblerLogger(logger))

	tools := mcp.NewManager(logger)
	tools.AddServer("shell", shell.New(cfg.CodebaseDir, cfg.Stream.CommandTimeout))
	tools.AddServer("clock", clock.New())

	store := sqlite.New(filepath.Join(stateDir, "conversations.db"), sqlite.WithLogger(logger))
	if err := store.Init(ctx); err != nil {
		return nil, err
	}

	history, err := os.OpenFile(filepath.Join(stateDir, "history"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Warn("history file unavailable", "error", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		registry:  ziya.NewRegistry(),
		oracle:    oracle,
		tools:     tools,
		cache:     cache,
		assembler: assembler,
		store:     store,
		history:   history,
	}, nil
}

func (a *app) Close() {
	if a.history != nil {
		a.history.Close()
	}
	a.store.Close()
	a.tools.Close()
}

// provider builds the model provider for one request.
func (a *app) provider(ctx context.Context) (ziya.Provider, ziya.ModelDescriptor, error) {
	descriptor, err := a.registry.Lookup(a.cfg.Endpoint, a.cfg.Model)
	if err != nil {
		return nil, ziya.ModelDescriptor{}, err
	}
	p, err := resolve.Provider(ctx, resolve.Config{
		AWSProfile:      a.cfg.AWS.Profile,
		AWSRegion:       a.cfg.AWS.Region,
		GoogleAPIKey:    a.cfg.Google.APIKey,
		AnthropicAPIKey: a.cfg.Keys.Anthropic,
		OpenAIAPIKey:    a.cfg.Keys.OpenAI,
		Logger:          a.logger,
	}, descriptor)
	if err != nil {
		return nil, ziya.ModelDescriptor{}, err
	}
	return p, descriptor, nil
}

// Ask answers one question over the selected files and exits.
func (a *app) Ask(ctx context.Context, question string) error {
	a.recordHistory(question)
	_, err := a.stream(ctx, ziya.NewID(), question, nil)
	return err
}

// Chat runs an interactive session with persistent history.
func (a *app) Chat(ctx context.Context) error {
	threadID := "cli-" + filepath.Base(a.cfg.CodebaseDir)
	if _, err := a.store.EnsureThread(ctx, threadID, a.cfg.CodebaseDir); err != nil {
		return err
	}
	history, err := a.store.History(ctx, threadID)
	if err != nil {
		return err
	}

	fmt.Printf("ziya: chatting about %s (%s). Ctrl-D to quit.\n", a.cfg.CodebaseDir, a.cfg.Endpoint)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		a.recordHistory(question)

		answer, err := a.stream(ctx, threadID, question, history)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "ziya:", err)
			continue
		}
		history = append(history, ziya.HistoryPair{Human: question, Assistant: answer})
		if err := a.store.SaveExchange(ctx, threadID, question, answer); err != nil {
			a.logger.Warn("failed to persist exchange", "error", err)
		}
	}
}

// stream runs one request through the loop and renders events to the
// terminal. It returns the concatenated assistant text.
func (a *app) stream(ctx context.Context, conversationID, question string, history ziya.ChatHistory) (string, error) {
	provider, descriptor, err := a.provider(ctx)
	if err != nil {
		return "", err
	}

	files, err := a.selectFiles()
	if err != nil {
		return "", err
	}

	messages, notes, err := a.assembler.Assemble(ctx, ziya.AssembleInput{
		Question:       question,
		History:        history,
		Files:          files,
		ConversationID: conversationID,
		Descriptor:     descriptor,
		ThinkingMode:   a.cfg.Sampling.ThinkingMode,
	})
	if err != nil {
		return "", err
	}

	loop := ziya.NewLoop(ziya.LoopConfig{
		Provider:      provider,
		Tools:         a.tools,
		Oracle:        a.oracle,
		Params:        a.cfg.Params(),
		MaxIterations: a.cfg.Stream.MaxIterations,
		ChunkTimeout:  time.Duration(a.cfg.Stream.CommandTimeout) * time.Second,
		Logger:        a.logger,
	})

	events := make(chan ziya.StreamEvent, 64)
	go loop.Run(ctx, ziya.RunInput{
		ConversationID: conversationID,
		Messages:       messages,
		Notes:          notes,
	}, events)

	return renderEvents(os.Stdout, events)
}

// selectFiles walks the codebase root up to the configured depth and returns
// the relative paths rendered into the prompt. Hidden directories and
// obvious build artifacts are skipped; deeper enumeration policy belongs to
// the folder service, not the runtime.
func (a *app) selectFiles() ([]string, error) {
	var files []string
	root := a.cfg.CodebaseDir
	maxDepth := a.cfg.MaxDepth
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor" || name == "dist" {
				return filepath.SkipDir
			}
			if strings.Count(rel, string(filepath.Separator))+1 > maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if info, err := d.Info(); err == nil && info.Size() > 1<<20 {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	return files, err
}

func (a *app) recordHistory(line string) {
	if a.history == nil {
		return
	}
	fmt.Fprintln(a.history, line)
}

// Serve runs the HTTP/SSE server.
func (a *app) Serve(ctx context.Context) error {
	srv := server.New(server.Options{
		Config:    a.cfg,
		Registry:  a.registry,
		Assembler: a.assembler,
		Oracle:    a.oracle,
		Tools:     a.tools,
		Cache:     a.cache,
		Logger:    a.logger,
		Factory: func(ctx context.Context, d ziya.ModelDescriptor) (ziya.Provider, error) {
			return resolve.Provider(ctx, resolve.Config{
				AWSProfile:      a.cfg.AWS.Profile,
				AWSRegion:       a.cfg.AWS.Region,
				GoogleAPIKey:    a.cfg.Google.APIKey,
				AnthropicAPIKey: a.cfg.Keys.Anthropic,
				OpenAIAPIKey:    a.cfg.Keys.OpenAI,
				Logger:          a.logger,
			}, d)
		},
	})

	httpServer := &http.Server{Addr: a.cfg.Server.Addr, Handler: srv.Router()}
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()
	a.logger.Info("ziya server listening", "addr", a.cfg.Server.Addr, "endpoint", a.cfg.Endpoint)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
