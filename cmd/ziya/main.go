// Command ziya is the Ziya code assistant: an agent runtime that answers
// questions about the local codebase, streaming model output and tool
// activity to the terminal, or serving the same stream over HTTP.
//
// Subcommands:
//
//	ziya chat               interactive session with persistent history
//	ziya ask <question>     one-shot question
//	ziya review             review pending changes in the codebase
//	ziya explain            explain the selected files
//	ziya serve              run the HTTP/SSE server
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ziya-ai/ziya/internal/config"
)

const (
	exitOK          = 0
	exitFatal       = 1
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	args := os.Args[1:]
	if len(args) == 0 {
		usage()
		return exitFatal
	}
	command := args[0]
	args = args[1:]

	flags, rest, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ziya:", err)
		return exitFatal
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "ziya:", err)
		return exitFatal
	}
	flags.apply(&cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, flags.debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ziya:", err)
		return exitFatal
	}
	defer app.Close()

	switch command {
	case "chat":
		err = app.Chat(ctx)
	case "ask":
		question := strings.Join(rest, " ")
		question = prependStdin(question)
		if strings.TrimSpace(question) == "" {
			fmt.Fprintln(os.Stderr, "ziya: ask requires a question")
			return exitFatal
		}
		err = app.Ask(ctx, question)
	case "review":
		err = app.Ask(ctx, prependStdin(
			"Review the current changes in the selected files. Point out bugs, risky patterns, and missing tests, ordered by severity."))
	case "explain":
		err = app.Ask(ctx, prependStdin(
			"Explain what the selected files do and how they fit together. Start with a short overview, then walk through the important pieces."))
	case "serve":
		err = app.Serve(ctx)
	default:
		usage()
		return exitFatal
	}

	if err != nil {
		if ctx.Err() != nil {
			return exitInterrupted
		}
		fmt.Fprintln(os.Stderr, "ziya:", err)
		return exitFatal
	}
	if ctx.Err() != nil {
		return exitInterrupted
	}
	return exitOK
}

// cliFlags are the command line overrides shared by all subcommands.
type cliFlags struct {
	root    string
	profile string
	region  string
	model   string
	debug   bool
}

// parseFlags splits --flag value pairs from positional arguments. Flags may
// appear before or after the positionals.
func parseFlags(args []string) (cliFlags, []string, error) {
	var flags cliFlags
	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			rest = append(rest, arg)
			continue
		}
		name := strings.TrimPrefix(arg, "--")
		if name == "debug" {
			flags.debug = true
			continue
		}
		if i+1 >= len(args) {
			return cliFlags{}, nil, fmt.Errorf("flag --%s requires a value", name)
		}
		i++
		value := args[i]
		switch name {
		case "root":
			flags.root = value
		case "profile":
			flags.profile = value
		case "region":
			flags.region = value
		case "model":
			flags.model = value
		default:
			return cliFlags{}, nil, fmt.Errorf("unknown flag --%s", name)
		}
	}
	return flags, rest, nil
}

func (f cliFlags) apply(cfg *config.Config) {
	if f.root != "" {
		cfg.CodebaseDir = f.root
	}
	if f.profile != "" {
		cfg.AWS.Profile = f.profile
	}
	if f.region != "" {
		cfg.AWS.Region = f.region
	}
	if f.model != "" {
		cfg.Model = f.model
	}
	if f.debug {
		cfg.LogLevel = "debug"
	}
	if cfg.CodebaseDir == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.CodebaseDir = wd
		}
	}
}

// prependStdin reads piped stdin (when not a TTY) and prepends it to the
// question.
func prependStdin(question string) string {
	info, err := os.Stdin.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice != 0 {
		return question
	}
	data, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil || len(data) == 0 {
		return question
	}
	return strings.TrimSpace(string(data)) + "\n\n" + question
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: ziya <command> [flags]

commands:
  chat               interactive session
  ask <question>     one-shot question
  review             review pending changes
  explain            explain the selected files
  serve              run the HTTP server

flags:
  --root <dir>       codebase root (default: cwd or USER_CODEBASE_DIR)
  --profile <name>   AWS profile
  --region <name>    AWS region
  --model <alias>    model alias for the configured endpoint
  --debug            verbose logging`)
}
