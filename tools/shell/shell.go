// Package shell exposes run_shell_command as an in-process MCP tool server.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ziya-ai/ziya/mcp"
)

// Server runs shell commands in the user codebase directory.
type Server struct {
	workDir        string
	defaultTimeout int // seconds
}

// New creates a shell tool server. Commands run in workDir with the given
// default timeout in seconds.
func New(workDir string, defaultTimeout int) *Server {
	if defaultTimeout <= 0 {
		defaultTimeout = 30
	}
	return &Server{workDir: workDir, defaultTimeout: defaultTimeout}
}

// Initialize implements mcp.Server (no-op; in-process).
func (s *Server) Initialize(ctx context.Context) error { return nil }

// Close implements mcp.Server.
func (s *Server) Close() error { return nil }

// ListTools implements mcp.Server.
func (s *Server) ListTools(ctx context.Context) ([]mcp.ToolDefinition, error) {
	return []mcp.ToolDefinition{{
		Name:        "run_shell_command",
		Description: "Execute a shell command in the user's codebase directory. Returns stdout and stderr. Use for inspecting files, running builds, or checking system state.",
		InputSchema: []byte(`{"type":"object","properties":{"command":{"type":"string","description":"Shell command to execute"},"timeout":{"type":"integer","description":"Timeout in seconds (defaults to the server's configured timeout)"}},"required":["command"]}`),
	}}, nil
}

// blocked substrings are rejected before execution.
var blocked = []string{"rm -rf /", "sudo ", "mkfs", "> /dev/", "dd if="}

// CallTool implements mcp.Server.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (mcp.ToolCallResult, error) {
	if name != "run_shell_command" {
		return mcp.ErrorResult("unknown tool: " + name), nil
	}
	command, _ := args["command"].(string)
	if command == "" {
		return mcp.ErrorResult("command is required"), nil
	}

	lower := strings.ToLower(command)
	for _, b := range blocked {
		if strings.Contains(lower, b) {
			return mcp.ErrorResult("command blocked for safety: " + b), nil
		}
	}

	timeout := s.defaultTimeout
	if t, ok := args["timeout"].(float64); ok && t > 0 {
		timeout = int(t)
	}
	if timeout > 300 {
		timeout = 300
	}

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Dir = s.workDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := strings.TrimSpace(out.String())
	if cmdCtx.Err() == context.DeadlineExceeded {
		return mcp.ErrorResult(fmt.Sprintf("command timed out after %ds\n%s", timeout, output)), nil
	}
	if err != nil {
		return mcp.ErrorResult(fmt.Sprintf("command failed: %v\n%s", err, output)), nil
	}
	if output == "" {
		output = "(no output)"
	}
	return mcp.TextResult(output), nil
}

// compile-time check
var _ mcp.Server = (*Server)(nil)
