package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
)

// Server is one source of tools: an external child process speaking MCP over
// stdio, or an in-process implementation for the built-ins.
type Server interface {
	// Initialize performs the protocol handshake (no-op for in-process servers).
	Initialize(ctx context.Context) error
	// ListTools returns the server's current tool definitions.
	ListTools(ctx context.Context) ([]ToolDefinition, error)
	// CallTool invokes a tool by its unqualified name.
	CallTool(ctx context.Context, name string, args map[string]any) (ToolCallResult, error)
	// Close releases the server's resources.
	Close() error
}

// StdioClient runs an MCP server as a child process and speaks JSON-RPC 2.0
// over its stdin/stdout. Calls are serialized: the protocol is
// request/response over a single pipe pair.
type StdioClient struct {
	name    string
	command string
	args    []string
	logger  *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
	nextID int
}

// NewStdioClient creates a client for the given server command. The process
// is started by Initialize.
func NewStdioClient(name, command string, args []string, logger *slog.Logger) *StdioClient {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &StdioClient{name: name, command: command, args: args, logger: logger}
}

// Initialize starts the child process and performs the MCP handshake.
func (c *StdioClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, c.command, c.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("mcp %s: stdin pipe: %w", c.name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("mcp %s: stdout pipe: %w", c.name, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("mcp %s: start: %w", c.name, err)
	}
	c.cmd = cmd
	c.stdin = stdin
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 10<<20), 10<<20)
	c.stdout = scanner

	var result initializeResult
	err = c.callLocked(ctx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: "ziya", Version: "1.0"},
	}, &result)
	if err != nil {
		return fmt.Errorf("mcp %s: initialize: %w", c.name, err)
	}
	// The initialized notification completes the handshake.
	if err := c.notifyLocked("notifications/initialized"); err != nil {
		return err
	}
	c.logger.Info("mcp server initialized", "server", c.name, "remote", result.ServerInfo.Name)
	return nil
}

// ListTools implements Server.
func (c *StdioClient) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result toolsListResult
	if err := c.callLocked(ctx, "tools/list", map[string]any{}, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool implements Server.
func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]any) (ToolCallResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result ToolCallResult
	err := c.callLocked(ctx, "tools/call", toolCallParams{Name: name, Arguments: args}, &result)
	if err != nil {
		return ToolCallResult{}, err
	}
	return result, nil
}

// Close terminates the child process.
func (c *StdioClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil {
		return nil
	}
	c.stdin.Close()
	err := c.cmd.Wait()
	c.cmd = nil
	return err
}

// callLocked sends one request and decodes the matching response into out.
// The caller holds c.mu.
func (c *StdioClient) callLocked(ctx context.Context, method string, params, out any) error {
	if c.cmd == nil {
		return fmt.Errorf("mcp %s: not initialized", c.name)
	}
	c.nextID++
	id := json.RawMessage(strconv.Itoa(c.nextID))
	if err := c.writeLocked(request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return err
	}

	// Responses arrive in order on the single pipe; skip anything that is
	// not the answer to our id (server-initiated notifications).
	for c.stdout.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := c.stdout.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("mcp: skipping malformed line", "server", c.name, "error", err)
			continue
		}
		if string(resp.ID) != string(id) {
			continue
		}
		if resp.Error != nil {
			return fmt.Errorf("mcp %s: %s: rpc %d: %s", c.name, method, resp.Error.Code, resp.Error.Message)
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(resp.Result, out)
	}
	if err := c.stdout.Err(); err != nil {
		return fmt.Errorf("mcp %s: read: %w", c.name, err)
	}
	return fmt.Errorf("mcp %s: server closed the pipe", c.name)
}

// notifyLocked sends a notification (no response expected).
func (c *StdioClient) notifyLocked(method string) error {
	return c.writeLocked(request{JSONRPC: "2.0", Method: method})
}

func (c *StdioClient) writeLocked(req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("mcp %s: write: %w", c.name, err)
	}
	return nil
}
