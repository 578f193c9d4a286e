// Package clock exposes get_current_time as an in-process MCP tool server.
package clock

import (
	"context"
	"time"

	"github.com/ziya-ai/ziya/mcp"
)

// Server reports the current time.
type Server struct {
	now func() time.Time
}

// New creates a clock tool server.
func New() *Server {
	return &Server{now: time.Now}
}

// NewWithClock injects a time source for tests.
func NewWithClock(now func() time.Time) *Server {
	return &Server{now: now}
}

// Initialize implements mcp.Server.
func (s *Server) Initialize(ctx context.Context) error { return nil }

// Close implements mcp.Server.
func (s *Server) Close() error { return nil }

// ListTools implements mcp.Server.
func (s *Server) ListTools(ctx context.Context) ([]mcp.ToolDefinition, error) {
	return []mcp.ToolDefinition{{
		Name:        "get_current_time",
		Description: "Get the current date and time. Optionally pass an IANA timezone name.",
		InputSchema: []byte(`{"type":"object","properties":{"timezone":{"type":"string","description":"IANA timezone name, e.g. Europe/Berlin"}}}`),
	}}, nil
}

// CallTool implements mcp.Server.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (mcp.ToolCallResult, error) {
	if name != "get_current_time" {
		return mcp.ErrorResult("unknown tool: " + name), nil
	}
	now := s.now()
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return mcp.ErrorResult("unknown timezone: " + tz), nil
		}
		now = now.In(loc)
	}
	return mcp.TextResult(now.Format(time.RFC1123)), nil
}

// compile-time check
var _ mcp.Server = (*Server)(nil)
