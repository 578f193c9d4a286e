package ziya

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/ziya-ai/ziya/mcp"
)

// emptyObjectSchema is the fallback input schema when a tool's own schema
// cannot be converted.
var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ToolLister is the slice of the MCP manager the registry needs.
type ToolLister interface {
	ListTools(ctx context.Context) ([]mcp.ToolDefinition, error)
}

// BuildToolset reads the manager's current tool list and converts it into
// the descriptors passed to a model driver: names are qualified with the
// "mcp_" prefix, schemas fall back to an empty object when invalid, and
// duplicates by final name keep the first occurrence. Called on every
// request so newly registered tools appear without restarts.
func BuildToolset(ctx context.Context, lister ToolLister, logger *slog.Logger) []ToolDescriptor {
	if logger == nil {
		logger = NopLogger()
	}
	defs, err := lister.ListTools(ctx)
	if err != nil {
		logger.Warn("tool listing failed, continuing without tools", "error", err)
		return nil
	}

	seen := map[string]bool{}
	var out []ToolDescriptor
	for _, def := range defs {
		name := def.Name
		if !strings.HasPrefix(name, MCPPrefix) {
			name = MCPPrefix + name
		}
		if seen[name] {
			continue
		}
		seen[name] = true

		schema := def.InputSchema
		if !json.Valid(schema) || len(schema) == 0 {
			logger.Warn("tool schema invalid, using empty object", "tool", name)
			schema = emptyObjectSchema
		}
		out = append(out, ToolDescriptor{
			Name:        name,
			Description: def.Description,
			InputSchema: schema,
		})
	}
	return out
}
