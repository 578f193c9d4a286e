package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Manager aggregates tool servers and routes tool calls to them. It is
// shared across requests; initialization runs once, lazily, guarded by a
// once-barrier, and tool invocation is safe for concurrent use.
type Manager struct {
	logger *slog.Logger

	mu      sync.RWMutex
	servers map[string]Server

	initOnce sync.Once
	initErr  error

	// routes maps an unqualified tool name to its server.
	routes map[string]string
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		logger:  logger,
		servers: map[string]Server{},
		routes:  map[string]string{},
	}
}

// AddServer registers a tool server under name. Must be called before the
// first Initialize.
func (m *Manager) AddServer(name string, s Server) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[name] = s
}

// Initialize performs the handshake with every registered server. It runs at
// most once; concurrent callers share the outcome. A server that fails to
// initialize is dropped with a warning rather than failing the whole manager.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if err := ctx.Err(); err != nil {
			m.initErr = err
			return
		}
		for name, s := range m.servers {
			if err := s.Initialize(ctx); err != nil {
				m.logger.Warn("mcp server failed to initialize, dropping", "server", name, "error", err)
				delete(m.servers, name)
			}
		}
		if len(m.servers) == 0 {
			m.logger.Info("no mcp servers available")
		}
	})
	return m.initErr
}

// ListTools returns the current tool definitions across all servers and
// refreshes the routing table. Name collisions keep the first server seen;
// servers are visited in map order, so which server wins is not defined.
func (m *Manager) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var defs []ToolDefinition
	routes := map[string]string{}
	for name, s := range m.servers {
		tools, err := s.ListTools(ctx)
		if err != nil {
			m.logger.Warn("mcp tools/list failed", "server", name, "error", err)
			continue
		}
		for _, t := range tools {
			if _, taken := routes[t.Name]; taken {
				continue
			}
			routes[t.Name] = name
			defs = append(defs, t)
		}
	}
	m.routes = routes
	return defs, nil
}

// CallTool routes a tool invocation to the owning server. The "mcp_" name
// qualification used toward the model is stripped before routing.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any) (ToolCallResult, error) {
	if err := m.Initialize(ctx); err != nil {
		return ToolCallResult{}, err
	}
	name = strings.TrimPrefix(name, "mcp_")

	m.mu.RLock()
	serverName, ok := m.routes[name]
	var server Server
	if ok {
		server = m.servers[serverName]
	}
	m.mu.RUnlock()

	if server == nil {
		// The routing table may be stale; refresh once.
		if _, err := m.ListTools(ctx); err != nil {
			return ToolCallResult{}, err
		}
		m.mu.RLock()
		serverName, ok = m.routes[name]
		if ok {
			server = m.servers[serverName]
		}
		m.mu.RUnlock()
	}
	if server == nil {
		return ToolCallResult{}, fmt.Errorf("mcp: unknown tool %q", name)
	}
	return server.CallTool(ctx, name, args)
}

// Close shuts down every server.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for name, s := range m.servers {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcp %s: close: %w", name, err)
		}
	}
	return firstErr
}
