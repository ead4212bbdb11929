package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	shellwords "github.com/mattn/go-shellwords"

	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/tools"
)

const (
	defaultCallTimeout = 60 * time.Second
	connectTimeout     = 30 * time.Second
)

// Server tracks one spawned MCP subprocess and the tool names
// registered from it.
type Server struct {
	name      string
	client    *mcpclient.Client
	connected atomic.Bool
	tools     []string
}

// ServerStatus is the reportable view of a managed server.
type ServerStatus struct {
	Name      string   `json:"name"`
	Connected bool     `json:"connected"`
	Tools     []string `json:"tools"`
}

// Manager spawns the MCP servers named in config and keeps their tools
// registered for as long as the process runs.
type Manager struct {
	registry *tools.Registry

	mu      sync.Mutex
	servers []*Server
}

func NewManager(registry *tools.Registry) *Manager {
	return &Manager{registry: registry}
}

// Start connects every configured server and bridges its tools into
// the registry. A server that fails to come up is logged and skipped
// so an optional external cannot block startup.
func (m *Manager) Start(ctx context.Context, cfgs []config.MCPServerConfig) {
	for _, cfg := range cfgs {
		srv, err := m.connect(ctx, cfg)
		if err != nil {
			slog.Warn("mcp server skipped", "server", cfg.Name, "error", err)
			continue
		}
		m.mu.Lock()
		m.servers = append(m.servers, srv)
		m.mu.Unlock()
		slog.Info("mcp server connected", "server", srv.name, "tools", len(srv.tools))
	}
}

func (m *Manager) connect(ctx context.Context, cfg config.MCPServerConfig) (*Server, error) {
	argv, err := shellwords.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cli, err := mcpclient.NewStdioMCPClient(argv[0], flattenEnv(cfg.Env), argv[1:]...)
	if err != nil {
		return nil, fmt.Errorf("spawn: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "goswarm", Version: "0.1.0"}

	initRes, err := cli.Initialize(connectCtx, initReq)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	listRes, err := cli.ListTools(connectCtx, mcpgo.ListToolsRequest{})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("list tools: %w", err)
	}

	srv := &Server{name: cfg.Name, client: cli}
	srv.connected.Store(true)

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	for _, def := range listRes.Tools {
		bt := newBridgedTool(cfg.Name, def, cli, timeout, &srv.connected)
		if _, exists := m.registry.Get(bt.Name()); exists {
			slog.Warn("mcp tool skipped, name collides with a registered tool",
				"server", cfg.Name, "tool", bt.Name())
			continue
		}
		m.registry.Register(bt)
		srv.tools = append(srv.tools, bt.Name())
	}

	slog.Debug("mcp server initialized",
		"server", cfg.Name,
		"remote", initRes.ServerInfo.Name,
		"remote_version", initRes.ServerInfo.Version)

	return srv, nil
}

// Close flags every server disconnected, removes its tools from the
// registry, and shuts the subprocesses down.
func (m *Manager) Close() {
	m.mu.Lock()
	servers := m.servers
	m.servers = nil
	m.mu.Unlock()

	for _, srv := range servers {
		srv.connected.Store(false)
		for _, name := range srv.tools {
			m.registry.Unregister(name)
		}
		if srv.client != nil {
			if err := srv.client.Close(); err != nil {
				slog.Warn("mcp server close", "server", srv.name, "error", err)
			}
		}
	}
}

// Status reports each managed server and its bridged tool names.
func (m *Manager) Status() []ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ServerStatus, 0, len(m.servers))
	for _, srv := range m.servers {
		out = append(out, ServerStatus{
			Name:      srv.name,
			Connected: srv.connected.Load(),
			Tools:     append([]string(nil), srv.tools...),
		})
	}
	return out
}

// flattenEnv renders the env map as KEY=VALUE pairs in stable order.
func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
