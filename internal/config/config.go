// Package config loads the main JSON5 config and the YAML agent-profile set.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

// Config is the root configuration (goswarm.json5).
type Config struct {
	// EntryAgent is the profile used by free-running loops started from the
	// CLI. Must name a profile from the profiles file.
	EntryAgent   string `json:"entry_agent"`
	ProfilesPath string `json:"profiles_path"`

	Provider ProviderConfig `json:"provider"`
	Loop     LoopConfig     `json:"loop"`
	Limits   LimitsConfig   `json:"limits"`
	Store    StoreConfig    `json:"store"`
	Tracing  TracingConfig  `json:"tracing"`
	Gateway  GatewayConfig  `json:"gateway"`
	HTTP     HTTPConfig     `json:"http"`
	Redis    RedisConfig    `json:"redis"`

	Hooks      []HookConfig      `json:"hooks,omitempty"`
	MCPServers []MCPServerConfig `json:"mcp_servers,omitempty"`

	SchedulePath string `json:"schedule_path,omitempty"`
}

// ProviderConfig selects the model backend for all loops.
type ProviderConfig struct {
	Name       string `json:"name"` // "openai" or any OpenAI-compatible endpoint
	Model      string `json:"model"`
	APIKey     string `json:"api_key,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	MaxRetries int    `json:"max_retries"`
}

// LoopConfig bounds agentic loop execution.
type LoopConfig struct {
	MaxIterations int `json:"max_iterations"`
	// TokenBudget soft-limits conversation size; 0 disables pruning.
	TokenBudget int `json:"token_budget"`
}

// LimitsConfig bounds delegation dispatch.
type LimitsConfig struct {
	DelegationsPerMinute   int `json:"delegations_per_minute"`
	MaxConcurrentPerTarget int `json:"max_concurrent_per_target"`
	// DelegationTimeoutSec sets the default deadline for a delegated loop.
	// 0 means no deadline.
	DelegationTimeoutSec int `json:"delegation_timeout_sec,omitempty"`
	// ToolCallsPerHour bounds tool executions per conversation. 0 disables
	// the limiter.
	ToolCallsPerHour int `json:"tool_calls_per_hour,omitempty"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `json:"driver"` // "sqlite" (default) or "postgres"
	Path   string `json:"path,omitempty"`
	DSN    string `json:"dsn,omitempty"`
}

// TracingConfig controls span collection and OTLP export.
type TracingConfig struct {
	Enabled bool       `json:"enabled"`
	Verbose bool       `json:"verbose,omitempty"`
	OTLP    OTLPConfig `json:"otlp,omitempty"`
}

// OTLPConfig configures the optional OpenTelemetry exporter.
type OTLPConfig struct {
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// GatewayConfig configures the WebSocket event stream.
type GatewayConfig struct {
	Addr  string `json:"addr,omitempty"` // empty disables the gateway
	Token string `json:"token,omitempty"`
	// RequestsPerMinute bounds per-client RPC rates. 0 disables limiting.
	RequestsPerMinute int `json:"requests_per_minute,omitempty"`
	Burst             int `json:"burst,omitempty"`
}

// HTTPConfig configures the read-only REST API.
type HTTPConfig struct {
	Addr  string `json:"addr,omitempty"` // empty disables the API
	Token string `json:"token,omitempty"`
}

// RedisConfig configures the optional event mirror. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

// HookConfig declares a quality gate evaluated when a delegated agent
// reports out.
type HookConfig struct {
	Name      string `json:"name"`
	Event     string `json:"event,omitempty"`    // default "report_received"
	Evaluator string `json:"evaluator"`          // "cel", "command", or "agent"
	// Condition is a CEL expression over {from_agent, to_agent, report,
	// iterations, duration_ms}; empty means "always applies".
	Condition  string `json:"condition,omitempty"`
	Expression string `json:"expression,omitempty"` // cel evaluator
	Command    string `json:"command,omitempty"`    // command evaluator
	Agent      string `json:"agent,omitempty"`      // agent evaluator
	// Message is the feedback sent back on rejection by the cel evaluator.
	Message    string `json:"message,omitempty"`
	Blocking   bool   `json:"blocking"`
	MaxRounds  int    `json:"max_rounds,omitempty"`
	TimeoutSec int    `json:"timeout_sec,omitempty"`
}

// MCPServerConfig declares an external tool server bridged into the registry.
type MCPServerConfig struct {
	Name       string            `json:"name"`
	Command    string            `json:"command"`
	Env        map[string]string `json:"env,omitempty"`
	TimeoutSec int               `json:"timeout_sec,omitempty"`
}

// Default returns a config populated with defaults.
func Default() *Config {
	return &Config{
		ProfilesPath: "agents.yaml",
		Provider: ProviderConfig{
			Name:       "openai",
			Model:      "gpt-4o",
			MaxRetries: 3,
		},
		Loop: LoopConfig{
			MaxIterations: 50,
		},
		Limits: LimitsConfig{
			DelegationsPerMinute:   60,
			MaxConcurrentPerTarget: 8,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "goswarm.db",
		},
		Tracing: TracingConfig{
			Enabled: true,
		},
	}
}

// Load reads, parses and normalizes the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	if cfg.ProfilesPath != "" && !filepath.IsAbs(cfg.ProfilesPath) {
		cfg.ProfilesPath = filepath.Join(filepath.Dir(path), cfg.ProfilesPath)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as indented JSON (valid JSON5).
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnvOverrides fills secrets from the environment. Env always wins so
// deployments can keep keys out of the config file.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("GOSWARM_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("GOSWARM_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("GOSWARM_GATEWAY_TOKEN"); v != "" {
		c.Gateway.Token = v
	}
	if v := os.Getenv("GOSWARM_HTTP_TOKEN"); v != "" {
		c.HTTP.Token = v
	}
	if v := os.Getenv("GOSWARM_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
}

// Validate rejects configs no component could run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("config: store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	if c.Loop.MaxIterations <= 0 {
		c.Loop.MaxIterations = 50
	}
	for i := range c.Hooks {
		h := &c.Hooks[i]
		if h.Name == "" {
			return fmt.Errorf("config: hooks[%d] has no name", i)
		}
		if h.Event == "" {
			h.Event = "report_received"
		}
		switch h.Evaluator {
		case "cel":
			if h.Expression == "" {
				return fmt.Errorf("config: hook %q needs an expression", h.Name)
			}
		case "command":
			if h.Command == "" {
				return fmt.Errorf("config: hook %q needs a command", h.Name)
			}
		case "agent":
			if h.Agent == "" {
				return fmt.Errorf("config: hook %q needs an agent", h.Name)
			}
		default:
			return fmt.Errorf("config: hook %q has unknown evaluator %q", h.Name, h.Evaluator)
		}
	}
	for i, srv := range c.MCPServers {
		if srv.Name == "" || srv.Command == "" {
			return fmt.Errorf("config: mcp_servers[%d] needs name and command", i)
		}
	}
	return nil
}
