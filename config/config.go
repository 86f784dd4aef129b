// Package config loads agent deployment configuration from TOML files.
// Guard thresholds carry no defaults: a file that omits them is rejected so
// the limits of every deployment are an explicit operator decision.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/meshkit-ai/meshkit/mesh"
)

// Config is the full deployment configuration for one agent process.
type Config struct {
	Agent   AgentConfig     `toml:"agent"`
	Guards  GuardsConfig    `toml:"guards"`
	Model   ModelConfig     `toml:"model"`
	Server  ServerConfig    `toml:"server"`
	NATS    NATSConfig      `toml:"nats"`
	Store   StoreConfig     `toml:"store"`
	Logging LoggingConfig   `toml:"logging"`
	Peers   []PeerConfig    `toml:"peers"`
	MCP     []MCPToolConfig `toml:"mcp_tools"`
}

// AgentConfig identifies and instructs the agent.
type AgentConfig struct {
	Name        string   `toml:"name"`
	Description string   `toml:"description"`
	Instruction string   `toml:"instruction"`
	Tools       []string `toml:"tools"` // built-in leaf tools: calculator, extract_document
}

// GuardsConfig holds the required exchange safety thresholds.
type GuardsConfig struct {
	MaxDepth      int `toml:"max_depth"`
	MaxTotalCalls int `toml:"max_total_calls"`
	MaxSteps      int `toml:"max_steps"`
}

// Guards converts the section to the mesh representation.
func (g GuardsConfig) Guards() mesh.Guards {
	return mesh.Guards{
		MaxDepth:      g.MaxDepth,
		MaxTotalCalls: g.MaxTotalCalls,
		MaxSteps:      g.MaxSteps,
	}
}

// ModelConfig selects the reasoning model.
type ModelConfig struct {
	Provider    string  `toml:"provider"` // "openai" or "anthropic"
	Name        string  `toml:"name"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int64   `toml:"max_tokens"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

// NATSConfig configures the optional NATS transport.
type NATSConfig struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// StoreConfig selects the exchange audit store.
type StoreConfig struct {
	Driver string `toml:"driver"` // "memory" or "sqlite"
	Path   string `toml:"path"`   // sqlite file path
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

// PeerConfig declares one peer agent this agent may call.
type PeerConfig struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Endpoint    string `toml:"endpoint"` // HTTP completion URL; empty when using NATS
	Timeout     string `toml:"timeout"`  // Go duration string, e.g. "90s"
}

// ParseTimeout returns the configured per-invocation bound.
func (p PeerConfig) ParseTimeout() (time.Duration, error) {
	if p.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.Timeout)
	if err != nil {
		return 0, fmt.Errorf("peer %q has invalid timeout %q: %w", p.Name, p.Timeout, err)
	}
	return d, nil
}

// MCPToolConfig declares one tool served by a remote MCP server.
type MCPToolConfig struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	ServerURL   string `toml:"server_url"`
	RemoteName  string `toml:"remote_name"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return &cfg, nil
}

// Validate checks the configuration for completeness.
func (c *Config) Validate() error {
	if c.Agent.Name == "" {
		return fmt.Errorf("agent.name is required")
	}

	if c.Guards.MaxDepth <= 0 {
		return fmt.Errorf("guards.max_depth is required and must be positive")
	}
	if c.Guards.MaxTotalCalls <= 0 {
		return fmt.Errorf("guards.max_total_calls is required and must be positive")
	}
	if c.Guards.MaxSteps <= 0 {
		return fmt.Errorf("guards.max_steps is required and must be positive")
	}

	for _, name := range c.Agent.Tools {
		switch name {
		case "calculator", "extract_document":
		default:
			return fmt.Errorf("unknown built-in tool %q", name)
		}
	}

	switch c.Model.Provider {
	case "openai", "anthropic", "":
	default:
		return fmt.Errorf("model.provider must be openai or anthropic, got %q", c.Model.Provider)
	}

	switch c.Store.Driver {
	case "", "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver must be memory or sqlite, got %q", c.Store.Driver)
	}

	for _, p := range c.Peers {
		if p.Name == "" {
			return fmt.Errorf("every peer needs a name")
		}
		if _, err := p.ParseTimeout(); err != nil {
			return err
		}
	}

	for _, m := range c.MCP {
		if m.Name == "" || m.ServerURL == "" {
			return fmt.Errorf("every mcp_tools entry needs a name and a server_url")
		}
	}

	return nil
}
