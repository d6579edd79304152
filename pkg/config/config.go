// Package config loads and validates fabric configuration from YAML.
//
// Defaults are merged into the loaded file with mergo, then the result is
// validated. Environment variables are expanded with {{.VAR}} template
// syntax before parsing.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the HTTP/WebSocket surface settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// AllowTestUserIDs disables the placeholder user_id check. Test
	// environments only.
	AllowTestUserIDs bool `yaml:"allow_test_user_ids"`
}

// Config is the root configuration for the fabric.
type Config struct {
	MCPServers map[string]*MCPServerConfig `yaml:"mcp_servers"`
	Circuit    CircuitConfig               `yaml:"circuit"`
	Monitor    MonitorConfig               `yaml:"monitor"`
	Pool       PoolConfig                  `yaml:"pool"`
	Session    SessionConfig               `yaml:"session"`
	Server     ServerConfig                `yaml:"server"`

	// AllowedWSOrigins restricts WebSocket upgrades. Empty list means all
	// origins are accepted (development mode).
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// Default returns a fully-populated default configuration.
func Default() *Config {
	return &Config{
		MCPServers: make(map[string]*MCPServerConfig),
		Circuit:    DefaultCircuitConfig(),
		Monitor:    DefaultMonitorConfig(),
		Pool:       DefaultPoolConfig(),
		Session:    DefaultSessionConfig(),
		Server:     ServerConfig{ListenAddr: ":8080"},
	}
}

// Load reads, expands, merges defaults into, and validates the YAML file at
// path. A missing file yields the defaults (logged, not fatal).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("Config file not found, using defaults", "path", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	loaded := &Config{}
	if err := yaml.Unmarshal(ExpandEnv(data), loaded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	// File values win; defaults fill the gaps.
	if err := mergo.Merge(loaded, cfg); err != nil {
		return nil, fmt.Errorf("merge defaults: %w", err)
	}

	if err := loaded.Validate(); err != nil {
		return nil, err
	}
	return loaded, nil
}

// Validate checks every section and propagates the first error.
func (c *Config) Validate() error {
	if err := c.Circuit.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	if err := c.Monitor.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	for name, server := range c.MCPServers {
		if server.Name == "" {
			server.Name = name
		}
		if err := server.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
	}
	return nil
}

// ServerRegistryFromConfig builds the immutable server registry.
func (c *Config) ServerRegistryFromConfig() *ServerRegistry {
	return NewServerRegistry(c.MCPServers)
}
