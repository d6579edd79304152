package config

import (
	"fmt"
	"sync"
)

// TransportType identifies how a connection to an MCP server is established.
type TransportType string

const (
	TransportTypeStdio     TransportType = "stdio"
	TransportTypeHTTP      TransportType = "http"
	TransportTypeWebSocket TransportType = "websocket"
)

// TransportConfig describes the transport for one MCP server.
type TransportConfig struct {
	Type TransportType `yaml:"type"`

	// Stdio transport
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// HTTP / WebSocket transports
	URL         string `yaml:"url,omitempty"`
	BearerToken string `yaml:"bearer_token,omitempty"`
	VerifySSL   *bool  `yaml:"verify_ssl,omitempty"`

	// Per-call timeout in seconds (0 = library default)
	Timeout int `yaml:"timeout,omitempty"`
}

// MCPServerConfig defines one external MCP server. Immutable after
// registration: the manager keeps its own copy for the recovery loop.
type MCPServerConfig struct {
	Name       string          `yaml:"name"`
	Transport  TransportConfig `yaml:"transport"`
	MaxRetries int             `yaml:"max_retries,omitempty"`
}

// Validate checks the server definition against its transport type.
func (c *MCPServerConfig) Validate() error {
	if c.Name == "" {
		return &ValidationError{Component: "mcp_server", ID: "(unnamed)", Field: "name", Err: ErrMissingRequiredField}
	}
	switch c.Transport.Type {
	case TransportTypeStdio:
		if c.Transport.Command == "" {
			return &ValidationError{Component: "mcp_server", ID: c.Name, Field: "transport.command", Err: ErrMissingRequiredField}
		}
	case TransportTypeHTTP, TransportTypeWebSocket:
		if c.Transport.URL == "" {
			return &ValidationError{Component: "mcp_server", ID: c.Name, Field: "transport.url", Err: ErrMissingRequiredField}
		}
	default:
		return &ValidationError{
			Component: "mcp_server", ID: c.Name, Field: "transport.type",
			Err: fmt.Errorf("%w: %q", ErrInvalidValue, c.Transport.Type),
		}
	}
	return nil
}

// ServerRegistry stores MCP server configurations in memory with thread-safe access.
type ServerRegistry struct {
	servers map[string]*MCPServerConfig
	mu      sync.RWMutex
}

// NewServerRegistry creates a registry from the given server map (may be nil).
func NewServerRegistry(servers map[string]*MCPServerConfig) *ServerRegistry {
	if servers == nil {
		servers = make(map[string]*MCPServerConfig)
	}
	return &ServerRegistry{servers: servers}
}

// Get retrieves an MCP server configuration by name.
func (r *ServerRegistry) Get(name string) (*MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	server, exists := r.servers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMCPServerNotFound, name)
	}
	return server, nil
}

// GetAll returns all server configurations (copy of the map).
func (r *ServerRegistry) GetAll() map[string]*MCPServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*MCPServerConfig, len(r.servers))
	for k, v := range r.servers {
		result[k] = v
	}
	return result
}

// Has checks if a server exists in the registry.
func (r *ServerRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.servers[name]
	return exists
}

// Names returns the registered server names.
func (r *ServerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	return names
}
