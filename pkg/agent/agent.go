// Package agent provides per-user execution engines: an agent registry
// with factory-based creation, user-scoped sessions, tool dispatch over
// MCP, and an idle-session janitor. Nothing in this package is shared
// across users except the registry map itself.
package agent

import "context"

// Agent is an opaque runnable owned by exactly one user session.
type Agent interface {
	Name() string
	Run(ctx context.Context, task string) (string, error)
}

// Cleaner is the optional cleanup capability. Cleanup must be
// idempotent; the registry may call it more than once.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// Closer is the optional close capability, checked after Cleaner.
type Closer interface {
	Close() error
}

// UserContext identifies one request's execution scope. Instances are
// built per request and never shared across users.
type UserContext struct {
	UserID        string            `json:"user_id"`
	ThreadID      string            `json:"thread_id,omitempty"`
	RunID         string            `json:"run_id,omitempty"`
	RequestID     string            `json:"request_id,omitempty"`
	AgentContext  map[string]any    `json:"agent_context,omitempty"`
	AuditMetadata map[string]string `json:"audit_metadata,omitempty"`
}
