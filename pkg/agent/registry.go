package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentfabric/fabric/pkg/config"
	"github.com/agentfabric/fabric/pkg/events"
)

// AgentFactory constructs one isolated agent instance for one user. The
// bridge is the session's own; factories may ignore it.
type AgentFactory func(uc UserContext, bridge *events.Bridge) (Agent, error)

// factoryEntry is one registered agent constructor with its metadata.
type factoryEntry struct {
	factory     AgentFactory
	tags        []string
	description string
	registered  time.Time
}

// Registry maps users to sessions and agent types to factories. It
// holds no agent state itself; everything user-visible lives inside the
// sessions.
type Registry struct {
	dispatcherFactory DispatcherFactory
	allowTestIDs      bool
	logger            *slog.Logger

	mu        sync.RWMutex
	sessions  map[string]*UserSession
	factories map[string]*factoryEntry
	wsManager any
}

// NewRegistry creates an empty registry. allowTestIDs disables the
// placeholder user_id check for test environments.
func NewRegistry(dispatcherFactory DispatcherFactory, allowTestIDs bool) *Registry {
	return &Registry{
		dispatcherFactory: dispatcherFactory,
		allowTestIDs:      allowTestIDs,
		logger:            slog.Default(),
		sessions:          make(map[string]*UserSession),
		factories:         make(map[string]*factoryEntry),
	}
}

// RegisterFactory registers a constructor for an agent type.
// Re-registering a type replaces the previous factory.
func (r *Registry) RegisterFactory(agentType string, factory AgentFactory, tags []string, description string) error {
	if agentType == "" {
		return &config.ValidationError{
			Component: "agent_registry", ID: "(empty)", Field: "agent_type",
			Err: config.ErrMissingRequiredField,
		}
	}
	if factory == nil {
		return &config.ValidationError{
			Component: "agent_registry", ID: agentType, Field: "factory",
			Err: config.ErrMissingRequiredField,
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[agentType] = &factoryEntry{
		factory:     factory,
		tags:        tags,
		description: description,
		registered:  time.Now(),
	}
	r.logger.Info("Registered agent factory", "agent_type", agentType, "tags", tags)
	return nil
}

// GetUserSession returns the user's session, creating it on first use.
// The user_id is validated before any resource is created.
func (r *Registry) GetUserSession(userID string) (*UserSession, error) {
	if err := ValidateUserID(userID, r.allowTestIDs); err != nil {
		return nil, err
	}

	r.mu.RLock()
	session, exists := r.sessions[userID]
	r.mu.RUnlock()
	if exists {
		session.touch()
		return session, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if session, exists = r.sessions[userID]; exists {
		return session, nil
	}
	session = newUserSession(userID, r.wsManager)
	r.sessions[userID] = session
	r.logger.Info("Created user session", "user_id", userID)
	return session, nil
}

// CreateAgentForUser resolves the factory for agentType and builds a
// fresh, session-owned instance. Two users always get distinct
// instances even from the same factory.
func (r *Registry) CreateAgentForUser(userID, agentType string, uc UserContext) (Agent, error) {
	r.mu.RLock()
	entry := r.factories[agentType]
	r.mu.RUnlock()
	if entry == nil {
		return nil, fmt.Errorf("no factory registered for agent type %q", agentType)
	}

	session, err := r.GetUserSession(userID)
	if err != nil {
		return nil, err
	}

	a, err := entry.factory(uc, session.Bridge())
	if err != nil {
		return nil, fmt.Errorf("build agent %q for user %s: %w", agentType, userID, err)
	}
	session.addAgent(agentType, a)
	r.logger.Info("Created agent", "user_id", userID, "agent_type", agentType)
	return a, nil
}

// CreateToolDispatcherForUser builds the session's dispatcher through
// the unified factory. With a websocket manager attached the dispatcher
// emits tool lifecycle events through the session's own bridge.
func (r *Registry) CreateToolDispatcherForUser(uc UserContext, enableAdminTools bool) (ToolDispatcher, error) {
	if r.dispatcherFactory == nil {
		return nil, fmt.Errorf("no dispatcher factory configured")
	}

	session, err := r.GetUserSession(uc.UserID)
	if err != nil {
		return nil, err
	}

	bridge := session.Bridge()
	d, err := r.dispatcherFactory(uc, bridge, enableAdminTools)
	if err != nil {
		return nil, fmt.Errorf("build dispatcher for user %s: %w", uc.UserID, err)
	}
	session.setDispatcher(d)
	return d, nil
}

// SetWebSocketManager attaches the event sink and rebinds every live
// session to a fresh bridge over it. Each session gets its own bridge;
// the manager itself is the only shared piece.
func (r *Registry) SetWebSocketManager(ws any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wsManager = ws
	for _, session := range r.sessions {
		session.rebind(ws)
	}
	r.logger.Info("Websocket manager attached", "sessions_rebound", len(r.sessions))
}

// ResetUserAgents cleans up the user's agents best-effort and drops the
// session. The next GetUserSession starts from scratch.
func (r *Registry) ResetUserAgents(ctx context.Context, userID string) error {
	if err := ValidateUserID(userID, r.allowTestIDs); err != nil {
		return err
	}

	r.mu.Lock()
	session := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()

	if session == nil {
		return nil
	}
	session.cleanup(ctx)
	r.logger.Info("Reset user agents", "user_id", userID)
	return nil
}

// EmergencyCleanupAll tears down every session. Used during shutdown.
func (r *Registry) EmergencyCleanupAll(ctx context.Context) {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*UserSession)
	r.mu.Unlock()

	for userID, session := range sessions {
		session.cleanup(ctx)
		r.logger.Info("Emergency cleanup", "user_id", userID)
	}
}

// sessionsSnapshot copies the session map for iteration outside the
// registry lock.
func (r *Registry) sessionsSnapshot() map[string]*UserSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*UserSession, len(r.sessions))
	for userID, s := range r.sessions {
		out[userID] = s
	}
	return out
}

// Health summarizes the registry for monitoring endpoints.
type Health struct {
	ActiveSessions      int      `json:"active_sessions"`
	RegisteredFactories int      `json:"registered_factories"`
	Users               []string `json:"users"`
	WebSocketAttached   bool     `json:"websocket_attached"`
}

// GetHealth reports session and factory counts.
func (r *Registry) GetHealth() Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.sessions))
	for userID := range r.sessions {
		users = append(users, userID)
	}
	return Health{
		ActiveSessions:      len(r.sessions),
		RegisteredFactories: len(r.factories),
		Users:               users,
		WebSocketAttached:   r.wsManager != nil,
	}
}

// FactoryStatus describes one registered factory.
type FactoryStatus struct {
	AgentType    string    `json:"agent_type"`
	Tags         []string  `json:"tags,omitempty"`
	Description  string    `json:"description,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// GetFactoryIntegrationStatus lists every registered factory.
func (r *Registry) GetFactoryIntegrationStatus() []FactoryStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FactoryStatus, 0, len(r.factories))
	for agentType, entry := range r.factories {
		out = append(out, FactoryStatus{
			AgentType:    agentType,
			Tags:         entry.tags,
			Description:  entry.description,
			RegisteredAt: entry.registered,
		})
	}
	return out
}

// ComplianceStatus reports whether agent state is held exclusively in
// per-user sessions, which is the registry's core design rule.
type ComplianceStatus struct {
	PerUserSessions  bool           `json:"per_user_sessions"`
	GlobalAgentState bool           `json:"global_agent_state"`
	AgentsPerUser    map[string]int `json:"agents_per_user"`
}

// GetComplianceStatus snapshots the isolation posture. GlobalAgentState
// is structurally false here; the field exists so dashboards can assert
// it.
func (r *Registry) GetComplianceStatus() ComplianceStatus {
	perUser := make(map[string]int)
	for userID, session := range r.sessionsSnapshot() {
		perUser[userID] = len(session.AgentNames())
	}
	return ComplianceStatus{
		PerUserSessions:  true,
		GlobalAgentState: false,
		AgentsPerUser:    perUser,
	}
}
