package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentfabric/fabric/pkg/events"
)

// UserSession is the unit of isolation: one user's agents, websocket
// bridge, and tool dispatcher. Agents are reachable only through their
// owning session.
type UserSession struct {
	userID    string
	createdAt time.Time
	logger    *slog.Logger

	mu           sync.Mutex
	agents       map[string]Agent
	bridge       *events.Bridge
	dispatcher   ToolDispatcher
	lastActivity time.Time
	cleaned      bool
}

func newUserSession(userID string, sink any) *UserSession {
	now := time.Now()
	return &UserSession{
		userID:       userID,
		createdAt:    now,
		lastActivity: now,
		logger:       slog.Default().With("user_id", userID),
		agents:       make(map[string]Agent),
		bridge:       events.NewBridge(userID, sink),
	}
}

// UserID returns the owning user.
func (s *UserSession) UserID() string { return s.userID }

// Bridge returns the session's event bridge. Never nil; with no
// websocket manager attached the bridge is fully degraded.
func (s *UserSession) Bridge() *events.Bridge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridge
}

// Dispatcher returns the session's tool dispatcher, or nil before one
// is created.
func (s *UserSession) Dispatcher() ToolDispatcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatcher
}

// AgentNames lists the session's agents.
func (s *UserSession) AgentNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.agents))
	for name := range s.agents {
		names = append(names, name)
	}
	return names
}

// Agent returns one agent by type name, or nil.
func (s *UserSession) Agent(name string) Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agents[name]
}

// touch records activity for idle tracking.
func (s *UserSession) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// IdleSince returns the last activity timestamp.
func (s *UserSession) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// rebind swaps the event sink, giving the session a fresh bridge.
func (s *UserSession) rebind(sink any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bridge = events.NewBridge(s.userID, sink)
}

// addAgent stores an agent under its type name, replacing any previous
// instance of the same type.
func (s *UserSession) addAgent(name string, a Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[name] = a
	s.lastActivity = time.Now()
}

// setDispatcher installs the session's dispatcher.
func (s *UserSession) setDispatcher(d ToolDispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatcher = d
	s.lastActivity = time.Now()
}

// cleanup runs every agent's optional Cleanup and Close, best-effort
// with errors logged. Safe to call repeatedly; after the first call the
// agent map is empty.
func (s *UserSession) cleanup(ctx context.Context) {
	s.mu.Lock()
	agents := s.agents
	s.agents = make(map[string]Agent)
	s.dispatcher = nil
	already := s.cleaned
	s.cleaned = true
	s.mu.Unlock()

	if already && len(agents) == 0 {
		return
	}

	for name, a := range agents {
		if c, ok := a.(Cleaner); ok {
			if err := c.Cleanup(ctx); err != nil {
				s.logger.Warn("Agent cleanup failed", "agent", name, "error", err)
			}
		}
		if c, ok := a.(Closer); ok {
			if err := c.Close(); err != nil {
				s.logger.Warn("Agent close failed", "agent", name, "error", err)
			}
		}
	}
}
