package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds one websocket send; a stuck client must not block
// an agent's event path longer than this.
const writeTimeout = 5 * time.Second

// StreamManager fans lifecycle events out to per-user websocket
// connections. One connection per user; attaching a second closes the
// first. It implements every sink capability, so bridges wrapping it
// never degrade.
type StreamManager struct {
	logger *slog.Logger

	mu      sync.RWMutex
	streams map[string]*userStream
}

// userStream serializes writes to one user's connection.
type userStream struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewStreamManager creates an empty stream manager.
func NewStreamManager() *StreamManager {
	return &StreamManager{
		logger:  slog.Default(),
		streams: make(map[string]*userStream),
	}
}

// Attach registers a user's websocket. An existing connection for the
// same user is closed and replaced.
func (s *StreamManager) Attach(userID string, conn *websocket.Conn) {
	s.mu.Lock()
	prev := s.streams[userID]
	s.streams[userID] = &userStream{conn: conn}
	s.mu.Unlock()

	if prev != nil {
		prev.mu.Lock()
		_ = prev.conn.Close(websocket.StatusPolicyViolation, "superseded by new connection")
		prev.mu.Unlock()
		s.logger.Info("Replaced existing websocket connection", "user_id", userID)
	}
	s.logger.Info("Websocket attached", "user_id", userID)
}

// Detach removes a user's websocket if conn is still the registered one.
// A stale detach from a superseded connection is a no-op.
func (s *StreamManager) Detach(userID string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.streams[userID]
	if !ok || current.conn != conn {
		return
	}
	delete(s.streams, userID)
	s.logger.Info("Websocket detached", "user_id", userID)
}

// Connected reports whether a user currently has a stream.
func (s *StreamManager) Connected(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.streams[userID]
	return ok
}

// ConnectedUsers returns the user IDs with live streams.
func (s *StreamManager) ConnectedUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]string, 0, len(s.streams))
	for userID := range s.streams {
		users = append(users, userID)
	}
	return users
}

// CloseAll tears down every stream, normally during shutdown.
func (s *StreamManager) CloseAll() {
	s.mu.Lock()
	streams := s.streams
	s.streams = make(map[string]*userStream)
	s.mu.Unlock()

	for userID, us := range streams {
		us.mu.Lock()
		_ = us.conn.Close(websocket.StatusGoingAway, "server shutting down")
		us.mu.Unlock()
		s.logger.Info("Websocket closed", "user_id", userID)
	}
}

// send marshals and writes one event under the user's write lock. A
// user without a stream is not an error; events simply have no audience.
func (s *StreamManager) send(ctx context.Context, userID string, event Event) error {
	s.mu.RLock()
	us := s.streams[userID]
	s.mu.RUnlock()
	if us == nil {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	us.mu.Lock()
	defer us.mu.Unlock()
	if err := us.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s event to user %s: %w", event.Type, userID, err)
	}
	return nil
}

// Capability implementations. The bridge probes for these.

func (s *StreamManager) NotifyAgentStarted(ctx context.Context, userID string, p AgentStartedPayload) error {
	return s.send(ctx, userID, newEvent(EventAgentStarted, userID, p))
}

func (s *StreamManager) NotifyAgentThinking(ctx context.Context, userID string, p AgentThinkingPayload) error {
	return s.send(ctx, userID, newEvent(EventAgentThinking, userID, p))
}

func (s *StreamManager) NotifyToolExecuting(ctx context.Context, userID string, p ToolExecutingPayload) error {
	return s.send(ctx, userID, newEvent(EventToolExecuting, userID, p))
}

func (s *StreamManager) NotifyToolCompleted(ctx context.Context, userID string, p ToolCompletedPayload) error {
	return s.send(ctx, userID, newEvent(EventToolCompleted, userID, p))
}

func (s *StreamManager) NotifyAgentCompleted(ctx context.Context, userID string, p AgentCompletedPayload) error {
	return s.send(ctx, userID, newEvent(EventAgentCompleted, userID, p))
}

func (s *StreamManager) NotifyAgentError(ctx context.Context, userID string, p AgentErrorPayload) error {
	return s.send(ctx, userID, newEvent(EventAgentError, userID, p))
}

func (s *StreamManager) NotifyAgentDeath(ctx context.Context, userID string, p AgentDeathPayload) error {
	return s.send(ctx, userID, newEvent(EventAgentDeath, userID, p))
}

// Interface conformance.
var (
	_ AgentStartedNotifier   = (*StreamManager)(nil)
	_ AgentThinkingNotifier  = (*StreamManager)(nil)
	_ ToolExecutingNotifier  = (*StreamManager)(nil)
	_ ToolCompletedNotifier  = (*StreamManager)(nil)
	_ AgentCompletedNotifier = (*StreamManager)(nil)
	_ AgentErrorNotifier     = (*StreamManager)(nil)
	_ AgentDeathNotifier     = (*StreamManager)(nil)
)
