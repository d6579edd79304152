package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ConnState is the lifecycle state of one managed connection.
type ConnState string

const (
	ConnStateConnecting   ConnState = "connecting"
	ConnStateConnected    ConnState = "connected"
	ConnStateReconnecting ConnState = "reconnecting"
	ConnStateFailed       ConnState = "failed"
	ConnStateDisconnected ConnState = "disconnected"
)

// Backoff parameters for recovery retry scheduling.
const (
	recoveryInitialDelay = 1 * time.Second
	recoveryMaxDelay     = 60 * time.Second
	recoveryMultiplier   = 2.0
)

// Connection is one managed MCP session. It moves between the pool, a
// checked-out caller, and the failed list; the manager owns all
// placement decisions.
type Connection struct {
	ID     string
	Server string

	mu        sync.Mutex
	state     ConnState
	client    *mcpsdk.Client
	session   *mcpsdk.ClientSession
	createdAt time.Time
	lastUsed  time.Time

	// Recovery bookkeeping, touched only by the failure and recovery
	// paths. retryCount counts recovery attempts and wraps at the cap;
	// consecutiveFailures counts failures since the last successful
	// connect and only a connect clears it.
	retryCount          int
	consecutiveFailures int
	lastFailure         time.Time
	recoveryDelay       time.Duration
	bo                  *backoff.ExponentialBackOff
}

// ConnInfo is a point-in-time snapshot of one connection for status
// endpoints.
type ConnInfo struct {
	ID                  string        `json:"id"`
	Server              string        `json:"server"`
	State               ConnState     `json:"state"`
	CreatedAt           time.Time     `json:"created_at"`
	LastUsed            time.Time     `json:"last_used,omitzero"`
	RetryCount          int           `json:"retry_count"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastFailure         time.Time     `json:"last_failure,omitzero"`
	RecoveryDelay       time.Duration `json:"recovery_delay_ns"`
}

func newConnection(server string) *Connection {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = recoveryInitialDelay
	bo.Multiplier = recoveryMultiplier
	bo.MaxInterval = recoveryMaxDelay
	bo.MaxElapsedTime = 0 // the retry-count cap governs, not elapsed time
	bo.Reset()

	return &Connection{
		ID:            uuid.NewString(),
		Server:        server,
		state:         ConnStateConnecting,
		createdAt:     time.Now(),
		recoveryDelay: recoveryInitialDelay,
		bo:            bo,
	}
}

// markConnected installs the live session and clears retry bookkeeping.
func (c *Connection) markConnected(client *mcpsdk.Client, session *mcpsdk.ClientSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ConnStateConnected
	c.client = client
	c.session = session
	c.lastUsed = time.Now()
	c.retryCount = 0
	c.consecutiveFailures = 0
	c.recoveryDelay = recoveryInitialDelay
	c.bo.Reset()
}

// markFailed records a failure and drops the session reference. The
// transport itself is closed by the manager's failure path.
func (c *Connection) markFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ConnStateFailed
	c.session = nil
	c.client = nil
	c.consecutiveFailures++
	c.lastFailure = time.Now()
}

// scheduleRetry advances the backoff after a failed recovery attempt.
// Past maxAttempts the retry count wraps to zero and the delay stays
// pinned at the cap; the connection remains eligible for recovery, never
// abandoned.
func (c *Connection) scheduleRetry(maxAttempts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ConnStateReconnecting
	c.lastFailure = time.Now()
	c.retryCount++
	if c.retryCount > maxAttempts {
		c.retryCount = 0
		c.recoveryDelay = recoveryMaxDelay
		return
	}
	c.recoveryDelay = c.bo.NextBackOff()
}

// resetBackoff returns the retry schedule to its initial state. Force
// recovery uses this to make every failed connection immediately
// eligible.
func (c *Connection) resetBackoff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryCount = 0
	c.recoveryDelay = recoveryInitialDelay
	c.lastFailure = time.Time{}
	c.bo.Reset()
}

// retryEligible reports whether the backoff delay since the last failure
// has elapsed.
func (c *Connection) retryEligible(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastFailure) >= c.recoveryDelay
}

// Session returns the live MCP session, or nil when not connected.
func (c *Connection) Session() *mcpsdk.ClientSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// touch records a checkout for idle-tracking.
func (c *Connection) touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUsed = time.Now()
}

// ping verifies the session end to end.
func (c *Connection) ping(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return ErrConnectionSetup
	}
	return session.Ping(ctx, nil)
}

// close tears down the session. Safe to call in any state.
func (c *Connection) close() error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.client = nil
	c.state = ConnStateDisconnected
	c.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}

// info snapshots the connection for status reporting.
func (c *Connection) info() ConnInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnInfo{
		ID:                  c.ID,
		Server:              c.Server,
		State:               c.state,
		CreatedAt:           c.createdAt,
		LastUsed:            c.lastUsed,
		RetryCount:          c.retryCount,
		ConsecutiveFailures: c.consecutiveFailures,
		LastFailure:         c.lastFailure,
		RecoveryDelay:       c.recoveryDelay,
	}
}
