package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/fabric/pkg/circuit"
	"github.com/agentfabric/fabric/pkg/config"
)

// testServerConfig points at a command that cannot exist, so any dial
// attempt fails immediately instead of touching the network.
func testServerConfig(name string) *config.MCPServerConfig {
	return &config.MCPServerConfig{
		Name: name,
		Transport: config.TransportConfig{
			Type:    config.TransportTypeStdio,
			Command: "/nonexistent/fabric-test-mcp-server",
		},
	}
}

func testManager(t *testing.T) (*Manager, *circuit.Registry) {
	t.Helper()
	circuits := circuit.NewRegistry()
	breakerCfg := config.DefaultCircuitConfig()
	breakerCfg.FailureThreshold = 3
	m := NewManager(circuits, config.DefaultPoolConfig(), breakerCfg)
	return m, circuits
}

func TestManagerRegister(t *testing.T) {
	m, circuits := testManager(t)

	require.NoError(t, m.Register(testServerConfig("github")))
	require.NoError(t, m.Register(testServerConfig("github"))) // idempotent
	assert.Equal(t, []string{"github"}, m.Servers())

	// Registration creates the breaker eagerly.
	assert.NotNil(t, circuits.Get("mcp:github"))

	bad := &config.MCPServerConfig{Name: "bad", Transport: config.TransportConfig{Type: "smoke-signal"}}
	assert.ErrorIs(t, m.Register(bad), config.ErrInvalidValue)
}

func TestManagerRegisterAll(t *testing.T) {
	m, circuits := testManager(t)

	registry := config.NewServerRegistry(map[string]*config.MCPServerConfig{
		"github": testServerConfig("github"),
		"jira":   testServerConfig("jira"),
	})
	require.NoError(t, m.RegisterAll(registry))
	assert.ElementsMatch(t, []string{"github", "jira"}, m.Servers())
	assert.NotNil(t, circuits.Get("mcp:github"))
	assert.NotNil(t, circuits.Get("mcp:jira"))

	bad := config.NewServerRegistry(map[string]*config.MCPServerConfig{
		"bad": {Name: "bad", Transport: config.TransportConfig{Type: "smoke-signal"}},
	})
	assert.ErrorIs(t, m.RegisterAll(bad), config.ErrInvalidValue)
}

func TestManagerGetConnectionUnknownServer(t *testing.T) {
	m, _ := testManager(t)
	_, err := m.GetConnection("nope")
	assert.ErrorIs(t, err, ErrUnknownServer)
}

func TestManagerGetConnectionEmptyPool(t *testing.T) {
	m, circuits := testManager(t)
	require.NoError(t, m.Register(testServerConfig("github")))

	// Empty pool, closed breaker: simply nothing available.
	conn, err := m.GetConnection("github")
	require.NoError(t, err)
	assert.Nil(t, conn)

	// Empty pool, open breaker: resource unavailable.
	circuits.Get("mcp:github").ForceOpen()
	_, err = m.GetConnection("github")
	assert.ErrorIs(t, err, ErrResourceUnavailable)
}

func TestManagerFailureRouting(t *testing.T) {
	m, circuits := testManager(t)
	require.NoError(t, m.Register(testServerConfig("github")))
	st := m.servers["github"]

	// Three reported failures trip the breaker and queue for recovery.
	for i := 0; i < 3; i++ {
		m.ReportFailure(newConnection("github"), errors.New("io error"))
	}

	st.mu.Lock()
	failed := len(st.failed)
	open := st.metrics.CircuitBreakerOpen
	st.mu.Unlock()

	assert.Equal(t, 3, failed)
	assert.True(t, open)
	assert.Equal(t, circuit.StateOpen, circuits.Get("mcp:github").State())

	for _, conn := range st.failed {
		assert.Equal(t, ConnStateFailed, conn.State())
	}
}

func TestManagerReleaseUnhealthyConnection(t *testing.T) {
	m, _ := testManager(t)
	require.NoError(t, m.Register(testServerConfig("github")))
	st := m.servers["github"]

	// A connection without a live session fails its release health check
	// and lands in the failed list, never back in the pool.
	m.Release(context.Background(), newConnection("github"))

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Empty(t, st.pool)
	assert.Len(t, st.failed, 1)
}

func TestManagerPoolConservation(t *testing.T) {
	m, _ := testManager(t)
	require.NoError(t, m.Register(testServerConfig("github")))
	st := m.servers["github"]

	// Seed three live-looking connections straight into the pool.
	for i := 0; i < 3; i++ {
		st.pool <- newConnection("github")
	}
	st.mu.Lock()
	st.metrics.TotalCreated = 3
	st.mu.Unlock()

	// Check one out, fail one, leave one pooled.
	conn, err := m.GetConnection("github")
	require.NoError(t, err)
	require.NotNil(t, conn)

	failing, err := m.GetConnection("github")
	require.NoError(t, err)
	require.NotNil(t, failing)
	m.ReportFailure(failing, errors.New("io error"))

	status := m.Status()["github"]
	total := status.Pool.Available + status.Pool.CheckedOut + len(status.FailedConnections)
	assert.Equal(t, int(status.Metrics.TotalCreated-status.Metrics.TotalDestroyed), total)
	assert.Equal(t, 1, status.Pool.Available)
	assert.Equal(t, 1, status.Pool.CheckedOut)
	assert.Len(t, status.FailedConnections, 1)
}

func TestManagerStatusHealth(t *testing.T) {
	m, circuits := testManager(t)
	require.NoError(t, m.Register(testServerConfig("github")))
	st := m.servers["github"]

	// Empty pool: degraded.
	assert.False(t, m.Status()["github"].Healthy)
	assert.Equal(t, ServerDegraded, m.Status()["github"].Health)

	st.pool <- newConnection("github")
	assert.True(t, m.Status()["github"].Healthy)
	assert.Equal(t, ServerHealthy, m.Status()["github"].Health)

	// Open breaker: failed even with pooled connections.
	circuits.Get("mcp:github").ForceOpen()
	assert.False(t, m.Status()["github"].Healthy)
	assert.Equal(t, ServerFailed, m.Status()["github"].Health)
}

func TestManagerCloseAllIdempotent(t *testing.T) {
	m, _ := testManager(t)
	require.NoError(t, m.Register(testServerConfig("github")))
	m.servers["github"].pool <- newConnection("github")
	m.Start(context.Background())

	ctx := context.Background()
	require.NoError(t, m.CloseAll(ctx))
	require.NoError(t, m.CloseAll(ctx))

	_, err := m.GetConnection("github")
	assert.ErrorIs(t, err, ErrShutdown)
	assert.ErrorIs(t, m.Register(testServerConfig("other")), ErrShutdown)
}

func TestManagerCloseAllClosesCheckedOutConnections(t *testing.T) {
	m, _ := testManager(t)
	require.NoError(t, m.Register(testServerConfig("github")))
	st := m.servers["github"]

	for i := 0; i < 2; i++ {
		st.pool <- newConnection("github")
	}
	st.mu.Lock()
	st.metrics.TotalCreated = 2
	st.mu.Unlock()

	// One connection stays in a caller's hands at shutdown.
	held, err := m.GetConnection("github")
	require.NoError(t, err)
	require.NotNil(t, held)

	require.NoError(t, m.CloseAll(context.Background()))

	assert.Equal(t, ConnStateDisconnected, held.State())
	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Empty(t, st.checkedOut)
	assert.Equal(t, int64(2), st.metrics.TotalDestroyed)
}

func TestConnectionConsecutiveFailures(t *testing.T) {
	conn := newConnection("github")

	conn.markFailed()
	conn.markFailed()
	assert.Equal(t, 2, conn.info().ConsecutiveFailures)

	// Recovery scheduling wraps the retry count but never the failure
	// streak; only a successful connect clears it.
	for i := 0; i < 5; i++ {
		conn.scheduleRetry(3)
	}
	assert.Equal(t, 2, conn.info().ConsecutiveFailures)

	conn.markConnected(nil, nil)
	assert.Zero(t, conn.info().ConsecutiveFailures)
}

func TestManagerRecoverySkipsWhileBreakerOpen(t *testing.T) {
	m, circuits := testManager(t)
	require.NoError(t, m.Register(testServerConfig("github")))
	st := m.servers["github"]

	for i := 0; i < 3; i++ {
		m.ReportFailure(newConnection("github"), errors.New("io error"))
	}
	require.Equal(t, circuit.StateOpen, circuits.Get("mcp:github").State())

	st.mu.Lock()
	attemptsBefore := st.metrics.RecoveryAttempts
	st.mu.Unlock()

	// Breaker opened moments ago: the recovery pass must not attempt.
	m.recoverServer(context.Background(), "github", st)

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, attemptsBefore, st.metrics.RecoveryAttempts)
	assert.Len(t, st.failed, 3)
}

func TestForceRecoveryResetsBackoffAndBreaker(t *testing.T) {
	m, circuits := testManager(t)
	require.NoError(t, m.Register(testServerConfig("github")))
	_ = m.servers["github"]

	conn := newConnection("github")
	for i := 0; i < 4; i++ {
		conn.scheduleRetry(10)
	}
	m.ReportFailure(conn, errors.New("io error"))
	circuits.Get("mcp:github").ForceOpen()

	// The dial fails (no real server), but the administrative resets must
	// have happened regardless.
	_ = m.ForceRecovery(context.Background(), "github")

	assert.Equal(t, circuit.StateClosed, circuits.Get("mcp:github").State())
	assert.False(t, m.Status()["github"].Metrics.CircuitBreakerOpen)
}

func TestForceRecoveryAllNoFailuresIsNoop(t *testing.T) {
	m, _ := testManager(t)
	require.NoError(t, m.Register(testServerConfig("github")))
	assert.Empty(t, m.ForceRecoveryAll(context.Background()))
}

func TestConnectionBackoffSchedule(t *testing.T) {
	conn := newConnection("github")
	conn.bo.RandomizationFactor = 0 // deterministic schedule for the test

	conn.scheduleRetry(10)
	assert.Equal(t, time.Second, conn.info().RecoveryDelay)
	assert.Equal(t, 1, conn.info().RetryCount)

	conn.scheduleRetry(10)
	assert.Equal(t, 2*time.Second, conn.info().RecoveryDelay)

	// Past the attempt cap: count wraps, delay pins at the maximum, the
	// connection stays eligible for future recovery.
	for i := 0; i < 20; i++ {
		conn.scheduleRetry(3)
	}
	info := conn.info()
	assert.LessOrEqual(t, info.RetryCount, 3)
	assert.Equal(t, recoveryMaxDelay, info.RecoveryDelay)

	// Success resets the schedule.
	conn.resetBackoff()
	info = conn.info()
	assert.Zero(t, info.RetryCount)
	assert.Equal(t, recoveryInitialDelay, info.RecoveryDelay)
	assert.True(t, conn.retryEligible(time.Now()))
}

func TestConnectionRetryEligibility(t *testing.T) {
	conn := newConnection("github")
	conn.markFailed()
	conn.scheduleRetry(10)

	// Freshly failed: backoff has not elapsed yet.
	assert.False(t, conn.retryEligible(time.Now()))
	assert.True(t, conn.retryEligible(time.Now().Add(2*time.Second)))
}

func TestBreakerNameKey(t *testing.T) {
	assert.Equal(t, "mcp:github", breakerName("github"))
}
