// Package mcp manages pooled connections to external MCP servers:
// per-server connection pools, health checking, circuit breaker
// integration, and automatic recovery with exponential backoff.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/agentfabric/fabric/pkg/circuit"
	"github.com/agentfabric/fabric/pkg/config"
	"github.com/agentfabric/fabric/pkg/version"
)

const (
	// healthPingTimeout bounds one end-to-end ping during health checks.
	healthPingTimeout = 5 * time.Second

	// connectTimeout bounds transport dial plus MCP initialize.
	connectTimeout = 30 * time.Second

	// closeTimeout is the hard deadline for CloseAll.
	closeTimeout = 5 * time.Second
)

// breakerName returns the registry key for a server's breaker.
func breakerName(server string) string { return "mcp:" + server }

// ConnMetrics are per-server counters. Created minus destroyed always
// equals pooled plus checked-out plus failed; a connection is destroyed
// only when it leaves the manager entirely.
type ConnMetrics struct {
	TotalCreated         int64     `json:"total_created"`
	TotalDestroyed       int64     `json:"total_destroyed"`
	RecoveryAttempts     int64     `json:"recovery_attempts"`
	SuccessfulRecoveries int64     `json:"successful_recoveries"`
	CircuitBreakerOpen   bool      `json:"circuit_breaker_open"`
	LastCircuitOpen      time.Time `json:"last_circuit_open,omitzero"`
}

// serverState is everything the manager tracks for one MCP server.
type serverState struct {
	cfg  *config.MCPServerConfig
	pool chan *Connection

	mu         sync.Mutex
	failed     []*Connection
	checkedOut map[string]*Connection
	metrics    ConnMetrics
}

// PoolStatus describes pool occupancy for one server.
type PoolStatus struct {
	Available  int `json:"available"`
	CheckedOut int `json:"checked_out"`
	Capacity   int `json:"capacity"`
}

// ServerHealth is the rolled-up verdict for one server.
type ServerHealth string

const (
	ServerHealthy  ServerHealth = "healthy"
	ServerDegraded ServerHealth = "degraded"
	ServerFailed   ServerHealth = "failed"
)

// serverHealth rolls pool occupancy and breaker state into a verdict.
// Healthy needs a non-empty pool and a closed breaker; an open breaker
// is failed; everything in between is degraded.
func serverHealth(available int, state circuit.State) ServerHealth {
	switch {
	case state == circuit.StateOpen:
		return ServerFailed
	case available > 0 && state == circuit.StateClosed:
		return ServerHealthy
	default:
		return ServerDegraded
	}
}

// ServerStatus is a point-in-time snapshot of one server's connection
// health.
type ServerStatus struct {
	Server            string               `json:"server"`
	Transport         config.TransportType `json:"transport"`
	Healthy           bool                 `json:"healthy"`
	Health            ServerHealth         `json:"health_status"`
	Pool              PoolStatus           `json:"pool"`
	FailedConnections []ConnInfo           `json:"failed_connections"`
	CircuitState      circuit.State        `json:"circuit_breaker_state"`
	Metrics           ConnMetrics          `json:"metrics"`
}

// Manager owns all MCP connections. Failed connections are queued for
// recovery, never abandoned; background loops keep pools topped up and
// retry failures with backoff.
type Manager struct {
	circuits   *circuit.Registry
	poolCfg    config.PoolConfig
	breakerCfg config.CircuitConfig
	logger     *slog.Logger

	mu      sync.RWMutex
	servers map[string]*serverState
	closed  bool

	loopCancel context.CancelFunc
	loopsDone  chan struct{}
}

// NewManager creates a manager wired to the given breaker registry.
func NewManager(circuits *circuit.Registry, poolCfg config.PoolConfig, breakerCfg config.CircuitConfig) *Manager {
	return &Manager{
		circuits:   circuits,
		poolCfg:    poolCfg,
		breakerCfg: breakerCfg,
		logger:     slog.Default(),
		servers:    make(map[string]*serverState),
	}
}

// Register adds a server definition and creates its breaker. The config
// is retained for the recovery loop; registering the same name twice is
// a no-op.
func (m *Manager) Register(cfg *config.MCPServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrShutdown
	}
	if _, exists := m.servers[cfg.Name]; exists {
		return nil
	}
	m.servers[cfg.Name] = &serverState{
		cfg:        cfg,
		pool:       make(chan *Connection, m.poolCfg.MaxConnectionsPerServer),
		checkedOut: make(map[string]*Connection),
	}
	m.circuits.GetOrCreate(breakerName(cfg.Name), m.breakerCfg)
	m.logger.Info("Registered MCP server",
		"server", cfg.Name, "transport", cfg.Transport.Type)
	return nil
}

// RegisterAll registers every server held by a config registry.
func (m *Manager) RegisterAll(servers *config.ServerRegistry) error {
	for _, name := range servers.Names() {
		cfg, err := servers.Get(name)
		if err != nil {
			return err
		}
		if err := m.Register(cfg); err != nil {
			return fmt.Errorf("register server %q: %w", name, err)
		}
	}
	return nil
}

// Servers returns the registered server names.
func (m *Manager) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	return names
}

func (m *Manager) server(name string) (*serverState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrShutdown
	}
	st, ok := m.servers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownServer, name)
	}
	return st, nil
}

func (m *Manager) breaker(server string) *circuit.Breaker {
	return m.circuits.GetOrCreate(breakerName(server), m.breakerCfg)
}

// CreateConnection establishes a fresh connection to a registered
// server. The caller owns the result; it is not pooled.
func (m *Manager) CreateConnection(ctx context.Context, server string) (*Connection, error) {
	st, err := m.server(server)
	if err != nil {
		return nil, err
	}

	transport, err := newTransport(st.cfg)
	if err != nil {
		return nil, err
	}

	conn := newConnection(server)
	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	session, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		conn.markFailed()
		return nil, fmt.Errorf("%w: server %q: %v", ErrConnectionSetup, server, err)
	}
	conn.markConnected(client, session)

	st.mu.Lock()
	st.metrics.TotalCreated++
	st.mu.Unlock()

	m.logger.Info("MCP connection established",
		"server", server, "connection_id", conn.ID, "session_id", session.ID())
	return conn, nil
}

// GetConnection checks a pooled connection out. Returns (nil, nil) when
// the pool is simply empty, and ErrResourceUnavailable when it is empty
// with the breaker open.
func (m *Manager) GetConnection(server string) (*Connection, error) {
	st, err := m.server(server)
	if err != nil {
		return nil, err
	}

	select {
	case conn := <-st.pool:
		st.mu.Lock()
		st.checkedOut[conn.ID] = conn
		st.mu.Unlock()
		conn.touch()
		return conn, nil
	default:
	}

	if m.breaker(server).State() == circuit.StateOpen {
		return nil, fmt.Errorf("server %q: %w", server, ErrResourceUnavailable)
	}
	return nil, nil
}

// Release returns a checked-out connection. Healthy connections go back
// to the pool; unhealthy ones enter failure handling. Never fails from
// the caller's perspective.
func (m *Manager) Release(ctx context.Context, conn *Connection) {
	st, err := m.server(conn.Server)
	if err != nil {
		if cerr := conn.close(); cerr != nil {
			m.logger.Warn("Error closing connection on release",
				"server", conn.Server, "connection_id", conn.ID, "error", cerr)
		}
		return
	}

	st.mu.Lock()
	delete(st.checkedOut, conn.ID)
	st.mu.Unlock()

	if err := m.healthCheck(ctx, conn); err != nil {
		m.handleFailure(conn, err)
		return
	}
	m.pool(st, conn)
}

// ReportFailure hands a connection the caller observed failing straight
// to failure handling.
func (m *Manager) ReportFailure(conn *Connection, cause error) {
	st, err := m.server(conn.Server)
	if err == nil {
		st.mu.Lock()
		delete(st.checkedOut, conn.ID)
		st.mu.Unlock()
	}
	m.handleFailure(conn, cause)
}

// pool places a connection back; overflow closes it instead.
func (m *Manager) pool(st *serverState, conn *Connection) {
	select {
	case st.pool <- conn:
	default:
		if err := conn.close(); err != nil {
			m.logger.Warn("Error closing overflow connection",
				"server", conn.Server, "connection_id", conn.ID, "error", err)
		}
		st.mu.Lock()
		st.metrics.TotalDestroyed++
		st.mu.Unlock()
	}
}

// healthCheck verifies a connection with an end-to-end ping.
func (m *Manager) healthCheck(ctx context.Context, conn *Connection) error {
	if conn.State() != ConnStateConnected {
		return fmt.Errorf("connection %s is %s", conn.ID, conn.State())
	}
	pingCtx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()
	return conn.ping(pingCtx)
}

// handleFailure tears the transport down, queues the connection for
// recovery, and records the failure on the server's breaker.
func (m *Manager) handleFailure(conn *Connection, cause error) {
	m.logger.Warn("MCP connection failed",
		"server", conn.Server, "connection_id", conn.ID, "error", cause)

	if err := conn.close(); err != nil {
		m.logger.Warn("Error closing failed connection",
			"server", conn.Server, "connection_id", conn.ID, "error", err)
	}
	conn.markFailed()

	m.mu.RLock()
	st := m.servers[conn.Server]
	m.mu.RUnlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	st.failed = append(st.failed, conn)
	st.mu.Unlock()

	b := m.breaker(conn.Server)
	b.RecordFailure()
	if b.State() == circuit.StateOpen {
		st.mu.Lock()
		st.metrics.CircuitBreakerOpen = true
		st.metrics.LastCircuitOpen = time.Now()
		st.mu.Unlock()
	}
}

// Start launches the health, recovery, and watchdog loops. Calling Start
// on a running manager is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.closed || m.loopCancel != nil {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.loopCancel = cancel
	done := make(chan struct{})
	m.loopsDone = done
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error { m.healthLoop(gctx); return nil })
	g.Go(func() error { m.recoveryLoop(gctx); return nil })
	g.Go(func() error { m.watchdogLoop(gctx); return nil })
	go func() {
		_ = g.Wait()
		close(done)
	}()

	m.logger.Info("MCP connection manager started",
		"health_interval", m.poolCfg.HealthCheckInterval,
		"recovery_interval", m.poolCfg.RecoveryInterval)
}

// CloseAll stops the loops and tears down every connection, pooled and
// failed. Loops get a hard deadline; stragglers are logged and left to
// the process exit. Idempotent.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.loopCancel
	done := m.loopsDone
	servers := make(map[string]*serverState, len(m.servers))
	for name, st := range m.servers {
		servers[name] = st
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(closeTimeout):
			m.logger.Warn("Background loops did not stop within deadline")
		case <-ctx.Done():
		}
	}

	for name, st := range servers {
		closed := 0
		for drained := false; !drained; {
			select {
			case conn := <-st.pool:
				if err := conn.close(); err != nil {
					m.logger.Warn("Error closing pooled connection",
						"server", name, "connection_id", conn.ID, "error", err)
				}
				closed++
			default:
				drained = true
			}
		}
		st.mu.Lock()
		for _, conn := range st.failed {
			if err := conn.close(); err != nil {
				m.logger.Warn("Error closing failed connection",
					"server", name, "connection_id", conn.ID, "error", err)
			}
			closed++
		}
		st.failed = nil
		for _, conn := range st.checkedOut {
			if err := conn.close(); err != nil {
				m.logger.Warn("Error closing checked-out connection",
					"server", name, "connection_id", conn.ID, "error", err)
			}
			closed++
		}
		st.checkedOut = make(map[string]*Connection)
		st.metrics.TotalDestroyed += int64(closed)
		st.mu.Unlock()

		m.circuits.Remove(breakerName(name))
		m.logger.Info("Closed MCP server connections", "server", name, "count", closed)
	}

	m.logger.Info("MCP connection manager shut down")
	return nil
}

// Status snapshots every server. Healthy means a non-empty pool with a
// closed breaker.
func (m *Manager) Status() map[string]ServerStatus {
	m.mu.RLock()
	servers := make(map[string]*serverState, len(m.servers))
	for name, st := range m.servers {
		servers[name] = st
	}
	m.mu.RUnlock()

	result := make(map[string]ServerStatus, len(servers))
	for name, st := range servers {
		state := m.breaker(name).State()

		st.mu.Lock()
		failed := make([]ConnInfo, len(st.failed))
		for i, conn := range st.failed {
			failed[i] = conn.info()
		}
		metrics := st.metrics
		checkedOut := len(st.checkedOut)
		st.mu.Unlock()

		available := len(st.pool)
		health := serverHealth(available, state)
		result[name] = ServerStatus{
			Server:            name,
			Transport:         st.cfg.Transport.Type,
			Healthy:           health == ServerHealthy,
			Health:            health,
			Pool:              PoolStatus{Available: available, CheckedOut: checkedOut, Capacity: cap(st.pool)},
			FailedConnections: failed,
			CircuitState:      state,
			Metrics:           metrics,
		}
	}
	return result
}
