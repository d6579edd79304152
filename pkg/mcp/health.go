package mcp

import (
	"context"
	"time"

	"github.com/agentfabric/fabric/pkg/circuit"
)

// healthLoop pings idle pooled connections, tops pools up to the
// configured minimum, and forces recovery when a pool has emptied while
// failures are queued.
func (m *Manager) healthLoop(ctx context.Context) {
	m.checkAll(ctx)

	ticker := time.NewTicker(m.poolCfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *Manager) checkAll(ctx context.Context) {
	m.mu.RLock()
	servers := make(map[string]*serverState, len(m.servers))
	for name, st := range m.servers {
		servers[name] = st
	}
	m.mu.RUnlock()

	for name, st := range servers {
		if ctx.Err() != nil {
			return
		}
		m.checkServer(ctx, name, st)
	}
}

func (m *Manager) checkServer(ctx context.Context, name string, st *serverState) {
	m.pingIdle(ctx, st)
	m.topUp(ctx, name, st)

	st.mu.Lock()
	starved := len(st.failed) > 0
	st.mu.Unlock()
	if starved && len(st.pool) == 0 {
		m.logger.Warn("Connection pool empty with queued failures, forcing recovery",
			"server", name)
		if err := m.ForceRecovery(ctx, name); err != nil {
			m.logger.Warn("Forced recovery failed", "server", name, "error", err)
		}
	}
}

// pingIdle health-checks each currently idle connection once. Connections
// checked out by callers are skipped; Release verifies those.
func (m *Manager) pingIdle(ctx context.Context, st *serverState) {
	for i := 0; i < cap(st.pool); i++ {
		var conn *Connection
		select {
		case conn = <-st.pool:
		default:
		}
		if conn == nil {
			return
		}
		if err := m.healthCheck(ctx, conn); err != nil {
			m.handleFailure(conn, err)
			continue
		}
		m.pool(st, conn)
	}
}

// topUp creates connections until pooled plus checked-out reaches the
// minimum. A creation failure counts against the breaker and ends the
// attempt for this tick.
func (m *Manager) topUp(ctx context.Context, name string, st *serverState) {
	b := m.breaker(name)
	for {
		if b.State() == circuit.StateOpen {
			return
		}
		st.mu.Lock()
		have := len(st.pool) + len(st.checkedOut)
		st.mu.Unlock()
		if have >= m.poolCfg.MinConnectionsPerServer {
			return
		}

		conn, err := m.CreateConnection(ctx, name)
		if err != nil {
			b.RecordFailure()
			if b.State() == circuit.StateOpen {
				st.mu.Lock()
				st.metrics.CircuitBreakerOpen = true
				st.metrics.LastCircuitOpen = time.Now()
				st.mu.Unlock()
			}
			m.logger.Warn("Pool top-up failed", "server", name, "error", err)
			return
		}
		m.pool(st, conn)
	}
}

// watchdogLoop periodically logs overall connection health so degraded
// servers surface in the logs even when nobody polls the status API.
func (m *Manager) watchdogLoop(ctx context.Context) {
	ticker := time.NewTicker(m.poolCfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, st := range m.Status() {
				if st.Healthy {
					continue
				}
				m.logger.Warn("MCP server degraded",
					"server", name,
					"pool_available", st.Pool.Available,
					"failed_connections", len(st.FailedConnections),
					"circuit_breaker", st.CircuitState)
			}
		}
	}
}
