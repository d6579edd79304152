package mcp

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentfabric/fabric/pkg/circuit"
)

// recoveryLoop retries failed connections on a fixed cadence. Each tick
// recovers at most one connection per server; a success resets the
// server's breaker and clears the remaining failed entries as stale.
func (m *Manager) recoveryLoop(ctx context.Context) {
	m.recoverAll(ctx)

	ticker := time.NewTicker(m.poolCfg.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.recoverAll(ctx)
		}
	}
}

func (m *Manager) recoverAll(ctx context.Context) {
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
		m.recoverServer(ctx, name, st)
	}
}

// recoverServer attempts one recovery for a server with failed
// connections. While the breaker has been open for less than the
// configured window the attempt is deferred; the breaker's own recovery
// timer governs when probing resumes.
func (m *Manager) recoverServer(ctx context.Context, name string, st *serverState) {
	st.mu.Lock()
	hasFailed := len(st.failed) > 0
	lastOpen := st.metrics.LastCircuitOpen
	st.mu.Unlock()
	if !hasFailed {
		return
	}

	b := m.breaker(name)
	if b.State() == circuit.StateOpen &&
		time.Since(lastOpen) < m.poolCfg.CircuitBreakerTimeout {
		m.logger.Debug("Skipping recovery while circuit breaker is open",
			"server", name)
		return
	}

	// Failed connections append in failure order, so the first eligible
	// entry is also the oldest.
	now := time.Now()
	var candidate *Connection
	st.mu.Lock()
	for _, conn := range st.failed {
		if conn.retryEligible(now) {
			candidate = conn
			break
		}
	}
	st.mu.Unlock()
	if candidate == nil {
		return
	}

	m.attemptRecovery(ctx, name, st, candidate)
}

// attemptRecovery replaces one failed connection with a fresh one.
func (m *Manager) attemptRecovery(ctx context.Context, name string, st *serverState, old *Connection) error {
	st.mu.Lock()
	st.metrics.RecoveryAttempts++
	st.mu.Unlock()

	newConn, err := m.CreateConnection(ctx, name)
	if err != nil {
		old.scheduleRetry(m.poolCfg.MaxRecoveryAttempts)
		info := old.info()
		m.logger.Warn("Recovery attempt failed",
			"server", name, "connection_id", old.ID,
			"retry_count", info.RetryCount, "next_delay", info.RecoveryDelay,
			"error", err)
		return err
	}

	m.pool(st, newConn)

	st.mu.Lock()
	stale := st.failed
	st.failed = nil
	st.metrics.SuccessfulRecoveries++
	st.metrics.TotalDestroyed += int64(len(stale))
	st.metrics.CircuitBreakerOpen = false
	st.mu.Unlock()

	// One live connection proves the server reachable again; the stale
	// entries would reconnect to the same endpoint, so drop them.
	for _, conn := range stale {
		if cerr := conn.close(); cerr != nil {
			m.logger.Debug("Error closing stale connection",
				"server", name, "connection_id", conn.ID, "error", cerr)
		}
	}

	m.breaker(name).Reset()
	m.logger.Info("MCP connection recovered",
		"server", name, "connection_id", newConn.ID, "stale_cleared", len(stale))
	return nil
}

// ForceRecovery is the administrative reset for one server: every
// failed connection's backoff returns to its initial state, the breaker
// closes, and one recovery attempt runs immediately.
func (m *Manager) ForceRecovery(ctx context.Context, server string) error {
	st, err := m.server(server)
	if err != nil {
		return err
	}

	st.mu.Lock()
	var candidate *Connection
	for _, conn := range st.failed {
		conn.resetBackoff()
	}
	if len(st.failed) > 0 {
		candidate = st.failed[0]
	}
	st.metrics.CircuitBreakerOpen = false
	st.mu.Unlock()

	m.breaker(server).Reset()
	if candidate == nil {
		return nil
	}

	m.logger.Info("Forcing recovery", "server", server)
	return m.attemptRecovery(ctx, server, st, candidate)
}

// ForceRecoveryAll runs ForceRecovery for every server with failed
// connections, in parallel. Per-server outcomes are returned keyed by
// server name; nil means recovered or nothing to recover.
func (m *Manager) ForceRecoveryAll(ctx context.Context) map[string]error {
	m.mu.RLock()
	var names []string
	for name, st := range m.servers {
		st.mu.Lock()
		if len(st.failed) > 0 {
			names = append(names, name)
		}
		st.mu.Unlock()
	}
	m.mu.RUnlock()

	results := make(map[string]error, len(names))
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			err := m.ForceRecovery(gctx, name)
			resultsMu.Lock()
			results[name] = err
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
