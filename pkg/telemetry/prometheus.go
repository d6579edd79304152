// Package telemetry exports circuit breaker and MCP pool state as
// Prometheus metrics. The collector reads live snapshots at scrape
// time; nothing is double-counted or cached.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentfabric/fabric/pkg/circuit"
	"github.com/agentfabric/fabric/pkg/mcp"
)

var (
	descBreakerState = prometheus.NewDesc(
		"fabric_circuit_breaker_state",
		"Circuit breaker state (0=closed, 1=half_open, 2=open).",
		[]string{"breaker"}, nil)
	descBreakerCalls = prometheus.NewDesc(
		"fabric_circuit_breaker_calls_total",
		"Calls observed by a circuit breaker, by outcome.",
		[]string{"breaker", "result"}, nil)
	descBreakerSuccessRate = prometheus.NewDesc(
		"fabric_circuit_breaker_success_rate",
		"Fraction of successful calls over all calls.",
		[]string{"breaker"}, nil)

	descPoolAvailable = prometheus.NewDesc(
		"fabric_mcp_pool_available",
		"Idle connections in the server's pool.",
		[]string{"server"}, nil)
	descPoolCheckedOut = prometheus.NewDesc(
		"fabric_mcp_pool_checked_out",
		"Connections currently checked out by callers.",
		[]string{"server"}, nil)
	descFailedConns = prometheus.NewDesc(
		"fabric_mcp_failed_connections",
		"Connections queued for recovery.",
		[]string{"server"}, nil)
	descConnsCreated = prometheus.NewDesc(
		"fabric_mcp_connections_created_total",
		"Connections established since start.",
		[]string{"server"}, nil)
	descConnsDestroyed = prometheus.NewDesc(
		"fabric_mcp_connections_destroyed_total",
		"Connections torn down since start.",
		[]string{"server"}, nil)
	descRecoveryAttempts = prometheus.NewDesc(
		"fabric_mcp_recovery_attempts_total",
		"Recovery attempts for failed connections.",
		[]string{"server"}, nil)
	descRecoverySuccesses = prometheus.NewDesc(
		"fabric_mcp_recovery_successes_total",
		"Recovery attempts that produced a live connection.",
		[]string{"server"}, nil)
	descServerHealthy = prometheus.NewDesc(
		"fabric_mcp_server_healthy",
		"Whether the server has pooled connections and a closed breaker.",
		[]string{"server"}, nil)
)

// stateValue maps breaker states to the gauge encoding.
func stateValue(s circuit.State) float64 {
	switch s {
	case circuit.StateHalfOpen:
		return 1
	case circuit.StateOpen:
		return 2
	default:
		return 0
	}
}

// Collector implements prometheus.Collector over the live registry and
// manager. The manager may be nil when only breakers are of interest.
type Collector struct {
	circuits *circuit.Registry
	manager  *mcp.Manager
}

// NewCollector wires the fabric's state into Prometheus.
func NewCollector(circuits *circuit.Registry, manager *mcp.Manager) *Collector {
	return &Collector{circuits: circuits, manager: manager}
}

var _ prometheus.Collector = (*Collector)(nil)

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descBreakerState
	ch <- descBreakerCalls
	ch <- descBreakerSuccessRate
	ch <- descPoolAvailable
	ch <- descPoolCheckedOut
	ch <- descFailedConns
	ch <- descConnsCreated
	ch <- descConnsDestroyed
	ch <- descRecoveryAttempts
	ch <- descRecoverySuccesses
	ch <- descServerHealthy
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, st := range c.circuits.AllStatus() {
		ch <- prometheus.MustNewConstMetric(descBreakerState,
			prometheus.GaugeValue, stateValue(st.State), name)
		ch <- prometheus.MustNewConstMetric(descBreakerSuccessRate,
			prometheus.GaugeValue, st.SuccessRate, name)

		m := st.Metrics
		ch <- prometheus.MustNewConstMetric(descBreakerCalls,
			prometheus.CounterValue, float64(m.SuccessfulCalls), name, "success")
		ch <- prometheus.MustNewConstMetric(descBreakerCalls,
			prometheus.CounterValue, float64(m.FailedCalls), name, "failure")
		ch <- prometheus.MustNewConstMetric(descBreakerCalls,
			prometheus.CounterValue, float64(m.RejectedCalls), name, "rejected")
		ch <- prometheus.MustNewConstMetric(descBreakerCalls,
			prometheus.CounterValue, float64(m.Timeouts), name, "timeout")
	}

	if c.manager == nil {
		return
	}
	for server, st := range c.manager.Status() {
		ch <- prometheus.MustNewConstMetric(descPoolAvailable,
			prometheus.GaugeValue, float64(st.Pool.Available), server)
		ch <- prometheus.MustNewConstMetric(descPoolCheckedOut,
			prometheus.GaugeValue, float64(st.Pool.CheckedOut), server)
		ch <- prometheus.MustNewConstMetric(descFailedConns,
			prometheus.GaugeValue, float64(len(st.FailedConnections)), server)
		ch <- prometheus.MustNewConstMetric(descConnsCreated,
			prometheus.CounterValue, float64(st.Metrics.TotalCreated), server)
		ch <- prometheus.MustNewConstMetric(descConnsDestroyed,
			prometheus.CounterValue, float64(st.Metrics.TotalDestroyed), server)
		ch <- prometheus.MustNewConstMetric(descRecoveryAttempts,
			prometheus.CounterValue, float64(st.Metrics.RecoveryAttempts), server)
		ch <- prometheus.MustNewConstMetric(descRecoverySuccesses,
			prometheus.CounterValue, float64(st.Metrics.SuccessfulRecoveries), server)

		healthy := 0.0
		if st.Healthy {
			healthy = 1
		}
		ch <- prometheus.MustNewConstMetric(descServerHealthy,
			prometheus.GaugeValue, healthy, server)
	}
}
