package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/fabric/pkg/circuit"
	"github.com/agentfabric/fabric/pkg/config"
	"github.com/agentfabric/fabric/pkg/mcp"
)

func TestCollectorBreakerMetrics(t *testing.T) {
	circuits := circuit.NewRegistry()
	b := circuits.GetOrCreate("mcp:github", config.DefaultCircuitConfig())
	b.RecordSuccess()
	b.RecordFailure()

	c := NewCollector(circuits, nil)

	assert.Equal(t, 1, testutil.CollectAndCount(c, "fabric_circuit_breaker_state"))
	assert.Equal(t, 4, testutil.CollectAndCount(c, "fabric_circuit_breaker_calls_total"))

	expected := strings.NewReader(`
		# HELP fabric_circuit_breaker_success_rate Fraction of successful calls over all calls.
		# TYPE fabric_circuit_breaker_success_rate gauge
		fabric_circuit_breaker_success_rate{breaker="mcp:github"} 0.5
	`)
	require.NoError(t, testutil.CollectAndCompare(c, expected,
		"fabric_circuit_breaker_success_rate"))
}

func TestCollectorStateEncoding(t *testing.T) {
	assert.Equal(t, 0.0, stateValue(circuit.StateClosed))
	assert.Equal(t, 1.0, stateValue(circuit.StateHalfOpen))
	assert.Equal(t, 2.0, stateValue(circuit.StateOpen))
}

func TestCollectorPoolMetrics(t *testing.T) {
	circuits := circuit.NewRegistry()
	manager := mcp.NewManager(circuits, config.DefaultPoolConfig(), config.DefaultCircuitConfig())
	require.NoError(t, manager.Register(&config.MCPServerConfig{
		Name: "github",
		Transport: config.TransportConfig{
			Type:    config.TransportTypeStdio,
			Command: "/nonexistent/fabric-test-mcp-server",
		},
	}))

	c := NewCollector(circuits, manager)

	expected := strings.NewReader(`
		# HELP fabric_mcp_pool_available Idle connections in the server's pool.
		# TYPE fabric_mcp_pool_available gauge
		fabric_mcp_pool_available{server="github"} 0
		# HELP fabric_mcp_server_healthy Whether the server has pooled connections and a closed breaker.
		# TYPE fabric_mcp_server_healthy gauge
		fabric_mcp_server_healthy{server="github"} 0
	`)
	require.NoError(t, testutil.CollectAndCompare(c, expected,
		"fabric_mcp_pool_available", "fabric_mcp_server_healthy"))
}
