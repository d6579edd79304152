package config

import (
	"fmt"
	"time"
)

// Monitor interval bounds (seconds). Out-of-range intervals are rejected
// at load time, not clamped.
const (
	MonitorIntervalMin = 1.0
	MonitorIntervalMax = 60.0
)

// CircuitConfig holds per-breaker thresholds.
type CircuitConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
}

// DefaultCircuitConfig returns the breaker defaults.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  60 * time.Second,
		CallTimeout:      30 * time.Second,
	}
}

// Validate checks breaker thresholds.
func (c *CircuitConfig) Validate() error {
	if c.FailureThreshold < 1 {
		return &ValidationError{Component: "circuit", ID: "defaults", Field: "failure_threshold", Err: ErrInvalidValue}
	}
	if c.SuccessThreshold < 1 {
		return &ValidationError{Component: "circuit", ID: "defaults", Field: "success_threshold", Err: ErrInvalidValue}
	}
	if c.RecoveryTimeout <= 0 {
		return &ValidationError{Component: "circuit", ID: "defaults", Field: "recovery_timeout", Err: ErrInvalidValue}
	}
	return nil
}

// MonitorConfig holds breaker monitor settings.
type MonitorConfig struct {
	// IntervalSeconds is the sampling cadence. Accepted range [1.0, 60.0].
	IntervalSeconds float64 `yaml:"interval_seconds"`
}

// DefaultMonitorConfig returns the monitor defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{IntervalSeconds: 5.0}
}

// Validate enforces the accepted interval range.
func (c *MonitorConfig) Validate() error {
	if c.IntervalSeconds < MonitorIntervalMin || c.IntervalSeconds > MonitorIntervalMax {
		return &ValidationError{
			Component: "monitor", ID: "defaults", Field: "interval_seconds",
			Err: fmt.Errorf("%w: %.1f not in [%.1f, %.1f]",
				ErrInvalidValue, c.IntervalSeconds, MonitorIntervalMin, MonitorIntervalMax),
		}
	}
	return nil
}

// Interval returns the cadence as a duration.
func (c *MonitorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds * float64(time.Second))
}

// PoolConfig holds MCP connection pool settings shared by all servers.
type PoolConfig struct {
	MaxConnectionsPerServer int           `yaml:"max_connections_per_server"`
	MinConnectionsPerServer int           `yaml:"min_connections_per_server"`
	HealthCheckInterval     time.Duration `yaml:"health_check_interval"`
	RecoveryInterval        time.Duration `yaml:"recovery_interval"`
	CircuitBreakerTimeout   time.Duration `yaml:"circuit_breaker_timeout"`
	MaxRecoveryAttempts     int           `yaml:"max_recovery_attempts"`
}

// DefaultPoolConfig returns the pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnectionsPerServer: 10,
		MinConnectionsPerServer: 1,
		HealthCheckInterval:     30 * time.Second,
		RecoveryInterval:        10 * time.Second,
		CircuitBreakerTimeout:   60 * time.Second,
		MaxRecoveryAttempts:     10,
	}
}

// Validate checks the pool shape.
func (c *PoolConfig) Validate() error {
	if c.MaxConnectionsPerServer < 1 {
		return &ValidationError{Component: "pool", ID: "defaults", Field: "max_connections_per_server", Err: ErrInvalidValue}
	}
	if c.MinConnectionsPerServer < 0 || c.MinConnectionsPerServer > c.MaxConnectionsPerServer {
		return &ValidationError{Component: "pool", ID: "defaults", Field: "min_connections_per_server", Err: ErrInvalidValue}
	}
	if c.HealthCheckInterval <= 0 || c.RecoveryInterval <= 0 {
		return &ValidationError{Component: "pool", ID: "defaults", Field: "intervals", Err: ErrInvalidValue}
	}
	return nil
}

// SessionConfig holds user session lifecycle settings.
type SessionConfig struct {
	// IdleTTL is how long a session may sit without activity before the
	// janitor reaps it. Zero disables reaping.
	IdleTTL time.Duration `yaml:"idle_ttl"`
	// JanitorInterval is the reap cadence.
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

// DefaultSessionConfig returns the session defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		IdleTTL:         30 * time.Minute,
		JanitorInterval: 5 * time.Minute,
	}
}
