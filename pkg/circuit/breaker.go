// Package circuit provides the circuit breaker fabric: per-dependency
// breakers, a process-wide registry, a state-change monitor with alerting,
// and a bounded metrics collector.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentfabric/fabric/pkg/config"
)

// State is the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half_open"
	StateOpen     State = "open"
)

// ErrOpen is returned when a call is rejected without being attempted.
var ErrOpen = errors.New("circuit breaker is open")

// Metrics are the sliding call counters of one breaker. Monotonically
// non-decreasing except on explicit Reset.
type Metrics struct {
	TotalCalls      int64 `json:"total_calls"`
	SuccessfulCalls int64 `json:"successful_calls"`
	FailedCalls     int64 `json:"failed_calls"`
	RejectedCalls   int64 `json:"rejected_calls"`
	Timeouts        int64 `json:"timeouts"`
}

// Status is a point-in-time snapshot of one breaker.
type Status struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessRate     float64   `json:"success_rate"`
	LastFailureTime time.Time `json:"last_failure_time,omitzero"`
	Metrics         Metrics   `json:"metrics"`
}

// Breaker gates calls to one named dependency. Three states:
//
//	closed:    every call runs; consecutive failures trip it open
//	open:      every call is rejected until recovery_timeout elapses
//	half_open: a single probe is admitted; enough successes close it,
//	            any failure re-opens it
//
// Timeouts count as failures (plus the timeout counter). Context
// cancellation counts as neither success nor failure but releases the
// half-open probe slot. The recovery timer uses time.Since, which reads
// the monotonic clock.
//
// State transitions are observable only via Status(); the Monitor derives
// events from snapshots, the breaker itself publishes nothing.
type Breaker struct {
	name   string
	cfg    config.CircuitConfig
	logger *slog.Logger

	mu                sync.Mutex
	state             State
	metrics           Metrics
	failureCount      int // consecutive failures while closed
	halfOpenSuccesses int
	probeInFlight     bool
	lastFailure       time.Time
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(name string, cfg config.CircuitConfig) *Breaker {
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default(),
		state:  StateClosed,
	}
}

// Name returns the breaker's dependency name.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn under the breaker's gate, applying the configured call
// timeout. Returns ErrOpen (wrapped) when the call is rejected without
// running.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	callCtx := ctx
	if b.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}

	err := fn(callCtx)
	b.observe(ctx, err)
	return err
}

// allow admits or rejects a call, counting it either way.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.TotalCalls++

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.lastFailure) >= b.cfg.RecoveryTimeout {
			b.transition(StateHalfOpen)
			b.probeInFlight = true
			return nil
		}
		b.metrics.RejectedCalls++
		return fmt.Errorf("%s: %w", b.name, ErrOpen)

	case StateHalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return nil
		}
		b.metrics.RejectedCalls++
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	}

	return nil
}

// observe classifies the call outcome. Cancellation of the parent context
// is neither success nor failure; it only releases the probe slot.
func (b *Breaker) observe(parent context.Context, err error) {
	switch {
	case err == nil:
		b.recordSuccess()
	case errors.Is(err, context.Canceled):
		b.releaseProbe()
	case errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil:
		// The call timeout fired, not the caller's deadline.
		b.recordFailure(true)
	default:
		b.recordFailure(false)
	}
}

// RecordSuccess registers an externally-observed successful call (e.g. a
// pooled connection recovered outside Execute).
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.metrics.TotalCalls++
	b.mu.Unlock()
	b.recordSuccess()
}

// RecordFailure registers an externally-observed failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.metrics.TotalCalls++
	b.mu.Unlock()
	b.recordFailure(false)
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.SuccessfulCalls++
	b.probeInFlight = false

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

func (b *Breaker) recordFailure(timeout bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.FailedCalls++
	if timeout {
		b.metrics.Timeouts++
	}
	b.lastFailure = time.Now()
	b.probeInFlight = false

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		// Any probe failure re-opens and restarts the recovery timer.
		b.transition(StateOpen)
	}
}

func (b *Breaker) releaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
}

// transition changes state. Caller must hold b.mu.
func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next

	switch next {
	case StateClosed:
		b.failureCount = 0
		b.halfOpenSuccesses = 0
	case StateHalfOpen:
		b.halfOpenSuccesses = 0
	}

	b.logger.Info("Circuit breaker state changed",
		"breaker", b.name, "from", prev, "to", next)
}

// ForceOpen trips the breaker administratively. The recovery timer starts
// from now.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = time.Now()
	b.transition(StateOpen)
}

// Reset closes the breaker and clears every counter.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.metrics = Metrics{}
	b.failureCount = 0
	b.halfOpenSuccesses = 0
	b.probeInFlight = false
	b.lastFailure = time.Time{}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns a snapshot of state and metrics.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := b.metrics.TotalCalls
	if total < 1 {
		total = 1
	}
	return Status{
		Name:            b.name,
		State:           b.state,
		FailureCount:    b.failureCount,
		SuccessRate:     float64(b.metrics.SuccessfulCalls) / float64(total),
		LastFailureTime: b.lastFailure,
		Metrics:         b.metrics,
	}
}
