package circuit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentfabric/fabric/pkg/config"
)

// Ring capacities and alert-rule thresholds.
const (
	eventRingCap = 1000
	alertRingCap = 500

	// lowSuccessRate flags closed breakers succeeding less than half the
	// time, once enough calls have been seen to mean anything.
	lowSuccessRate      = 0.5
	lowSuccessCallsGate = 10

	// highRejectionRatio flags breakers shedding more than 10% of traffic.
	highRejectionRatio = 0.1
	highRejectionGate  = 5

	// handlerTimeout bounds a single alert handler invocation.
	handlerTimeout = 100 * time.Millisecond
)

// Severity ranks alerts.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// StateChangeEvent is derived by the monitor when a breaker's state differs
// from the last observation. The monitor samples, so transient intermediate
// states may be missed.
type StateChangeEvent struct {
	CircuitName  string         `json:"circuit_name"`
	OldState     State          `json:"old_state"`
	NewState     State          `json:"new_state"`
	Timestamp    time.Time      `json:"timestamp"`
	FailureCount int            `json:"failure_count"`
	SuccessRate  float64        `json:"success_rate"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Alert is a derived notification about an unhealthy breaker.
type Alert struct {
	CircuitName string    `json:"circuit_name"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	State       State     `json:"state"`
	Metrics     Metrics   `json:"metrics"`
}

// AlertHandler receives alerts. Handlers run best-effort in registration
// order with a per-handler timeout; errors and panics are logged, never
// propagated.
type AlertHandler func(ctx context.Context, alert Alert) error

// Monitor samples the registry on a fixed cadence, turning snapshots into
// state-change events, alerts, and metric samples. One cooperative loop;
// an iteration that fails logs at ERROR and waits for the next tick.
type Monitor struct {
	registry  *Registry
	collector *Collector
	interval  time.Duration
	logger    *slog.Logger

	mu         sync.Mutex
	lastStates map[string]State
	events     *ring[StateChangeEvent]
	alerts     *ring[Alert]

	handlersMu sync.RWMutex
	handlers   []AlertHandler

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor. The interval must lie in [1.0, 60.0]
// seconds; collector may be nil to disable sample collection.
func NewMonitor(registry *Registry, collector *Collector, cfg config.MonitorConfig) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{
		registry:   registry,
		collector:  collector,
		interval:   cfg.Interval(),
		logger:     slog.Default(),
		lastStates: make(map[string]State),
		events:     newRing[StateChangeEvent](eventRingCap),
		alerts:     newRing[Alert](alertRingCap),
	}, nil
}

// RegisterHandler appends an alert handler. Handlers are invoked in
// registration order.
func (m *Monitor) RegisterHandler(h AlertHandler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Start launches the sampling loop. Calling Start on a running monitor is
// a no-op.
func (m *Monitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
	m.logger.Info("Circuit breaker monitor started", "interval", m.interval)
}

// Stop signals the loop to exit and waits for it. After Stop returns,
// Start may be called again.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
	m.logger.Info("Circuit breaker monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	m.sample(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

// sample runs one monitoring iteration. Panics are contained so the loop
// outlives a bad iteration.
func (m *Monitor) sample(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Monitor iteration failed", "panic", r)
		}
	}()

	statuses := m.registry.AllStatus()

	var fired []Alert
	m.mu.Lock()
	for name, st := range statuses {
		last, seen := m.lastStates[name]
		if seen && last != st.State {
			m.events.push(StateChangeEvent{
				CircuitName:  name,
				OldState:     last,
				NewState:     st.State,
				Timestamp:    time.Now(),
				FailureCount: st.FailureCount,
				SuccessRate:  st.SuccessRate,
			})
			if st.State == StateOpen {
				a := Alert{
					CircuitName: name,
					Severity:    SeverityHigh,
					Message:     "Circuit breaker OPENED due to failures",
					Timestamp:   time.Now(),
					State:       st.State,
					Metrics:     st.Metrics,
				}
				m.alerts.push(a)
				fired = append(fired, a)
			}
		}
		m.lastStates[name] = st.State

		for _, a := range m.evaluateRules(name, st) {
			m.alerts.push(a)
			fired = append(fired, a)
		}
	}
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.Record(statuses)
	}

	for _, a := range fired {
		m.dispatch(ctx, a)
	}
}

// evaluateRules applies the stateless alert rules to one snapshot.
func (m *Monitor) evaluateRules(name string, st Status) []Alert {
	var out []Alert

	if st.State == StateClosed &&
		st.SuccessRate < lowSuccessRate &&
		st.Metrics.TotalCalls > lowSuccessCallsGate {
		out = append(out, Alert{
			CircuitName: name,
			Severity:    SeverityMedium,
			Message: fmt.Sprintf("Low success rate: %.1f%% over %d calls",
				st.SuccessRate*100, st.Metrics.TotalCalls),
			Timestamp: time.Now(),
			State:     st.State,
			Metrics:   st.Metrics,
		})
	}

	total := st.Metrics.TotalCalls
	if total < 1 {
		total = 1
	}
	if float64(st.Metrics.RejectedCalls)/float64(total) > highRejectionRatio &&
		st.Metrics.RejectedCalls > highRejectionGate {
		out = append(out, Alert{
			CircuitName: name,
			Severity:    SeverityHigh,
			Message: fmt.Sprintf("High rejection rate: %d of %d calls rejected",
				st.Metrics.RejectedCalls, st.Metrics.TotalCalls),
			Timestamp: time.Now(),
			State:     st.State,
			Metrics:   st.Metrics,
		})
	}

	return out
}

// dispatch invokes every handler for one alert: registration order,
// per-handler timeout, errors and panics swallowed.
func (m *Monitor) dispatch(ctx context.Context, alert Alert) {
	m.handlersMu.RLock()
	handlers := make([]AlertHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.handlersMu.RUnlock()

	for i, h := range handlers {
		hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("handler panic: %v", r)
				}
			}()
			done <- h(hctx, alert)
		}()

		select {
		case err := <-done:
			if err != nil {
				m.logger.Error("Alert handler failed",
					"handler", i, "breaker", alert.CircuitName, "error", err)
			}
		case <-hctx.Done():
			m.logger.Error("Alert handler timed out",
				"handler", i, "breaker", alert.CircuitName)
		}
		cancel()
	}
}

// RecentEvents returns the newest n state-change events, oldest-first.
func (m *Monitor) RecentEvents(n int) []StateChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events.latest(n)
}

// RecentAlerts returns the newest n alerts, oldest-first.
func (m *Monitor) RecentAlerts(n int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alerts.latest(n)
}
