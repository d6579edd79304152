package circuit

import (
	"sync"
	"time"
)

// sampleRingCap bounds the per-breaker metric history. At the default 5 s
// cadence this holds roughly 83 minutes.
const sampleRingCap = 1000

// MetricSample is one collected observation of one breaker.
type MetricSample struct {
	Timestamp     time.Time `json:"timestamp"`
	State         State     `json:"state"`
	SuccessRate   float64   `json:"success_rate"`
	FailureCount  int       `json:"failure_count"`
	TotalCalls    int64     `json:"total_calls"`
	RejectedCalls int64     `json:"rejected_calls"`
	Timeouts      int64     `json:"timeouts"`
}

// AggregatedMetrics summarizes one breaker's samples over a window.
type AggregatedMetrics struct {
	AvgSuccessRate  float64 `json:"avg_success_rate"`
	TotalCalls      int64   `json:"total_calls"`
	TotalRejections int64   `json:"total_rejections"`
	TotalTimeouts   int64   `json:"total_timeouts"`
	StateChanges    int     `json:"state_changes"`
	SampleCount     int     `json:"sample_count"`
}

// Collector keeps a bounded per-breaker time-series of metric snapshots.
// The monitor feeds it on each sampling tick.
type Collector struct {
	mu      sync.Mutex
	samples map[string]*ring[MetricSample]
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{samples: make(map[string]*ring[MetricSample])}
}

// Record appends one sample per breaker from a registry snapshot.
func (c *Collector) Record(statuses map[string]Status) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, st := range statuses {
		r, ok := c.samples[name]
		if !ok {
			r = newRing[MetricSample](sampleRingCap)
			c.samples[name] = r
		}
		r.push(MetricSample{
			Timestamp:     now,
			State:         st.State,
			SuccessRate:   st.SuccessRate,
			FailureCount:  st.FailureCount,
			TotalCalls:    st.Metrics.TotalCalls,
			RejectedCalls: st.Metrics.RejectedCalls,
			Timeouts:      st.Metrics.Timeouts,
		})
	}
}

// History returns samples for one breaker with timestamps inside the
// window, oldest-first. The window is implicitly clamped to whatever the
// ring still holds.
func (c *Collector) History(name string, window time.Duration) []MetricSample {
	cutoff := time.Now().Add(-window)

	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.samples[name]
	if !ok {
		return nil
	}
	all := r.snapshot()
	// Samples are appended in time order; find the first inside the window.
	for i, s := range all {
		if !s.Timestamp.Before(cutoff) {
			return all[i:]
		}
	}
	return nil
}

// Aggregate summarizes every breaker's samples inside the window.
// AvgSuccessRate averages only samples that saw calls; StateChanges counts
// distinct states minus one.
func (c *Collector) Aggregate(window time.Duration) map[string]AggregatedMetrics {
	cutoff := time.Now().Add(-window)

	c.mu.Lock()
	names := make([]string, 0, len(c.samples))
	for name := range c.samples {
		names = append(names, name)
	}
	c.mu.Unlock()

	result := make(map[string]AggregatedMetrics, len(names))
	for _, name := range names {
		samples := c.History(name, time.Since(cutoff))
		if len(samples) == 0 {
			continue
		}

		var agg AggregatedMetrics
		var rateSum float64
		var rated int
		states := make(map[State]bool)

		for _, s := range samples {
			if s.TotalCalls > 0 {
				rateSum += s.SuccessRate
				rated++
			}
			states[s.State] = true
		}
		last := samples[len(samples)-1]
		agg.TotalCalls = last.TotalCalls
		agg.TotalRejections = last.RejectedCalls
		agg.TotalTimeouts = last.Timeouts
		agg.SampleCount = len(samples)
		agg.StateChanges = len(states) - 1
		if rated > 0 {
			agg.AvgSuccessRate = rateSum / float64(rated)
		}
		result[name] = agg
	}
	return result
}
