package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/fabric/pkg/config"
)

func testBreakerConfig() config.CircuitConfig {
	return config.CircuitConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		RecoveryTimeout:  50 * time.Millisecond,
		CallTimeout:      time.Second,
	}
}

func failingCall(context.Context) error { return errors.New("boom") }
func okCall(context.Context) error      { return nil }

func TestBreakerTripAndRecover(t *testing.T) {
	b := NewBreaker("llm", testBreakerConfig())
	ctx := context.Background()

	require.Equal(t, StateClosed, b.State())

	// Three consecutive failures trip it open.
	for i := 0; i < 3; i++ {
		require.Error(t, b.Execute(ctx, failingCall))
	}
	assert.Equal(t, StateOpen, b.State())

	// While open, calls are rejected without running.
	ran := false
	err := b.Execute(ctx, func(context.Context) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, ErrOpen)
	assert.False(t, ran)

	// After the recovery timeout a probe is admitted; one success closes.
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, b.Execute(ctx, okCall))
	assert.Equal(t, StateClosed, b.State())

	st := b.Status()
	assert.Equal(t, 0, st.FailureCount)
	assert.Equal(t, int64(1), st.Metrics.RejectedCalls)
	assert.Equal(t, int64(3), st.Metrics.FailedCalls)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("db_primary", testBreakerConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingCall)
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(60 * time.Millisecond)
	require.Error(t, b.Execute(ctx, failingCall))
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("api", testBreakerConfig())
	ctx := context.Background()

	_ = b.Execute(ctx, failingCall)
	_ = b.Execute(ctx, failingCall)
	require.NoError(t, b.Execute(ctx, okCall))
	assert.Equal(t, 0, b.Status().FailureCount)

	// Two more failures must not trip it; the streak restarted.
	_ = b.Execute(ctx, failingCall)
	_ = b.Execute(ctx, failingCall)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerCallTimeoutCountsAsFailure(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.CallTimeout = 20 * time.Millisecond
	b := NewBreaker("slow", cfg)

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	st := b.Status()
	assert.Equal(t, int64(1), st.Metrics.FailedCalls)
	assert.Equal(t, int64(1), st.Metrics.Timeouts)
}

func TestBreakerCancellationIsNeutral(t *testing.T) {
	b := NewBreaker("neutral", testBreakerConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	require.ErrorIs(t, err, context.Canceled)

	st := b.Status()
	assert.Zero(t, st.Metrics.SuccessfulCalls)
	assert.Zero(t, st.Metrics.FailedCalls)
	assert.Equal(t, int64(1), st.Metrics.TotalCalls)
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	b := NewBreaker("probe", testBreakerConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingCall)
	}
	time.Sleep(60 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// Second call while the probe is in flight is rejected.
	err := b.Execute(ctx, okCall)
	require.ErrorIs(t, err, ErrOpen)
	close(release)
}

func TestBreakerForceOpenAndReset(t *testing.T) {
	b := NewBreaker("admin", testBreakerConfig())

	b.ForceOpen()
	assert.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Status().Metrics.TotalCalls)
}

func TestBreakerExternalObservations(t *testing.T) {
	b := NewBreaker("ext", testBreakerConfig())

	b.RecordSuccess()
	b.RecordFailure()
	st := b.Status()
	assert.Equal(t, int64(2), st.Metrics.TotalCalls)
	assert.Equal(t, int64(1), st.Metrics.SuccessfulCalls)
	assert.Equal(t, int64(1), st.Metrics.FailedCalls)
}

func TestBreakerSuccessRateDenominator(t *testing.T) {
	b := NewBreaker("fresh", testBreakerConfig())
	assert.Zero(t, b.Status().SuccessRate)

	require.NoError(t, b.Execute(context.Background(), okCall))
	assert.InDelta(t, 1.0, b.Status().SuccessRate, 1e-9)
}
