package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink implements every capability and records what it saw.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) record(typ EventType, userID string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Type: typ, UserID: userID, Data: data})
	return nil
}

func (r *recordingSink) NotifyAgentStarted(_ context.Context, userID string, p AgentStartedPayload) error {
	return r.record(EventAgentStarted, userID, p)
}
func (r *recordingSink) NotifyAgentThinking(_ context.Context, userID string, p AgentThinkingPayload) error {
	return r.record(EventAgentThinking, userID, p)
}
func (r *recordingSink) NotifyToolExecuting(_ context.Context, userID string, p ToolExecutingPayload) error {
	return r.record(EventToolExecuting, userID, p)
}
func (r *recordingSink) NotifyToolCompleted(_ context.Context, userID string, p ToolCompletedPayload) error {
	return r.record(EventToolCompleted, userID, p)
}
func (r *recordingSink) NotifyAgentCompleted(_ context.Context, userID string, p AgentCompletedPayload) error {
	return r.record(EventAgentCompleted, userID, p)
}
func (r *recordingSink) NotifyAgentError(_ context.Context, userID string, p AgentErrorPayload) error {
	return r.record(EventAgentError, userID, p)
}
func (r *recordingSink) NotifyAgentDeath(_ context.Context, userID string, p AgentDeathPayload) error {
	return r.record(EventAgentDeath, userID, p)
}

func (r *recordingSink) recorded() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// startOnlySink implements only the start capability.
type startOnlySink struct {
	mu      sync.Mutex
	started []AgentStartedPayload
}

func (s *startOnlySink) NotifyAgentStarted(_ context.Context, _ string, p AgentStartedPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, p)
	return nil
}

func TestBridgeFullRunOrdering(t *testing.T) {
	sink := &recordingSink{}
	b := NewBridge("alice", sink)
	ctx := context.Background()
	run := RunRef{RunID: "run-1", AgentName: "planner"}

	b.AgentStarted(ctx, run, map[string]any{"task": "deploy"})
	b.AgentThinking(ctx, run, "considering options", 1, 10)
	b.ToolExecuting(ctx, run, "kubectl_apply", map[string]any{"file": "app.yaml"})
	b.ToolCompleted(ctx, run, "kubectl_apply", "applied", "", 42)
	b.AgentCompleted(ctx, run, "done", 100)

	got := sink.recorded()
	require.Len(t, got, 5)
	assert.Equal(t, EventAgentStarted, got[0].Type)
	assert.Equal(t, EventAgentThinking, got[1].Type)
	assert.Equal(t, EventToolExecuting, got[2].Type)
	assert.Equal(t, EventToolCompleted, got[3].Type)
	assert.Equal(t, EventAgentCompleted, got[4].Type)

	for _, ev := range got {
		assert.Equal(t, "alice", ev.UserID)
	}
	started := got[0].Data.(AgentStartedPayload)
	assert.Equal(t, "run-1", started.RunID)
	assert.Equal(t, "planner", started.AgentName)
}

func TestBridgeMonotonicStepNumbers(t *testing.T) {
	sink := &recordingSink{}
	b := NewBridge("alice", sink)
	ctx := context.Background()
	run := RunRef{RunID: "run-1", AgentName: "planner"}

	b.AgentStarted(ctx, run, nil)
	b.AgentThinking(ctx, run, "step three", 3, 0)
	b.AgentThinking(ctx, run, "replayed step one", 1, 0) // must not go backwards
	b.AgentThinking(ctx, run, "step five", 5, 0)

	var steps []int
	for _, ev := range sink.recorded() {
		if p, ok := ev.Data.(AgentThinkingPayload); ok {
			steps = append(steps, p.StepNumber)
		}
	}
	assert.Equal(t, []int{3, 3, 5}, steps)
}

func TestBridgeStepTrackingPerRun(t *testing.T) {
	sink := &recordingSink{}
	b := NewBridge("alice", sink)
	ctx := context.Background()

	runA := RunRef{RunID: "run-a", AgentName: "planner"}
	runB := RunRef{RunID: "run-b", AgentName: "planner"}
	b.AgentStarted(ctx, runA, nil)
	b.AgentThinking(ctx, runA, "far along", 9, 0)
	b.AgentStarted(ctx, runB, nil)
	b.AgentThinking(ctx, runB, "fresh run", 1, 0)

	var got []int
	for _, ev := range sink.recorded() {
		if p, ok := ev.Data.(AgentThinkingPayload); ok {
			got = append(got, p.StepNumber)
		}
	}
	// run-b's counter is independent of run-a's.
	assert.Equal(t, []int{9, 1}, got)
}

// contractSink implements exactly the five contracted notifications and
// neither of the auxiliary ones.
type contractSink struct {
	mu     sync.Mutex
	events []EventType
}

func (s *contractSink) record(typ EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, typ)
	return nil
}

func (s *contractSink) NotifyAgentStarted(context.Context, string, AgentStartedPayload) error {
	return s.record(EventAgentStarted)
}
func (s *contractSink) NotifyAgentThinking(context.Context, string, AgentThinkingPayload) error {
	return s.record(EventAgentThinking)
}
func (s *contractSink) NotifyToolExecuting(context.Context, string, ToolExecutingPayload) error {
	return s.record(EventToolExecuting)
}
func (s *contractSink) NotifyToolCompleted(context.Context, string, ToolCompletedPayload) error {
	return s.record(EventToolCompleted)
}
func (s *contractSink) NotifyAgentCompleted(context.Context, string, AgentCompletedPayload) error {
	return s.record(EventAgentCompleted)
}

func TestBridgeFiveMethodSinkReceivesAllFive(t *testing.T) {
	sink := &contractSink{}
	b := NewBridge("alice", sink)
	ctx := context.Background()
	run := RunRef{RunID: "run-1", AgentName: "planner"}

	b.AgentStarted(ctx, run, nil)
	b.AgentThinking(ctx, run, "reasoning", 1, 0)
	b.ToolExecuting(ctx, run, "tool", nil)
	b.ToolCompleted(ctx, run, "tool", "ok", "", 1)
	b.AgentCompleted(ctx, run, "done", 1)

	// The auxiliary notifications degrade independently.
	assert.NotPanics(t, func() {
		b.AgentError(ctx, run, errors.New("boom"))
		b.AgentDeath(ctx, run, "reaped")
	})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []EventType{EventAgentStarted, EventAgentThinking,
		EventToolExecuting, EventToolCompleted, EventAgentCompleted}, sink.events)
}

// execOnlySink exposes a single notification method.
type execOnlySink struct {
	mu        sync.Mutex
	executing []ToolExecutingPayload
}

func (s *execOnlySink) NotifyToolExecuting(_ context.Context, _ string, p ToolExecutingPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executing = append(s.executing, p)
	return nil
}

func TestBridgeSingleMethodSinkStillNotified(t *testing.T) {
	sink := &execOnlySink{}
	b := NewBridge("alice", sink)
	ctx := context.Background()
	run := RunRef{RunID: "run-1", AgentName: "planner"}

	b.AgentStarted(ctx, run, nil)
	b.ToolExecuting(ctx, run, "kubectl_apply", nil)
	b.ToolCompleted(ctx, run, "kubectl_apply", "ok", "", 1)
	b.AgentCompleted(ctx, run, "done", 1)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.executing, 1)
	assert.Equal(t, "kubectl_apply", sink.executing[0].ToolName)
}

func TestBridgeDegradesWithoutCapability(t *testing.T) {
	sink := &startOnlySink{}
	b := NewBridge("alice", sink)
	ctx := context.Background()
	run := RunRef{RunID: "run-1", AgentName: "planner"}

	// Only the start capability is declared; everything else must no-op
	// without raising.
	assert.NotPanics(t, func() {
		b.AgentStarted(ctx, run, nil)
		b.AgentThinking(ctx, run, "ignored", 1, 0)
		b.ToolExecuting(ctx, run, "tool", nil)
		b.ToolCompleted(ctx, run, "tool", "", "", 0)
		b.AgentCompleted(ctx, run, "", 0)
		b.AgentError(ctx, run, errors.New("boom"))
		b.AgentDeath(ctx, run, "reaped")
	})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.started, 1)
	assert.Equal(t, "run-1", sink.started[0].RunID)
}

func TestBridgeNilSink(t *testing.T) {
	b := NewBridge("alice", nil)
	ctx := context.Background()
	run := RunRef{RunID: "run-1", AgentName: "planner"}

	assert.NotPanics(t, func() {
		b.AgentStarted(ctx, run, nil)
		b.ToolExecuting(ctx, run, "tool", nil)
	})
}

func TestBridgeUserIsolation(t *testing.T) {
	sinkA := &recordingSink{}
	sinkB := &recordingSink{}
	bridgeA := NewBridge("alice", sinkA)
	bridgeB := NewBridge("bob", sinkB)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		run := RunRef{RunID: "run-alice", AgentName: "planner"}
		bridgeA.AgentStarted(ctx, run, nil)
		bridgeA.ToolCompleted(ctx, run, "tool", "ok", "", 1)
	}()
	go func() {
		defer wg.Done()
		run := RunRef{RunID: "run-bob", AgentName: "planner"}
		bridgeB.AgentStarted(ctx, run, nil)
		bridgeB.ToolCompleted(ctx, run, "tool", "ok", "", 1)
	}()
	wg.Wait()

	for _, ev := range sinkA.recorded() {
		assert.Equal(t, "alice", ev.UserID)
		assert.NotContains(t, runID(ev), "bob")
	}
	for _, ev := range sinkB.recorded() {
		assert.Equal(t, "bob", ev.UserID)
		assert.NotContains(t, runID(ev), "alice")
	}
}

func runID(ev Event) string {
	switch p := ev.Data.(type) {
	case AgentStartedPayload:
		return p.RunID
	case ToolCompletedPayload:
		return p.RunID
	default:
		return ""
	}
}
