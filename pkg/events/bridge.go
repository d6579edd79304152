package events

import (
	"context"
	"log/slog"
	"sync"
)

// Bridge is the one-per-user event funnel between an execution engine
// and its sink (normally the websocket stream manager). It owns three
// guarantees:
//
//   - degradation: a sink missing a capability logs one WARN, then the
//     corresponding events become no-ops; nothing propagates to the agent
//   - serialization: events for one user are delivered one at a time,
//     in call order
//   - monotonic steps: step numbers within a run never go backwards,
//     even if the engine replays one
//
// Bridge methods deliberately return nothing. Event delivery failing
// must never fail the run that produced the event.
type Bridge struct {
	userID string
	sink   any
	logger *slog.Logger

	mu       sync.Mutex
	runSteps map[string]int
	warned   map[string]bool
}

// NewBridge wraps a sink for one user. A nil sink is legal and yields a
// fully degraded bridge.
func NewBridge(userID string, sink any) *Bridge {
	return &Bridge{
		userID:   userID,
		sink:     sink,
		logger:   slog.Default().With("user_id", userID),
		runSteps: make(map[string]int),
		warned:   make(map[string]bool),
	}
}

// UserID returns the identity baked into the bridge.
func (b *Bridge) UserID() string { return b.userID }

// warnOnce logs a missing capability the first time it is exercised.
// Caller must hold b.mu.
func (b *Bridge) warnOnce(capability string) {
	if b.warned[capability] {
		return
	}
	b.warned[capability] = true
	b.logger.Warn("Event sink lacks capability, events will be dropped",
		"capability", capability)
}

// step enforces monotonic step numbering per run. Caller must hold b.mu.
func (b *Bridge) step(runID string, n int) int {
	if last := b.runSteps[runID]; n < last {
		n = last
	}
	b.runSteps[runID] = n
	return n
}

// deliver logs a failed send and swallows it.
func (b *Bridge) deliver(event EventType, err error) {
	if err != nil {
		b.logger.Warn("Event delivery failed", "event", event, "error", err)
	}
}

// AgentStarted announces a new run and begins its step tracking.
func (b *Bridge) AgentStarted(ctx context.Context, run RunRef, runContext map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runSteps[run.RunID] = 0

	sink, ok := b.sink.(AgentStartedNotifier)
	if !ok {
		b.warnOnce("agent_started")
		return
	}
	b.deliver(EventAgentStarted,
		sink.NotifyAgentStarted(ctx, b.userID, AgentStartedPayload{
			RunRef:  run,
			Context: runContext,
		}))
}

// AgentThinking streams one reasoning step.
func (b *Bridge) AgentThinking(ctx context.Context, run RunRef, reasoning string, stepNumber int, progress float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sink, ok := b.sink.(AgentThinkingNotifier)
	if !ok {
		b.warnOnce("agent_thinking")
		return
	}
	b.deliver(EventAgentThinking,
		sink.NotifyAgentThinking(ctx, b.userID, AgentThinkingPayload{
			RunRef:          run,
			Reasoning:       reasoning,
			StepNumber:      b.step(run.RunID, stepNumber),
			ProgressPercent: progress,
		}))
}

// ToolExecuting announces an imminent tool call.
func (b *Bridge) ToolExecuting(ctx context.Context, run RunRef, toolName string, parameters map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sink, ok := b.sink.(ToolExecutingNotifier)
	if !ok {
		b.warnOnce("tool_executing")
		return
	}
	b.deliver(EventToolExecuting,
		sink.NotifyToolExecuting(ctx, b.userID, ToolExecutingPayload{
			RunRef:     run,
			ToolName:   toolName,
			Parameters: parameters,
		}))
}

// ToolCompleted reports a finished tool call.
func (b *Bridge) ToolCompleted(ctx context.Context, run RunRef, toolName, result, toolErr string, durationMS int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sink, ok := b.sink.(ToolCompletedNotifier)
	if !ok {
		b.warnOnce("tool_completed")
		return
	}
	b.deliver(EventToolCompleted,
		sink.NotifyToolCompleted(ctx, b.userID, ToolCompletedPayload{
			RunRef:     run,
			ToolName:   toolName,
			Result:     result,
			Error:      toolErr,
			DurationMS: durationMS,
		}))
}

// AgentCompleted closes out a run and drops its step tracking.
func (b *Bridge) AgentCompleted(ctx context.Context, run RunRef, result string, executionTimeMS int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.runSteps, run.RunID)

	sink, ok := b.sink.(AgentCompletedNotifier)
	if !ok {
		b.warnOnce("agent_completed")
		return
	}
	b.deliver(EventAgentCompleted,
		sink.NotifyAgentCompleted(ctx, b.userID, AgentCompletedPayload{
			RunRef:          run,
			Result:          result,
			ExecutionTimeMS: executionTimeMS,
		}))
}

// AgentError reports a run failure.
func (b *Bridge) AgentError(ctx context.Context, run RunRef, runErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sink, ok := b.sink.(AgentErrorNotifier)
	if !ok {
		b.warnOnce("agent_error")
		return
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	b.deliver(EventAgentError,
		sink.NotifyAgentError(ctx, b.userID, AgentErrorPayload{RunRef: run, Error: msg}))
}

// AgentDeath reports an agent that was reaped before completing.
func (b *Bridge) AgentDeath(ctx context.Context, run RunRef, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.runSteps, run.RunID)

	sink, ok := b.sink.(AgentDeathNotifier)
	if !ok {
		b.warnOnce("agent_death")
		return
	}
	b.deliver(EventAgentDeath,
		sink.NotifyAgentDeath(ctx, b.userID, AgentDeathPayload{RunRef: run, Reason: reason}))
}
