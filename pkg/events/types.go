// Package events carries agent lifecycle events from execution engines
// to per-user websocket streams. The bridge in between degrades
// gracefully: a sink missing a capability is warned about once and then
// skipped, never surfaced to agent code.
package events

import "time"

// EventType identifies a lifecycle event on the wire.
type EventType string

// The five contracted lifecycle events, plus two auxiliary ones the
// reaper and error paths emit.
const (
	EventAgentStarted   EventType = "agent_started"
	EventAgentThinking  EventType = "agent_thinking"
	EventToolExecuting  EventType = "tool_executing"
	EventToolCompleted  EventType = "tool_completed"
	EventAgentCompleted EventType = "agent_completed"
	EventAgentError     EventType = "agent_error"
	EventAgentDeath     EventType = "agent_death"
)

// Event is the wire envelope. Timestamp is RFC3339Nano.
type Event struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id"`
	Timestamp string    `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// newEvent stamps an envelope with the current time.
func newEvent(typ EventType, userID string, data any) Event {
	return Event{
		Type:      typ,
		UserID:    userID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
}

// RunRef identifies the run an event belongs to. Embedded in every
// payload.
type RunRef struct {
	RunID     string `json:"run_id"`
	AgentName string `json:"agent_name"`
}

// AgentStartedPayload announces a new agent run.
type AgentStartedPayload struct {
	RunRef
	Context map[string]any `json:"context,omitempty"`
}

// AgentThinkingPayload streams one reasoning step. StepNumber sequences
// are monotonically non-decreasing within a run.
type AgentThinkingPayload struct {
	RunRef
	Reasoning       string  `json:"reasoning"`
	StepNumber      int     `json:"step_number,omitempty"`
	ProgressPercent float64 `json:"progress_percentage,omitempty"`
}

// ToolExecutingPayload announces a tool call before it runs.
type ToolExecutingPayload struct {
	RunRef
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ToolCompletedPayload reports a tool call's outcome. Every
// tool_executing is followed by exactly one tool_completed for the same
// tool, or by the agent_completed that ends the run.
type ToolCompletedPayload struct {
	RunRef
	ToolName   string `json:"tool_name"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// AgentCompletedPayload closes out a run.
type AgentCompletedPayload struct {
	RunRef
	Result          string `json:"result,omitempty"`
	ExecutionTimeMS int64  `json:"execution_time_ms,omitempty"`
}

// AgentErrorPayload reports a run failure.
type AgentErrorPayload struct {
	RunRef
	Error string `json:"error"`
}

// AgentDeathPayload reports an agent reaped without completing.
type AgentDeathPayload struct {
	RunRef
	Reason string `json:"reason"`
}
