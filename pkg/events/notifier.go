package events

import "context"

// Sink capability interfaces, one per notification. A sink implements
// whichever subset it supports; the bridge probes each method with its
// own type assertion, so exposing one notification never depends on
// exposing another.

// AgentStartedNotifier receives run-start events.
type AgentStartedNotifier interface {
	NotifyAgentStarted(ctx context.Context, userID string, p AgentStartedPayload) error
}

// AgentThinkingNotifier receives reasoning-step events.
type AgentThinkingNotifier interface {
	NotifyAgentThinking(ctx context.Context, userID string, p AgentThinkingPayload) error
}

// ToolExecutingNotifier receives events announcing an imminent tool call.
type ToolExecutingNotifier interface {
	NotifyToolExecuting(ctx context.Context, userID string, p ToolExecutingPayload) error
}

// ToolCompletedNotifier receives tool outcome events.
type ToolCompletedNotifier interface {
	NotifyToolCompleted(ctx context.Context, userID string, p ToolCompletedPayload) error
}

// AgentCompletedNotifier receives run-completion events.
type AgentCompletedNotifier interface {
	NotifyAgentCompleted(ctx context.Context, userID string, p AgentCompletedPayload) error
}

// AgentErrorNotifier receives run-failure events.
type AgentErrorNotifier interface {
	NotifyAgentError(ctx context.Context, userID string, p AgentErrorPayload) error
}

// AgentDeathNotifier receives reaper notifications for agents that never
// completed.
type AgentDeathNotifier interface {
	NotifyAgentDeath(ctx context.Context, userID string, p AgentDeathPayload) error
}
