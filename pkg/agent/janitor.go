package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentfabric/fabric/pkg/config"
	"github.com/agentfabric/fabric/pkg/events"
)

// Janitor reaps idle user sessions. A session past the idle TTL has its
// agents notified dead, cleaned up, and its session dropped; the next
// request recreates everything from scratch.
type Janitor struct {
	registry *Registry
	cfg      config.SessionConfig
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewJanitor creates a janitor over the registry.
func NewJanitor(registry *Registry, cfg config.SessionConfig) *Janitor {
	return &Janitor{
		registry: registry,
		cfg:      cfg,
		logger:   slog.Default(),
	}
}

// Start launches the reap loop. A zero idle TTL disables the janitor.
func (j *Janitor) Start(ctx context.Context) {
	if j.cfg.IdleTTL <= 0 || j.cancel != nil {
		return
	}
	ctx, j.cancel = context.WithCancel(ctx)
	j.done = make(chan struct{})
	go j.loop(ctx)
	j.logger.Info("Session janitor started",
		"idle_ttl", j.cfg.IdleTTL, "interval", j.cfg.JanitorInterval)
}

// Stop halts the loop and waits for it.
func (j *Janitor) Stop() {
	if j.cancel == nil {
		return
	}
	j.cancel()
	<-j.done
	j.cancel = nil
	j.done = nil
	j.logger.Info("Session janitor stopped")
}

func (j *Janitor) loop(ctx context.Context) {
	defer close(j.done)

	ticker := time.NewTicker(j.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.reap(ctx)
		}
	}
}

// reap drops every session idle past the TTL, announcing agent deaths
// on the session's own bridge first.
func (j *Janitor) reap(ctx context.Context) {
	cutoff := time.Now().Add(-j.cfg.IdleTTL)

	for userID, session := range j.registry.sessionsSnapshot() {
		if session.IdleSince().After(cutoff) {
			continue
		}

		bridge := session.Bridge()
		for _, name := range session.AgentNames() {
			bridge.AgentDeath(ctx, events.RunRef{AgentName: name}, "session idle timeout")
		}

		if err := j.registry.ResetUserAgents(ctx, userID); err != nil {
			j.logger.Warn("Failed to reap session", "user_id", userID, "error", err)
			continue
		}
		j.logger.Info("Reaped idle session",
			"user_id", userID, "idle_since", session.IdleSince())
	}
}
