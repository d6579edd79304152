// Fabric server runs the circuit breaker registry and monitor, the
// MCP connection manager, the per-user agent registry, and the HTTP/
// WebSocket API in one process.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/agentfabric/fabric/pkg/agent"
	"github.com/agentfabric/fabric/pkg/api"
	"github.com/agentfabric/fabric/pkg/circuit"
	"github.com/agentfabric/fabric/pkg/config"
	"github.com/agentfabric/fabric/pkg/events"
	"github.com/agentfabric/fabric/pkg/mcp"
	"github.com/agentfabric/fabric/pkg/telemetry"
	"github.com/agentfabric/fabric/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("FABRIC_CONFIG", "./config.yaml"),
		"Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment")
	}

	slog.Info("Starting fabric",
		"version", version.Full(), "config", *configPath)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Circuit breaker fabric: registry, metrics collector, monitor
	circuits := circuit.NewRegistry()
	collector := circuit.NewCollector()
	monitor, err := circuit.NewMonitor(circuits, collector, cfg.Monitor)
	if err != nil {
		slog.Error("Failed to build breaker monitor", "error", err)
		os.Exit(1)
	}
	monitor.Start(ctx)
	defer monitor.Stop()

	// 3. MCP connection manager with one breaker per server
	manager := mcp.NewManager(circuits, cfg.Pool, cfg.Circuit)
	if err := manager.RegisterAll(cfg.ServerRegistryFromConfig()); err != nil {
		slog.Error("Failed to register MCP servers", "error", err)
		os.Exit(1)
	}
	manager.Start(ctx)

	// 4. Event streaming and the per-user agent registry
	streams := events.NewStreamManager()
	registry := agent.NewRegistry(
		agent.NewMCPDispatcherFactory(manager),
		cfg.Server.AllowTestUserIDs,
	)
	registry.SetWebSocketManager(streams)

	janitor := agent.NewJanitor(registry, cfg.Session)
	janitor.Start(ctx)
	defer janitor.Stop()

	// 5. Telemetry
	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		telemetry.NewCollector(circuits, manager),
	)

	// 6. HTTP server (non-blocking)
	server := api.NewServer(cfg, api.Deps{
		Circuits: circuits,
		Monitor:  monitor,
		Metrics:  collector,
		Manager:  manager,
		Agents:   registry,
		Streams:  streams,
		Prom:     prom,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Fabric started",
		"mcp_servers", len(cfg.MCPServers), "addr", cfg.Server.ListenAddr)

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: sessions first, then connections, then HTTP
	registry.EmergencyCleanupAll(ctx)
	streams.CloseAll()

	if err := manager.CloseAll(ctx); err != nil {
		slog.Error("MCP manager shutdown error", "error", err)
	}
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
