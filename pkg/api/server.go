// Package api exposes the fabric's status and control surface: circuit
// breaker snapshots, MCP pool status and recovery triggers, agent
// registry introspection, per-user websocket event streams, and
// Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentfabric/fabric/pkg/agent"
	"github.com/agentfabric/fabric/pkg/circuit"
	"github.com/agentfabric/fabric/pkg/config"
	"github.com/agentfabric/fabric/pkg/events"
	"github.com/agentfabric/fabric/pkg/mcp"
)

const shutdownTimeout = 5 * time.Second

// Deps are the collaborators the API surfaces. Monitor and Metrics may
// be nil; their endpoints then return 404.
type Deps struct {
	Circuits *circuit.Registry
	Monitor  *circuit.Monitor
	Metrics  *circuit.Collector
	Manager  *mcp.Manager
	Agents   *agent.Registry
	Streams  *events.StreamManager
	Prom     *prometheus.Registry
}

// Server is the HTTP front of the fabric.
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	logger *slog.Logger

	engine *gin.Engine
	srv    *http.Server

	wsOrigins []string
}

// NewServer assembles the router. Gin runs in release mode; request
// logging goes through slog.
func NewServer(cfg *config.Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{
		cfg:       cfg.Server,
		deps:      deps,
		logger:    slog.Default(),
		engine:    engine,
		wsOrigins: cfg.AllowedWSOrigins,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)

	v1 := s.engine.Group("/api/v1")
	{
		cb := v1.Group("/circuit-breakers")
		cb.GET("", s.handleBreakerList)
		cb.GET("/events", s.handleBreakerEvents)
		cb.GET("/alerts", s.handleBreakerAlerts)
		cb.GET("/metrics", s.handleBreakerAggregates)
		cb.GET("/:name", s.handleBreakerGet)
		cb.GET("/:name/history", s.handleBreakerHistory)
		cb.POST("/:name/reset", s.handleBreakerReset)
		cb.POST("/:name/force-open", s.handleBreakerForceOpen)

		m := v1.Group("/mcp")
		m.GET("/status", s.handleMCPStatus)
		m.POST("/recovery", s.handleMCPForceRecoveryAll)
		m.POST("/servers/:name/recovery", s.handleMCPForceRecovery)

		a := v1.Group("/agents")
		a.GET("/health", s.handleAgentHealth)
		a.GET("/factories", s.handleAgentFactories)
		a.GET("/compliance", s.handleAgentCompliance)
		a.POST("/:user_id/reset", s.handleAgentReset)
	}

	s.engine.GET("/ws/:user_id", s.handleWebSocket)

	if s.deps.Prom != nil {
		s.engine.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(s.deps.Prom, promhttp.HandlerOpts{})))
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server listening", "addr", s.cfg.ListenAddr)

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// requestLogger logs one line per request through slog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
