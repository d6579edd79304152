package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentfabric/fabric/pkg/circuit"
	"github.com/agentfabric/fabric/pkg/config"
	"github.com/agentfabric/fabric/pkg/mcp"
)

// handleHealth rolls breakers, MCP servers, and the agent registry into
// one response. Degraded systems still answer 200; the payload carries
// the verdict.
func (s *Server) handleHealth(c *gin.Context) {
	statuses := s.deps.Circuits.AllStatus()

	resp := gin.H{
		"status":   circuit.CategorizeHealth(statuses),
		"circuits": circuit.GroupByCategory(statuses),
	}
	if s.deps.Manager != nil {
		resp["mcp_servers"] = s.deps.Manager.Status()
	}
	if s.deps.Agents != nil {
		resp["agent_registry"] = s.deps.Agents.GetHealth()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleBreakerList(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Circuits.AllStatus())
}

func (s *Server) handleBreakerGet(c *gin.Context) {
	b := s.deps.Circuits.Get(c.Param("name"))
	if b == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown circuit breaker"})
		return
	}
	c.JSON(http.StatusOK, b.Status())
}

func (s *Server) handleBreakerReset(c *gin.Context) {
	b := s.deps.Circuits.Get(c.Param("name"))
	if b == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown circuit breaker"})
		return
	}
	b.Reset()
	c.JSON(http.StatusOK, b.Status())
}

func (s *Server) handleBreakerForceOpen(c *gin.Context) {
	b := s.deps.Circuits.Get(c.Param("name"))
	if b == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown circuit breaker"})
		return
	}
	b.ForceOpen()
	c.JSON(http.StatusOK, b.Status())
}

// limitQuery parses ?limit= with a default and upper bound.
func limitQuery(c *gin.Context, def, max int) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// hoursQuery parses ?hours= as a float window.
func hoursQuery(c *gin.Context, def float64) time.Duration {
	h, err := strconv.ParseFloat(c.DefaultQuery("hours", ""), 64)
	if err != nil || h <= 0 {
		h = def
	}
	return time.Duration(h * float64(time.Hour))
}

func (s *Server) handleBreakerEvents(c *gin.Context) {
	if s.deps.Monitor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "monitor not running"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Monitor.RecentEvents(limitQuery(c, 100, 1000)))
}

func (s *Server) handleBreakerAlerts(c *gin.Context) {
	if s.deps.Monitor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "monitor not running"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Monitor.RecentAlerts(limitQuery(c, 100, 500)))
}

func (s *Server) handleBreakerHistory(c *gin.Context) {
	if s.deps.Metrics == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics collector not running"})
		return
	}
	c.JSON(http.StatusOK,
		s.deps.Metrics.History(c.Param("name"), hoursQuery(c, 1)))
}

func (s *Server) handleBreakerAggregates(c *gin.Context) {
	if s.deps.Metrics == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics collector not running"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Metrics.Aggregate(hoursQuery(c, 1)))
}

func (s *Server) handleMCPStatus(c *gin.Context) {
	if s.deps.Manager == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "mcp manager not running"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Manager.Status())
}

func (s *Server) handleMCPForceRecoveryAll(c *gin.Context) {
	if s.deps.Manager == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "mcp manager not running"})
		return
	}
	results := s.deps.Manager.ForceRecoveryAll(c.Request.Context())
	resp := make(map[string]bool, len(results))
	for server, err := range results {
		resp[server] = err == nil
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleMCPForceRecovery(c *gin.Context) {
	if s.deps.Manager == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "mcp manager not running"})
		return
	}
	name := c.Param("name")
	if err := s.deps.Manager.ForceRecovery(c.Request.Context(), name); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, mcp.ErrUnknownServer) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"server": name, "recovered": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"server": name, "recovered": true})
}

func (s *Server) handleAgentHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Agents.GetHealth())
}

func (s *Server) handleAgentFactories(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Agents.GetFactoryIntegrationStatus())
}

func (s *Server) handleAgentCompliance(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Agents.GetComplianceStatus())
}

func (s *Server) handleAgentReset(c *gin.Context) {
	userID := c.Param("user_id")
	if err := s.deps.Agents.ResetUserAgents(c.Request.Context(), userID); err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "reset": true})
}
