package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/agentfabric/fabric/pkg/agent"
	"github.com/agentfabric/fabric/pkg/config"
)

// handleWebSocket upgrades /ws/:user_id and attaches the connection to
// the stream manager. The server only writes; the read loop exists to
// notice the client going away.
func (s *Server) handleWebSocket(c *gin.Context) {
	userID := c.Param("user_id")
	if err := agent.ValidateUserID(userID, s.cfg.AllowTestUserIDs); err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.deps.Streams == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event streaming disabled"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.wsOrigins,
	})
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	s.deps.Streams.Attach(userID, conn)
	defer s.deps.Streams.Detach(userID, conn)

	// Drain incoming frames until the peer disconnects. Clients are not
	// expected to send anything meaningful.
	readCtx := c.Request.Context()
	for {
		if _, _, err := conn.Read(readCtx); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Debug("Websocket read ended", "user_id", userID, "error", err)
			return
		}
	}
}
