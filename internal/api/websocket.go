package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// websocket hands the connection to the notification hub; it blocks until the client leaves.
func (s *Server) websocket(c *gin.Context) {
	if s.Hub == nil {
		respondError(c, http.StatusServiceUnavailable, "WS_UNAVAILABLE", "notifications not ready")
		return
	}
	s.Hub.ServeWS(c.Writer, c.Request)
}
