package ports

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HTTPHandler is the control plane surface.
type HTTPHandler interface {
	StartSession(c *gin.Context)
	JoinSession(c *gin.Context)
	StopSession(c *gin.Context)
	GetSession(c *gin.Context)
	ListSessions(c *gin.Context)
}

// WebSocketHandler upgrades signaling channel requests.
type WebSocketHandler interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
}
