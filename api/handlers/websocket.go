package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/NethermindEth/chaoschain-persona/communication"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the UI is served from another origin during development
	},
}

// HandleWebSocket streams sync events. The client first receives the
// current SyncState, then every broadcast event.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	if h.ws == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event stream disabled"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", "err", err)
		return
	}

	// the manager owns writes once the connection is registered
	initial := communication.WSEvent{Type: communication.EventSyncState, Payload: h.svc.State()}
	if err := conn.WriteJSON(initial); err != nil {
		conn.Close()
		return
	}
	h.ws.Register() <- conn

	// Reads only detect the close; clients send nothing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.ws.Unregister() <- conn
}
