// README: WebSocket upgrade handler for the realtime event stream.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"farebid/internal/http/middleware"
	"farebid/internal/notify"
	"farebid/internal/types"
)

type WSHandler struct {
	hub *notify.WSHub
	log *slog.Logger

	upgrader websocket.Upgrader
}

func NewWSHandler(hub *notify.WSHub, log *slog.Logger) *WSHandler {
	return &WSHandler{
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Stream upgrades the connection and registers it with the hub under the
// authenticated caller's UID. The read loop exists only to observe the close.
func (h *WSHandler) Stream(c *gin.Context) {
	uid := types.ID(middleware.UID(c))
	if uid == "" {
		writeError(c, http.StatusUnauthorized, "missing identity")
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws upgrade", "uid", uid, "err", err)
		return
	}
	h.hub.Register(uid, conn)

	go func() {
		defer func() {
			h.hub.Unregister(uid, conn)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
