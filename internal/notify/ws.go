// README: WebSocket delivery backend; streams events to connected clients.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"farebid/internal/types"
)

// WSHub tracks one live websocket per client and pushes events to the
// recipient's connection. Clients without a connection are skipped silently;
// FCM is the fallback path.
type WSHub struct {
	mu    sync.Mutex
	conns map[types.ID]*websocket.Conn
}

func NewWSHub() *WSHub {
	return &WSHub{conns: make(map[types.ID]*websocket.Conn)}
}

// Register takes ownership of the connection, replacing any previous one for
// the same client.
func (h *WSHub) Register(id types.ID, conn *websocket.Conn) {
	h.mu.Lock()
	prev := h.conns[id]
	h.conns[id] = conn
	h.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
}

func (h *WSHub) Unregister(id types.ID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[id] == conn {
		delete(h.conns, id)
	}
}

func (h *WSHub) Send(_ context.Context, ev Event) error {
	h.mu.Lock()
	conn := h.conns[ev.Recipient]
	h.mu.Unlock()
	if conn == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.Unregister(ev.Recipient, conn)
		return err
	}
	return nil
}
