// Package realtime is the websocket broadcast leg of C7's delivery fan-out:
// outbox rows are pushed to connected subscribers in addition to being
// polled (spec.md §9, "Transactional outbox vs. direct publish" — the
// broadcaster is an external collaborator that *consumes* outbox rows, it
// does not gate the finalization transaction on their delivery). Adapted
// from the gorilla/websocket dependency already present in the teacher's
// go.mod (pulled in transitively by swaggo) and promoted here to a direct,
// exercised dependency.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/oxzoid/ospay-core/internal/obs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// message is what subscribers receive for every delivered outbox row.
type message struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// Hub fans out outbox events to every connected websocket client. It
// implements outbox.Deliverer so it can be passed to the drainer as its
// deliverer.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
	log     *obs.Logger
}

func NewHub(log *obs.Logger) *Hub {
	return &Hub{clients: make(map[*websocket.Conn]struct{}), log: log}
}

// ServeHTTP upgrades the connection and registers it as a subscriber until
// it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	// Subscribers are read-only; drain and discard control/ping frames
	// until the client disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Deliver implements outbox.Deliverer: it broadcasts to every connected
// client and always reports success, since a disconnected subscriber is
// not a delivery failure the outbox should retry against. Delivery to
// real-time consumers is therefore best-effort: the drainer marks every row
// handed to the hub as delivered whether or not any client received it.
func (h *Hub) Deliver(_ context.Context, eventType string, payload string) error {
	h.Broadcast(eventType, payload)
	return nil
}

// Broadcast pushes one event to every currently connected client.
func (h *Hub) Broadcast(eventType string, payload string) {
	msg := message{EventType: eventType, Payload: json.RawMessage(payload)}
	b, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal realtime message", "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			h.log.Debug("dropping unresponsive websocket client", "err", err)
		}
	}
}

// ClientCount reports the current subscriber count, used by the debug
// metrics endpoint.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
