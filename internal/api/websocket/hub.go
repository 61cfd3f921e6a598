package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/forgehook/forgehook/internal/models"
	"github.com/forgehook/forgehook/internal/pkg/metrics"
)

// Hub maintains active WebSocket connections and fans out Event Bus
// notifications to every connected client.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new WebSocket hub.
func NewHub(ctx context.Context) *Hub {
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		ctx:        hubCtx,
		cancel:     cancel,
	}
}

// Run starts the hub's event loop; call in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			metrics.WebSocketConnectionsActive.Set(float64(len(h.clients)))
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			metrics.WebSocketConnectionsActive.Set(float64(len(h.clients)))
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			clientCount := len(h.clients)
			messageSize := float64(len(message))
			for client := range h.clients {
				select {
				case client.send <- message:
					metrics.WebSocketMessageSizeBytes.WithLabelValues("sent").Observe(messageSize)
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			if clientCount > 0 {
				metrics.WebSocketMessagesSentTotal.Add(float64(clientCount))
			}
			h.mu.RUnlock()
		}
	}
}

// Stop shuts down the hub and closes every connected client.
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// BroadcastPluginEvent fans a lifecycle or health event out to every
// connected client. Delivery is best-effort: a slow client is dropped
// rather than allowed to block the hub (SPEC_FULL Event Bus delivery
// semantics).
func (h *Hub) BroadcastPluginEvent(kind models.EventKind, pluginID string, payload map[string]interface{}) error {
	msg := models.WebSocketMessage{
		Type:      kind,
		PluginID:  pluginID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- data:
		return nil
	case <-h.ctx.Done():
		return h.ctx.Err()
	}
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
