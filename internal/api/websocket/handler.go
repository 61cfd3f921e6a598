package websocket

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/forgehook/forgehook/internal/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The handshake accepts any origin. The CORS middleware ahead of this
	// handler only sets response headers; it does not reject a
	// cross-origin upgrade request.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades /events requests to WebSocket connections and
// registers them with a Hub.
type Handler struct {
	hub *Hub
}

// NewHandler creates a websocket upgrade handler backed by hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeWS handles GET /events. Auth, when enabled, is enforced by the
// same APIKeyAuth middleware used for REST routes, applied ahead of
// this handler in the router.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.StdLogger().Error("websocket upgrade failed", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := NewClient(r.Context(), h.hub, conn, clientID)

	h.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}
