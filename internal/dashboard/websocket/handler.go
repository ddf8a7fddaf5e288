package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/flyingrobots/slaps/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler handles WebSocket upgrade requests for /status/stream.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("dashboard: failed to upgrade websocket connection")
		return
	}

	client := NewClient(h.hub, conn)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	logger.Get().Info().Str("client_id", client.ID).Str("remote_addr", r.RemoteAddr).Msg("dashboard: client connected")
}
