package websocket

import (
	"context"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin enforcement happens in the CORS layer
	},
}

// Handler handles WebSocket connections
type Handler struct {
	hub *Hub
	ctx context.Context
}

// NewHandler creates a new WebSocket handler
func NewHandler(ctx context.Context, hub *Hub) *Handler {
	return &Handler{
		hub: hub,
		ctx: ctx,
	}
}

// ServeWS handles websocket requests from clients
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	clientID := uuid.New().String()
	client := NewClient(h.ctx, h.hub, conn, clientID)

	// Register client
	h.hub.register <- client

	// Start client goroutines
	go client.WritePump()
	go client.ReadPump()
}
