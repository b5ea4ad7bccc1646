package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/olorin-ai/fraudlens-backend/internal/models"
	"github.com/olorin-ai/fraudlens-backend/internal/pkg/metrics"
)

// Message is the envelope for all outbound WebSocket frames.
type Message struct {
	Type      string      `json:"type"`
	Event     string      `json:"event,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub maintains active WebSocket connections and broadcasts messages
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Inbound messages from clients
	broadcast chan []byte

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new WebSocket hub
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

// Run starts the hub
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
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client buffer full, close connection
					close(client.send)
					delete(h.clients, client)
				}
			}
			metrics.WebSocketConnectionsActive.Set(float64(len(h.clients)))
			h.mu.Unlock()
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()

	// Close all client connections
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WebSocketConnectionsActive.Set(0)
}

// BroadcastAnomalyEvents pushes freshly persisted anomaly events to all clients
func (h *Hub) BroadcastAnomalyEvents(events []*models.AnomalyEvent) error {
	if len(events) == 0 {
		return nil
	}
	msg := Message{
		Type:      "anomaly_events",
		Event:     "created",
		Payload:   events,
		Timestamp: time.Now(),
	}
	return h.send(msg)
}

// BroadcastRunUpdate pushes a detection run status change to all clients
func (h *Hub) BroadcastRunUpdate(run *models.DetectionRun) error {
	msg := Message{
		Type:      "run_update",
		Event:     string(run.Status),
		Payload:   run,
		Timestamp: time.Now(),
	}
	return h.send(msg)
}

func (h *Hub) send(msg Message) error {
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

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
