package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dukerupert/smartsavvy/internal/stats"
)

// Message is a live stat update pushed to dashboard clients.
type Message struct {
	Type    string           `json:"type"`
	ID      string           `json:"id"`
	Variant string           `json:"variant"`
	Day     string           `json:"day"`
	Values  map[string]int64 `json:"values"`
}

// NewMessage wraps a stats update for the wire.
func NewMessage(u stats.Update) Message {
	return Message{
		Type:    "stats_" + string(u.Variant),
		ID:      u.ID,
		Variant: string(u.Variant),
		Day:     u.Day,
		Values:  u.Values,
	}
}

// Hub maintains the set of active WebSocket clients and fans out updates to
// the clients watching the updated id.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Publish is a stats notifier: it broadcasts u to interested clients.
func (h *Hub) Publish(u stats.Update) {
	h.Broadcast(NewMessage(u))
}

// Broadcast sends a message to every client watching msg.ID.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.watches(msg.ID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// slow client, drop
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
