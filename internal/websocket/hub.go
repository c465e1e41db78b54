package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dosewell/dosewell/internal/dose"
)

// Message is a real-time dose lifecycle update pushed to a user's open
// clients, so every device shows the same alert state without polling.
type Message struct {
	Type       string `json:"type"`
	Occurrence string `json:"occurrence"`
	State      string `json:"state"`
	Outcome    string `json:"outcome,omitempty"`
	Medication string `json:"medication,omitempty"`
	Time       string `json:"time,omitempty"`
}

// DoseUpdate builds the lifecycle message for one occurrence transition.
func DoseUpdate(occ dose.Occurrence, state dose.State, outcome string) Message {
	return Message{
		Type:       "dose_update",
		Occurrence: occ.Key.String(),
		State:      state.String(),
		Outcome:    outcome,
		Medication: occ.MedicationName,
		Time:       occ.Key.Time,
	}
}

// Hub maintains the set of active WebSocket clients, keyed by user, and
// broadcasts dose updates to them.
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

// Broadcast sends a message to all of the user's connected clients.
func (h *Hub) Broadcast(userID int64, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.userID != userID {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client buffer full — drop message to avoid blocking
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
