package live

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/NLCLC-CM/microbit/internal/dispatch"
	"github.com/NLCLC-CM/microbit/internal/message"
)

// EventMessage is the event type of a newly completed message
const EventMessage = "message"

// Event represents an event pushed to SSE and WebSocket clients
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Client represents a single SSE or WebSocket connection
type Client struct {
	ID        string
	Kind      string // "sse" or "ws"
	EventChan chan Event
	Done      chan struct{}
}

// NewClient creates a client with a buffered event channel
func NewClient(kind string, buffer int) *Client {
	return &Client{
		ID:        uuid.NewString(),
		Kind:      kind,
		EventChan: make(chan Event, buffer),
		Done:      make(chan struct{}),
	}
}

// Hub manages live connections and broadcasts messages to them
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	dropped atomic.Uint64
}

var _ dispatch.Sink = &Hub{}

// NewHub creates a new live hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

// RegisterClient registers a new client
func (h *Hub) RegisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	slog.Info("Live client registered", "clientID", client.ID, "kind", client.Kind)
}

// UnregisterClient removes a client from the hub.
// The client's Done channel is closed by the handler that created the client.
func (h *Hub) UnregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[clientID]; ok {
		delete(h.clients, clientID)
		slog.Info("Live client unregistered", "clientID", clientID)
	}
}

// Broadcast sends an event to all clients without blocking
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.EventChan <- event:
		case <-client.Done:
			// Client disconnected
		default:
			h.dropped.Add(1)
			slog.Warn("Live client channel full, dropping event", "clientID", client.ID)
		}
	}
}

// Consume broadcasts a completed message. Slow clients lose events; the hub never fails.
func (h *Hub) Consume(msg message.Message) error {
	h.Broadcast(Event{Type: EventMessage, Data: msg})
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were dropped for slow clients
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// FormatSSE formats an event for the Server-Sent Events protocol
func FormatSSE(event Event) ([]byte, error) {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	// event: <type>\ndata: <json>\n\n
	output := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, string(dataJSON))
	return []byte(output), nil
}
