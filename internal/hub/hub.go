package hub

import (
	"encoding/json"
	"log"
	"sync"
)

// Client is one realtime connection. Send is drained by the transport
// goroutine; a full buffer means the client is too slow and the
// message is dropped (at-most-once, no replay).
type Client struct {
	ID       string
	Send     chan []byte
	tenantID string
}

// Hub tracks live connections and the tenant room each one joined.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type ControlMessage struct {
	Action   string `json:"action"`
	TenantID string `json:"tenant_id"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.ID)
	close(client.Send)
}

// Join moves the client into a tenant room. A client belongs to at
// most one room at a time.
func (h *Hub) Join(client *Client, tenantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.tenantID = tenantID
}

func (h *Hub) Leave(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.tenantID = ""
}

// Broadcast pushes the payload to every client in the tenant's room.
func (h *Hub) Broadcast(tenantID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.tenantID != tenantID {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("drop message for client %s", client.ID)
		}
	}
}

func ParseControl(data []byte) (ControlMessage, bool) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ControlMessage{}, false
	}
	if msg.Action != "join" && msg.Action != "leave" {
		return ControlMessage{}, false
	}
	if msg.Action == "join" && msg.TenantID == "" {
		return ControlMessage{}, false
	}
	return msg, true
}
