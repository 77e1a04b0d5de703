package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
)

// Hub maintains active WebSocket connections and pushes status updates
type Hub struct {
	// Registered clients (userID -> Client)
	clients map[string]*Client

	// Outbound messages for a single user
	broadcast chan *Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Called with the client count after every change
	onCount func(int)

	// Closed when Run returns
	done chan struct{}

	// Mutex for thread-safe client map access
	mu sync.RWMutex
}

// Message represents a message to deliver to a specific user
type Message struct {
	UserID string
	Data   interface{}
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		onCount:    func(int) {},
		done:       make(chan struct{}),
	}
}

// OnClientCount registers a callback for connection count changes.
// Must be called before Run.
func (h *Hub) OnClientCount(fn func(int)) {
	if fn != nil {
		h.onCount = fn
	}
}

// Run starts the hub's main loop. It must be called at most once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.send)
			}
			h.mu.Unlock()
			h.onCount(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			// A newer connection replaces the previous one for the same user.
			if old, ok := h.clients[client.UserID]; ok && old != client {
				close(old.send)
			}
			h.clients[client.UserID] = client
			count := len(h.clients)
			h.mu.Unlock()
			h.onCount(count)
			log.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			log.Printf("✅ [WEBSOCKET] Client CONNECTED")
			log.Printf("   User ID: %s", client.UserID)
			log.Printf("   Role: %s", client.UserRole)
			log.Printf("   Total connected clients: %d", count)
			log.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

		case client := <-h.unregister:
			h.mu.Lock()
			current, ok := h.clients[client.UserID]
			if ok && current == client {
				delete(h.clients, client.UserID)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			if ok && current == client {
				h.onCount(count)
				log.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
				log.Printf("🔴 [WEBSOCKET] Client DISCONNECTED")
				log.Printf("   User ID: %s", client.UserID)
				log.Printf("   Remaining connected clients: %d", count)
				log.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			}

		case message := <-h.broadcast:
			data, err := json.Marshal(message.Data)
			if err != nil {
				log.Printf("❌ Failed to marshal message: %v", err)
				continue
			}

			h.mu.Lock()
			if client, ok := h.clients[message.UserID]; ok {
				select {
				case client.send <- data:
				default:
					// Client buffer full, disconnect
					close(client.send)
					delete(h.clients, client.UserID)
					log.Printf("⚠️ Client buffer full, disconnecting: %s", message.UserID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client. It returns immediately once the hub has stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastToUser sends a message to a specific user
func (h *Hub) BroadcastToUser(userID string, data interface{}) {
	select {
	case h.broadcast <- &Message{UserID: userID, Data: data}:
	default:
		log.Printf("⚠️ Broadcast queue full, dropping message for %s", userID)
	}
}

// BroadcastToRole sends a message to all users with a specific role
func (h *Hub) BroadcastToRole(role string, data interface{}) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		log.Printf("❌ Failed to marshal broadcast message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.UserRole == role {
			select {
			case client.send <- dataBytes:
			default:
			}
		}
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsUserConnected checks if a user is currently connected
func (h *Hub) IsUserConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}
