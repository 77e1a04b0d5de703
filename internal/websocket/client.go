package websocket

import (
	"encoding/json"
	"log"
	"time"

	"attendance-backend/internal/geo"
	"attendance-backend/internal/location"
	"attendance-backend/internal/services"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 2048
)

// Engines resolves the location engine of a connected employee.
// *services.EngineRegistry satisfies it.
type Engines interface {
	Engine(employeeID string) (*services.Engine, error)
}

// Client represents a WebSocket client connection
type Client struct {
	UserID   string
	UserRole string // "employee" or "admin"
	conn     *websocket.Conn
	hub      *Hub
	engines  Engines
	send     chan []byte
}

// IncomingMessage represents a message from the client
type IncomingMessage struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// LocationUpdate is the payload of a location_update message.
type LocationUpdate struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	Timestamp *int64   `json:"timestamp"` // unix milliseconds, device clock
}

// Fix converts the update into a position fix.
func (u LocationUpdate) Fix() location.PositionFix {
	fix := location.PositionFix{Coordinate: geo.Coordinate{Latitude: u.Latitude, Longitude: u.Longitude}}
	if u.Accuracy != nil {
		fix.HorizontalAccuracyMeters = *u.Accuracy
	}
	if u.Timestamp != nil {
		fix.CapturedAt = time.UnixMilli(*u.Timestamp)
	}
	return fix
}

// DeviceState is the payload of a device_state message.
type DeviceState struct {
	PermissionGranted bool `json:"permissionGranted"`
	GPSEnabled        bool `json:"gpsEnabled"`
}

// NewClient creates a new WebSocket client
func NewClient(userID, userRole string, conn *websocket.Conn, hub *Hub, engines Engines) *Client {
	return &Client{
		UserID:   userID,
		UserRole: userRole,
		conn:     conn,
		hub:      hub,
		engines:  engines,
		send:     make(chan []byte, 256),
	}
}

// ReadPump pumps messages from the WebSocket connection to the engine
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
		c.handle(message)
	}
}

func (c *Client) handle(message []byte) {
	var msg IncomingMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("Invalid message format: %v", err)
		return
	}

	switch msg.Type {
	case "ping":
		c.hub.BroadcastToUser(c.UserID, map[string]interface{}{
			"type":      "pong",
			"timestamp": time.Now().Format(time.RFC3339),
		})

	case "location_update":
		var update LocationUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			log.Printf("❌ Invalid location_update from %s: %v", c.UserID, err)
			return
		}
		engine, ok := c.engine()
		if !ok {
			return
		}
		// The engine's watch loop turns the fix into a rate-limited cycle.
		if err := engine.Feed.ReportFix(update.Fix()); err != nil {
			log.Printf("❌ Rejected location_update from %s: %v", c.UserID, err)
		}

	case "device_state":
		var state DeviceState
		if err := json.Unmarshal(msg.Data, &state); err != nil {
			log.Printf("❌ Invalid device_state from %s: %v", c.UserID, err)
			return
		}
		engine, ok := c.engine()
		if !ok {
			return
		}
		engine.Feed.ReportState(state.PermissionGranted, state.GPSEnabled)
		engine.Tracker.Trigger()

	case "refresh":
		if engine, ok := c.engine(); ok {
			engine.Tracker.Trigger()
		}

	default:
		log.Printf("⚠️  Unknown websocket message type %q from %s", msg.Type, c.UserID)
	}
}

func (c *Client) engine() (*services.Engine, bool) {
	if c.engines == nil {
		return nil, false
	}
	engine, err := c.engines.Engine(c.UserID)
	if err != nil {
		log.Printf("❌ No location engine for %s: %v", c.UserID, err)
		return nil, false
	}
	return engine, true
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
