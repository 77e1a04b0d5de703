package websocket

import (
	"log"
	"net/http"
	"os"

	"attendance-backend/internal/middleware"
	"attendance-backend/internal/services"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Mobile clients send no Origin header.
		return true
	},
}

// HandleWebSocket upgrades HTTP connection to WebSocket and pushes the
// employee's location status on every cycle.
func HandleWebSocket(hub *Hub, engines Engines) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Try to get token from query parameter first (for WebSocket connections)
		tokenString := r.URL.Query().Get("token")

		var userClaims middleware.UserClaims

		if tokenString != "" {
			jwtSecret := os.Getenv("APP_JWT_SECRET")
			if jwtSecret == "" {
				log.Println("❌ JWT secret not configured")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			claims, err := middleware.ParseToken(tokenString, jwtSecret)
			if err != nil {
				log.Printf("❌ Invalid token in query parameter: %v", err)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			userClaims = claims
		} else {
			// Fallback: Get user from context (set by Auth middleware)
			var ok bool
			userClaims, ok = middleware.GetUserFromContext(r)
			if !ok {
				log.Println("❌ No user in context for WebSocket connection")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		// Upgrade HTTP connection to WebSocket
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("❌ WebSocket upgrade failed: %v", err)
			return
		}

		client := NewClient(userClaims.UserID, userClaims.Role, conn, hub, engines)
		if !hub.Register(client) {
			log.Printf("⚠️  WebSocket hub stopped, dropping connection for user: %s", userClaims.UserID)
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()

		// Start the engine so the device gets its current status right away.
		if engines != nil {
			if engine, err := engines.Engine(userClaims.UserID); err == nil {
				snap := engine.Tracker.Snapshot()
				hub.BroadcastToUser(userClaims.UserID, services.StatusMessage{Type: "location_status", Data: services.NewStatusEnvelope(snap)})
			}
		}

		log.Printf("✅ WebSocket connection established for user: %s (%s)", userClaims.Email, userClaims.UserID)
	}
}
