package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"attendance-backend/internal/middleware"
	"attendance-backend/internal/models"
	"attendance-backend/internal/services"
	"attendance-backend/internal/websocket"
	"attendance-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
)

// Engines resolves an employee's location engine.
type Engines interface {
	Engine(employeeID string) (*services.Engine, error)
}

// TokenStore persists push tokens.
type TokenStore interface {
	SaveFCMToken(ctx context.Context, userID, token, deviceType string) error
}

type LocationStatusResponse struct {
	Success bool                    `json:"success"`
	Data    services.StatusEnvelope `json:"data"`
}

// currentEngine resolves the authenticated employee's engine, writing the
// error response itself when it cannot.
func currentEngine(w http.ResponseWriter, r *http.Request, engines Engines) (*services.Engine, bool) {
	user, ok := middleware.GetUserFromContext(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}
	engine, err := engines.Engine(user.UserID)
	if err != nil {
		log.Printf("❌ Location engine unavailable for %s: %v", user.UserID, err)
		utils.RespondError(w, http.StatusServiceUnavailable, "Location tracking unavailable")
		return nil, false
	}
	return engine, true
}

// UpdateLocation accepts a position fix from the employee's device. The
// engine evaluates it on its next rate-limited cycle.
func UpdateLocation(engines Engines) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req websocket.LocationUpdate
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		engine, ok := currentEngine(w, r, engines)
		if !ok {
			return
		}
		if err := engine.Feed.ReportFix(req.Fix()); err != nil {
			log.Printf("❌ Rejected location update from %s: %v", engine.EmployeeID, err)
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		utils.RespondJSON(w, http.StatusAccepted, LocationStatusResponse{
			Success: true,
			Data:    services.NewStatusEnvelope(engine.Tracker.Snapshot()),
		})
	}
}

// DeviceState records the device's permission and GPS switches and starts a
// new evaluation cycle.
func DeviceState(engines Engines) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req websocket.DeviceState
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		engine, ok := currentEngine(w, r, engines)
		if !ok {
			return
		}
		engine.Feed.ReportState(req.PermissionGranted, req.GPSEnabled)
		engine.Tracker.Trigger()
		log.Printf("📱 Device state for %s: permission=%v gps=%v", engine.EmployeeID, req.PermissionGranted, req.GPSEnabled)

		utils.RespondJSON(w, http.StatusAccepted, LocationStatusResponse{
			Success: true,
			Data:    services.NewStatusEnvelope(engine.Tracker.Snapshot()),
		})
	}
}

// RefreshLocation runs an evaluation cycle and waits for its result.
func RefreshLocation(engines Engines) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engine, ok := currentEngine(w, r, engines)
		if !ok {
			return
		}

		snap, err := engine.Tracker.Refresh(r.Context())
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				utils.RespondError(w, http.StatusGatewayTimeout, "Location refresh did not complete")
				return
			}
			utils.RespondError(w, http.StatusInternalServerError, err.Error())
			return
		}

		utils.RespondJSON(w, http.StatusOK, LocationStatusResponse{
			Success: true,
			Data:    services.NewStatusEnvelope(snap),
		})
	}
}

// LocationStatus returns the last computed status without starting a cycle.
func LocationStatus(engines Engines) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engine, ok := currentEngine(w, r, engines)
		if !ok {
			return
		}
		utils.RespondJSON(w, http.StatusOK, LocationStatusResponse{
			Success: true,
			Data:    services.NewStatusEnvelope(engine.Tracker.Snapshot()),
		})
	}
}

type RegisterFCMTokenRequest struct {
	Token      string `json:"token"`
	DeviceType string `json:"device_type"`
}

// RegisterFCMToken stores the device's push token for the current user.
func RegisterFCMToken(store TokenStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req RegisterFCMTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Token == "" {
			utils.RespondError(w, http.StatusBadRequest, "token is required")
			return
		}
		if req.DeviceType != "ios" && req.DeviceType != "android" {
			utils.RespondError(w, http.StatusBadRequest, "device_type must be 'ios' or 'android'")
			return
		}

		if err := store.SaveFCMToken(r.Context(), user.UserID, req.Token, req.DeviceType); err != nil {
			log.Printf("❌ Failed to register FCM token: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to register token")
			return
		}

		log.Printf("✅ FCM token registered for user %s (%s)", user.UserID, req.DeviceType)
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "FCM token registered successfully",
		})
	}
}

// EngineLookup finds an employee's engine without starting one.
type EngineLookup interface {
	Lookup(employeeID string) (*services.Engine, bool)
}

// Presence reports live websocket connections. *websocket.Hub satisfies it.
type Presence interface {
	IsUserConnected(userID string) bool
}

type EmployeeLocationResponse struct {
	EmployeeID string                   `json:"employeeId"`
	Connected  bool                     `json:"connected"`
	Location   *services.StatusEnvelope `json:"location"`
}

// EmployeeLocation lets an admin see an employee's last computed status.
// Location is null when the employee has no engine yet.
func EmployeeLocation(engines EngineLookup, presence Presence) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		employeeID := chi.URLParam(r, "id")
		if employeeID == "" {
			utils.RespondError(w, http.StatusBadRequest, "employee id is required")
			return
		}

		resp := EmployeeLocationResponse{EmployeeID: employeeID}
		if presence != nil {
			resp.Connected = presence.IsUserConnected(employeeID)
		}
		if engine, ok := engines.Lookup(employeeID); ok {
			env := services.NewStatusEnvelope(engine.Tracker.Snapshot())
			resp.Location = &env
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    resp,
		})
	}
}

// LocationTrailStore reads the evaluated position audit trail.
type LocationTrailStore interface {
	LocationTrail(ctx context.Context, employeeID string, limit int) ([]models.EmployeeLocation, error)
}

const (
	defaultTrailLimit = 50
	maxTrailLimit     = 500
)

// EmployeeLocationTrail returns an employee's newest evaluated position
// reports. ?limit= caps the rows, default 50.
func EmployeeLocationTrail(store LocationTrailStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		employeeID := chi.URLParam(r, "id")
		limit := defaultTrailLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > maxTrailLimit {
				utils.RespondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
				return
			}
			limit = n
		}

		trail, err := store.LocationTrail(r.Context(), employeeID, limit)
		if err != nil {
			log.Printf("❌ Failed to load location trail for %s: %v", employeeID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load location trail")
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    trail,
		})
	}
}
