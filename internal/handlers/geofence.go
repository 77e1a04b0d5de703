package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"attendance-backend/internal/geofence"
	"attendance-backend/internal/models"
	"attendance-backend/internal/services"
	"attendance-backend/pkg/utils"
)

// GeofenceAdmin replaces the active office geofence.
type GeofenceAdmin interface {
	SetActiveGeofence(ctx context.Context, office models.OfficeGeofence) (models.OfficeGeofence, error)
}

// Geocoder resolves an office address. *services.GeocodingService satisfies it.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*services.Address, error)
}

type SetGeofenceRequest struct {
	Name         string   `json:"name"`
	Address      string   `json:"address"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	RadiusMeters float64  `json:"radius_meters"`
}

// SetGeofence stores a new active office geofence from coordinates or, when
// they are omitted, from a geocoded address.
func SetGeofence(store GeofenceAdmin, geocoder Geocoder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("📥 REQUEST: PUT /api/admin/geofence")

		var req SetGeofenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		req.Address = strings.TrimSpace(req.Address)
		if req.Name == "" {
			utils.RespondError(w, http.StatusBadRequest, "name is required")
			return
		}

		office := models.OfficeGeofence{Name: req.Name, RadiusMeters: req.RadiusMeters}
		if req.Address != "" {
			office.Address = &req.Address
		}

		switch {
		case req.Latitude != nil && req.Longitude != nil:
			office.Latitude, office.Longitude = *req.Latitude, *req.Longitude
		case req.Address != "" && geocoder != nil:
			log.Printf("🗺️  Geocoding office address: %s", req.Address)
			addr, err := geocoder.Geocode(r.Context(), req.Address)
			if err != nil {
				log.Printf("❌ Geocoding failed: %v", err)
				utils.RespondError(w, http.StatusBadGateway, "Could not geocode address")
				return
			}
			office.Latitude, office.Longitude = addr.Coordinate.Latitude, addr.Coordinate.Longitude
			office.Address = &addr.FormattedAddress
		default:
			utils.RespondError(w, http.StatusBadRequest, "latitude and longitude, or a geocodable address, are required")
			return
		}

		saved, err := store.SetActiveGeofence(r.Context(), office)
		if errors.Is(err, geofence.ErrInvalidCenter) || errors.Is(err, geofence.ErrInvalidRadius) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			log.Printf("❌ Failed to save geofence: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to save geofence")
			return
		}

		log.Printf("✅ Active geofence: %s (%.6f, %.6f) r=%.0fm", saved.Name, saved.Latitude, saved.Longitude, saved.RadiusMeters)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    saved,
		})
	}
}
