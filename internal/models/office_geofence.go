package models

import (
	"attendance-backend/internal/geo"
	"attendance-backend/internal/geofence"
)

// OfficeGeofence is the circular boundary employees must be inside to mark
// attendance. Only one row is active at a time.
type OfficeGeofence struct {
	ID           string  `json:"id" db:"id" yaml:"-"`
	Name         string  `json:"name" db:"name" yaml:"name"`
	Address      *string `json:"address,omitempty" db:"address" yaml:"address"`
	Latitude     float64 `json:"latitude" db:"latitude" yaml:"latitude"`
	Longitude    float64 `json:"longitude" db:"longitude" yaml:"longitude"`
	RadiusMeters float64 `json:"radius_meters" db:"radius_meters" yaml:"radius_meters"`
	IsActive     bool    `json:"is_active" db:"is_active" yaml:"active"`
	CreatedAt    int64   `json:"created_at" db:"created_at" yaml:"-"`
	UpdatedAt    int64   `json:"updated_at" db:"updated_at" yaml:"-"`
}

// ToConfig converts the row to the geofence evaluated by the tracker.
func (o *OfficeGeofence) ToConfig() geofence.Config {
	return geofence.Config{
		Center:              geo.Coordinate{Latitude: o.Latitude, Longitude: o.Longitude},
		AllowedRadiusMeters: o.RadiusMeters,
	}
}

// GPSConfigResponse is the device-facing view of the active geofence.
type GPSConfigResponse struct {
	OfficeLatitude  float64 `json:"officeLatitude"`
	OfficeLongitude float64 `json:"officeLongitude"`
	AllowedRadius   float64 `json:"allowedRadius"`
}
