package geo

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used for all distance calculations.
const EarthRadiusMeters = 6371000.0

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
}

// Valid reports whether the coordinate lies inside the legal degree ranges.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// DistanceMeters calculates the great-circle distance between two coordinates
// using the haversine formula.
func DistanceMeters(a, b Coordinate) float64 {
	if a == b {
		return 0
	}

	lat1Rad := a.Latitude * math.Pi / 180
	lat2Rad := b.Latitude * math.Pi / 180
	deltaLat := (b.Latitude - a.Latitude) * math.Pi / 180
	deltaLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	// Rounding can push h just past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

// FormatDistance renders a distance for display: whole meters below 1km,
// one decimal kilometer above.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%dm", int(meters))
	}
	return fmt.Sprintf("%.1fkm", meters/1000)
}
