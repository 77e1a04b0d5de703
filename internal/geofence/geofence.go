package geofence

import (
	"context"
	"errors"
	"fmt"

	"attendance-backend/internal/geo"
)

var (
	ErrInvalidCenter = errors.New("geofence center is not a valid coordinate")
	ErrInvalidRadius = errors.New("geofence radius must be greater than zero")
)

// Config is a circular office boundary. It is treated as immutable for the
// duration of one evaluation.
type Config struct {
	Center              geo.Coordinate `json:"center"`
	AllowedRadiusMeters float64        `json:"allowed_radius_meters"`
}

// Validate checks the radius invariant and the center coordinate.
func (c Config) Validate() error {
	if !c.Center.Valid() {
		return fmt.Errorf("%w: %+v", ErrInvalidCenter, c.Center)
	}
	if !(c.AllowedRadiusMeters > 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidRadius, c.AllowedRadiusMeters)
	}
	return nil
}

// Result is the outcome of evaluating one coordinate against a Config.
type Result struct {
	InRange        bool    `json:"in_range"`
	DistanceMeters float64 `json:"distance_meters"`
}

// Evaluate reports whether the coordinate lies inside the geofence.
//
// The boundary is inclusive. Horizontal accuracy of the fix is deliberately
// not part of the comparison: the raw coordinate is compared against the raw
// radius, neither widened nor tightened by the accuracy estimate.
func Evaluate(point geo.Coordinate, cfg Config) Result {
	d := geo.DistanceMeters(point, cfg.Center)
	return Result{
		InRange:        d <= cfg.AllowedRadiusMeters,
		DistanceMeters: d,
	}
}

// Provider supplies the authoritative geofence configuration.
type Provider interface {
	GeofenceConfig(ctx context.Context) (Config, error)
}

// Static is a Provider that always returns the same configuration.
type Static Config

// GeofenceConfig implements Provider.
func (s Static) GeofenceConfig(ctx context.Context) (Config, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, err
	}
	cfg := Config(s)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// OutOfRangeMessage is the user-facing explanation for an out-of-range result.
func OutOfRangeMessage(r Result, cfg Config) string {
	return fmt.Sprintf("You are %dm away from office. You must be within %dm to mark attendance.",
		int(r.DistanceMeters), int(cfg.AllowedRadiusMeters))
}
