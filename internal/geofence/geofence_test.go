package geofence

import (
	"context"
	"errors"
	"testing"

	"attendance-backend/internal/geo"
)

var office = geo.Coordinate{Latitude: 12.9716, Longitude: 77.5946}

func TestEvaluateBoundaryIsInclusive(t *testing.T) {
	point := geo.Coordinate{Latitude: 12.9716, Longitude: 77.5955}
	exact := geo.DistanceMeters(point, office)

	res := Evaluate(point, Config{Center: office, AllowedRadiusMeters: exact})
	if !res.InRange {
		t.Fatalf("point exactly on the boundary should be in range (distance %v)", res.DistanceMeters)
	}

	// Same point against a radius one meter shorter: the point sits at radius+1m.
	res = Evaluate(point, Config{Center: office, AllowedRadiusMeters: exact - 1})
	if res.InRange {
		t.Fatalf("point one meter past the boundary should be out of range")
	}
}

func TestEvaluate(t *testing.T) {
	cfg := Config{Center: office, AllowedRadiusMeters: 100}

	tests := []struct {
		name    string
		point   geo.Coordinate
		inRange bool
	}{
		{"at center", office, true},
		{"~97m east", geo.Coordinate{Latitude: 12.9716, Longitude: 77.5955}, true},
		{"~108m east", geo.Coordinate{Latitude: 12.9716, Longitude: 77.5956}, false},
		{"another city", geo.Coordinate{Latitude: 13.0827, Longitude: 80.2707}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(tt.point, cfg)
			if res.InRange != tt.inRange {
				t.Fatalf("InRange = %v (distance %.2f), want %v", res.InRange, res.DistanceMeters, tt.inRange)
			}
		})
	}
}

func TestEvaluateAtCenterReportsZeroDistance(t *testing.T) {
	res := Evaluate(office, Config{Center: office, AllowedRadiusMeters: 1})
	if res.DistanceMeters != 0 || !res.InRange {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{Center: office, AllowedRadiusMeters: 50}).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if err := (Config{Center: office, AllowedRadiusMeters: 0}).Validate(); !errors.Is(err, ErrInvalidRadius) {
		t.Fatalf("expected ErrInvalidRadius, got %v", err)
	}
	if err := (Config{Center: office, AllowedRadiusMeters: -3}).Validate(); !errors.Is(err, ErrInvalidRadius) {
		t.Fatalf("expected ErrInvalidRadius, got %v", err)
	}
	if err := (Config{Center: geo.Coordinate{Latitude: 91}, AllowedRadiusMeters: 10}).Validate(); !errors.Is(err, ErrInvalidCenter) {
		t.Fatalf("expected ErrInvalidCenter, got %v", err)
	}
}

func TestStaticProvider(t *testing.T) {
	p := Static{Center: office, AllowedRadiusMeters: 100}
	cfg, err := p.GeofenceConfig(context.Background())
	if err != nil {
		t.Fatalf("GeofenceConfig: %v", err)
	}
	if cfg.AllowedRadiusMeters != 100 || cfg.Center != office {
		t.Fatalf("unexpected config %+v", cfg)
	}

	if _, err := (Static{Center: office}).GeofenceConfig(context.Background()); err == nil {
		t.Fatalf("expected error for zero radius")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.GeofenceConfig(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOutOfRangeMessage(t *testing.T) {
	cfg := Config{Center: office, AllowedRadiusMeters: 100}
	msg := OutOfRangeMessage(Result{DistanceMeters: 108.4}, cfg)
	want := "You are 108m away from office. You must be within 100m to mark attendance."
	if msg != want {
		t.Fatalf("got %q, want %q", msg, want)
	}
}
