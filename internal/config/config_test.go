package config

import (
	"strings"
	"testing"
	"time"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{"DATABASE_URL": "postgres://x", "APP_JWT_SECRET": "s"}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != "8080" || cfg.FixTimeout != 10*time.Second || cfg.RefreshInterval != 5*time.Second {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.OfficesFile != "offices.yaml" || cfg.FallbackGeofence != nil || cfg.TracingEnabled {
		t.Fatalf("defaults = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"PORT":                      "9000",
		"LOCATION_FIX_TIMEOUT":      "3s",
		"LOCATION_REFRESH_INTERVAL": "500ms",
		"OFFICE_LATITUDE":           "12.9716",
		"OFFICE_LONGITUDE":          "77.5946",
		"OFFICE_RADIUS_METERS":      "100",
		"TRACING_ENABLED":           "TRUE",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != "9000" || cfg.FixTimeout != 3*time.Second || cfg.RefreshInterval != 500*time.Millisecond {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.FallbackGeofence == nil || cfg.FallbackGeofence.AllowedRadiusMeters != 100 {
		t.Fatalf("fallback geofence = %+v", cfg.FallbackGeofence)
	}
	if !cfg.TracingEnabled {
		t.Fatal("tracing should be enabled")
	}
}

func TestFromEnvErrors(t *testing.T) {
	_, err := FromEnv(env(map[string]string{
		"LOCATION_FIX_TIMEOUT": "soon",
		"OFFICE_LATITUDE":      "12.97",
		"OFFICE_LONGITUDE":     "77.59",
		"OFFICE_RADIUS_METERS": "-5",
	}))
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"LOCATION_FIX_TIMEOUT", "office geofence"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidateRequiresDatabaseAndSecret(t *testing.T) {
	cfg, _ := FromEnv(env(nil))
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") || !strings.Contains(err.Error(), "APP_JWT_SECRET") {
		t.Fatalf("Validate = %v", err)
	}
}
