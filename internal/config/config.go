// Package config reads service settings from the environment, loading a
// local .env file first when one exists.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"attendance-backend/internal/geo"
	"attendance-backend/internal/geofence"

	"github.com/joho/godotenv"
)

// Config holds every environment-derived setting of the server.
type Config struct {
	DatabaseURL string
	Port        string
	JWTSecret   string

	FixTimeout      time.Duration
	RefreshInterval time.Duration
	MaxFixAge       time.Duration

	// FallbackGeofence is used when the database has no active office.
	FallbackGeofence *geofence.Config
	OfficesFile      string

	FirebaseCredentialsBase64 string
	FirebaseCredentialsFile   string
	GoogleMapsAPIKey          string

	TracingEnabled     bool
	TracingServiceName string
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	log.Println("📂 Loading environment variables...")
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables from system")
	} else {
		log.Println("✅ .env file loaded successfully")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a getenv-style lookup.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		DatabaseURL:               getenv("DATABASE_URL"),
		Port:                      withDefault(getenv("PORT"), "8080"),
		JWTSecret:                 getenv("APP_JWT_SECRET"),
		OfficesFile:               withDefault(getenv("OFFICES_FILE"), "offices.yaml"),
		FirebaseCredentialsBase64: getenv("FIREBASE_CREDENTIALS_BASE64"),
		FirebaseCredentialsFile:   withDefault(getenv("FIREBASE_CREDENTIALS_FILE"), "./firebase-service-account.json"),
		GoogleMapsAPIKey:          getenv("GOOGLE_MAPS_API_KEY"),
		TracingEnabled:            strings.EqualFold(getenv("TRACING_ENABLED"), "true"),
		TracingServiceName:        withDefault(getenv("TRACING_SERVICE_NAME"), "attendance-backend"),
	}

	var errs []error
	var err error
	if cfg.FixTimeout, err = duration(getenv, "LOCATION_FIX_TIMEOUT", 10*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.RefreshInterval, err = duration(getenv, "LOCATION_REFRESH_INTERVAL", 5*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxFixAge, err = duration(getenv, "LOCATION_MAX_FIX_AGE", 2*time.Minute); err != nil {
		errs = append(errs, err)
	}

	lat, lng, radius := getenv("OFFICE_LATITUDE"), getenv("OFFICE_LONGITUDE"), getenv("OFFICE_RADIUS_METERS")
	if lat != "" || lng != "" || radius != "" {
		fence, err := parseFence(lat, lng, radius)
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.FallbackGeofence = &fence
		}
	}

	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate reports missing required settings.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL environment variable is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("APP_JWT_SECRET environment variable is required"))
	}
	if c.FixTimeout <= 0 {
		errs = append(errs, errors.New("LOCATION_FIX_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func duration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func parseFence(lat, lng, radius string) (geofence.Config, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return geofence.Config{}, fmt.Errorf("OFFICE_LATITUDE: %w", err)
	}
	lo, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return geofence.Config{}, fmt.Errorf("OFFICE_LONGITUDE: %w", err)
	}
	r, err := strconv.ParseFloat(radius, 64)
	if err != nil {
		return geofence.Config{}, fmt.Errorf("OFFICE_RADIUS_METERS: %w", err)
	}
	fence := geofence.Config{Center: geo.Coordinate{Latitude: la, Longitude: lo}, AllowedRadiusMeters: r}
	if err := fence.Validate(); err != nil {
		return geofence.Config{}, fmt.Errorf("office geofence: %w", err)
	}
	return fence, nil
}
