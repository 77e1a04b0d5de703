// Package location tracks whether a device is currently eligible to record
// attendance, driven by permission, device positioning and the office geofence.
package location

import (
	"context"
	"errors"
	"time"

	"attendance-backend/internal/geo"

	"golang.org/x/time/rate"
)

// Failure taxonomy for the evaluation cycle. None of these escape a cycle as a
// fault; each maps onto a Status.
var (
	ErrPermission          = errors.New("location permission not granted")
	ErrDeviceCapability    = errors.New("device positioning is disabled")
	ErrPositionUnavailable = errors.New("position fix unavailable")
	ErrConfigUnavailable   = errors.New("geofence configuration unavailable")
	ErrSubscriptionClosed  = errors.New("position subscription closed")
)

// PositionFix is a single reported device location.
type PositionFix struct {
	Coordinate               geo.Coordinate `json:"coordinate"`
	HorizontalAccuracyMeters float64        `json:"horizontal_accuracy_meters"`
	CapturedAt               time.Time      `json:"captured_at"`
}

// PositionProvider supplies device position fixes.
type PositionProvider interface {
	// LastKnownFix returns the most recent fix or ErrPositionUnavailable.
	// Implementations must honour ctx cancellation.
	LastKnownFix(ctx context.Context) (PositionFix, error)

	// Subscribe streams live fixes until ctx is done or the returned cancel
	// func is called. The channel is closed when the stream ends.
	Subscribe(ctx context.Context) (<-chan PositionFix, func())
}

// CapabilityProvider reports the device permission and positioning switches.
type CapabilityProvider interface {
	HasLocationPermission() bool
	IsPositioningEnabled() bool
}

// CycleRecorder receives one call per finished evaluation cycle.
type CycleRecorder interface {
	CycleCompleted(status Status, elapsed time.Duration)
	CycleSuperseded()
}

// TriggerLimiter gates stream-driven cycles. *rate.Limiter satisfies it.
// Reserve books the slot for the trailing cycle of a throttled burst.
type TriggerLimiter interface {
	Allow() bool
	Reserve() *rate.Reservation
}
