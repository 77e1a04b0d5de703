// Package attendance gates check-in and check-out on the device's current
// location status and delegates the actual recording to a Records store.
package attendance

import (
	"context"
	"errors"
	"fmt"

	"attendance-backend/internal/geofence"
	"attendance-backend/internal/location"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("attendance-backend/internal/attendance")

// ErrDenied is matched by every denial converted with Denial.Err.
var ErrDenied = errors.New("attendance action denied")

// ErrOutOfRange is the business-rule denial for a device outside the geofence.
var ErrOutOfRange = fmt.Errorf("%w: outside office premises", ErrDenied)

// Action names the attendance operation being attempted.
type Action string

const (
	ActionCheckIn  Action = "check_in"
	ActionCheckOut Action = "check_out"
)

// Reason is the distinguishable cause of a denial.
type Reason string

const (
	ReasonOutOfRange         Reason = "outside office premises"
	ReasonPermissionRequired Reason = "permission required"
	ReasonGPSDisabled        Reason = "GPS disabled"
	ReasonLocationLoading    Reason = "location not yet resolved, retry"
	ReasonLocationUnknown    Reason = "location undeterminable, retry"
	ReasonNoCurrentFix       Reason = "current location not available"
)

var reasonCodes = map[Reason]string{
	ReasonOutOfRange:         "out_of_range",
	ReasonPermissionRequired: "permission_required",
	ReasonGPSDisabled:        "gps_disabled",
	ReasonLocationLoading:    "location_loading",
	ReasonLocationUnknown:    "location_unknown",
	ReasonNoCurrentFix:       "no_current_fix",
}

var reasonMessages = map[Reason]string{
	ReasonOutOfRange:         "You are outside the office premises. Please move closer to the office to mark attendance.",
	ReasonPermissionRequired: "Location permission is required to mark attendance. Please enable location permission.",
	ReasonGPSDisabled:        "GPS is disabled. Please enable GPS to mark attendance.",
	ReasonLocationLoading:    "Getting your location. Please wait and try again.",
	ReasonLocationUnknown:    "Unable to determine your location. Please try again.",
	ReasonNoCurrentFix:       "Current location not available",
}

// Code is a stable machine-readable identifier for the reason.
func (r Reason) Code() string { return reasonCodes[r] }

// Message is the guidance shown to the employee.
func (r Reason) Message() string { return reasonMessages[r] }

// ReasonFor maps a non-eligible status to its denial reason.
func ReasonFor(s location.Status) Reason {
	switch s {
	case location.StatusOutOfRange:
		return ReasonOutOfRange
	case location.StatusPermissionDenied:
		return ReasonPermissionRequired
	case location.StatusGPSDisabled:
		return ReasonGPSDisabled
	case location.StatusLoading:
		return ReasonLocationLoading
	default:
		return ReasonLocationUnknown
	}
}

// Denial explains why an action was refused.
type Denial struct {
	Reason Reason          `json:"reason"`
	Status location.Status `json:"status"`
	Detail string          `json:"detail,omitempty"`
}

// Err converts the denial into an error for callers that need one.
func (d Denial) Err() error {
	if d.Reason == ReasonOutOfRange {
		return ErrOutOfRange
	}
	return fmt.Errorf("%w: %s", ErrDenied, d.Reason)
}

// Outcome is either a recorded day or a denial. Exactly one is set.
type Outcome struct {
	Record *DayRecord
	Denial *Denial
}

// Allowed reports whether the action was carried out.
func (o Outcome) Allowed() bool { return o.Denial == nil && o.Record != nil }

// DelegateActionError wraps a failure of the underlying Records call.
type DelegateActionError struct {
	Action Action
	Err    error
}

func (e *DelegateActionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Action, e.Err)
}

func (e *DelegateActionError) Unwrap() error { return e.Err }

// StatusSource exposes the last computed location state without triggering
// a new evaluation. *location.Tracker satisfies it.
type StatusSource interface {
	Snapshot() location.Snapshot
}

// OutcomeRecorder observes gate results.
type OutcomeRecorder interface {
	GateAttempt(action Action, result string)
}

// Gate applies the eligibility policy to both attendance actions.
type Gate struct {
	status   StatusSource
	records  Records
	recorder OutcomeRecorder
	logf     func(format string, args ...any)
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithOutcomeRecorder attaches gate metrics.
func WithOutcomeRecorder(r OutcomeRecorder) GateOption {
	return func(g *Gate) { g.recorder = r }
}

// WithGateLogf sets the logger for delegate failures.
func WithGateLogf(logf func(format string, args ...any)) GateOption {
	return func(g *Gate) {
		if logf != nil {
			g.logf = logf
		}
	}
}

// NewGate builds a Gate over a status source and a records store.
func NewGate(status StatusSource, records Records, opts ...GateOption) *Gate {
	g := &Gate{
		status:  status,
		records: records,
		logf:    func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckIn records a check-in if the device is currently within range.
// A denial is returned as an Outcome with a nil error.
func (g *Gate) CheckIn(ctx context.Context) (Outcome, error) {
	return g.attempt(ctx, ActionCheckIn, g.records.CheckIn)
}

// CheckOut records a check-out if the device is currently within range.
func (g *Gate) CheckOut(ctx context.Context) (Outcome, error) {
	return g.attempt(ctx, ActionCheckOut, g.records.CheckOut)
}

func (g *Gate) attempt(ctx context.Context, action Action, delegate func(context.Context, location.PositionFix) (DayRecord, error)) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "attendance."+string(action))
	defer span.End()

	// Eligibility comes from the last computed status; no new cycle here.
	snap := g.status.Snapshot()
	span.SetAttributes(attribute.String("location.status", snap.Status.String()))

	if snap.Status != location.StatusWithinRange {
		d := &Denial{Reason: ReasonFor(snap.Status), Status: snap.Status}
		if snap.Status == location.StatusOutOfRange && snap.DistanceMeters != nil && snap.Geofence != nil {
			d.Detail = geofence.OutOfRangeMessage(geofence.Result{DistanceMeters: *snap.DistanceMeters}, *snap.Geofence)
		}
		return g.deny(span, action, d), nil
	}

	if snap.Fix == nil {
		return g.deny(span, action, &Denial{Reason: ReasonNoCurrentFix, Status: snap.Status}), nil
	}

	rec, err := delegate(ctx, *snap.Fix)
	if err != nil {
		g.logf("❌ [ATTENDANCE] %s failed: %v", action, err)
		g.record(action, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Outcome{}, &DelegateActionError{Action: action, Err: err}
	}

	g.record(action, "success")
	return Outcome{Record: &rec}, nil
}

func (g *Gate) deny(span trace.Span, action Action, d *Denial) Outcome {
	span.SetAttributes(attribute.String("attendance.denial", d.Reason.Code()))
	g.record(action, "denied_"+d.Reason.Code())
	return Outcome{Denial: d}
}

func (g *Gate) record(action Action, result string) {
	if g.recorder != nil {
		g.recorder.GateAttempt(action, result)
	}
}

// Availability is the legal next action for the employee right now.
type Availability struct {
	Status      location.Status `json:"status"`
	CanCheckIn  bool            `json:"canCheckIn"`
	CanCheckOut bool            `json:"canCheckOut"`
	Today       *DayRecord      `json:"today"`
}

// Availability combines today's record with the current status.
func (g *Gate) Availability(ctx context.Context) (Availability, error) {
	today, err := g.records.TodayRecord(ctx)
	if err != nil {
		return Availability{}, fmt.Errorf("load today's record: %w", err)
	}
	status := g.status.Snapshot().Status
	inRange := status == location.StatusWithinRange
	return Availability{
		Status:      status,
		CanCheckIn:  !today.CheckedIn() && inRange,
		CanCheckOut: today.CheckedIn() && !today.CheckedOut() && inRange,
		Today:       today,
	}, nil
}
