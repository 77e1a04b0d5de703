package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"attendance-backend/internal/attendance"
	"attendance-backend/internal/devices"
	"attendance-backend/internal/geo"
	"attendance-backend/internal/geofence"
	"attendance-backend/internal/location"
	"attendance-backend/internal/metrics"
	"attendance-backend/internal/models"

	"golang.org/x/time/rate"
)

// EngineStore is the persistence the engines need.
type EngineStore interface {
	geofence.Provider
	ForEmployee(employeeID string) attendance.Records
	RecordLocation(ctx context.Context, employeeID string, snap location.Snapshot) error
	FCMTokens(ctx context.Context, userID string) ([]string, error)
}

// Notifier sends push notifications. *FCMService satisfies it.
type Notifier interface {
	SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}

// StatusBroadcaster pushes messages to connected users. *websocket.Hub
// satisfies it.
type StatusBroadcaster interface {
	BroadcastToUser(userID string, data interface{})
	BroadcastToRole(role string, data interface{})
}

// EngineConfig tunes every engine the registry creates.
type EngineConfig struct {
	FixTimeout      time.Duration
	RefreshInterval time.Duration
	MaxFixAge       time.Duration
}

// Engine is the location and attendance machinery of one employee.
type Engine struct {
	EmployeeID string
	Feed       *devices.Feed
	Tracker    *location.Tracker
	Gate       *attendance.Gate
}

// StatusMessage is the payload pushed to a device after every cycle.
type StatusMessage struct {
	Type string         `json:"type"`
	Data StatusEnvelope `json:"data"`
}

// StatusEnvelope is the client-facing view of a location snapshot.
type StatusEnvelope struct {
	Status         location.Status       `json:"status"`
	Reason         string                `json:"reason,omitempty"`
	Message        string                `json:"message,omitempty"`
	DistanceMeters *float64              `json:"distanceMeters,omitempty"`
	DistanceText   string                `json:"distanceText,omitempty"`
	AllowedRadius  *float64              `json:"allowedRadius,omitempty"`
	Fix            *location.PositionFix `json:"fix,omitempty"`
	Error          string                `json:"error,omitempty"`
	Cycle          uint64                `json:"cycle"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

// NewStatusEnvelope renders a snapshot for clients.
func NewStatusEnvelope(snap location.Snapshot) StatusEnvelope {
	env := StatusEnvelope{
		Status:         snap.Status,
		DistanceMeters: snap.DistanceMeters,
		Fix:            snap.Fix,
		Error:          snap.Error,
		Cycle:          snap.Cycle,
		UpdatedAt:      snap.UpdatedAt,
	}
	if snap.Status != location.StatusWithinRange {
		reason := attendance.ReasonFor(snap.Status)
		env.Reason = reason.Code()
		env.Message = reason.Message()
	}
	if snap.DistanceMeters != nil {
		env.DistanceText = geo.FormatDistance(*snap.DistanceMeters)
	}
	if snap.Geofence != nil {
		r := snap.Geofence.AllowedRadiusMeters
		env.AllowedRadius = &r
		if snap.Status == location.StatusOutOfRange && snap.DistanceMeters != nil {
			env.Message = geofence.OutOfRangeMessage(geofence.Result{DistanceMeters: *snap.DistanceMeters}, *snap.Geofence)
		}
	}
	return env
}

// EngineRegistry lazily creates one Engine per employee and keeps its
// background loops alive until Close.
type EngineRegistry struct {
	store       EngineStore
	cfg         EngineConfig
	metrics     *metrics.Collector
	broadcaster StatusBroadcaster
	notifier    Notifier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	engines map[string]*Engine
	closed  bool
}

// RegistryOption configures an EngineRegistry.
type RegistryOption func(*EngineRegistry)

// WithMetrics records cycles and gate outcomes on c.
func WithMetrics(c *metrics.Collector) RegistryOption {
	return func(r *EngineRegistry) { r.metrics = c }
}

// WithBroadcaster pushes every status change to the employee's websocket.
func WithBroadcaster(b StatusBroadcaster) RegistryOption {
	return func(r *EngineRegistry) { r.broadcaster = b }
}

// WithNotifier enables check-in reminders and attendance confirmations.
func WithNotifier(n Notifier) RegistryOption {
	return func(r *EngineRegistry) { r.notifier = n }
}

// NewEngineRegistry returns an empty registry.
func NewEngineRegistry(store EngineStore, cfg EngineConfig, opts ...RegistryOption) *EngineRegistry {
	if cfg.FixTimeout <= 0 {
		cfg.FixTimeout = location.DefaultFixTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &EngineRegistry{
		store:   store,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		engines: make(map[string]*Engine),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Engine returns the employee's engine, creating it on first use.
func (r *EngineRegistry) Engine(employeeID string) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.New("engine registry is closed")
	}
	if e, ok := r.engines[employeeID]; ok {
		return e, nil
	}

	feed := devices.NewFeed(devices.WithMaxFixAge(r.cfg.MaxFixAge))
	trackerOpts := []location.Option{
		location.WithFixTimeout(r.cfg.FixTimeout),
		location.WithLogf(log.Printf),
	}
	if r.metrics != nil {
		trackerOpts = append(trackerOpts, location.WithRecorder(r.metrics))
	}
	if r.cfg.RefreshInterval > 0 {
		trackerOpts = append(trackerOpts, location.WithTriggerLimiter(rate.NewLimiter(rate.Every(r.cfg.RefreshInterval), 1)))
	}
	tracker := location.NewTracker(feed, feed, r.store, trackerOpts...)

	gateOpts := []attendance.GateOption{attendance.WithGateLogf(log.Printf)}
	if r.metrics != nil {
		gateOpts = append(gateOpts, attendance.WithOutcomeRecorder(r.metrics))
	}
	gate := attendance.NewGate(tracker, r.store.ForEmployee(employeeID), gateOpts...)

	e := &Engine{EmployeeID: employeeID, Feed: feed, Tracker: tracker, Gate: gate}
	r.engines[employeeID] = e
	r.metrics.SetActiveEngines(len(r.engines))

	updates, unsubscribe := tracker.Subscribe()
	r.wg.Add(2)
	go r.watch(e)
	go r.observe(e, updates, unsubscribe)

	log.Printf("🛰️  [ENGINE] Started location engine for employee %s (active: %d)", employeeID, len(r.engines))
	return e, nil
}

// Lookup returns an existing engine without creating one.
func (r *EngineRegistry) Lookup(employeeID string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[employeeID]
	return e, ok
}

// Close stops every engine and waits for their loops to exit.
func (r *EngineRegistry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.cancel()
	for _, e := range r.engines {
		e.Feed.Close()
	}
	r.mu.Unlock()

	r.wg.Wait()
	log.Println("✓ Location engines stopped")
}

// watch keeps the tracker subscribed to the device stream. A stream closed by
// a permission revocation is re-established after one refresh interval.
func (r *EngineRegistry) watch(e *Engine) {
	defer r.wg.Done()

	retry := r.cfg.RefreshInterval
	if retry <= 0 {
		retry = time.Second
	}
	for {
		err := e.Tracker.Watch(r.ctx)
		if r.ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, location.ErrSubscriptionClosed) {
			log.Printf("❌ [ENGINE] watch for %s failed: %v", e.EmployeeID, err)
		}
		select {
		case <-r.ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

// observe fans every settled snapshot out to the device, the audit trail and
// the check-in reminder.
func (r *EngineRegistry) observe(e *Engine, updates <-chan location.Snapshot, unsubscribe func()) {
	defer r.wg.Done()
	defer unsubscribe()

	var lastCycle uint64
	prev := location.StatusUnknown
	for {
		var snap location.Snapshot
		select {
		case <-r.ctx.Done():
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			snap = s
		}

		if r.broadcaster != nil {
			r.broadcaster.BroadcastToUser(e.EmployeeID, StatusMessage{Type: "location_status", Data: NewStatusEnvelope(snap)})
		}

		// Loading snapshots carry no new evaluation.
		if snap.Status == location.StatusLoading || snap.Cycle == lastCycle {
			continue
		}
		lastCycle = snap.Cycle

		// Only evaluated fixes are audited; failed cycles keep the previous fix.
		if snap.DistanceMeters != nil {
			if err := r.store.RecordLocation(r.ctx, e.EmployeeID, snap); err != nil {
				log.Printf("⚠️  [ENGINE] %v", err)
			}
		}
		if prev != location.StatusWithinRange && snap.Status == location.StatusWithinRange {
			r.remindCheckIn(e, snap)
		}
		prev = snap.Status
	}
}

func (r *EngineRegistry) remindCheckIn(e *Engine, snap location.Snapshot) {
	if r.notifier == nil {
		return
	}
	today, err := r.store.ForEmployee(e.EmployeeID).TodayRecord(r.ctx)
	if err != nil {
		log.Printf("⚠️  [ENGINE] reminder skipped for %s: %v", e.EmployeeID, err)
		return
	}
	if today.CheckedIn() {
		return
	}
	distance := 0.0
	if snap.DistanceMeters != nil {
		distance = *snap.DistanceMeters
	}
	title, body, data := CheckInReminderMessage(geo.FormatDistance(distance))
	r.push(e.EmployeeID, title, body, data)
}

// AttendanceEvent is the live feed message admins receive for every
// recorded check-in and check-out.
type AttendanceEvent struct {
	Type string              `json:"type"`
	Data AttendanceEventData `json:"data"`
}

type AttendanceEventData struct {
	EmployeeID string               `json:"employeeId"`
	Action     attendance.Action    `json:"action"`
	Record     attendance.DayRecord `json:"record"`
}

// NotifyRecorded confirms a successful attendance action on the employee's
// devices and announces it on the admin feed.
func (r *EngineRegistry) NotifyRecorded(employeeID string, action attendance.Action, rec attendance.DayRecord) {
	if r.broadcaster != nil {
		r.broadcaster.BroadcastToRole(models.RoleAdmin, AttendanceEvent{
			Type: "attendance_recorded",
			Data: AttendanceEventData{EmployeeID: employeeID, Action: action, Record: rec},
		})
	}
	if r.notifier == nil {
		return
	}
	title, body, data := AttendanceRecordedMessage(action, rec)
	r.push(employeeID, title, body, data)
}

func (r *EngineRegistry) push(employeeID, title, body string, data map[string]string) {
	tokens, err := r.store.FCMTokens(r.ctx, employeeID)
	if err != nil {
		log.Printf("⚠️  [FCM] could not load tokens for %s: %v", employeeID, err)
		return
	}
	if len(tokens) == 0 {
		return
	}
	if err := r.notifier.SendMulticast(r.ctx, tokens, title, body, data); err != nil {
		log.Printf("❌ [FCM] %s to %s failed: %v", data["type"], employeeID, err)
	}
}
