package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"attendance-backend/internal/attendance"
	"attendance-backend/internal/geo"
	"attendance-backend/internal/geofence"
	"attendance-backend/internal/location"
	"attendance-backend/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var office = geo.Coordinate{Latitude: 12.9716, Longitude: 77.5946}

type memStore struct {
	geofence.Static

	mu        sync.Mutex
	today     map[string]*attendance.DayRecord
	locations []location.Snapshot
	tokens    []string
}

func newMemStore() *memStore {
	return &memStore{
		Static: geofence.Static{Center: office, AllowedRadiusMeters: 100},
		today:  make(map[string]*attendance.DayRecord),
		tokens: []string{"tok-1"},
	}
}

func (m *memStore) ForEmployee(id string) attendance.Records { return memRecords{m, id} }

func (m *memStore) RecordLocation(_ context.Context, _ string, snap location.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations = append(m.locations, snap)
	return nil
}

func (m *memStore) FCMTokens(context.Context, string) ([]string, error) { return m.tokens, nil }

func (m *memStore) audited() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locations)
}

type memRecords struct {
	m  *memStore
	id string
}

func (r memRecords) CheckIn(_ context.Context, fix location.PositionFix) (attendance.DayRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	now := time.Now()
	rec := attendance.DayRecord{ID: "rec-" + r.id, EmployeeID: r.id, Date: now.Format("2006-01-02"), CheckInTime: &now, CheckInLocation: &fix, Status: attendance.RecordPresent}
	r.m.today[r.id] = &rec
	return rec, nil
}

func (r memRecords) CheckOut(_ context.Context, fix location.PositionFix) (attendance.DayRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rec := *r.m.today[r.id]
	now := time.Now()
	rec.CheckOutTime, rec.CheckOutLocation, rec.Status = &now, &fix, attendance.RecordCompleted
	r.m.today[r.id] = &rec
	return rec, nil
}

func (r memRecords) TodayRecord(context.Context) (*attendance.DayRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.today[r.id], nil
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	msgs   map[string][]StatusMessage
	events []AttendanceEvent
}

func (b *recordingBroadcaster) BroadcastToUser(userID string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.msgs == nil {
		b.msgs = make(map[string][]StatusMessage)
	}
	b.msgs[userID] = append(b.msgs[userID], data.(StatusMessage))
}

func (b *recordingBroadcaster) BroadcastToRole(role string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, data.(AttendanceEvent))
}

func (b *recordingBroadcaster) sawStatus(userID string, s location.Status) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.msgs[userID] {
		if m.Data.Status == s {
			return true
		}
	}
	return false
}

type recordingNotifier struct {
	mu    sync.Mutex
	types []string
}

func (n *recordingNotifier) SendMulticast(_ context.Context, tokens []string, _, _ string, data map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.types = append(n.types, data["type"])
	return nil
}

func (n *recordingNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.types...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestRegistry(t *testing.T, store *memStore, opts ...RegistryOption) *EngineRegistry {
	t.Helper()
	r := NewEngineRegistry(store, EngineConfig{FixTimeout: time.Second, RefreshInterval: time.Millisecond}, opts...)
	t.Cleanup(r.Close)
	return r
}

func TestEngineIsCreatedOncePerEmployee(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	r := newTestRegistry(t, newMemStore(), WithMetrics(collector))

	a, err := r.Engine("emp-1")
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
	b, _ := r.Engine("emp-1")
	c, _ := r.Engine("emp-2")
	if a != b || a == c {
		t.Fatal("engines should be cached per employee")
	}
	if got := testutil.ToFloat64(collector.ActiveEngines); got != 2 {
		t.Fatalf("active engines gauge = %v, want 2", got)
	}
	if _, ok := r.Lookup("emp-3"); ok {
		t.Fatal("Lookup must not create engines")
	}
}

func TestEngineEvaluatesReportedFix(t *testing.T) {
	store := newMemStore()
	hub := &recordingBroadcaster{}
	push := &recordingNotifier{}
	r := newTestRegistry(t, store, WithBroadcaster(hub), WithNotifier(push))

	e, _ := r.Engine("emp-1")
	e.Feed.ReportState(true, true)
	if err := e.Feed.ReportFix(location.PositionFix{Coordinate: office}); err != nil {
		t.Fatalf("ReportFix: %v", err)
	}

	snap, err := e.Tracker.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if snap.Status != location.StatusWithinRange {
		t.Fatalf("status = %s, want within_range", snap.Status)
	}

	waitFor(t, "within_range broadcast", func() bool { return hub.sawStatus("emp-1", location.StatusWithinRange) })
	waitFor(t, "location audit", func() bool { return store.audited() >= 1 })
	waitFor(t, "check-in reminder", func() bool {
		sent := push.sent()
		return len(sent) == 1 && sent[0] == "check_in_reminder"
	})

	outcome, err := e.Gate.CheckIn(context.Background())
	if err != nil || !outcome.Allowed() {
		t.Fatalf("CheckIn = %+v, %v", outcome, err)
	}
	r.NotifyRecorded("emp-1", attendance.ActionCheckIn, *outcome.Record)
	if sent := push.sent(); len(sent) != 2 || sent[1] != "attendance_recorded" {
		t.Fatalf("notifications = %v", sent)
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.events) != 1 || hub.events[0].Data.EmployeeID != "emp-1" || hub.events[0].Data.Action != attendance.ActionCheckIn {
		t.Fatalf("admin events = %+v", hub.events)
	}
}

func TestEngineStreamDrivesCycles(t *testing.T) {
	hub := &recordingBroadcaster{}
	r := newTestRegistry(t, newMemStore(), WithBroadcaster(hub))

	e, _ := r.Engine("emp-1")
	e.Feed.ReportState(true, true)
	far := geo.Coordinate{Latitude: 12.9816, Longitude: 77.5946}

	// The watch loop subscribes asynchronously; keep reporting until a
	// stream-driven cycle lands.
	waitFor(t, "stream-driven out_of_range", func() bool {
		_ = e.Feed.ReportFix(location.PositionFix{Coordinate: far})
		return e.Tracker.Status() == location.StatusOutOfRange
	})
	waitFor(t, "out_of_range broadcast", func() bool { return hub.sawStatus("emp-1", location.StatusOutOfRange) })
}

func TestEngineEvaluatesThrottledFix(t *testing.T) {
	hub := &recordingBroadcaster{}
	r := NewEngineRegistry(newMemStore(), EngineConfig{FixTimeout: time.Second, RefreshInterval: 300 * time.Millisecond}, WithBroadcaster(hub))
	t.Cleanup(r.Close)

	e, _ := r.Engine("emp-1")
	e.Feed.ReportState(true, true)
	far := geo.Coordinate{Latitude: 12.9816, Longitude: 77.5946}
	waitFor(t, "stream-driven out_of_range", func() bool {
		_ = e.Feed.ReportFix(location.PositionFix{Coordinate: far})
		return e.Tracker.Status() == location.StatusOutOfRange
	})

	// Arrives inside the refresh interval; the trailing cycle must pick it up.
	_ = e.Feed.ReportFix(location.PositionFix{Coordinate: office})
	waitFor(t, "within_range after the interval", func() bool {
		return e.Tracker.Status() == location.StatusWithinRange
	})
	waitFor(t, "within_range broadcast", func() bool { return hub.sawStatus("emp-1", location.StatusWithinRange) })
}

func TestEngineNoReminderWhenCheckedIn(t *testing.T) {
	store := newMemStore()
	push := &recordingNotifier{}
	r := newTestRegistry(t, store, WithNotifier(push))
	now := time.Now()
	store.today["emp-1"] = &attendance.DayRecord{ID: "rec", CheckInTime: &now}

	e, _ := r.Engine("emp-1")
	e.Feed.ReportState(true, true)
	_ = e.Feed.ReportFix(location.PositionFix{Coordinate: office})
	if _, err := e.Tracker.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	waitFor(t, "location audit", func() bool { return store.audited() >= 1 })
	if sent := push.sent(); len(sent) != 0 {
		t.Fatalf("unexpected notifications %v", sent)
	}
}

func TestStatusEnvelope(t *testing.T) {
	d := 250.0
	env := NewStatusEnvelope(location.Snapshot{
		Status:         location.StatusOutOfRange,
		DistanceMeters: &d,
		Geofence:       &geofence.Config{Center: office, AllowedRadiusMeters: 100},
	})
	if env.Reason != attendance.ReasonOutOfRange.Code() {
		t.Fatalf("reason = %q", env.Reason)
	}
	if env.DistanceText != "250m" || env.AllowedRadius == nil || *env.AllowedRadius != 100 {
		t.Fatalf("envelope = %+v", env)
	}
	if env.Message != "You are 250m away from office. You must be within 100m to mark attendance." {
		t.Fatalf("message = %q", env.Message)
	}

	within := NewStatusEnvelope(location.Snapshot{Status: location.StatusWithinRange})
	if within.Reason != "" || within.Message != "" {
		t.Fatalf("within envelope = %+v", within)
	}
}

func TestRegistryClosed(t *testing.T) {
	r := NewEngineRegistry(newMemStore(), EngineConfig{})
	r.Close()
	if _, err := r.Engine("emp-1"); err == nil {
		t.Fatal("Engine after Close should fail")
	}
}
