package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"attendance-backend/internal/attendance"
	"attendance-backend/internal/database"
	"attendance-backend/internal/geo"
	"attendance-backend/internal/geofence"
	"attendance-backend/internal/location"
	"attendance-backend/internal/middleware"
	"attendance-backend/internal/models"
	"attendance-backend/internal/services"

	"github.com/go-chi/chi/v5"
)

var office = geo.Coordinate{Latitude: 12.9716, Longitude: 77.5946}

// fakeStore is an in-memory AttendanceStore with one record per employee.
type fakeStore struct {
	mu       sync.Mutex
	fence    *geofence.Config
	today    map[string]*attendance.DayRecord
	history  []attendance.DayRecord
	tokens   map[string]string
	geofence *models.OfficeGeofence
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		fence:  &geofence.Config{Center: office, AllowedRadiusMeters: 100},
		today:  make(map[string]*attendance.DayRecord),
		tokens: make(map[string]string),
	}
}

func (s *fakeStore) GeofenceConfig(context.Context) (geofence.Config, error) {
	if s.fence == nil {
		return geofence.Config{}, database.ErrNoGeofence
	}
	return *s.fence, nil
}

func (s *fakeStore) ForEmployee(id string) attendance.Records { return fakeRecords{s, id} }

func (s *fakeStore) History(_ context.Context, _ string, _, _ string) ([]attendance.DayRecord, error) {
	return s.history, nil
}

func (s *fakeStore) RecordLocation(context.Context, string, location.Snapshot) error { return nil }

func (s *fakeStore) FCMTokens(context.Context, string) ([]string, error) { return nil, nil }

func (s *fakeStore) LocationTrail(_ context.Context, employeeID string, limit int) ([]models.EmployeeLocation, error) {
	trail := []models.EmployeeLocation{
		{ID: 2, EmployeeID: employeeID, Status: "within_range"},
		{ID: 1, EmployeeID: employeeID, Status: "out_of_range"},
	}
	if limit < len(trail) {
		trail = trail[:limit]
	}
	return trail, nil
}

func (s *fakeStore) SaveFCMToken(_ context.Context, userID, token, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = userID
	return nil
}

func (s *fakeStore) SetActiveGeofence(_ context.Context, o models.OfficeGeofence) (models.OfficeGeofence, error) {
	if err := o.ToConfig().Validate(); err != nil {
		return models.OfficeGeofence{}, err
	}
	o.ID, o.IsActive = "office-1", true
	s.geofence = &o
	return o, nil
}

type fakeRecords struct {
	s  *fakeStore
	id string
}

func (r fakeRecords) CheckIn(_ context.Context, fix location.PositionFix) (attendance.DayRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.today[r.id] != nil {
		return attendance.DayRecord{}, database.ErrAlreadyCheckedIn
	}
	now := time.Now()
	rec := attendance.DayRecord{ID: "rec-1", EmployeeID: r.id, Date: now.Format(time.DateOnly), CheckInTime: &now, CheckInLocation: &fix, Status: attendance.RecordPresent}
	r.s.today[r.id] = &rec
	return rec, nil
}

func (r fakeRecords) CheckOut(_ context.Context, fix location.PositionFix) (attendance.DayRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur := r.s.today[r.id]
	if cur == nil {
		return attendance.DayRecord{}, database.ErrNotCheckedIn
	}
	if cur.CheckedOut() {
		return attendance.DayRecord{}, database.ErrAlreadyCheckedOut
	}
	now := time.Now()
	rec := *cur
	rec.CheckOutTime, rec.CheckOutLocation, rec.Status = &now, &fix, attendance.RecordCompleted
	rec.WorkingHours = now.Sub(*rec.CheckInTime)
	r.s.today[r.id] = &rec
	return rec, nil
}

func (r fakeRecords) TodayRecord(context.Context) (*attendance.DayRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.today[r.id], nil
}

func newRegistry(t *testing.T, store *fakeStore) *services.EngineRegistry {
	t.Helper()
	reg := services.NewEngineRegistry(store, services.EngineConfig{FixTimeout: time.Second, RefreshInterval: time.Hour})
	t.Cleanup(reg.Close)
	return reg
}

func asUser(req *http.Request, id, role string) *http.Request {
	return req.WithContext(middleware.WithUser(req.Context(), middleware.UserClaims{UserID: id, Email: id + "@attendance.local", Role: role}))
}

func do(t *testing.T, h http.HandlerFunc, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := asUser(httptest.NewRequest(method, path, &buf), "emp-1", models.RoleEmployee)
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// placeDevice reports device state and a fix, then settles one cycle.
func placeDevice(t *testing.T, reg *services.EngineRegistry, at geo.Coordinate) {
	t.Helper()
	e, err := reg.Engine("emp-1")
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
	e.Feed.ReportState(true, true)
	if err := e.Feed.ReportFix(location.PositionFix{Coordinate: at, HorizontalAccuracyMeters: 5}); err != nil {
		t.Fatalf("ReportFix: %v", err)
	}
	if _, err := e.Tracker.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
}

func TestCheckInDeniedWithoutPermission(t *testing.T) {
	store := newFakeStore()
	reg := newRegistry(t, store)
	e, _ := reg.Engine("emp-1")
	if _, err := e.Tracker.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	rec := do(t, CheckIn(reg, nil), http.MethodPost, "/api/attendance/check-in", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var resp DenialResponse
	decode(t, rec, &resp)
	if resp.Code != "permission_required" || resp.Reason != string(attendance.ReasonPermissionRequired) || resp.Status != location.StatusPermissionDenied {
		t.Fatalf("denial = %+v", resp)
	}
	if store.today["emp-1"] != nil {
		t.Fatal("denied check-in must not create a record")
	}
}

func TestCheckInOutOfRange(t *testing.T) {
	reg := newRegistry(t, newFakeStore())
	placeDevice(t, reg, geo.Coordinate{Latitude: 12.9716, Longitude: 77.5956})

	rec := do(t, CheckIn(reg, nil), http.MethodPost, "/api/attendance/check-in", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var resp DenialResponse
	decode(t, rec, &resp)
	if resp.Code != "out_of_range" || resp.Detail != "You are 108m away from office. You must be within 100m to mark attendance." {
		t.Fatalf("denial = %+v", resp)
	}
}

type notifyRecorder struct {
	ch chan attendance.Action
}

func (n notifyRecorder) NotifyRecorded(_ string, action attendance.Action, _ attendance.DayRecord) {
	n.ch <- action
}

func TestCheckInAndOut(t *testing.T) {
	store := newFakeStore()
	reg := newRegistry(t, store)
	placeDevice(t, reg, office)
	notify := notifyRecorder{ch: make(chan attendance.Action, 4)}

	rec := do(t, CheckIn(reg, notify), http.MethodPost, "/api/attendance/check-in", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("check-in status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			ID              string                `json:"id"`
			Status          string                `json:"status"`
			CheckInLocation *location.PositionFix `json:"checkInLocation"`
		} `json:"data"`
	}
	decode(t, rec, &resp)
	if !resp.Success || resp.Data.Status != "present" || resp.Data.CheckInLocation == nil {
		t.Fatalf("response = %+v", resp)
	}
	if got := <-notify.ch; got != attendance.ActionCheckIn {
		t.Fatalf("notified %s", got)
	}

	if rec := do(t, CheckIn(reg, notify), http.MethodPost, "/api/attendance/check-in", nil); rec.Code != http.StatusConflict {
		t.Fatalf("second check-in status = %d, want 409", rec.Code)
	}

	rec = do(t, CheckOut(reg, notify), http.MethodPost, "/api/attendance/check-out", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("check-out status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, CheckOut(reg, notify), http.MethodPost, "/api/attendance/check-out", nil); rec.Code != http.StatusConflict {
		t.Fatalf("second check-out status = %d, want 409", rec.Code)
	}
}

func TestCheckOutWithoutCheckIn(t *testing.T) {
	reg := newRegistry(t, newFakeStore())
	placeDevice(t, reg, office)
	rec := do(t, CheckOut(reg, nil), http.MethodPost, "/api/attendance/check-out", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestAvailability(t *testing.T) {
	store := newFakeStore()
	reg := newRegistry(t, store)
	placeDevice(t, reg, office)

	var resp struct {
		Data attendance.Availability `json:"data"`
	}
	decode(t, do(t, Availability(reg), http.MethodGet, "/api/attendance/availability", nil), &resp)
	if !resp.Data.CanCheckIn || resp.Data.CanCheckOut {
		t.Fatalf("availability = %+v", resp.Data)
	}
}

func TestLocationEndpoints(t *testing.T) {
	reg := newRegistry(t, newFakeStore())

	rec := do(t, DeviceState(reg), http.MethodPost, "/api/employee/device-state", map[string]bool{"permissionGranted": true, "gpsEnabled": true})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("device-state status = %d", rec.Code)
	}
	rec = do(t, UpdateLocation(reg), http.MethodPost, "/api/employee/location", map[string]float64{"latitude": office.Latitude, "longitude": office.Longitude})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("location status = %d", rec.Code)
	}

	var resp LocationStatusResponse
	decode(t, do(t, RefreshLocation(reg), http.MethodPost, "/api/employee/location/refresh", nil), &resp)
	if resp.Data.Status != location.StatusWithinRange {
		t.Fatalf("refreshed status = %s", resp.Data.Status)
	}

	decode(t, do(t, LocationStatus(reg), http.MethodGet, "/api/employee/location/status", nil), &resp)
	if resp.Data.Status != location.StatusWithinRange || resp.Data.DistanceText != "0m" {
		t.Fatalf("status = %+v", resp.Data)
	}

	rec = do(t, UpdateLocation(reg), http.MethodPost, "/api/employee/location", map[string]float64{"latitude": 123, "longitude": 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid coordinate status = %d, want 400", rec.Code)
	}
}

func TestGPSConfig(t *testing.T) {
	store := newFakeStore()
	var resp struct {
		Data models.GPSConfigResponse `json:"data"`
	}
	decode(t, do(t, GPSConfig(store), http.MethodGet, "/api/attendance/gps-config", nil), &resp)
	if resp.Data.OfficeLatitude != office.Latitude || resp.Data.AllowedRadius != 100 {
		t.Fatalf("gps config = %+v", resp.Data)
	}

	store.fence = nil
	if rec := do(t, GPSConfig(store), http.MethodGet, "/api/attendance/gps-config", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestMyRecords(t *testing.T) {
	store := newFakeStore()
	store.history = []attendance.DayRecord{{ID: "r1", Date: "2026-03-02"}}

	rec := do(t, MyRecords(store), http.MethodGet, "/api/attendance/my-records?startDate=2026-03-01&endDate=2026-03-31", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	for _, q := range []string{"?startDate=yesterday", "?startDate=2026-03-10&endDate=2026-03-01"} {
		if rec := do(t, MyRecords(store), http.MethodGet, "/api/attendance/my-records"+q, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s status = %d, want 400", q, rec.Code)
		}
	}
}

func TestToday(t *testing.T) {
	store := newFakeStore()
	var resp struct {
		Data *attendance.DayRecord `json:"data"`
	}
	decode(t, do(t, Today(store), http.MethodGet, "/api/attendance/today", nil), &resp)
	if resp.Data != nil {
		t.Fatalf("today = %+v, want null", resp.Data)
	}
}

func TestRegisterFCMToken(t *testing.T) {
	store := newFakeStore()
	if rec := do(t, RegisterFCMToken(store), http.MethodPost, "/api/employee/fcm-token", RegisterFCMTokenRequest{Token: "t", DeviceType: "web"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if rec := do(t, RegisterFCMToken(store), http.MethodPost, "/api/employee/fcm-token", RegisterFCMTokenRequest{Token: "t", DeviceType: "ios"}); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if store.tokens["t"] != "emp-1" {
		t.Fatalf("tokens = %v", store.tokens)
	}
}

type fakeGeocoder struct{ err error }

func (g fakeGeocoder) Geocode(context.Context, string) (*services.Address, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &services.Address{FormattedAddress: "MG Road, Bengaluru, India", Coordinate: office}, nil
}

func TestSetGeofence(t *testing.T) {
	store := newFakeStore()

	rec := do(t, SetGeofence(store, fakeGeocoder{}), http.MethodPut, "/api/admin/geofence", SetGeofenceRequest{Name: "HQ", Address: "MG Road", RadiusMeters: 150})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if store.geofence == nil || store.geofence.Latitude != office.Latitude || *store.geofence.Address != "MG Road, Bengaluru, India" {
		t.Fatalf("saved = %+v", store.geofence)
	}

	lat, lng := 1.0, 2.0
	tests := []struct {
		name     string
		req      SetGeofenceRequest
		geocoder Geocoder
		want     int
	}{
		{"missing name", SetGeofenceRequest{Latitude: &lat, Longitude: &lng, RadiusMeters: 10}, nil, http.StatusBadRequest},
		{"no coordinates", SetGeofenceRequest{Name: "HQ", RadiusMeters: 10}, nil, http.StatusBadRequest},
		{"zero radius", SetGeofenceRequest{Name: "HQ", Latitude: &lat, Longitude: &lng}, nil, http.StatusBadRequest},
		{"geocoder down", SetGeofenceRequest{Name: "HQ", Address: "x", RadiusMeters: 10}, fakeGeocoder{err: errors.New("boom")}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, SetGeofence(store, tt.geocoder), http.MethodPut, "/api/admin/geofence", tt.req); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

type presence map[string]bool

func (p presence) IsUserConnected(id string) bool { return p[id] }

func TestEmployeeLocation(t *testing.T) {
	reg := newRegistry(t, newFakeStore())
	router := chi.NewRouter()
	router.Get("/api/admin/employees/{id}/location", EmployeeLocation(reg, presence{"emp-1": true}))

	get := func(id string) EmployeeLocationResponse {
		t.Helper()
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/employees/"+id+"/location", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp struct {
			Data EmployeeLocationResponse `json:"data"`
		}
		decode(t, rec, &resp)
		return resp.Data
	}

	if got := get("emp-1"); !got.Connected || got.Location != nil {
		t.Fatalf("before engine = %+v", got)
	}
	placeDevice(t, reg, office)
	if got := get("emp-1"); got.Location == nil || got.Location.Status != location.StatusWithinRange {
		t.Fatalf("after engine = %+v", got)
	}
	if got := get("emp-2"); got.Connected || got.Location != nil {
		t.Fatalf("unknown employee = %+v", got)
	}
}

func TestEmployeeLocationTrail(t *testing.T) {
	router := chi.NewRouter()
	router.Get("/api/admin/employees/{id}/locations", EmployeeLocationTrail(newFakeStore()))

	get := func(query string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/employees/emp-1/locations"+query, nil))
		return rec
	}

	rec := get("?limit=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Data []models.EmployeeLocation `json:"data"`
	}
	decode(t, rec, &resp)
	if len(resp.Data) != 1 || resp.Data[0].EmployeeID != "emp-1" {
		t.Fatalf("trail = %+v", resp.Data)
	}

	for _, q := range []string{"?limit=0", "?limit=abc", "?limit=501"} {
		if rec := get(q); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s status = %d, want 400", q, rec.Code)
		}
	}
}
