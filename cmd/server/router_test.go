package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"attendance-backend/internal/database"
	"attendance-backend/internal/metrics"
	"attendance-backend/internal/middleware"
	"attendance-backend/internal/models"
	"attendance-backend/internal/services"
	"attendance-backend/internal/websocket"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
)

const testSecret = "router-test-secret"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	t.Setenv("APP_JWT_SECRET", testSecret)

	mockDB, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "sqlmock")

	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	store := database.NewAttendanceStore(db)
	registry := services.NewEngineRegistry(store, services.EngineConfig{FixTimeout: time.Second})
	t.Cleanup(registry.Close)

	return newRouter(routerDeps{
		db:        db,
		store:     store,
		registry:  registry,
		hub:       websocket.NewHub(),
		collector: collector,
	})
}

func bearer(t *testing.T, role string) string {
	t.Helper()
	token, err := middleware.IssueToken(middleware.UserClaims{UserID: "u-1", Email: "u@attendance.local", Role: role}, testSecret, time.Now())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return "Bearer " + token
}

func TestRouterAccessControl(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		role   string
		want   int
	}{
		{"health is public", http.MethodGet, "/health", "", http.StatusOK},
		{"metrics is public", http.MethodGet, "/metrics", "", http.StatusOK},
		{"employee routes need a token", http.MethodGet, "/api/employee/location/status", "", http.StatusUnauthorized},
		{"attendance needs a token", http.MethodPost, "/api/attendance/check-in", "", http.StatusUnauthorized},
		{"employee reads own status", http.MethodGet, "/api/employee/location/status", models.RoleEmployee, http.StatusOK},
		{"admin routes reject employees", http.MethodPut, "/api/admin/geofence", models.RoleEmployee, http.StatusForbidden},
		{"user creation rejects employees", http.MethodPost, "/api/users", models.RoleEmployee, http.StatusForbidden},
		{"admin reads employee location", http.MethodGet, "/api/admin/employees/e-9/location", models.RoleAdmin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}"))
			if tt.role != "" {
				req.Header.Set("Authorization", bearer(t, tt.role))
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestRouterCORSAllowsPut(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/admin/geofence", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodPut) {
		t.Fatalf("Access-Control-Allow-Methods = %q", got)
	}
}
