package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"attendance-backend/internal/attendance"
	"attendance-backend/internal/database"
	"attendance-backend/internal/geofence"
	"attendance-backend/internal/location"
	"attendance-backend/internal/middleware"
	"attendance-backend/internal/models"
	"attendance-backend/internal/services"
	"attendance-backend/pkg/utils"
)

// AttendanceStore is the read side of attendance persistence the handlers use.
type AttendanceStore interface {
	geofence.Provider
	ForEmployee(employeeID string) attendance.Records
	History(ctx context.Context, employeeID, startDate, endDate string) ([]attendance.DayRecord, error)
}

// Notifications confirms recorded attendance on the employee's devices.
type Notifications interface {
	NotifyRecorded(employeeID string, action attendance.Action, rec attendance.DayRecord)
}

// defaultHistoryDays is the window of my-records when no range is given.
const defaultHistoryDays = 30

type AttendanceResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Data    *attendance.DayRecord `json:"data"`
}

type DenialResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Reason  string          `json:"reason"`
	Code    string          `json:"code"`
	Status  location.Status `json:"status"`
	Detail  string          `json:"detail,omitempty"`
}

// GPSConfig returns the office geofence devices should display.
func GPSConfig(store AttendanceStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := store.GeofenceConfig(r.Context())
		if errors.Is(err, database.ErrNoGeofence) {
			utils.RespondError(w, http.StatusServiceUnavailable, "Office location is not configured")
			return
		}
		if err != nil {
			log.Printf("❌ Failed to load geofence: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load office location")
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data": models.GPSConfigResponse{
				OfficeLatitude:  cfg.Center.Latitude,
				OfficeLongitude: cfg.Center.Longitude,
				AllowedRadius:   cfg.AllowedRadiusMeters,
			},
		})
	}
}

// CheckIn records today's check-in when the employee is within range.
func CheckIn(engines Engines, notify Notifications) http.HandlerFunc {
	return attendanceAction(engines, notify, attendance.ActionCheckIn)
}

// CheckOut records today's check-out when the employee is within range.
func CheckOut(engines Engines, notify Notifications) http.HandlerFunc {
	return attendanceAction(engines, notify, attendance.ActionCheckOut)
}

func attendanceAction(engines Engines, notify Notifications, action attendance.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Printf("📥 REQUEST: %s %s", r.Method, r.URL.Path)

		engine, ok := currentEngine(w, r, engines)
		if !ok {
			return
		}
		log.Printf("   👤 Employee: %s", engine.EmployeeID)

		gate := engine.Gate.CheckIn
		if action == attendance.ActionCheckOut {
			gate = engine.Gate.CheckOut
		}
		outcome, err := gate(r.Context())
		if err != nil {
			status, message := delegateErrorResponse(err)
			log.Printf("❌ %s failed: %v", action, err)
			utils.RespondError(w, status, message)
			return
		}

		if outcome.Denial != nil {
			d := outcome.Denial
			message := d.Reason.Message()
			if d.Detail != "" {
				message = d.Detail
			}
			log.Printf("⚠️  %s denied: %s (status %s)", action, d.Reason, d.Status)
			utils.RespondJSON(w, http.StatusForbidden, DenialResponse{
				Success: false,
				Error:   message,
				Reason:  string(d.Reason),
				Code:    d.Reason.Code(),
				Status:  d.Status,
				Detail:  d.Detail,
			})
			return
		}

		rec := *outcome.Record
		if notify != nil {
			go notify.NotifyRecorded(engine.EmployeeID, action, rec)
		}

		message := "Check-in successful"
		status := http.StatusCreated
		if action == attendance.ActionCheckOut {
			message = "Check-out successful"
			status = http.StatusOK
		}
		log.Printf("📤 RESPONSE: %s for %s on %s", message, engine.EmployeeID, rec.Date)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		utils.RespondJSON(w, status, AttendanceResponse{Success: true, Message: message, Data: &rec})
	}
}

func delegateErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, database.ErrAlreadyCheckedIn):
		return http.StatusConflict, "Already checked in today"
	case errors.Is(err, database.ErrNotCheckedIn):
		return http.StatusConflict, "No check-in found for today"
	case errors.Is(err, database.ErrAlreadyCheckedOut):
		return http.StatusConflict, "Already checked out today"
	case errors.Is(err, database.ErrNoGeofence):
		return http.StatusServiceUnavailable, "Office location is not configured"
	default:
		return http.StatusInternalServerError, "Failed to record attendance"
	}
}

// Today returns the employee's record for the current day, or null.
func Today(store AttendanceStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		rec, err := store.ForEmployee(user.UserID).TodayRecord(r.Context())
		if err != nil {
			log.Printf("❌ Failed to load today's record: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load attendance")
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    rec,
		})
	}
}

// MyRecords returns the employee's records between startDate and endDate
// (YYYY-MM-DD, inclusive). Defaults to the last 30 days.
func MyRecords(store AttendanceStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		now := time.Now()
		start := r.URL.Query().Get("startDate")
		end := r.URL.Query().Get("endDate")
		if end == "" {
			end = now.Format(time.DateOnly)
		}
		if start == "" {
			start = now.AddDate(0, 0, -defaultHistoryDays).Format(time.DateOnly)
		}
		from, err1 := time.Parse(time.DateOnly, start)
		to, err2 := time.Parse(time.DateOnly, end)
		if err1 != nil || err2 != nil {
			utils.RespondError(w, http.StatusBadRequest, "startDate and endDate must be YYYY-MM-DD")
			return
		}
		if to.Before(from) {
			utils.RespondError(w, http.StatusBadRequest, "endDate must not be before startDate")
			return
		}

		records, err := store.History(r.Context(), user.UserID, start, end)
		if err != nil {
			log.Printf("❌ Failed to load history: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load attendance")
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    records,
		})
	}
}

// Availability reports whether check-in or check-out is currently allowed.
func Availability(engines Engines) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engine, ok := currentEngine(w, r, engines)
		if !ok {
			return
		}
		avail, err := engine.Gate.Availability(r.Context())
		if err != nil {
			log.Printf("❌ Availability failed: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load attendance")
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"data":     avail,
			"location": services.NewStatusEnvelope(engine.Tracker.Snapshot()),
		})
	}
}
