package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"attendance-backend/internal/attendance"
	"attendance-backend/internal/geofence"
	"attendance-backend/internal/location"
	"attendance-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrAlreadyCheckedIn  = errors.New("already checked in today")
	ErrNotCheckedIn      = errors.New("no check-in recorded today")
	ErrAlreadyCheckedOut = errors.New("already checked out today")
	ErrNoGeofence        = errors.New("no active office geofence configured")
)

const uniqueViolation = "23505"

// AttendanceStore persists attendance days, the office geofence and the
// location audit trail. It is the Records collaborator of the attendance gate
// and the geofence provider of every location tracker.
type AttendanceStore struct {
	db       *sqlx.DB
	fallback *geofence.Config
	now      func() time.Time
	zone     *time.Location
}

// StoreOption configures an AttendanceStore.
type StoreOption func(*AttendanceStore)

// WithFallbackGeofence is served when no office row is active.
func WithFallbackGeofence(cfg *geofence.Config) StoreOption {
	return func(s *AttendanceStore) { s.fallback = cfg }
}

// WithStoreClock overrides time.Now.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *AttendanceStore) { s.now = now }
}

// WithWorkdayZone sets the zone that decides which calendar day a check-in
// belongs to. Defaults to UTC.
func WithWorkdayZone(loc *time.Location) StoreOption {
	return func(s *AttendanceStore) { s.zone = loc }
}

func NewAttendanceStore(db *sqlx.DB, opts ...StoreOption) *AttendanceStore {
	s := &AttendanceStore{db: db, now: time.Now, zone: time.UTC}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AttendanceStore) workDate(t time.Time) string {
	return t.In(s.zone).Format("2006-01-02")
}

// ForEmployee binds the store to one employee as an attendance.Records.
func (s *AttendanceStore) ForEmployee(employeeID string) attendance.Records {
	return employeeRecords{store: s, employeeID: employeeID}
}

type employeeRecords struct {
	store      *AttendanceStore
	employeeID string
}

func (e employeeRecords) CheckIn(ctx context.Context, fix location.PositionFix) (attendance.DayRecord, error) {
	return e.store.CheckIn(ctx, e.employeeID, fix)
}

func (e employeeRecords) CheckOut(ctx context.Context, fix location.PositionFix) (attendance.DayRecord, error) {
	return e.store.CheckOut(ctx, e.employeeID, fix)
}

func (e employeeRecords) TodayRecord(ctx context.Context) (*attendance.DayRecord, error) {
	return e.store.TodayRecord(ctx, e.employeeID)
}

// CheckIn opens today's record for the employee.
func (s *AttendanceStore) CheckIn(ctx context.Context, employeeID string, fix location.PositionFix) (attendance.DayRecord, error) {
	now := s.now()
	ts := now.Unix()
	lat, lng, acc := fix.Coordinate.Latitude, fix.Coordinate.Longitude, fix.HorizontalAccuracyMeters
	rec := models.AttendanceRecord{
		ID:               uuid.New().String(),
		EmployeeID:       employeeID,
		WorkDate:         s.workDate(now),
		CheckInTime:      &ts,
		CheckInLatitude:  &lat,
		CheckInLongitude: &lng,
		CheckInAccuracy:  &acc,
		Status:           string(attendance.RecordPresent),
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}

	query := `
		INSERT INTO attendance_records (id, employee_id, work_date, check_in_time, check_in_latitude,
			check_in_longitude, check_in_accuracy, status, created_at, updated_at)
		VALUES (:id, :employee_id, :work_date, :check_in_time, :check_in_latitude,
			:check_in_longitude, :check_in_accuracy, :status, :created_at, :updated_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, rec); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return attendance.DayRecord{}, ErrAlreadyCheckedIn
		}
		return attendance.DayRecord{}, fmt.Errorf("insert check-in: %w", err)
	}

	log.Printf("✅ Check-in recorded: employee=%s date=%s", employeeID, rec.WorkDate)
	return rec.ToDayRecord(), nil
}

// CheckOut closes today's record for the employee.
func (s *AttendanceStore) CheckOut(ctx context.Context, employeeID string, fix location.PositionFix) (attendance.DayRecord, error) {
	now := s.now()
	date := s.workDate(now)

	var rec models.AttendanceRecord
	query := `
		UPDATE attendance_records
		SET check_out_time = $1, check_out_latitude = $2, check_out_longitude = $3,
			check_out_accuracy = $4, status = $5, updated_at = $1
		WHERE employee_id = $6 AND work_date = $7 AND check_out_time IS NULL
		RETURNING *
	`
	err := s.db.GetContext(ctx, &rec, query,
		now.Unix(),
		fix.Coordinate.Latitude,
		fix.Coordinate.Longitude,
		fix.HorizontalAccuracyMeters,
		string(attendance.RecordCompleted),
		employeeID,
		date,
	)
	if errors.Is(err, sql.ErrNoRows) {
		today, terr := s.TodayRecord(ctx, employeeID)
		if terr != nil {
			return attendance.DayRecord{}, terr
		}
		if today == nil {
			return attendance.DayRecord{}, ErrNotCheckedIn
		}
		return attendance.DayRecord{}, ErrAlreadyCheckedOut
	}
	if err != nil {
		return attendance.DayRecord{}, fmt.Errorf("update check-out: %w", err)
	}

	log.Printf("✅ Check-out recorded: employee=%s date=%s", employeeID, date)
	return rec.ToDayRecord(), nil
}

// TodayRecord returns today's record, or nil when there is none.
func (s *AttendanceStore) TodayRecord(ctx context.Context, employeeID string) (*attendance.DayRecord, error) {
	var rec models.AttendanceRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT * FROM attendance_records WHERE employee_id = $1 AND work_date = $2`,
		employeeID, s.workDate(s.now()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load today's record: %w", err)
	}
	day := rec.ToDayRecord()
	return &day, nil
}

// History returns the employee's records between two YYYY-MM-DD dates,
// inclusive, newest first.
func (s *AttendanceStore) History(ctx context.Context, employeeID, startDate, endDate string) ([]attendance.DayRecord, error) {
	var rows []models.AttendanceRecord
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM attendance_records
		WHERE employee_id = $1 AND work_date BETWEEN $2 AND $3
		ORDER BY work_date DESC
	`, employeeID, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]attendance.DayRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDayRecord())
	}
	return out, nil
}

// ActiveGeofence returns the active office row.
func (s *AttendanceStore) ActiveGeofence(ctx context.Context) (models.OfficeGeofence, error) {
	var office models.OfficeGeofence
	err := s.db.GetContext(ctx, &office, `
		SELECT * FROM office_geofences
		WHERE is_active = TRUE
		ORDER BY updated_at DESC
		LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return models.OfficeGeofence{}, ErrNoGeofence
	}
	if err != nil {
		return models.OfficeGeofence{}, fmt.Errorf("load geofence: %w", err)
	}
	return office, nil
}

// GeofenceConfig implements geofence.Provider.
func (s *AttendanceStore) GeofenceConfig(ctx context.Context) (geofence.Config, error) {
	office, err := s.ActiveGeofence(ctx)
	if errors.Is(err, ErrNoGeofence) && s.fallback != nil {
		return *s.fallback, nil
	}
	if err != nil {
		return geofence.Config{}, err
	}
	return office.ToConfig(), nil
}

// SetActiveGeofence stores office as the only active geofence.
func (s *AttendanceStore) SetActiveGeofence(ctx context.Context, office models.OfficeGeofence) (models.OfficeGeofence, error) {
	if err := office.ToConfig().Validate(); err != nil {
		return models.OfficeGeofence{}, err
	}
	now := s.now().Unix()
	office.ID = uuid.New().String()
	office.IsActive = true
	office.CreatedAt = now
	office.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.OfficeGeofence{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE office_geofences SET is_active = FALSE, updated_at = $1 WHERE is_active = TRUE`, now); err != nil {
		return models.OfficeGeofence{}, fmt.Errorf("deactivate geofences: %w", err)
	}
	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO office_geofences (id, name, address, latitude, longitude, radius_meters, is_active, created_at, updated_at)
		VALUES (:id, :name, :address, :latitude, :longitude, :radius_meters, :is_active, :created_at, :updated_at)
	`, office); err != nil {
		return models.OfficeGeofence{}, fmt.Errorf("insert geofence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.OfficeGeofence{}, err
	}

	log.Printf("📍 Office geofence updated: %s (%.6f, %.6f) r=%.0fm", office.Name, office.Latitude, office.Longitude, office.RadiusMeters)
	return office, nil
}

// RecordLocation appends one evaluated position to the audit trail.
func (s *AttendanceStore) RecordLocation(ctx context.Context, employeeID string, snap location.Snapshot) error {
	if snap.Fix == nil {
		return nil
	}
	var acc *float64
	if snap.Fix.HorizontalAccuracyMeters > 0 {
		a := snap.Fix.HorizontalAccuracyMeters
		acc = &a
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employee_locations (employee_id, latitude, longitude, accuracy, status, distance_meters, timestamp, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		employeeID,
		snap.Fix.Coordinate.Latitude,
		snap.Fix.Coordinate.Longitude,
		acc,
		snap.Status.String(),
		snap.DistanceMeters,
		snap.Fix.CapturedAt.Unix(),
		s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("record location: %w", err)
	}
	return nil
}

// LocationTrail returns the newest evaluated position reports of an employee,
// at most limit rows.
func (s *AttendanceStore) LocationTrail(ctx context.Context, employeeID string, limit int) ([]models.EmployeeLocation, error) {
	trail := []models.EmployeeLocation{}
	err := s.db.SelectContext(ctx, &trail, `
		SELECT * FROM employee_locations
		WHERE employee_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2
	`, employeeID, limit)
	if err != nil {
		return nil, fmt.Errorf("load location trail: %w", err)
	}
	return trail, nil
}

// SaveFCMToken registers or moves a push token to userID.
func (s *AttendanceStore) SaveFCMToken(ctx context.Context, userID, token, deviceType string) error {
	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fcm_tokens (user_id, token, device_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT(token) DO UPDATE SET
			user_id = excluded.user_id,
			device_type = excluded.device_type,
			updated_at = excluded.updated_at
	`, userID, token, deviceType, now, now)
	if err != nil {
		return fmt.Errorf("save fcm token: %w", err)
	}
	return nil
}

// FCMTokens lists the push tokens of userID.
func (s *AttendanceStore) FCMTokens(ctx context.Context, userID string) ([]string, error) {
	var tokens []string
	if err := s.db.SelectContext(ctx, &tokens, `SELECT token FROM fcm_tokens WHERE user_id = $1`, userID); err != nil {
		return nil, fmt.Errorf("load fcm tokens: %w", err)
	}
	return tokens, nil
}
