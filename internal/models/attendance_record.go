package models

import (
	"time"

	"attendance-backend/internal/attendance"
	"attendance-backend/internal/geo"
	"attendance-backend/internal/location"
)

// AttendanceRecord is one row of attendance_records: a single employee's
// check-in/check-out for one calendar day. Times are unix seconds.
type AttendanceRecord struct {
	ID                string   `json:"id" db:"id"`
	EmployeeID        string   `json:"employee_id" db:"employee_id"`
	WorkDate          string   `json:"work_date" db:"work_date"` // YYYY-MM-DD in the server's zone
	CheckInTime       *int64   `json:"check_in_time,omitempty" db:"check_in_time"`
	CheckInLatitude   *float64 `json:"check_in_latitude,omitempty" db:"check_in_latitude"`
	CheckInLongitude  *float64 `json:"check_in_longitude,omitempty" db:"check_in_longitude"`
	CheckInAccuracy   *float64 `json:"check_in_accuracy,omitempty" db:"check_in_accuracy"`
	CheckOutTime      *int64   `json:"check_out_time,omitempty" db:"check_out_time"`
	CheckOutLatitude  *float64 `json:"check_out_latitude,omitempty" db:"check_out_latitude"`
	CheckOutLongitude *float64 `json:"check_out_longitude,omitempty" db:"check_out_longitude"`
	CheckOutAccuracy  *float64 `json:"check_out_accuracy,omitempty" db:"check_out_accuracy"`
	Status            string   `json:"status" db:"status"`
	CreatedAt         int64    `json:"created_at" db:"created_at"`
	UpdatedAt         int64    `json:"updated_at" db:"updated_at"`
}

// ToDayRecord converts the row to the attendance domain type.
func (r *AttendanceRecord) ToDayRecord() attendance.DayRecord {
	rec := attendance.DayRecord{
		ID:         r.ID,
		EmployeeID: r.EmployeeID,
		Date:       r.WorkDate,
		Status:     attendance.RecordStatus(r.Status),
	}
	if r.CheckInTime != nil {
		t := time.Unix(*r.CheckInTime, 0).UTC()
		rec.CheckInTime = &t
		rec.CheckInLocation = fixFromColumns(r.CheckInLatitude, r.CheckInLongitude, r.CheckInAccuracy, t)
	}
	if r.CheckOutTime != nil {
		t := time.Unix(*r.CheckOutTime, 0).UTC()
		rec.CheckOutTime = &t
		rec.CheckOutLocation = fixFromColumns(r.CheckOutLatitude, r.CheckOutLongitude, r.CheckOutAccuracy, t)
	}
	if rec.CheckInTime != nil && rec.CheckOutTime != nil {
		rec.WorkingHours = rec.CheckOutTime.Sub(*rec.CheckInTime)
	}
	return rec
}

func fixFromColumns(lat, lng, acc *float64, at time.Time) *location.PositionFix {
	if lat == nil || lng == nil {
		return nil
	}
	fix := &location.PositionFix{
		Coordinate: geo.Coordinate{Latitude: *lat, Longitude: *lng},
		CapturedAt: at,
	}
	if acc != nil {
		fix.HorizontalAccuracyMeters = *acc
	}
	return fix
}
