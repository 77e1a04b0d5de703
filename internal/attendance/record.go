package attendance

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"attendance-backend/internal/location"
)

// RecordStatus is the lifecycle of one employee's attendance day.
type RecordStatus string

const (
	RecordPresent   RecordStatus = "present"
	RecordCompleted RecordStatus = "completed"
)

// DayRecord is one employee's attendance for one calendar day.
type DayRecord struct {
	ID               string                `json:"id"`
	EmployeeID       string                `json:"employeeId"`
	Date             string                `json:"date"` // YYYY-MM-DD
	CheckInTime      *time.Time            `json:"checkInTime"`
	CheckOutTime     *time.Time            `json:"checkOutTime"`
	WorkingHours     time.Duration         `json:"-"`
	Status           RecordStatus          `json:"status"`
	CheckInLocation  *location.PositionFix `json:"checkInLocation,omitempty"`
	CheckOutLocation *location.PositionFix `json:"checkOutLocation,omitempty"`
}

// MarshalJSON renders WorkingHours as an ISO-8601 duration.
func (r DayRecord) MarshalJSON() ([]byte, error) {
	type plain DayRecord
	return json.Marshal(struct {
		plain
		WorkingHours string `json:"workingHours"`
	}{plain(r), FormatWorkingHours(r.WorkingHours)})
}

// CheckedIn reports whether a check-in exists for the day.
func (r *DayRecord) CheckedIn() bool {
	return r != nil && r.CheckInTime != nil
}

// CheckedOut reports whether a check-out exists for the day.
func (r *DayRecord) CheckedOut() bool {
	return r != nil && r.CheckOutTime != nil
}

// Records performs the attendance actions for one employee.
type Records interface {
	CheckIn(ctx context.Context, fix location.PositionFix) (DayRecord, error)
	CheckOut(ctx context.Context, fix location.PositionFix) (DayRecord, error)
	// TodayRecord returns nil with no error when nothing was recorded today.
	TodayRecord(ctx context.Context) (*DayRecord, error)
}

// FormatWorkingHours renders d as an ISO-8601 duration, e.g. PT8H30M.
func FormatWorkingHours(d time.Duration) string {
	if d <= 0 {
		return "PT0S"
	}
	d = d.Truncate(time.Second)
	h := int64(d / time.Hour)
	d -= time.Duration(h) * time.Hour
	m := int64(d / time.Minute)
	d -= time.Duration(m) * time.Minute
	s := int64(d / time.Second)

	out := "PT"
	if h > 0 {
		out += strconv.FormatInt(h, 10) + "H"
	}
	if m > 0 {
		out += strconv.FormatInt(m, 10) + "M"
	}
	if s > 0 || (h == 0 && m == 0) {
		out += strconv.FormatInt(s, 10) + "S"
	}
	return out
}
