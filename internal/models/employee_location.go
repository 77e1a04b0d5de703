package models

// EmployeeLocation is one evaluated position report, kept as an audit trail
// of why a check-in was allowed or denied.
type EmployeeLocation struct {
	ID             int      `json:"id" db:"id"`
	EmployeeID     string   `json:"employee_id" db:"employee_id"`
	Latitude       float64  `json:"latitude" db:"latitude"`
	Longitude      float64  `json:"longitude" db:"longitude"`
	Accuracy       *float64 `json:"accuracy,omitempty" db:"accuracy"`               // GPS accuracy in meters
	Status         string   `json:"status" db:"status"`                             // location status after evaluation
	DistanceMeters *float64 `json:"distance_meters,omitempty" db:"distance_meters"` // distance to office center
	Timestamp      int64    `json:"timestamp" db:"timestamp"`                       // Client-side timestamp
	CreatedAt      int64    `json:"created_at" db:"created_at"`                     // Server-side timestamp
}
