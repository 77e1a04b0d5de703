package location

import (
	"fmt"
	"strings"
)

// Status is the live eligibility status of one device. The zero value is
// StatusUnknown, which is also the initial state.
type Status int

const (
	StatusUnknown Status = iota
	StatusLoading
	StatusWithinRange
	StatusOutOfRange
	StatusPermissionDenied
	StatusGPSDisabled
)

var statusNames = map[Status]string{
	StatusUnknown:          "unknown",
	StatusLoading:          "loading",
	StatusWithinRange:      "within_range",
	StatusOutOfRange:       "out_of_range",
	StatusPermissionDenied: "permission_denied",
	StatusGPSDisabled:      "gps_disabled",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText encodes the status by name so JSON payloads stay readable.
func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("unknown location status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus resolves a status name, ignoring case.
func ParseStatus(name string) (Status, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown location status %q", name)
}
