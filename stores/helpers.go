package stores

import (
	"time"

	"github.com/oarkflow/date"
)

// rowScanner is the subset of the squealx rows API the scan helpers
// need.
type rowScanner interface {
	Scan(dest ...any) error
}

func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(v int) bool { return v != 0 }

// scanTime normalizes the driver-dependent representations sqlite and
// friends hand back for timestamp columns.
func scanTime(raw any) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := parseFlexibleTime(v); err == nil {
			return t
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}
