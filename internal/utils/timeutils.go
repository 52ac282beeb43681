package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// ParseTimeRange parses optional RFC3339 bounds, substituting the zero time
// for an absent "from" and now for an absent "to".
func ParseTimeRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	start := time.Time{}
	end := now

	if from != "" {
		t, err := ParseRFC3339(from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("from: %w", err)
		}
		start = t
	}
	if to != "" {
		t, err := ParseRFC3339(to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("to: %w", err)
		}
		end = t
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("time range end before start")
	}
	return start, end, nil
}
