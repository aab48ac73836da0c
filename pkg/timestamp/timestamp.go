// Package timestamp provides standardized timestamp handling for event
// payloads.
//
// Broker payloads carry timestamps in several shapes (RFC3339 strings,
// second- or millisecond-precision integers, floats from JSON decoding).
// This package normalizes all of them to int64 Unix milliseconds (UTC).
// A value of 0 means "not set".
package timestamp

import (
	"strconv"
	"time"
)

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// ToTime converts Unix milliseconds to time.Time.
// Returns zero time if ms is 0.
func ToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format converts Unix milliseconds to an RFC3339 string for wire output.
// Returns empty string if ms is 0.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// Parse converts various timestamp representations to Unix milliseconds.
// Supports int64/float64 (values above 1e12 are treated as milliseconds,
// below as seconds), RFC3339 strings, numeric strings, and time.Time.
// Returns 0 for nil, zero values, or unparseable input.
func Parse(input any) int64 {
	if input == nil {
		return 0
	}

	switch v := input.(type) {
	case int64:
		return normalizeNumeric(v)
	case int:
		return normalizeNumeric(int64(v))
	case float64:
		return normalizeNumeric(int64(v))
	case time.Time:
		return ToUnixMs(v)
	case string:
		if v == "" {
			return 0
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UnixMilli()
		}
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UnixMilli()
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return normalizeNumeric(n)
		}
		return 0
	default:
		return 0
	}
}

// normalizeNumeric treats values above 1e12 as milliseconds and smaller
// positive values as seconds.
func normalizeNumeric(v int64) int64 {
	if v <= 0 {
		return 0
	}
	if v > 1e12 {
		return v
	}
	return v * 1000
}
