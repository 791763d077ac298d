package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// millisThreshold separates unix seconds from unix milliseconds.
// Seconds stay below it until the year 33658.
const millisThreshold = 1e12

// maxUnixMillis is the first instant of the year 10000. Later instants are
// rejected rather than overflowing int64.
const maxUnixMillis = 253402300800000

// maxSeconds is the largest expires_in representable as a time.Duration
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp converts the many shapes providers and older rows use for
// absolute instants into a UTC time.Time
func ParseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return t.UTC(), !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromUnix(f)
		}
		return time.Time{}, false
	case float64:
		return fromUnix(t)
	case int:
		return fromUnix(float64(t))
	case int64:
		return fromUnix(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromUnix(f)
	default:
		return time.Time{}, false
	}
}

// ParseSeconds converts an expires_in style value into a duration
func ParseSeconds(v any) (time.Duration, bool) {
	var secs float64
	switch t := v.(type) {
	case float64:
		secs = t
	case int:
		secs = float64(t)
	case int64:
		secs = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		secs = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		secs = f
	default:
		return 0, false
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) || math.Abs(secs) >= maxSeconds {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

func fromUnix(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= maxUnixMillis {
		return time.Time{}, false
	}
	if f >= millisThreshold {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC(), true
}
