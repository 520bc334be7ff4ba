package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Layouts tried before handing a date to cast
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"2006-01-02",
}

// ParsePlayedAt parses a listen timestamp. All-digit values are either a
// compact 20060102 date, 10-digit unix seconds or 13-digit unix milliseconds;
// any other digit string is rejected. Everything else is a date string, read
// as UTC when it carries no zone.
func ParsePlayedAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}

	if isDigits(s) {
		return parseDigits(s)
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}

	t, err := cast.ToTimeInDefaultLocationE(s, time.UTC)
	if err != nil || t.IsZero() {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

// Epoch bounds for all-digit timestamps: 2001-09-09 onwards
const (
	minEpochSeconds = 1_000_000_000
	minEpochMillis  = 1_000_000_000_000
)

func parseDigits(s string) (time.Time, error) {
	switch len(s) {
	case 8:
		if t, err := time.ParseInLocation("20060102", s, time.UTC); err == nil {
			return t, nil
		}
	case 10:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n >= minEpochSeconds {
			return time.Unix(n, 0).UTC(), nil
		}
	case 13:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n >= minEpochMillis {
			return time.UnixMilli(n).UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// ParseDuration parses a listening duration in seconds. Accepted forms:
// empty (0), integer or decimal seconds, "m:ss" and "h:mm:ss".
func ParseDuration(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if strings.Contains(s, ":") {
		return parseClock(s)
	}

	f, err := cast.ToFloat64E(s)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return int(math.Round(f)), nil
}

func parseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	total := 0
	for i, p := range parts {
		if !isDigits(p) {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		// Every part after the leading one is base 60
		if i > 0 && n >= 60 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		total = total*60 + n
	}
	return total, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
