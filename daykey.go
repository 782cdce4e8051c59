package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DayKeyLayout is the canonical calendar-day format used as the aggregation key
const DayKeyLayout = "2006-01-02"

// ErrInvalidDate is returned when a user-supplied date cannot be parsed
var ErrInvalidDate = errors.New("invalid date")

// DayKey identifies a calendar day. Keys sort chronologically as strings.
type DayKey string

// DayKeyFromTime converts a time into its day key in the given location
func DayKeyFromTime(t time.Time, loc *time.Location) DayKey {
	if loc == nil {
		loc = time.Local
	}
	return DayKey(t.In(loc).Format(DayKeyLayout))
}

// DayKeyFromTS converts a Slack message timestamp ("1714550400.123456") into a day key
func DayKeyFromTS(ts string, loc *time.Location) (DayKey, error) {
	t, err := parseSlackTS(ts)
	if err != nil {
		return "", err
	}
	return DayKeyFromTime(t, loc), nil
}

// ParseDayKey validates a date typed by a user. Both YYYY-MM-DD and
// YYYY.MM.DD are accepted; the result is always canonical.
func ParseDayKey(s string) (DayKey, error) {
	s = strings.TrimSpace(s)
	normalized := strings.ReplaceAll(s, ".", "-")
	t, err := time.Parse(DayKeyLayout, normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DayKey(t.Format(DayKeyLayout)), nil
}

func (d DayKey) String() string {
	return string(d)
}

// Within reports whether d falls in the inclusive range [start, end].
// Canonical keys sort chronologically, so no calendar walk is needed.
func (d DayKey) Within(start, end DayKey) bool {
	return start <= d && d <= end
}

// parseSlackTS converts "seconds.micros" into a time
func parseSlackTS(ts string) (time.Time, error) {
	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", ts, err)
	}

	var nsec int64
	if fracPart != "" {
		// Right-pad to nanoseconds
		if len(fracPart) > 9 {
			fracPart = fracPart[:9]
		}
		fracPart += strings.Repeat("0", 9-len(fracPart))
		nsec, err = strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", ts, err)
		}
	}

	return time.Unix(sec, nsec), nil
}
