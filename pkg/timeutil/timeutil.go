// Package timeutil provides timezone-aware date helpers for the academy.
// All billing dates are interpreted in a single academy timezone, which
// defaults to Asia/Dhaka (UTC+6, no DST) and can be replaced at startup.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"sync/atomic"
	"time"
)

// DefaultTZ is the academy timezone used until SetLocation is called.
var DefaultTZ = time.FixedZone("Asia/Dhaka", 6*60*60)

var location atomic.Pointer[time.Location]

func init() {
	location.Store(DefaultTZ)
}

// Common layouts accepted for date input.
const (
	LayoutDate     = "2006-01-02"
	LayoutDateTime = "2006-01-02 15:04:05"
)

// Location returns the academy timezone.
func Location() *time.Location {
	return location.Load()
}

// SetLocation replaces the academy timezone. Nil is ignored.
func SetLocation(loc *time.Location) {
	if loc != nil {
		location.Store(loc)
	}
}

// Now returns the current time in the academy timezone.
func Now() time.Time {
	return time.Now().In(Location())
}

// Local converts a time to the academy timezone.
func Local(t time.Time) time.Time {
	return t.In(Location())
}

// Date creates midnight of the given date in the academy timezone.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, Location())
}

// StartOfDay returns the start of the day (00:00:00) in the academy timezone.
func StartOfDay(t time.Time) time.Time {
	l := Local(t)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, Location())
}

// MonthsBetween returns the number of whole calendar months elapsed from
// `from` to `to`. A month counts only once the day of month has been reached.
// Negative when `to` is before `from`.
func MonthsBetween(from, to time.Time) int {
	if to.Before(from) {
		return -MonthsBetween(to, from)
	}
	f, t := Local(from), Local(to)
	months := (t.Year()-f.Year())*12 + int(t.Month()) - int(f.Month())
	if t.Day() < f.Day() && t.Day() < DaysIn(t.Year(), t.Month()) {
		months--
	}
	return months
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// IsFuture reports whether t falls on a later calendar day than now.
func IsFuture(t, now time.Time) bool {
	return StartOfDay(t).After(StartOfDay(now))
}

// ParseDate parses a date in the academy timezone. Accepts YYYY-MM-DD,
// YYYY-MM-DD HH:MM:SS and RFC3339.
func ParseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return Local(t), nil
	}
	for _, layout := range []string{LayoutDate, LayoutDateTime} {
		if t, err := time.ParseInLocation(layout, value, Location()); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}
