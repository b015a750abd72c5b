// Package timeutils provides pure conversions between naive wall-clock
// timestamps, offset-qualified timestamps, and UTC, plus the date/time edit
// arithmetic used when adjusting capture times.
//
// The catalog stores a naive wall-clock datetime and a UTC offset as two
// independent facts, while file metadata stores a single offset-qualified
// timestamp. These functions are the single seam where that impedance
// mismatch is resolved; callers decide explicitly which representation they
// are in and which they want.
package timeutils

import (
	"errors"
	"fmt"
	"time"
)

// ErrConflictingUpdate indicates an Update that sets both an absolute value
// and a delta on the same axis.
var ErrConflictingUpdate = errors.New("absolute value and delta set on the same axis")

// NaiveToLocal interprets a naive datetime as being expressed in the
// process's current local zone and attaches that zone. Use only when no
// other offset is known.
func NaiveToLocal(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.Local)
}

// ToOffset re-expresses an offset-qualified datetime under a fixed UTC
// offset in seconds. The instant is preserved; the wall-clock reading
// changes.
func ToOffset(t time.Time, offsetSeconds int) time.Time {
	return t.In(fixedZone(offsetSeconds))
}

// ToUTC re-expresses an offset-qualified datetime in UTC.
func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// StripZone drops the zone from a datetime, keeping the wall-clock digits.
// The result is naive: it compares and formats by its digits only.
func StripZone(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// fixedZone names fixed offsets the way exiftool and the zone database
// render them, e.g. "UTC-7" is shown as "-07:00".
func fixedZone(offsetSeconds int) *time.Location {
	sign := "+"
	s := offsetSeconds
	if s < 0 {
		sign = "-"
		s = -s
	}
	name := fmt.Sprintf("%s%02d:%02d", sign, s/3600, (s%3600)/60)
	return time.FixedZone(name, offsetSeconds)
}

// Update describes a date/time edit. Absolute values are mutually exclusive
// with deltas on the same axis: Date with DateDelta, Time with TimeDelta.
// Setting an absolute date preserves the existing time-of-day and vice versa.
type Update struct {
	// Date replaces the date portion, keeping the time-of-day.
	Date *time.Time

	// Time replaces the time-of-day, keeping the date.
	Time *time.Time

	// DateDelta shifts the date by whole days.
	DateDelta int

	// TimeDelta shifts the time by a duration, carrying across day
	// boundaries.
	TimeDelta time.Duration
}

// IsZero reports whether the update changes nothing.
func (u Update) IsZero() bool {
	return u.Date == nil && u.Time == nil && u.DateDelta == 0 && u.TimeDelta == 0
}

// Validate checks the axis exclusivity rules.
func (u Update) Validate() error {
	if u.Date != nil && u.DateDelta != 0 {
		return fmt.Errorf("%w: date", ErrConflictingUpdate)
	}
	if u.Time != nil && u.TimeDelta != 0 {
		return fmt.Errorf("%w: time", ErrConflictingUpdate)
	}
	return nil
}

// Apply applies the update to a datetime, preserving its zone. Same-axis
// deltas compose additively: applying +1 day twice equals applying +2 days
// once.
func Apply(t time.Time, u Update) time.Time {
	if u.Date != nil {
		d := *u.Date
		t = time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	}
	if u.DateDelta != 0 {
		t = t.AddDate(0, 0, u.DateDelta)
	}
	if u.Time != nil {
		tt := *u.Time
		t = time.Date(t.Year(), t.Month(), t.Day(), tt.Hour(), tt.Minute(), tt.Second(), tt.Nanosecond(), t.Location())
	}
	if u.TimeDelta != 0 {
		t = t.Add(u.TimeDelta)
	}
	return t
}

// timeStringLayouts accepted by ParseTimeString.
var timeStringLayouts = []string{
	"15:04:05",
	"15:04",
}

// ParseTimeString parses a time-of-day string in "HH:MM:SS", "HH:MM:SS.fff",
// or "HH:MM" form. The returned value carries a zero date.
func ParseTimeString(s string) (time.Time, error) {
	for _, layout := range timeStringLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time string: %q", s)
}
