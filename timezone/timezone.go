// Package timezone provides a UTC-offset value type resolved against the
// platform timezone database.
//
// A Timezone is constructed either from a named zone (looked up in the
// platform zone database) or directly from a signed seconds-from-UTC value.
// Display name and abbreviation are derived, not identifying: two Timezones
// are equal iff their offset seconds are equal.
package timezone

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnknownZone indicates a zone name not recognized by the platform
	// timezone database.
	ErrUnknownZone = errors.New("unknown timezone")

	// ErrInvalidOffset indicates an offset that cannot be represented as
	// whole minutes and therefore has no canonical ±HH:MM form.
	ErrInvalidOffset = errors.New("offset not representable in whole minutes")
)

// Timezone is an immutable UTC offset with a derived display name and
// abbreviation.
type Timezone struct {
	seconds int
	name    string
	abbrev  string
}

// FromName creates a Timezone from a zone name such as "America/Los_Angeles".
// The offset is the zone's current offset from UTC. Returns ErrUnknownZone if
// the platform timezone database does not recognize the name.
func FromName(name string) (Timezone, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Timezone{}, fmt.Errorf("%w: %q", ErrUnknownZone, name)
	}
	abbrev, offset := time.Now().In(loc).Zone()
	return Timezone{seconds: offset, name: name, abbrev: abbrev}, nil
}

// FromOffsetSeconds creates a Timezone from a signed seconds-from-UTC value.
// It always succeeds: the name is resolved by reverse lookup against the
// platform zone database, falling back to a synthetic "GMT±HH:MM" name when
// no canonical zone currently matches the offset.
func FromOffsetSeconds(seconds int) Timezone {
	if name, abbrev, ok := lookupByOffset(seconds); ok {
		return Timezone{seconds: seconds, name: name, abbrev: abbrev}
	}
	name := syntheticName(seconds)
	return Timezone{seconds: seconds, name: name, abbrev: name}
}

// Offset returns the offset from UTC in seconds.
func (t Timezone) Offset() int { return t.seconds }

// Name returns the zone's display name.
func (t Timezone) Name() string { return t.name }

// Abbreviation returns the zone's abbreviation (e.g. "PDT"), or the display
// name when no abbreviation is known.
func (t Timezone) Abbreviation() string { return t.abbrev }

// Equal reports whether two Timezones denote the same offset. Display name
// and abbreviation do not participate in equality.
func (t Timezone) Equal(other Timezone) bool { return t.seconds == other.seconds }

func (t Timezone) String() string { return t.name }

// FormatOffset renders an offset in seconds as the canonical "±HH:MM" string.
// The conversion is exact: offsets that are not whole minutes return
// ErrInvalidOffset rather than rounding.
func FormatOffset(seconds int) (string, error) {
	if seconds%60 != 0 {
		return "", fmt.Errorf("%w: %d seconds", ErrInvalidOffset, seconds)
	}
	sign := "+"
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	return fmt.Sprintf("%s%02d:%02d", sign, seconds/3600, (seconds%3600)/60), nil
}

var offsetPattern = regexp.MustCompile(`^([+-])(\d{1,2}):?(\d{2})$`)

// ParseOffset parses a UTC offset string in "±HH:MM", "±H:MM", or "±HHMM"
// form into seconds.
func ParseOffset(s string) (int, error) {
	m := offsetPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, s)
	}
	hours, _ := strconv.Atoi(m[2])
	minutes, _ := strconv.Atoi(m[3])
	if minutes > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, s)
	}
	seconds := hours*3600 + minutes*60
	if m[1] == "-" {
		seconds = -seconds
	}
	return seconds, nil
}

func syntheticName(seconds int) string {
	if s, err := FormatOffset(seconds); err == nil {
		return "GMT" + s
	}
	// Sub-minute offsets have no ±HH:MM form; spell the seconds out.
	sign := "+"
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	return fmt.Sprintf("GMT%s%02d:%02d:%02d", sign, seconds/3600, (seconds%3600)/60, seconds%60)
}

// zoneinfo directories searched for the platform zone database, in order.
// The first directory that yields any names wins.
var zoneinfoDirs = []string{
	"/usr/share/zoneinfo",
	"/usr/share/lib/zoneinfo",
	"/var/db/timezone/zoneinfo",
}

var (
	knownOnce    sync.Once
	knownNames   []string
	knownOffsets map[int]Timezone
)

// KnownNames returns the zone names enumerated from the platform timezone
// database, sorted. The result is cached for the life of the process and may
// be empty when no zoneinfo directory is readable.
func KnownNames() []string {
	knownOnce.Do(loadKnown)
	return knownNames
}

func lookupByOffset(seconds int) (name, abbrev string, ok bool) {
	knownOnce.Do(loadKnown)
	tz, ok := knownOffsets[seconds]
	if !ok {
		return "", "", false
	}
	return tz.name, tz.abbrev, true
}

func loadKnown() {
	dirs := zoneinfoDirs
	if tzdir := os.Getenv("ZONEINFO"); tzdir != "" {
		dirs = append([]string{tzdir}, dirs...)
	}
	knownOffsets = make(map[int]Timezone)
	now := time.Now()
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			name, relErr := filepath.Rel(dir, path)
			if relErr != nil || !plausibleZoneName(name) {
				return nil
			}
			loc, locErr := time.LoadLocation(name)
			if locErr != nil {
				return nil
			}
			abbrev, offset := now.In(loc).Zone()
			knownNames = append(knownNames, name)
			// First name found for an offset wins; ties are arbitrary but stable
			// within a run because the walk order is deterministic.
			if _, seen := knownOffsets[offset]; !seen {
				knownOffsets[offset] = Timezone{seconds: offset, name: name, abbrev: abbrev}
			}
			return nil
		})
		if len(knownNames) > 0 {
			break
		}
	}
	sort.Strings(knownNames)
}

// plausibleZoneName filters out the non-zone files that live alongside the
// tz database (posixrules, leap-seconds.list, tzdata.zi, the posix/ and
// right/ trees).
func plausibleZoneName(name string) bool {
	if name == "" || strings.ContainsRune(name, '.') {
		return false
	}
	if strings.HasPrefix(name, "posix/") || strings.HasPrefix(name, "right/") {
		return false
	}
	c := name[0]
	return c >= 'A' && c <= 'Z'
}
