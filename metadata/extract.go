// Package metadata extracts a canonical capture timestamp and UTC offset
// from a file's embedded metadata fields.
//
// Metadata is inherently unreliable and partial: the same fact is encoded in
// several differently-named, differently-shaped fields, any of which may be
// missing or malformed. Extraction walks an ordered fallback chain, stops at
// the first field that parses, and records which field won so callers can
// reason about provenance. Malformed values are treated as absent, never as
// errors.
package metadata

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"timewarp/timezone"
)

// Metadata field names, exact and colon-sensitive, as produced by the
// metadata tool with group prefixes.
const (
	FieldDateTimeOriginal   = "EXIF:DateTimeOriginal"
	FieldCreateDate         = "EXIF:CreateDate"
	FieldQTCreationDate     = "QuickTime:CreationDate"
	FieldQTCreateDate       = "QuickTime:CreateDate"
	FieldDateCreated        = "IPTC:DateCreated"
	FieldTimeCreated        = "IPTC:TimeCreated"
	FieldXMPDateCreated     = "XMP:DateCreated"
	FieldXMPCreateDate      = "XMP:CreateDate"
	FieldOffsetTimeOriginal = "EXIF:OffsetTimeOriginal"
)

// dateTimeFields is the fallback chain, in priority order. The first field
// with a value that parses wins; later fields are not consulted.
var dateTimeFields = []string{
	FieldDateTimeOriginal,
	FieldCreateDate,
	FieldQTCreationDate,
	FieldQTCreateDate,
	FieldDateCreated,
	FieldXMPDateCreated,
	FieldXMPCreateDate,
}

// DateTimeOffset is the result of one extraction. It is produced fresh per
// call and never persisted; callers rederive it from the file when needed.
type DateTimeOffset struct {
	// DateTime is the extracted capture time. Offset-qualified when
	// HasOffset is true, naive otherwise. Valid only when HasDateTime.
	DateTime    time.Time
	HasDateTime bool

	// Offset is the resolved UTC offset in seconds. Valid only when
	// HasOffset; an offset can be present without a datetime and vice versa.
	Offset    int
	HasOffset bool

	// OffsetStr is the resolved offset in compact ±HHMM form, or "" when no
	// offset was resolved.
	OffsetStr string

	// DefaultTime is true when the time-of-day was synthesized as 00:00:00
	// because only a date was present.
	DefaultTime bool

	// Field names the metadata field the datetime was taken from, empty
	// when no datetime was found.
	Field string
}

// Extract derives a canonical (datetime, offset) pair from a mapping of
// metadata field name to raw string value.
func Extract(fields map[string]string) DateTimeOffset {
	var result DateTimeOffset
	var winning rawDateTime

	for _, name := range dateTimeFields {
		value := strings.TrimSpace(fields[name])
		if value == "" {
			continue
		}
		candidates := []string{value}
		if name == FieldDateCreated {
			// Legacy pair: DateCreated holds only the date; the companion
			// TimeCreated field supplies the time portion when present. A
			// malformed companion falls back to the date alone.
			if companion := strings.TrimSpace(fields[FieldTimeCreated]); companion != "" {
				candidates = []string{value + " " + companion, value}
			}
		}
		var parsed rawDateTime
		var ok bool
		for _, candidate := range candidates {
			if parsed, ok = parseDateTime(candidate); ok {
				break
			}
		}
		if !ok {
			// Malformed values are treated as absent.
			continue
		}
		winning = parsed
		result.Field = name
		result.HasDateTime = true
		result.DefaultTime = parsed.dateOnly
		break
	}

	// Offset resolution: the explicit offset field wins; otherwise fall back
	// to a trailing ±HH:MM suffix embedded in the winning datetime string.
	if raw := strings.TrimSpace(fields[FieldOffsetTimeOriginal]); raw != "" {
		if seconds, err := timezone.ParseOffset(raw); err == nil {
			result.Offset = seconds
			result.HasOffset = true
		}
	}
	if !result.HasOffset && winning.hasOffset {
		result.Offset = winning.offset
		result.HasOffset = true
	}

	if result.HasDateTime {
		loc := time.UTC
		if result.HasOffset {
			loc = time.FixedZone(compactOffset(result.Offset), result.Offset)
		}
		w := winning.wall
		result.DateTime = time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), loc)
	}
	if result.HasOffset {
		result.OffsetStr = compactOffset(result.Offset)
	}
	return result
}

// rawDateTime is a parsed field value before offset resolution: wall-clock
// digits plus whatever offset the string itself carried.
type rawDateTime struct {
	wall      time.Time
	hasOffset bool
	offset    int
	dateOnly  bool
}

var trailingOffset = regexp.MustCompile(`([+-]\d{1,2}:?\d{2})\s*$`)

// dateTimeLayouts tried against a value after any trailing offset has been
// stripped. Fractional seconds are accepted by time.Parse without appearing
// in the layout.
var dateTimeLayouts = []struct {
	layout   string
	dateOnly bool
}{
	{"2006:01:02 15:04:05", false},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02T15:04:05", false},
	{"2006:01:02", true},
	{"2006-01-02", true},
}

func parseDateTime(value string) (rawDateTime, bool) {
	var out rawDateTime

	if m := trailingOffset.FindStringSubmatch(value); m != nil {
		if seconds, err := timezone.ParseOffset(m[1]); err == nil {
			out.hasOffset = true
			out.offset = seconds
			value = strings.TrimSpace(strings.TrimSuffix(value, m[0]))
		}
	} else if strings.HasSuffix(value, "Z") {
		out.hasOffset = true
		out.offset = 0
		value = strings.TrimSpace(strings.TrimSuffix(value, "Z"))
	}

	for _, l := range dateTimeLayouts {
		t, err := time.Parse(l.layout, value)
		if err != nil {
			continue
		}
		out.wall = t
		out.dateOnly = l.dateOnly
		return out, true
	}
	return rawDateTime{}, false
}

func compactOffset(seconds int) string {
	sign := "+"
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	return fmt.Sprintf("%s%02d%02d", sign, seconds/3600, (seconds%3600)/60)
}
