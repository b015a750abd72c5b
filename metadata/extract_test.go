package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExtract_FallbackOrder verifies that DateTimeOriginal wins over
// CreateDate when both are populated with different values.
func TestExtract_FallbackOrder(t *testing.T) {
	got := Extract(map[string]string{
		FieldDateTimeOriginal: "2021:10:02 12:40:07",
		FieldCreateDate:       "2019:01:01 00:00:01",
	})

	require.True(t, got.HasDateTime)
	assert.Equal(t, FieldDateTimeOriginal, got.Field)
	assert.Equal(t, 2021, got.DateTime.Year())
	assert.Equal(t, 12, got.DateTime.Hour())
	assert.False(t, got.DefaultTime)
}

// TestExtract_MalformedSkipsToNextField verifies that an unparseable value
// is treated as absent, not fatal.
func TestExtract_MalformedSkipsToNextField(t *testing.T) {
	got := Extract(map[string]string{
		FieldDateTimeOriginal: "0000:00:00 garbage",
		FieldCreateDate:       "2019:01:01 08:30:00",
	})

	require.True(t, got.HasDateTime)
	assert.Equal(t, FieldCreateDate, got.Field)
	assert.Equal(t, 2019, got.DateTime.Year())
}

// TestExtract_ExplicitOffsetField covers the concrete scenario
// OffsetTimeOriginal = "-07:00", DateTimeOriginal = "2021:10:02 12:40:07".
func TestExtract_ExplicitOffsetField(t *testing.T) {
	got := Extract(map[string]string{
		FieldOffsetTimeOriginal: "-07:00",
		FieldDateTimeOriginal:   "2021:10:02 12:40:07",
	})

	require.True(t, got.HasDateTime)
	require.True(t, got.HasOffset)
	assert.Equal(t, -25200, got.Offset)
	assert.Equal(t, "-0700", got.OffsetStr)
	assert.False(t, got.DefaultTime)

	want := time.Date(2021, 10, 2, 12, 40, 7, 0, time.FixedZone("-0700", -25200))
	assert.True(t, got.DateTime.Equal(want))
	_, offset := got.DateTime.Zone()
	assert.Equal(t, -25200, offset)
}

// TestExtract_ExplicitOffsetBeatsSuffix verifies the explicit offset field
// takes precedence over a suffix embedded in the datetime string.
func TestExtract_ExplicitOffsetBeatsSuffix(t *testing.T) {
	got := Extract(map[string]string{
		FieldOffsetTimeOriginal: "-07:00",
		FieldDateTimeOriginal:   "2021:10:02 12:40:07+02:00",
	})

	require.True(t, got.HasOffset)
	assert.Equal(t, -25200, got.Offset)
}

// TestExtract_SuffixOffset verifies the trailing ±HH:MM fallback when no
// explicit offset field is present (the QuickTime CreationDate shape).
func TestExtract_SuffixOffset(t *testing.T) {
	got := Extract(map[string]string{
		FieldQTCreationDate: "2020:12:10 22:10:10-08:00",
	})

	require.True(t, got.HasDateTime)
	require.True(t, got.HasOffset)
	assert.Equal(t, -28800, got.Offset)
	assert.Equal(t, "-0800", got.OffsetStr)
	assert.Equal(t, 22, got.DateTime.Hour())
}

// TestExtract_DateCreatedDefaultsTime verifies that a lone DateCreated
// yields time 00:00:00 with DefaultTime set.
func TestExtract_DateCreatedDefaultsTime(t *testing.T) {
	got := Extract(map[string]string{
		FieldDateCreated: "2021:10:02",
	})

	require.True(t, got.HasDateTime)
	assert.True(t, got.DefaultTime)
	assert.Equal(t, FieldDateCreated, got.Field)
	assert.Equal(t, 0, got.DateTime.Hour())
	assert.Equal(t, 0, got.DateTime.Minute())
	assert.Equal(t, 0, got.DateTime.Second())
	assert.False(t, got.HasOffset)
	assert.Equal(t, "", got.OffsetStr)
}

// TestExtract_DateCreatedWithTimeCreated verifies the legacy pair combines,
// including an offset suffix carried by the time portion.
func TestExtract_DateCreatedWithTimeCreated(t *testing.T) {
	got := Extract(map[string]string{
		FieldDateCreated: "2021:10:02",
		FieldTimeCreated: "12:40:07-07:00",
	})

	require.True(t, got.HasDateTime)
	assert.False(t, got.DefaultTime)
	assert.Equal(t, 12, got.DateTime.Hour())
	require.True(t, got.HasOffset)
	assert.Equal(t, -25200, got.Offset)
}

// TestExtract_DateOnlyPrimaryField verifies a date-only value in a primary
// field synthesizes midnight and flags it.
func TestExtract_DateOnlyPrimaryField(t *testing.T) {
	got := Extract(map[string]string{
		FieldDateTimeOriginal: "2021:10:02",
	})

	require.True(t, got.HasDateTime)
	assert.True(t, got.DefaultTime)
	assert.Equal(t, 0, got.DateTime.Hour())
}

// TestExtract_OffsetOnly verifies an offset can be resolved with no datetime
// at all.
func TestExtract_OffsetOnly(t *testing.T) {
	got := Extract(map[string]string{
		FieldOffsetTimeOriginal: "+05:30",
	})

	assert.False(t, got.HasDateTime)
	require.True(t, got.HasOffset)
	assert.Equal(t, 19800, got.Offset)
	assert.Equal(t, "+0530", got.OffsetStr)
}

// TestExtract_Empty verifies the no-usable-metadata case.
func TestExtract_Empty(t *testing.T) {
	got := Extract(map[string]string{})
	assert.False(t, got.HasDateTime)
	assert.False(t, got.HasOffset)
	assert.Equal(t, "", got.Field)
}

// TestExtract_NaiveWhenNoOffset verifies the result datetime is naive when
// neither the offset field nor a suffix resolves.
func TestExtract_NaiveWhenNoOffset(t *testing.T) {
	got := Extract(map[string]string{
		FieldCreateDate: "2019:06:15 09:00:00",
	})

	require.True(t, got.HasDateTime)
	assert.False(t, got.HasOffset)
	_, offset := got.DateTime.Zone()
	assert.Equal(t, 0, offset)
}

// TestExtract_SubsecondTolerated verifies fractional seconds parse.
func TestExtract_SubsecondTolerated(t *testing.T) {
	got := Extract(map[string]string{
		FieldDateTimeOriginal: "2021:10:02 12:40:07.123",
	})
	require.True(t, got.HasDateTime)
	assert.Equal(t, 7, got.DateTime.Second())
}
