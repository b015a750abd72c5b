package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"howett.net/plist"

	"timewarp/rawdb"
	"timewarp/timeutils"
	"timewarp/timezone"
)

const testUUID = "1EB79CDC-13D0-4B6C-A60F-4B149F6F7F60"

// newTestLibrary builds a minimal Photos library on disk: the database file
// with the schema slice this package touches, one photo asset, and the
// model-version marker for the requested generation.
func newTestLibrary(t *testing.T, modelVersion int) (string, string) {
	t.Helper()
	root := t.TempDir()
	dbDir := filepath.Join(root, "database")
	require.NoError(t, os.MkdirAll(dbDir, 0o755))
	dbPath := filepath.Join(dbDir, "Photos.sqlite")

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	table := "ZASSET"
	if modelVersion >= photos5ModelVersionMin && modelVersion <= photos5ModelVersionMax {
		table = "ZGENERICASSET"
	}

	_, err = db.Exec(fmt.Sprintf(`CREATE TABLE %s (
		Z_PK INTEGER PRIMARY KEY,
		Z_OPT INTEGER,
		ZUUID TEXT,
		ZFILENAME TEXT,
		ZDATECREATED REAL,
		ZKIND INTEGER
	)`, table))
	require.NoError(t, err)

	_, err = db.Exec(`CREATE TABLE ZADDITIONALASSETATTRIBUTES (
		Z_PK INTEGER PRIMARY KEY,
		Z_OPT INTEGER,
		ZASSET INTEGER,
		ZTIMEZONEOFFSET INTEGER,
		ZTIMEZONENAME TEXT
	)`)
	require.NoError(t, err)

	_, err = db.Exec(`CREATE TABLE Z_METADATA (Z_VERSION INTEGER, Z_UUID TEXT, Z_PLIST BLOB)`)
	require.NoError(t, err)

	marker := map[string]any{"PLModelVersion": modelVersion}
	blob, err := plist.Marshal(marker, plist.BinaryFormat)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO Z_METADATA (Z_VERSION, Z_UUID, Z_PLIST) VALUES (1, 'meta', ?)`, blob)
	require.NoError(t, err)

	// 2021-10-02 19:40:07 UTC as Core Data epoch seconds.
	captured := time.Date(2021, 10, 2, 19, 40, 7, 0, time.UTC)
	seconds := captured.Sub(appleEpoch).Seconds()

	_, err = db.Exec(fmt.Sprintf(
		`INSERT INTO %s (Z_PK, Z_OPT, ZUUID, ZFILENAME, ZDATECREATED, ZKIND) VALUES (1, 3, ?, 'IMG_0001.jpg', ?, 0)`,
		table), testUUID, seconds)
	require.NoError(t, err)
	_, err = db.Exec(
		`INSERT INTO ZADDITIONALASSETATTRIBUTES (Z_PK, Z_OPT, ZASSET, ZTIMEZONEOFFSET, ZTIMEZONENAME) VALUES (1, 5, 1, -25200, 'GMT-0700')`)
	require.NoError(t, err)

	return root, dbPath
}

func openTestLibrary(t *testing.T, modelVersion int) *Library {
	t.Helper()
	root, _ := newTestLibrary(t, modelVersion)
	cfg := DefaultConfig()
	cfg.LibraryPath = root
	cfg.InitialRetryInterval = time.Millisecond
	cfg.MaxRetryInterval = 2 * time.Millisecond
	lib, err := New(cfg)
	require.NoError(t, err)
	return lib
}

// TestNew_GenerationResolution verifies the asset table is chosen from the
// model-version marker.
func TestNew_GenerationResolution(t *testing.T) {
	cases := []struct {
		modelVersion int
		generation   int
		table        string
	}{
		{13537, 5, "ZGENERICASSET"},
		{15331, 6, "ZASSET"},
		{17120, 7, "ZASSET"},
	}
	for _, tc := range cases {
		lib := openTestLibrary(t, tc.modelVersion)
		assert.Equal(t, tc.generation, lib.Generation(), "model version %d", tc.modelVersion)
		assert.Equal(t, tc.table, lib.assetTable, "model version %d", tc.modelVersion)
	}
}

// TestNew_UnknownVersionFallsForward verifies an unrecognized marker assumes
// the newest known schema instead of failing.
func TestNew_UnknownVersionFallsForward(t *testing.T) {
	lib := openTestLibrary(t, 99999)
	assert.Equal(t, newestKnownGeneration, lib.Generation())
	assert.Equal(t, "ZASSET", lib.assetTable)
}

// TestAsset_Fields verifies the joined read and the Core Data date
// conversion into a naive local wall clock.
func TestAsset_Fields(t *testing.T) {
	lib := openTestLibrary(t, 17120)

	asset, err := lib.Asset(testUUID)
	require.NoError(t, err)

	assert.Equal(t, int64(1), asset.PK)
	assert.Equal(t, testUUID, asset.UUID)
	assert.Equal(t, "IMG_0001.jpg", asset.Filename)
	assert.Equal(t, KindPhoto, asset.Kind)
	assert.Equal(t, -25200, asset.TimezoneOffset)
	assert.Equal(t, "GMT-0700", asset.TimezoneName)
	assert.Empty(t, asset.Path, "original file does not exist on disk")

	captured := time.Date(2021, 10, 2, 19, 40, 7, 0, time.UTC)
	want := timeutils.StripZone(captured.In(time.Local))
	assert.True(t, asset.Date.Equal(want), "got %v want %v", asset.Date, want)
}

// TestAsset_NotFound verifies the sentinel for an unknown UUID.
func TestAsset_NotFound(t *testing.T) {
	lib := openTestLibrary(t, 17120)

	_, err := lib.Asset("00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

// TestAsset_InvalidUUID verifies malformed identifiers are rejected before
// touching the database.
func TestAsset_InvalidUUID(t *testing.T) {
	lib := openTestLibrary(t, 17120)

	_, err := lib.Asset("not-a-uuid")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}

// TestTimezone verifies the read-back triple.
func TestTimezone(t *testing.T) {
	lib := openTestLibrary(t, 17120)

	offset, offsetStr, name, err := lib.Timezone(testUUID)
	require.NoError(t, err)
	assert.Equal(t, -25200, offset)
	assert.Equal(t, "-07:00", offsetStr)
	assert.Equal(t, "GMT-0700", name)
}

// TestSetTimezone_BumpsVersionByOne verifies a successful write leaves the
// attributes row's version at exactly read-version+1.
func TestSetTimezone_BumpsVersionByOne(t *testing.T) {
	lib := openTestLibrary(t, 17120)

	tz := timezone.FromOffsetSeconds(-21600)
	require.NoError(t, lib.SetTimezone(testUUID, tz))

	rows, err := rawdb.Execute(lib.DatabasePath(),
		`SELECT Z_OPT, ZTIMEZONEOFFSET, ZTIMEZONENAME FROM ZADDITIONALASSETATTRIBUTES WHERE Z_PK = 1`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(6), rows[0].Int64("Z_OPT"))
	assert.Equal(t, int64(-21600), rows[0].Int64("ZTIMEZONEOFFSET"))
	assert.Equal(t, tz.Name(), rows[0].String("ZTIMEZONENAME"))
}

// TestSetTimezone_NotFoundIsPermanent verifies a missing asset fails fast
// instead of burning the retry budget.
func TestSetTimezone_NotFoundIsPermanent(t *testing.T) {
	lib := openTestLibrary(t, 17120)

	tz := timezone.FromOffsetSeconds(0)

	start := time.Now()
	err := lib.SetTimezone("00000000-0000-0000-0000-000000000000", tz)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Less(t, time.Since(start), time.Second)
}

// TestSetDate verifies the asset table write and round-trip through the Core
// Data epoch conversion.
func TestSetDate(t *testing.T) {
	lib := openTestLibrary(t, 17120)

	naive := time.Date(2021, 10, 2, 13, 40, 7, 0, time.UTC)
	require.NoError(t, lib.SetDate(testUUID, naive))

	asset, err := lib.Asset(testUUID)
	require.NoError(t, err)
	assert.True(t, asset.Date.Equal(naive), "got %v want %v", asset.Date, naive)

	rows, err := rawdb.Execute(lib.DatabasePath(), `SELECT Z_OPT FROM ZASSET WHERE Z_PK = 1`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(4), rows[0].Int64("Z_OPT"))
}

// flakyStore fails the first failures Execute calls, then delegates. It
// simulates transient engine errors (locked pages) during the
// read-compute-write sequence.
type flakyStore struct {
	inner    store
	failures int
	calls    int
}

func (s *flakyStore) Query(query string, params ...any) (*rawdb.Rows, error) {
	return s.inner.Query(query, params...)
}

func (s *flakyStore) Execute(stmt string, params ...any) ([]rawdb.Row, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("database is locked")
	}
	return s.inner.Execute(stmt, params...)
}

// TestSetTimezone_RetriesTransientFailures verifies the write survives
// transient failures and still lands at exactly version+1 relative to the
// final successful read.
func TestSetTimezone_RetriesTransientFailures(t *testing.T) {
	lib := openTestLibrary(t, 17120)
	lib.db = &flakyStore{inner: fileStore{path: lib.DatabasePath()}, failures: 3}

	tz := timezone.FromOffsetSeconds(3600)
	require.NoError(t, lib.SetTimezone(testUUID, tz))

	rows, err := rawdb.Execute(lib.DatabasePath(),
		`SELECT Z_OPT, ZTIMEZONEOFFSET FROM ZADDITIONALASSETATTRIBUTES WHERE Z_PK = 1`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(6), rows[0].Int64("Z_OPT"), "one logical write, one version bump")
	assert.Equal(t, int64(3600), rows[0].Int64("ZTIMEZONEOFFSET"))
}

// TestSetTimezone_ExhaustsAttempts verifies the attempt ceiling surfaces the
// final error once every retry has failed.
func TestSetTimezone_ExhaustsAttempts(t *testing.T) {
	lib := openTestLibrary(t, 17120)
	lib.cfg.MaxWriteAttempts = 3
	lib.db = &flakyStore{inner: fileStore{path: lib.DatabasePath()}, failures: 100}

	tz := timezone.FromOffsetSeconds(3600)
	err := lib.SetTimezone(testUUID, tz)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")

	fs := lib.db.(*flakyStore)
	assert.Equal(t, 3, fs.calls)
}
