// Package catalog reads and updates asset timestamp metadata stored in a
// Photos SQLite catalog.
//
// Writes go through raw SQL below the catalog application's own persistence
// layer and change-tracking. Concurrent use of the catalog application while
// a write is in flight is unsupported and may corrupt catalog consistency;
// this is an accepted risk boundary. The sole safety net is the optimistic
// version counter (Z_OPT) discipline: every write re-reads the row, bumps
// the counter by exactly one relative to that read, and retries the whole
// read-compute-write sequence on any failure.
//
// The asset table name differs across catalog schema generations. It is
// resolved once per Library by inspecting the model-version marker stored in
// the Z_METADATA plist.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"howett.net/plist"

	"timewarp/rawdb"
	"timewarp/timeutils"
	"timewarp/timezone"
)

// ErrAssetNotFound indicates the asset identifier has no row in the catalog.
var ErrAssetNotFound = errors.New("asset not found in catalog")

// Photos model-version ranges observed per catalog generation. Unrecognized
// versions fall back to the newest known generation rather than aborting.
const (
	photos5ModelVersionMin = 13000
	photos5ModelVersionMax = 14999
	photos6ModelVersionMin = 15000
	photos6ModelVersionMax = 16999
	photos7ModelVersionMin = 17000

	newestKnownGeneration = 7
)

// assetTableNames maps a Photos generation to its asset table name.
var assetTableNames = map[int]string{
	5: "ZGENERICASSET",
	6: "ZASSET",
	7: "ZASSET",
}

// appleEpoch is the Core Data reference date; ZDATECREATED counts seconds
// from it.
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// MediaKind distinguishes still images from motion/video assets.
type MediaKind int

const (
	KindPhoto MediaKind = iota
	KindVideo
)

func (k MediaKind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "photo"
}

// Asset is one catalog row's timestamp-relevant view. Date is a naive
// wall-clock datetime; the offset is stored separately, and mutating one
// never touches the other.
type Asset struct {
	PK       int64
	UUID     string
	Filename string

	// Path is the resolved original file path, empty when the original is
	// not locally present.
	Path string

	Kind MediaKind

	// Date is the capture datetime as a naive wall clock in the process's
	// ambient zone.
	Date time.Time

	// TimezoneOffset is the stored offset from UTC in seconds;
	// TimezoneName its stored display name.
	TimezoneOffset int
	TimezoneName   string
}

// Config holds catalog access configuration.
type Config struct {
	// LibraryPath is the path to the Photos library bundle
	// (e.g. "~/Pictures/Photos Library.photoslibrary").
	LibraryPath string

	// MaxWriteAttempts bounds the read-compute-write retry loop.
	MaxWriteAttempts int

	// InitialRetryInterval is the first backoff delay between attempts.
	InitialRetryInterval time.Duration

	// MaxRetryInterval caps the backoff delay per attempt.
	MaxRetryInterval time.Duration
}

// DefaultConfig returns the default catalog configuration.
func DefaultConfig() Config {
	return Config{
		MaxWriteAttempts:     10,
		InitialRetryInterval: 100 * time.Millisecond,
		MaxRetryInterval:     5 * time.Second,
	}
}

// store is the slice of rawdb the Library uses, bound to one database file.
type store interface {
	Query(query string, params ...any) (*rawdb.Rows, error)
	Execute(stmt string, params ...any) ([]rawdb.Row, error)
}

type fileStore struct{ path string }

func (s fileStore) Query(query string, params ...any) (*rawdb.Rows, error) {
	return rawdb.Query(s.path, query, params...)
}

func (s fileStore) Execute(stmt string, params ...any) ([]rawdb.Row, error) {
	return rawdb.Execute(s.path, stmt, params...)
}

// Library provides access to one Photos catalog. It holds no open
// connection: every read and write opens and closes the database file.
type Library struct {
	root       string
	dbPath     string
	db         store
	generation int
	assetTable string
	cfg        Config
	logger     logrus.FieldLogger
}

// New opens the catalog under cfg.LibraryPath and resolves its schema
// generation from the model-version marker.
func New(cfg Config) (*Library, error) {
	if cfg.LibraryPath == "" {
		return nil, errors.New("library path is required")
	}
	def := DefaultConfig()
	if cfg.MaxWriteAttempts <= 0 {
		cfg.MaxWriteAttempts = def.MaxWriteAttempts
	}
	if cfg.InitialRetryInterval <= 0 {
		cfg.InitialRetryInterval = def.InitialRetryInterval
	}
	if cfg.MaxRetryInterval <= 0 {
		cfg.MaxRetryInterval = def.MaxRetryInterval
	}

	l := &Library{
		root:   cfg.LibraryPath,
		dbPath: filepath.Join(cfg.LibraryPath, "database", "Photos.sqlite"),
		cfg:    cfg,
		logger: logrus.New(),
	}
	l.db = fileStore{path: l.dbPath}

	modelVersion, err := l.modelVersion()
	if err != nil {
		return nil, fmt.Errorf("resolve catalog model version: %w", err)
	}
	l.generation = generationForModelVersion(modelVersion)
	if l.generation == 0 {
		l.logger.WithField("model_version", modelVersion).
			Warn("unrecognized catalog model version, assuming newest known schema")
		l.generation = newestKnownGeneration
	}
	l.assetTable = assetTableNames[l.generation]

	return l, nil
}

// SetLogger sets a custom logger.
func (l *Library) SetLogger(logger logrus.FieldLogger) {
	l.logger = logger
}

// DatabasePath returns the path of the catalog database file.
func (l *Library) DatabasePath() string { return l.dbPath }

// Generation returns the resolved Photos schema generation.
func (l *Library) Generation() int { return l.generation }

// modelVersion reads the PLModelVersion marker from the Z_METADATA plist.
func (l *Library) modelVersion() (int, error) {
	rows, err := l.db.Execute("SELECT MAX(Z_VERSION) AS Z_VERSION, Z_PLIST FROM Z_METADATA")
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || rows[0].IsNull("Z_PLIST") {
		return 0, errors.New("catalog has no Z_METADATA marker row")
	}

	var marker struct {
		PLModelVersion int `plist:"PLModelVersion"`
	}
	if _, err := plist.Unmarshal(rows[0].Bytes("Z_PLIST"), &marker); err != nil {
		return 0, fmt.Errorf("decode Z_METADATA plist: %w", err)
	}
	return marker.PLModelVersion, nil
}

func generationForModelVersion(v int) int {
	switch {
	case v >= photos5ModelVersionMin && v <= photos5ModelVersionMax:
		return 5
	case v >= photos6ModelVersionMin && v <= photos6ModelVersionMax:
		return 6
	case v >= photos7ModelVersionMin:
		return 7
	default:
		return 0
	}
}

// Asset looks up one asset by UUID, returning its timestamp view and the
// resolved original file path (empty when the original is missing locally).
func (l *Library) Asset(uuidStr string) (*Asset, error) {
	if _, err := uuid.Parse(uuidStr); err != nil {
		return nil, fmt.Errorf("invalid asset UUID %q: %w", uuidStr, err)
	}

	query := fmt.Sprintf(`
		SELECT %[1]s.Z_PK AS Z_PK,
		       %[1]s.ZUUID AS ZUUID,
		       %[1]s.ZFILENAME AS ZFILENAME,
		       %[1]s.ZDATECREATED AS ZDATECREATED,
		       %[1]s.ZKIND AS ZKIND,
		       ZADDITIONALASSETATTRIBUTES.ZTIMEZONEOFFSET AS ZTIMEZONEOFFSET,
		       ZADDITIONALASSETATTRIBUTES.ZTIMEZONENAME AS ZTIMEZONENAME
		FROM %[1]s
		JOIN ZADDITIONALASSETATTRIBUTES
		  ON ZADDITIONALASSETATTRIBUTES.ZASSET = %[1]s.Z_PK
		WHERE %[1]s.ZUUID = ?`, l.assetTable)

	rows, err := l.db.Execute(query, uuidStr)
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", uuidStr, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, uuidStr)
	}
	row := rows[0]

	asset := &Asset{
		PK:             row.Int64("Z_PK"),
		UUID:           row.String("ZUUID"),
		Filename:       row.String("ZFILENAME"),
		TimezoneOffset: int(row.Int64("ZTIMEZONEOFFSET")),
		TimezoneName:   row.String("ZTIMEZONENAME"),
	}
	if row.Int64("ZKIND") == 1 {
		asset.Kind = KindVideo
	}
	asset.Date = dateFromCoreData(row.Float64("ZDATECREATED"))
	asset.Path = l.originalPath(asset.UUID, asset.Filename)

	return asset, nil
}

// Timezone returns an asset's stored offset seconds, its canonical ±HH:MM
// rendering, and its stored zone name.
func (l *Library) Timezone(uuidStr string) (int, string, string, error) {
	asset, err := l.Asset(uuidStr)
	if err != nil {
		return 0, "", "", err
	}
	offsetStr := ""
	if s, err := timezone.FormatOffset(asset.TimezoneOffset); err == nil {
		offsetStr = s
	}
	return asset.TimezoneOffset, offsetStr, asset.TimezoneName, nil
}

// originalPath resolves the on-disk location of an asset's original file:
// <library>/originals/<first UUID character>/<UUID>.<ext>. Returns "" when
// the file is not locally present (e.g. not downloaded from cloud storage).
func (l *Library) originalPath(assetUUID, filename string) string {
	ext := filepath.Ext(filename)
	if assetUUID == "" || ext == "" {
		return ""
	}
	path := filepath.Join(l.root, "originals", strings.ToUpper(assetUUID[:1]), assetUUID+ext)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// dateFromCoreData converts Core Data epoch seconds to the catalog's naive
// wall-clock representation: the instant re-expressed in the process's
// ambient zone with the offset stripped.
func dateFromCoreData(seconds float64) time.Time {
	instant := appleEpoch.Add(time.Duration(seconds * float64(time.Second)))
	return timeutils.StripZone(instant.In(time.Local))
}

// coreDataFromDate is the inverse of dateFromCoreData.
func coreDataFromDate(naive time.Time) float64 {
	instant := timeutils.NaiveToLocal(naive)
	return instant.UTC().Sub(appleEpoch).Seconds()
}
