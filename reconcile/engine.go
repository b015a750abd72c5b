// Package reconcile coordinates timestamp and timezone changes between a
// Photos catalog and the metadata embedded in the original files.
//
// The catalog is the source of truth for Push and the destination for Pull.
// Operation order inside one asset is fixed and load-bearing: date/time
// edits first, then the match-time compensation (which must read the old
// offset before it is overwritten), then the timezone write, then the file
// metadata push. Batches run sequentially; one asset's failure is recorded
// and the batch continues.
package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"timewarp/catalog"
	"timewarp/timeutils"
	"timewarp/timezone"
)

// ErrMissingFile indicates the asset's original file is not locally present,
// so file metadata cannot be read or written. Batch processing treats this
// as a skip, not a failure.
var ErrMissingFile = errors.New("original file missing from library")

// ErrNoMetadataTool indicates a file metadata operation was requested on an
// engine built without a metadata tool.
var ErrNoMetadataTool = errors.New("no metadata tool configured")

// Catalog is the slice of the catalog layer the engine drives.
type Catalog interface {
	Asset(uuid string) (*catalog.Asset, error)
	SetTimezone(uuid string, tz timezone.Timezone) error
	SetDate(uuid string, date time.Time) error
}

// MetadataTool reads and writes tag values in an original file.
type MetadataTool interface {
	ReadMetadata(path string) (map[string]string, error)
	WriteMetadata(path string, fields map[string]string) (string, error)
}

// ProgressFunc is called after each asset in a batch completes.
type ProgressFunc func(completed, total int)

// Request describes the changes to apply to each asset in a batch.
type Request struct {
	// Update carries absolute or delta date/time edits.
	Update timeutils.Update

	// Timezone, when set, is written to the catalog for each asset.
	Timezone *timezone.Timezone

	// MatchTime shifts each asset's time so its wall-clock reading under the
	// new timezone matches its reading under the old one. Requires Timezone.
	MatchTime bool

	// Push mirrors the resulting catalog state into each asset's file
	// metadata.
	Push bool
}

// Validate checks the request's internal consistency.
func (r Request) Validate() error {
	if err := r.Update.Validate(); err != nil {
		return err
	}
	if r.MatchTime && r.Timezone == nil {
		return errors.New("match-time requires a timezone")
	}
	if r.Update.IsZero() && r.Timezone == nil && !r.Push {
		return errors.New("request changes nothing")
	}
	return nil
}

// Result is the outcome for one asset in a batch.
type Result struct {
	UUID    string
	Err     error
	Skipped bool

	// Warning carries non-fatal metadata tool output.
	Warning string
}

// BatchResult summarizes a processed batch.
type BatchResult struct {
	Results []Result
	Failed  int
	Skipped int
}

// Engine applies timestamp and timezone changes to catalog assets.
type Engine struct {
	catalog  Catalog
	tool     MetadataTool
	logger   logrus.FieldLogger
	progress ProgressFunc
}

// New creates an engine. tool may be nil when no file metadata operations
// will be requested.
func New(cat Catalog, tool MetadataTool) *Engine {
	return &Engine{
		catalog: cat,
		tool:    tool,
		logger:  logrus.New(),
	}
}

// SetLogger sets a custom logger.
func (e *Engine) SetLogger(logger logrus.FieldLogger) {
	e.logger = logger
}

// SetProgress sets a callback invoked after each asset in a batch.
func (e *Engine) SetProgress(fn ProgressFunc) {
	e.progress = fn
}

// Process applies the request to each asset in order. Per-asset failures are
// recorded in the result and do not stop the batch; the returned error covers
// only an invalid request.
func (e *Engine) Process(uuids []string, req Request) (*BatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.Push && e.tool == nil {
		return nil, ErrNoMetadataTool
	}

	runID := ulid.Make().String()
	logger := e.logger.WithField("run_id", runID)
	logger.WithField("assets", len(uuids)).Info("processing batch")

	batch := &BatchResult{Results: make([]Result, 0, len(uuids))}
	for i, uuidStr := range uuids {
		result := e.processOne(logger, uuidStr, req)
		if result.Err != nil {
			batch.Failed++
			logger.WithField("uuid", uuidStr).WithError(result.Err).Error("asset failed")
		}
		if result.Skipped {
			batch.Skipped++
		}
		batch.Results = append(batch.Results, result)
		if e.progress != nil {
			e.progress(i+1, len(uuids))
		}
	}
	logger.WithFields(logrus.Fields{
		"failed":  batch.Failed,
		"skipped": batch.Skipped,
	}).Info("batch complete")
	return batch, nil
}

func (e *Engine) processOne(logger logrus.FieldLogger, uuidStr string, req Request) Result {
	result := Result{UUID: uuidStr}

	if !req.Update.IsZero() {
		if err := e.SetDateTime(uuidStr, req.Update); err != nil {
			result.Err = err
			return result
		}
	}

	// Match-time must run before the timezone write or the old offset is
	// gone from the catalog.
	if req.Timezone != nil {
		if err := e.SetTimezone(uuidStr, *req.Timezone, req.MatchTime); err != nil {
			result.Err = err
			return result
		}
	}

	if req.Push {
		warning, err := e.Push(uuidStr)
		result.Warning = warning
		if errors.Is(err, ErrMissingFile) {
			logger.WithField("uuid", uuidStr).Info("skipping metadata push, original file missing")
			result.Skipped = true
		} else if err != nil {
			result.Err = err
		}
	}
	return result
}

// SetDateTime applies date/time edits to one asset's catalog datetime. A
// no-op edit leaves the row untouched.
func (e *Engine) SetDateTime(uuidStr string, upd timeutils.Update) error {
	if err := upd.Validate(); err != nil {
		return err
	}
	asset, err := e.catalog.Asset(uuidStr)
	if err != nil {
		return err
	}
	newDate := timeutils.Apply(asset.Date, upd)
	if newDate.Equal(asset.Date) {
		e.logger.WithField("uuid", uuidStr).Debug("datetime unchanged, nothing to do")
		return nil
	}
	return e.catalog.SetDate(uuidStr, newDate)
}

// SetTimezone writes a new timezone for one asset.
//
// Without matchTime the stored wall-clock digits are untouched; read under
// the new offset they denote a different absolute instant. With matchTime
// the wall clock is shifted by the offset delta first, so the datetime under
// the new offset denotes the same instant it did under the old one. The
// shift must land before the offset write because it is computed against the
// offset still stored in the catalog.
func (e *Engine) SetTimezone(uuidStr string, tz timezone.Timezone, matchTime bool) error {
	if matchTime {
		asset, err := e.catalog.Asset(uuidStr)
		if err != nil {
			return err
		}
		delta := time.Duration(tz.Offset()-asset.TimezoneOffset) * time.Second
		if delta != 0 {
			if err := e.catalog.SetDate(uuidStr, asset.Date.Add(delta)); err != nil {
				return fmt.Errorf("match-time adjustment: %w", err)
			}
		}
	}
	return e.catalog.SetTimezone(uuidStr, tz)
}

// Inspection is one asset's current timestamp state.
type Inspection struct {
	UUID     string
	Filename string

	// LocalTime is the catalog datetime interpreted in the ambient local
	// zone; ZoneTime is the same instant under the stored offset.
	LocalTime time.Time
	ZoneTime  time.Time

	OffsetSeconds int
	OffsetStr     string
	ZoneName      string
}

// Inspect reports one asset's date, time, and timezone without changing
// anything.
func (e *Engine) Inspect(uuidStr string) (*Inspection, error) {
	asset, err := e.catalog.Asset(uuidStr)
	if err != nil {
		return nil, err
	}
	local := timeutils.NaiveToLocal(asset.Date)
	offsetStr, _ := timezone.FormatOffset(asset.TimezoneOffset)
	return &Inspection{
		UUID:          asset.UUID,
		Filename:      asset.Filename,
		LocalTime:     local,
		ZoneTime:      timeutils.ToOffset(local, asset.TimezoneOffset),
		OffsetSeconds: asset.TimezoneOffset,
		OffsetStr:     offsetStr,
		ZoneName:      asset.TimezoneName,
	}, nil
}
