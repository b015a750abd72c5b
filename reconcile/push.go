package reconcile

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"timewarp/catalog"
	"timewarp/metadata"
	"timewarp/timeutils"
	"timewarp/timezone"
)

const exifTimestampLayout = "2006:01:02 15:04:05"

// Push mirrors one asset's catalog date, time, and timezone into its
// original file's metadata. The returned warning is the tool's non-fatal
// output, empty when clean. A missing original returns ErrMissingFile.
func (e *Engine) Push(uuidStr string) (string, error) {
	if e.tool == nil {
		return "", ErrNoMetadataTool
	}
	asset, err := e.catalog.Asset(uuidStr)
	if err != nil {
		return "", err
	}
	if asset.Path == "" {
		return "", fmt.Errorf("%w: %s (%s)", ErrMissingFile, asset.Filename, uuidStr)
	}

	fields, err := pushFields(asset)
	if err != nil {
		return "", err
	}

	e.logger.WithFields(logrus.Fields{
		"uuid": uuidStr,
		"path": asset.Path,
		"kind": asset.Kind.String(),
	}).Info("writing file metadata")
	warning, err := e.tool.WriteMetadata(asset.Path, fields)
	if err != nil {
		return warning, fmt.Errorf("push metadata for %s: %w", uuidStr, err)
	}
	return warning, nil
}

// pushFields renders one asset's catalog state as tag values.
//
// The catalog datetime is interpreted in the ambient local zone, then
// re-expressed under the asset's stored offset; the file carries the wall
// clock as read in the asset's own timezone. Still images get the EXIF and
// IPTC capture fields plus the explicit offset tag. Video container times
// are UTC per the QuickTime spec, except CreationDate which must carry the
// offset suffix or the catalog application renders it wrong.
func pushFields(asset *catalog.Asset) (map[string]string, error) {
	offsetStr, err := timezone.FormatOffset(asset.TimezoneOffset)
	if err != nil {
		return nil, fmt.Errorf("format stored offset: %w", err)
	}
	local := timeutils.NaiveToLocal(asset.Date)
	inZone := timeutils.ToOffset(local, asset.TimezoneOffset)
	stamp := inZone.Format(exifTimestampLayout)

	if asset.Kind == catalog.KindVideo {
		return map[string]string{
			metadata.FieldQTCreationDate: stamp + offsetStr,
			metadata.FieldQTCreateDate:   inZone.UTC().Format(exifTimestampLayout),
		}, nil
	}
	return map[string]string{
		metadata.FieldDateTimeOriginal:   stamp,
		metadata.FieldCreateDate:         stamp,
		metadata.FieldDateCreated:        inZone.Format("2006:01:02"),
		metadata.FieldTimeCreated:        inZone.Format("15:04:05") + offsetStr,
		metadata.FieldOffsetTimeOriginal: offsetStr,
	}, nil
}

// Pull updates one asset's catalog state from its original file's metadata.
//
// When the file yields both a datetime and an offset, the offset is written
// first: the catalog datetime is derived from the file's instant, and
// writing it against a stale offset would record the wrong wall clock if the
// offset write then failed. Offset-only and datetime-only files update just
// the field they carry. A file with no usable timestamp metadata is a no-op.
func (e *Engine) Pull(uuidStr string) error {
	if e.tool == nil {
		return ErrNoMetadataTool
	}
	asset, err := e.catalog.Asset(uuidStr)
	if err != nil {
		return err
	}
	if asset.Path == "" {
		return fmt.Errorf("%w: %s (%s)", ErrMissingFile, asset.Filename, uuidStr)
	}

	fields, err := e.tool.ReadMetadata(asset.Path)
	if err != nil {
		return fmt.Errorf("pull metadata for %s: %w", uuidStr, err)
	}
	info := metadata.Extract(fields)
	if !info.HasDateTime && !info.HasOffset {
		e.logger.WithFields(logrus.Fields{
			"uuid": uuidStr,
			"path": asset.Path,
		}).Info("no usable timestamp metadata in file, nothing to do")
		return nil
	}

	if info.HasOffset {
		tz := timezone.FromOffsetSeconds(info.Offset)
		if err := e.catalog.SetTimezone(uuidStr, tz); err != nil {
			return err
		}
	}

	if info.HasDateTime {
		var naive time.Time
		if info.HasOffset {
			// Offset-qualified file time: preserve the instant, store the
			// wall clock as read in the ambient local zone.
			naive = timeutils.StripZone(info.DateTime.UTC().In(time.Local))
		} else {
			// Naive file time: take the digits as they are.
			naive = timeutils.StripZone(info.DateTime)
		}
		if err := e.catalog.SetDate(uuidStr, naive); err != nil {
			return err
		}
	}

	e.logger.WithFields(logrus.Fields{
		"uuid":  uuidStr,
		"field": info.Field,
	}).Info("catalog updated from file metadata")
	return nil
}
