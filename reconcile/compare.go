package reconcile

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"timewarp/metadata"
	"timewarp/timeutils"
	"timewarp/timezone"
)

// Comparison styling
var (
	matchStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#28A745")) // Green
	diffStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#DC3545")) // Red
)

// ExifDiff compares one asset's catalog date/time/offset against the values
// carried by its original file. Empty file-side fields mean the file is
// missing or carries no usable value.
type ExifDiff struct {
	Differs bool

	CatalogDate   string
	CatalogTime   string
	CatalogOffset string

	FileDate   string
	FileTime   string
	FileOffset string
}

// Compare reads both sides for one asset. A missing original is not an
// error; the file side comes back empty and Differs is set.
func (e *Engine) Compare(uuidStr string) (*ExifDiff, error) {
	if e.tool == nil {
		return nil, ErrNoMetadataTool
	}
	asset, err := e.catalog.Asset(uuidStr)
	if err != nil {
		return nil, err
	}

	inZone := timeutils.ToOffset(timeutils.NaiveToLocal(asset.Date), asset.TimezoneOffset)
	d := &ExifDiff{
		CatalogDate: inZone.Format("2006-01-02"),
		CatalogTime: inZone.Format("15:04:05"),
	}
	if s, err := timezone.FormatOffset(asset.TimezoneOffset); err == nil {
		d.CatalogOffset = s
	}

	if asset.Path != "" {
		fields, err := e.tool.ReadMetadata(asset.Path)
		if err != nil {
			return nil, fmt.Errorf("compare metadata for %s: %w", uuidStr, err)
		}
		info := metadata.Extract(fields)
		if info.HasDateTime {
			d.FileDate = info.DateTime.Format("2006-01-02")
			d.FileTime = info.DateTime.Format("15:04:05")
		}
		if info.HasOffset {
			if s, err := timezone.FormatOffset(info.Offset); err == nil {
				d.FileOffset = s
			}
		}
	}

	d.Differs = d.CatalogDate != d.FileDate ||
		d.CatalogTime != d.FileTime ||
		d.CatalogOffset != d.FileOffset
	return d, nil
}

// Markup returns a copy with each field pair rendered green when the two
// sides agree and red when they differ.
func (d *ExifDiff) Markup() *ExifDiff {
	out := *d
	out.CatalogDate, out.FileDate = markupPair(d.CatalogDate, d.FileDate)
	out.CatalogTime, out.FileTime = markupPair(d.CatalogTime, d.FileTime)
	out.CatalogOffset, out.FileOffset = markupPair(d.CatalogOffset, d.FileOffset)
	return &out
}

func markupPair(a, b string) (string, string) {
	if a != b {
		return diffStyle.Render(a), diffStyle.Render(b)
	}
	return matchStyle.Render(a), matchStyle.Render(b)
}
