package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"timewarp/timezone"
)

// newBackOff builds the per-write retry policy: exponential from the
// configured initial interval, capped per attempt, bounded by the attempt
// ceiling rather than elapsed time.
func (l *Library) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.InitialRetryInterval
	b.MaxInterval = l.cfg.MaxRetryInterval
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(l.cfg.MaxWriteAttempts-1))
}

// SetTimezone updates an asset's stored offset-seconds and offset-name
// fields.
//
// Each attempt re-reads the row, computes version+1 relative to that read,
// and writes the new offset, name, and version back. No row lock is taken:
// the version bump is the only conflict signal, and any failure during the
// sequence restarts it from a fresh read. After the configured attempt
// ceiling the final error is surfaced; a successful write always leaves the
// version at exactly read-version+1 no matter how many attempts were
// consumed.
func (l *Library) SetTimezone(uuidStr string, tz timezone.Timezone) error {
	op := func() error {
		return l.setTimezoneOnce(uuidStr, tz)
	}
	if err := backoff.Retry(op, l.newBackOff()); err != nil {
		return fmt.Errorf("update timezone for %s: %w", uuidStr, err)
	}
	return nil
}

func (l *Library) setTimezoneOnce(uuidStr string, tz timezone.Timezone) error {
	query := fmt.Sprintf(`
		SELECT ZADDITIONALASSETATTRIBUTES.Z_PK AS Z_PK,
		       ZADDITIONALASSETATTRIBUTES.Z_OPT AS Z_OPT,
		       ZADDITIONALASSETATTRIBUTES.ZTIMEZONEOFFSET AS ZTIMEZONEOFFSET,
		       ZADDITIONALASSETATTRIBUTES.ZTIMEZONENAME AS ZTIMEZONENAME
		FROM ZADDITIONALASSETATTRIBUTES
		JOIN %[1]s
		  ON ZADDITIONALASSETATTRIBUTES.ZASSET = %[1]s.Z_PK
		WHERE %[1]s.ZUUID = ?`, l.assetTable)

	rows, err := l.db.Execute(query, uuidStr)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrAssetNotFound, uuidStr))
	}
	row := rows[0]

	pk := row.Int64("Z_PK")
	newOpt := row.Int64("Z_OPT") + 1

	update := fmt.Sprintf(
		`UPDATE ZADDITIONALASSETATTRIBUTES SET Z_OPT=%d, ZTIMEZONEOFFSET=%d, ZTIMEZONENAME='%s' WHERE Z_PK=%d`,
		newOpt, tz.Offset(), escapeSQLString(tz.Name()), pk,
	)
	if _, err := l.db.Execute(update); err != nil {
		return err
	}

	l.logger.WithFields(logrus.Fields{
		"uuid":        uuidStr,
		"from_offset": row.Int64("ZTIMEZONEOFFSET"),
		"from_name":   row.String("ZTIMEZONENAME"),
		"to_offset":   tz.Offset(),
		"to_name":     tz.Name(),
	}).Info("updated catalog timezone")
	return nil
}

// SetDate updates an asset's stored naive capture datetime, leaving the
// separately stored offset untouched. Same optimistic discipline as
// SetTimezone, against the asset table's own version counter.
func (l *Library) SetDate(uuidStr string, date time.Time) error {
	op := func() error {
		return l.setDateOnce(uuidStr, date)
	}
	if err := backoff.Retry(op, l.newBackOff()); err != nil {
		return fmt.Errorf("update datetime for %s: %w", uuidStr, err)
	}
	return nil
}

func (l *Library) setDateOnce(uuidStr string, date time.Time) error {
	query := fmt.Sprintf(
		`SELECT Z_PK AS Z_PK, Z_OPT AS Z_OPT, ZDATECREATED AS ZDATECREATED FROM %s WHERE ZUUID = ?`,
		l.assetTable,
	)
	rows, err := l.db.Execute(query, uuidStr)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrAssetNotFound, uuidStr))
	}
	row := rows[0]

	pk := row.Int64("Z_PK")
	newOpt := row.Int64("Z_OPT") + 1
	seconds := coreDataFromDate(date)

	update := fmt.Sprintf(
		`UPDATE %s SET Z_OPT=%d, ZDATECREATED=%.6f WHERE Z_PK=%d`,
		l.assetTable, newOpt, seconds, pk,
	)
	if _, err := l.db.Execute(update); err != nil {
		return err
	}

	l.logger.WithFields(logrus.Fields{
		"uuid": uuidStr,
		"from": dateFromCoreData(row.Float64("ZDATECREATED")).Format("2006-01-02 15:04:05"),
		"to":   date.Format("2006-01-02 15:04:05"),
	}).Info("updated catalog datetime")
	return nil
}

// escapeSQLString doubles single quotes for literal interpolation. Zone
// names come from the platform database but may still carry quotes on
// hand-rolled entries.
func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// IsNotFound reports whether err denotes a missing catalog row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAssetNotFound)
}
