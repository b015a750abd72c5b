// Package perf provides performance measurement utilities for batch
// processing runs.
package perf

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Timer tracks operation timing for performance analysis.
type Timer struct {
	name      string
	startTime time.Time
	logger    logrus.FieldLogger
}

// Start begins timing an operation.
func Start(name string, logger logrus.FieldLogger) *Timer {
	return &Timer{
		name:      name,
		startTime: time.Now(),
		logger:    logger,
	}
}

// Stop ends timing and logs the duration.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.startTime)
	if t.logger != nil {
		t.logger.WithFields(logrus.Fields{
			"operation":   t.name,
			"duration_ms": duration.Milliseconds(),
		}).Info("operation completed")
	}
	return duration
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	duration := time.Since(t.startTime)
	fields := logrus.Fields{
		"operation":   t.name,
		"duration_ms": duration.Milliseconds(),
	}
	if t.logger != nil {
		if duration > threshold {
			t.logger.WithFields(fields).Warn("operation exceeded threshold")
		} else {
			t.logger.WithFields(fields).Debug("operation completed")
		}
	}
	return duration
}

// BatchMetrics tracks timing and outcome counts for one batch run.
type BatchMetrics struct {
	mu sync.Mutex

	TotalDuration time.Duration

	// Per-asset outcome counts
	AssetCount   int
	FailedCount  int
	SkippedCount int
}

// NewBatchMetrics creates a new metrics tracker.
func NewBatchMetrics() *BatchMetrics {
	return &BatchMetrics{}
}

// RecordAsset records one processed asset's outcome.
func (m *BatchMetrics) RecordAsset(failed, skipped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AssetCount++
	if failed {
		m.FailedCount++
	}
	if skipped {
		m.SkippedCount++
	}
}

// Summary returns a formatted summary of the metrics.
func (m *BatchMetrics) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var perAsset time.Duration
	if m.AssetCount > 0 {
		perAsset = m.TotalDuration / time.Duration(m.AssetCount)
	}

	return fmt.Sprintf(`
=== Batch Performance Metrics ===
Total Duration:        %v

Assets:
  Processed:           %d
  Failed:              %d
  Skipped:             %d
  Avg per asset:       %v
`,
		m.TotalDuration,
		m.AssetCount,
		m.FailedCount,
		m.SkippedCount,
		perAsset,
	)
}
