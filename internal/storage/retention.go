/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MPR2023/VoiceGuardian/internal/logging"
)

// RetentionJob periodically deletes analyses older than the retention
// window. Flags go with them through the foreign key cascade.
type RetentionJob struct {
	store    *AnalysisEventsStore
	days     int
	interval time.Duration
}

// NewRetentionJob creates a cleanup job. days <= 0 disables cleanup.
func NewRetentionJob(store *AnalysisEventsStore, days int, interval time.Duration) *RetentionJob {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &RetentionJob{store: store, days: days, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping on every interval tick.
// The first sweep happens immediately.
func (j *RetentionJob) Run(ctx context.Context) {
	if j.days <= 0 {
		return
	}

	j.sweep()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

// Sweep runs one cleanup pass and returns the number of removed analyses
func (j *RetentionJob) Sweep() (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -j.days)
	return j.store.DeleteOlderThan(cutoff)
}

func (j *RetentionJob) sweep() {
	removed, err := j.Sweep()
	if err != nil {
		logging.LogError(err, "Retention cleanup failed")
		return
	}
	if removed > 0 {
		logging.LogDatabaseOperation("retention_cleanup", "analysis_events",
			zap.Int64("removed", removed),
			zap.Int("retention_days", j.days),
		)
	}
}
