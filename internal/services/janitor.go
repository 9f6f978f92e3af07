package services

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// RunPurger deletes run history older than a cutoff
type RunPurger interface {
	CleanupRuns(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Janitor removes leftovers from interrupted runs: stale run directories,
// orphaned page images and expired run history.
type Janitor struct {
	dirs      []string
	maxAge    time.Duration
	runs      RunPurger
	retention time.Duration
	log       *logrus.Logger
}

// NewJanitor creates a janitor for the given directories. runs may be nil.
func NewJanitor(dirs []string, maxAge time.Duration, runs RunPurger, retention time.Duration, log *logrus.Logger) *Janitor {
	return &Janitor{dirs: dirs, maxAge: maxAge, runs: runs, retention: retention, log: log}
}

// Sweep removes entries older than maxAge and purges expired history.
// Failures are logged and do not stop the sweep.
func (j *Janitor) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-j.maxAge)
	removed := 0

	for _, dir := range j.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				j.log.WithError(err).WithField("dir", dir).Warn("Janitor could not read directory")
			}
			continue
		}
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				j.log.WithError(err).WithField("path", path).Warn("Janitor failed to remove stale entry")
				continue
			}
			removed++
		}
	}

	if j.runs != nil && j.retention > 0 {
		purged, err := j.runs.CleanupRuns(ctx, j.retention)
		if err != nil {
			j.log.WithError(err).Warn("Failed to purge expired run history")
		} else if purged > 0 {
			j.log.WithField("runs", purged).Info("Purged expired run history")
		}
	}

	if removed > 0 {
		j.log.WithField("entries", removed).Info("Removed stale working files")
	}
	return removed
}
