package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Gate bounds how many OCR calls run at once. With a single slot and a
// lock file configured, the slot is also held across processes that
// share the same device.
type Gate struct {
	sem  *semaphore.Weighted
	lock *flock.Flock
	log  *logrus.Logger
}

// NewGate creates a gate admitting up to concurrency calls
func NewGate(concurrency int, lockFile string, log *logrus.Logger) (*Gate, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	g := &Gate{
		sem: semaphore.NewWeighted(int64(concurrency)),
		log: log,
	}
	if concurrency == 1 && lockFile != "" {
		if err := os.MkdirAll(filepath.Dir(lockFile), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create lock directory: %w", err)
		}
		g.lock = flock.New(lockFile)
	}
	return g, nil
}

// Acquire blocks until a slot is free or ctx is done. The returned
// function releases the slot.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	if g.lock != nil {
		locked, err := g.lock.TryLockContext(ctx, 100*time.Millisecond)
		if err != nil || !locked {
			g.sem.Release(1)
			if err == nil {
				err = ctx.Err()
			}
			return nil, fmt.Errorf("failed to acquire OCR lock: %w", err)
		}
	}

	return func() {
		if g.lock != nil {
			if err := g.lock.Unlock(); err != nil {
				g.log.WithError(err).Warn("Failed to release OCR lock")
			}
		}
		g.sem.Release(1)
	}, nil
}
