// Package janitor periodically removes old uploads and processed files.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ayusman/ewaste/internal/store"
)

// Default schedule.
const (
	DefaultInterval = 15 * time.Minute
	DefaultMaxAge   = time.Hour
)

// Index lists and forgets recorded uploads.
type Index interface {
	ListOlderThan(cutoff time.Time) ([]*store.Upload, error)
	Delete(fileID string) error
}

// Config controls what is cleaned and how often.
type Config struct {
	Dirs     []string
	Interval time.Duration
	MaxAge   time.Duration
	Clock    clock.Clock
}

// Janitor deletes files and upload records older than MaxAge.
type Janitor struct {
	config    Config
	index     Index
	logger    *zap.Logger
	scheduler gocron.Scheduler

	mu      sync.Mutex
	started bool
}

// New returns a stopped Janitor. index may be nil.
func New(config Config, index Index, logger *zap.Logger) (*Janitor, error) {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultMaxAge
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Janitor{config: config, index: index, logger: logger, scheduler: scheduler}, nil
}

// Start schedules the cleanup job every Interval.
func (j *Janitor) Start() error {
	job, err := j.scheduler.NewJob(
		gocron.DurationJob(j.config.Interval),
		gocron.NewTask(func() {
			if _, err := j.RunOnce(context.Background()); err != nil {
				j.logger.Error("cleanup failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}

	j.logger.Info("scheduled cleanup",
		zap.Stringer("job", job.ID()),
		zap.Duration("interval", j.config.Interval),
		zap.Duration("max_age", j.config.MaxAge),
	)
	j.mu.Lock()
	j.started = true
	j.mu.Unlock()

	j.scheduler.Start()
	return nil
}

// Shutdown stops the scheduler and waits for a running job. It is a no-op
// if Start was never called.
func (j *Janitor) Shutdown() error {
	j.mu.Lock()
	started := j.started
	j.started = false
	j.mu.Unlock()

	if !started {
		return nil
	}
	return j.scheduler.Shutdown()
}

// RunOnce removes expired files and records and returns how many files were
// deleted. Individual failures are logged and collected.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	cutoff := j.config.Clock.Now().Add(-j.config.MaxAge)
	removed := 0
	var errs error

	for _, dir := range j.config.Dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = multierr.Append(errs, err)
			}
			continue
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return removed, multierr.Append(errs, err)
			}
			if entry.IsDir() {
				continue
			}

			path := filepath.Join(dir, entry.Name())
			info, err := entry.Info()
			if err != nil {
				j.logger.Error("error checking file", zap.String("path", path), zap.Error(err))
				errs = multierr.Append(errs, err)
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}

			if err := os.Remove(path); err != nil {
				j.logger.Error("error removing file", zap.String("path", path), zap.Error(err))
				errs = multierr.Append(errs, err)
				continue
			}
			removed++
			j.logger.Info("removed old file", zap.String("path", path))
		}
	}

	if j.index != nil {
		errs = multierr.Append(errs, j.forgetUploads(cutoff))
	}

	return removed, errs
}

func (j *Janitor) forgetUploads(cutoff time.Time) error {
	uploads, err := j.index.ListOlderThan(cutoff)
	if err != nil {
		return fmt.Errorf("failed to list old uploads: %w", err)
	}

	var errs error
	for _, u := range uploads {
		for _, path := range []string{u.UploadPath, u.ProcessedPath} {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = multierr.Append(errs, err)
			}
		}
		if err := j.index.Delete(u.FileID); err != nil && !errors.Is(err, store.ErrNotFound) {
			errs = multierr.Append(errs, err)
		}
	}
	if len(uploads) > 0 {
		j.logger.Info("forgot old uploads", zap.Int("count", len(uploads)))
	}
	return errs
}
