package service

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"layerlex/internal/config"
	"layerlex/internal/watcher"
)

// Reloadable is anything that can rebuild its snapshot on demand
type Reloadable interface {
	Reload(ctx context.Context, trigger string) (*ReloadSummary, error)
}

// Reloader triggers reloads on a cron schedule and on source file changes
type Reloader struct {
	target Reloadable
	cfg    config.ReloadConfig
	files  []string
	log    logrus.FieldLogger

	cron    *cron.Cron
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	watcher *watcher.Watcher
}

// NewReloader creates a reloader for target. files are watched when
// cfg.Watch is set.
func NewReloader(target Reloadable, cfg config.ReloadConfig, files []string, logger logrus.FieldLogger) *Reloader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reloader{
		target: target,
		cfg:    cfg,
		files:  files,
		log:    logger,
	}
}

// Start schedules the cron job and starts the file watcher. Neither is
// started when the configuration disables it.
func (r *Reloader) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	if r.cfg.Schedule != "" {
		r.cron = cron.New()
		_, err := r.cron.AddFunc(r.cfg.Schedule, func() {
			r.reload(ctx, TriggerCron)
		})
		if err != nil {
			cancel()
			return errors.Wrapf(err, "schedule reload %q", r.cfg.Schedule)
		}
		r.cron.Start()
		r.log.WithField("schedule", r.cfg.Schedule).Info("Scheduled pattern reload")
	}

	if r.cfg.Watch && len(r.files) > 0 {
		r.watcher = watcher.New(r.files, func(path string) {
			r.reload(ctx, TriggerWatch)
		}).WithDebounce(r.cfg.Debounce.Duration()).WithLogger(r.log)

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.log.WithError(err).Error("File watcher stopped")
			}
		}()
	}
	return nil
}

// Watching returns the file watcher, or nil when watching is disabled
func (r *Reloader) Watching() *watcher.Watcher {
	return r.watcher
}

// Stop cancels pending reloads and waits for running ones to finish
func (r *Reloader) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
	r.wg.Wait()
	r.log.Info("Pattern reloader stopped")
}

func (r *Reloader) reload(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	// Reload logs and reports its own failures
	_, _ = r.target.Reload(ctx, trigger)
}
