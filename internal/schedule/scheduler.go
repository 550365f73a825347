package schedule

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// CronScheduler runs jobs on standard five-field cron specs. A run that is
// still in progress when its next tick fires makes that tick a no-op.
type CronScheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
}

// NewCronScheduler creates a stopped scheduler.
func NewCronScheduler() *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &CronScheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
	}
}

// AddJob registers job under spec.
func (c *CronScheduler) AddJob(job Job, spec string) error {
	entryID, err := c.cron.AddFunc(spec, c.wrap(job, spec))
	if err != nil {
		slog.Error("schedule job failed", "job", job.Name(), "spec", spec, "error", err)
		return err
	}
	c.entries[job.Name()] = entryID
	slog.Info("job scheduled", "job", job.Name(), "spec", spec)
	return nil
}

// Start begins firing jobs; ctx is handed to every run.
func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx = ctx
	c.cron.Start()
}

// Stop prevents new runs and waits for running ones.
func (c *CronScheduler) Stop() {
	<-c.cron.Stop().Done()
}

func (c *CronScheduler) wrap(job Job, spec string) func() {
	var running atomic.Bool
	return func() {
		if !running.CompareAndSwap(false, true) {
			slog.Info("job skipped: still running", "job", job.Name(), "spec", spec)
			return
		}
		defer running.Store(false)

		ctx := c.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		start := time.Now()
		slog.Info("job started", "job", job.Name())
		if err := job.Run(ctx); err != nil {
			slog.Error("job finished", "job", job.Name(), "error", err, "duration", time.Since(start))
			return
		}
		slog.Info("job finished", "job", job.Name(), "duration", time.Since(start))
	}
}
