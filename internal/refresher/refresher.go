// Package refresher keeps the snapshot cache warm on a cron schedule.
package refresher

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
)

// Job is the work done on every tick
type Job interface {
	RefreshSnapshots(ctx context.Context, groups []string, statDate string) error
	PruneSnapshots(retention time.Duration) (int64, error)
	Today(layout string) string
}

// Options configures a Refresher
type Options struct {
	Schedule   string // Standard 5-field cron spec
	Groups     []string
	DateLayout string
	Retention  time.Duration
	Logger     *log.Logger
}

// Refresher refetches the configured groups for today's stat date and prunes
// old snapshots.
type Refresher struct {
	job  Job
	opts Options
}

// New creates a Refresher
func New(job Job, opts Options) *Refresher {
	if opts.Schedule == "" {
		opts.Schedule = "0 * * * *"
	}
	if opts.DateLayout == "" {
		opts.DateLayout = "2006-01-02"
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Refresher{job: job, opts: opts}
}

// RunOnce refreshes every group once and prunes expired snapshots.
func (r *Refresher) RunOnce(ctx context.Context) error {
	statDate := r.job.Today(r.opts.DateLayout)
	refreshErr := r.job.RefreshSnapshots(ctx, r.opts.Groups, statDate)

	if r.opts.Retention > 0 {
		if _, err := r.job.PruneSnapshots(r.opts.Retention); err != nil {
			r.opts.Logger.Warn("Failed to prune snapshots", "err", err)
		}
	}
	return refreshErr
}

// Run refreshes immediately, then on every scheduled tick until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	if len(r.opts.Groups) == 0 {
		r.opts.Logger.Warn("No groups configured, refresher has nothing to do")
	}

	if err := r.RunOnce(ctx); err != nil {
		r.opts.Logger.Warn("Initial refresh failed", "err", err)
	}

	c := cron.New()
	if _, err := c.AddFunc(r.opts.Schedule, func() {
		if err := r.RunOnce(ctx); err != nil {
			r.opts.Logger.Warn("Scheduled refresh failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to set up cron job: %w", err)
	}

	r.opts.Logger.Info("Refresher scheduled", "schedule", r.opts.Schedule, "groups", len(r.opts.Groups))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
