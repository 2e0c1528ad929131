package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/breachrange/internal/cache"
	"github.com/charlesng35/breachrange/internal/monitoring"
	"github.com/charlesng35/breachrange/pkg/logger"
)

const (
	// CachePruneJob is the job name reported to monitoring.
	CachePruneJob = "cache_prune"

	defaultCachePruneSpec = "@hourly"
	defaultJobTimeout     = 5 * time.Minute
)

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) (int64, error)
}

// Cleaner runs background maintenance: purging cache rows that have outlived their
// stale-retention window and expired rate-limit counters.
type Cleaner struct {
	cron    *cron.Cron
	now     func() time.Time
	log     *zap.Logger
	timeout time.Duration
	jobs    []job

	pruneSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used to time job runs.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithCachePruneSchedule overrides the cron schedule for cache pruning.
func WithCachePruneSchedule(schedule string) Option {
	return func(cleaner *Cleaner) {
		if schedule != "" {
			cleaner.pruneSchedule = schedule
		}
	}
}

// WithJobTimeout bounds each job run.
func WithJobTimeout(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.timeout = d
		}
	}
}

// NewCleaner constructs a Cleaner. A nil pruner (for example the Redis backend, which
// expires keys natively) leaves the cleaner with nothing to schedule.
func NewCleaner(pruner cache.Pruner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		now:           time.Now,
		timeout:       defaultJobTimeout,
		pruneSchedule: defaultCachePruneSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	if pruner != nil {
		cleaner.jobs = append(cleaner.jobs, job{
			name:     CachePruneJob,
			schedule: cleaner.pruneSchedule,
			run:      pruner.Prune,
		})
	}

	return cleaner
}

// Enabled reports whether any job is configured.
func (c *Cleaner) Enabled() bool {
	return len(c.jobs) > 0
}

// Start registers jobs with the cron scheduler and launches it if at least one job is configured.
func (c *Cleaner) Start() error {
	if !c.Enabled() {
		return nil
	}

	for _, j := range c.jobs {
		if _, err := c.cron.AddFunc(j.schedule, func() {
			if err := c.execute(context.Background(), j); err != nil {
				c.log.Warn("maintenance job failed", zap.String("job", j.name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s: %w", j.name, err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every job sequentially. Used by tests and the prune CLI command.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, j := range c.jobs {
		errs = multierr.Append(errs, c.execute(ctx, j))
	}
	return errs
}

func (c *Cleaner) execute(ctx context.Context, j job) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := c.now()
	removed, err := j.run(ctx)
	elapsed := c.now().Sub(start)

	if err != nil {
		monitoring.RecordMaintenanceRun(j.name, "failure", err.Error(), elapsed)
		return fmt.Errorf("%s: %w", j.name, err)
	}

	monitoring.RecordMaintenanceRun(j.name, "success", "", elapsed)
	c.log.Debug("maintenance job completed",
		zap.String("job", j.name),
		zap.Int64("removed", removed),
		zap.Duration("duration", elapsed),
	)
	return nil
}
