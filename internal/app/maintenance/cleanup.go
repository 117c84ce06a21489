package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/robotdesk/internal/monitoring"
	"github.com/charlesng35/robotdesk/pkg/logger"
)

const (
	defaultCallLogRetentionDays = 30
	defaultCacheSchedule        = "@hourly"
	defaultCallLogSchedule      = "@daily"

	CachePurgeJob       = "cache_purge"
	CallLogRetentionJob = "call_log_retention"
)

// CachePurger removes expired entries from the database-backed cache.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// CallLogPurger removes robot call log entries older than a cutoff.
type CallLogPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cleaner coordinates background maintenance: purging expired cache rows and
// pruning robot call history. Verification tokens and robot credentials are
// never touched here; their state is owned by the services.
type Cleaner struct {
	cache     CachePurger
	callLogs  CallLogPurger
	cron      *cron.Cron
	clock     clockwork.Clock
	jobs      *monitoring.JobTracker
	log       *zap.Logger
	retention int

	cacheSchedule   string
	callLogSchedule string
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

// WithClock overrides the clock used for retention cutoffs.
func WithClock(clock clockwork.Clock) Option {
	return func(cleaner *Cleaner) {
		if clock != nil {
			cleaner.clock = clock
		}
	}
}

// WithJobTracker reports every run to tracker for readiness probes.
func WithJobTracker(tracker *monitoring.JobTracker) Option {
	return func(cleaner *Cleaner) {
		cleaner.jobs = tracker
	}
}

// WithCallLogRetentionDays adjusts how long call logs are kept.
func WithCallLogRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithCacheSchedule overrides the cron schedule for cache purging.
func WithCacheSchedule(expr string) Option {
	return func(cleaner *Cleaner) {
		if expr != "" {
			cleaner.cacheSchedule = expr
		}
	}
}

// WithCallLogSchedule overrides the cron schedule for call log retention.
func WithCallLogSchedule(expr string) Option {
	return func(cleaner *Cleaner) {
		if expr != "" {
			cleaner.callLogSchedule = expr
		}
	}
}

// NewCleaner constructs a Cleaner. A nil purger disables the corresponding job.
func NewCleaner(cache CachePurger, callLogs CallLogPurger, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		cache:           cache,
		callLogs:        callLogs,
		clock:           clockwork.NewRealClock(),
		retention:       defaultCallLogRetentionDays,
		cacheSchedule:   defaultCacheSchedule,
		callLogSchedule: defaultCallLogSchedule,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

func (c *Cleaner) enabled() bool {
	return c.cache != nil || c.callLogs != nil
}

// Start registers the cleanup jobs and launches the scheduler if at least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled() {
		return nil
	}

	if c.cache != nil {
		c.jobs.Register(CachePurgeJob)
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			if _, err := c.purgeCache(context.Background()); err != nil {
				c.log.Warn("cache purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.callLogs != nil {
		c.jobs.Register(CallLogRetentionJob)
		if _, err := c.cron.AddFunc(c.callLogSchedule, func() {
			if _, err := c.purgeCallLogs(context.Background()); err != nil {
				c.log.Warn("call log purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the scheduler. The returned context is done once running jobs complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every enabled cleanup routine sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if c.cache != nil {
		if _, err := c.purgeCache(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if c.callLogs != nil {
		if _, err := c.purgeCallLogs(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (c *Cleaner) purgeCache(ctx context.Context) (int64, error) {
	start := c.clock.Now()
	removed, err := c.cache.PurgeExpired(ctx)
	c.jobs.RecordRun(CachePurgeJob, err, c.clock.Since(start))
	if err != nil {
		return 0, fmt.Errorf("purge cache: %w", err)
	}
	if removed > 0 {
		c.log.Debug("purged expired rate counters", zap.Int64("count", removed))
	}
	return removed, nil
}

func (c *Cleaner) purgeCallLogs(ctx context.Context) (int64, error) {
	cutoff := c.clock.Now().AddDate(0, 0, -c.retention)
	start := c.clock.Now()
	removed, err := c.callLogs.PurgeBefore(ctx, cutoff)
	c.jobs.RecordRun(CallLogRetentionJob, err, c.clock.Since(start))
	if err != nil {
		return 0, fmt.Errorf("purge call logs: %w", err)
	}
	if removed > 0 {
		c.log.Info("pruned robot call logs", zap.Int64("count", removed), zap.Time("cutoff", cutoff))
	}
	return removed, nil
}
