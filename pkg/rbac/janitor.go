package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// Janitor runs scheduled cache maintenance: expired-entry purges and full warmups
type Janitor struct {
	cron          *cron.Cron
	checker       *PermissionChecker
	logger        *observability.Logger
	warmupTimeout time.Duration
}

// NewJanitor creates a janitor with no jobs scheduled
func NewJanitor(checker *PermissionChecker, logger *observability.Logger) *Janitor {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Janitor{
		cron:          cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		checker:       checker,
		logger:        logger.WithField("component", "permission_cache_janitor"),
		warmupTimeout: time.Minute,
	}
}

// SchedulePurge purges expired entries on a cron schedule. An empty spec is a no-op.
func (j *Janitor) SchedulePurge(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := j.cron.AddFunc(spec, func() { j.RunPurge() }); err != nil {
		return fmt.Errorf("failed to schedule cache purge: %w", err)
	}
	return nil
}

// ScheduleWarmup warms the cache for every user on a cron schedule, each run bounded
// by timeout. An empty spec is a no-op.
func (j *Janitor) ScheduleWarmup(spec string, timeout time.Duration) error {
	if spec == "" {
		return nil
	}
	if timeout > 0 {
		j.warmupTimeout = timeout
	}
	_, err := j.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.warmupTimeout)
		defer cancel()
		j.RunWarmup(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule cache warmup: %w", err)
	}
	return nil
}

// RunPurge purges expired entries now
func (j *Janitor) RunPurge() CacheStatistics {
	defer observability.RecoverPanic(j.logger, "cache purge")

	stats := j.checker.CacheStatistics()
	if stats.ExpiredPurged > 0 {
		j.logger.WithFields(map[string]interface{}{
			"purged": stats.ExpiredPurged,
			"active": stats.ActiveEntries,
		}).Debug("purged expired permission cache entries")
	}
	return stats
}

// RunWarmup warms the cache for every user now
func (j *Janitor) RunWarmup(ctx context.Context) {
	defer observability.RecoverPanic(j.logger, "cache warmup")

	if _, err := j.checker.WarmupCache(ctx, WarmupCriteria{}); err != nil {
		j.logger.WithError(err).Warn("scheduled permission cache warmup failed")
	}
}

// Start starts the scheduler in the background
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
