package core

// scheduler.go provides background maintenance of persisted runs.
//
// The retention job deletes finished runs older than the retention period.
// It is long-running and context-aware for graceful shutdown; a failed
// cycle is logged and retried on the next tick.

import (
	"context"
	"log/slog"
	"time"
)

// RetentionConfig holds configuration for the retention scheduler.
// Zero values select the defaults.
type RetentionConfig struct {
	Days          int           // Days to keep finished runs (default: 90)
	CheckInterval time.Duration // How often to run (default: 24h)
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	if c.Days <= 0 {
		c.Days = 90
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 24 * time.Hour
	}
	return c
}

// StartRetentionScheduler runs the retention job immediately, then every
// CheckInterval, until ctx is cancelled.
func (s *Service) StartRetentionScheduler(ctx context.Context, cfg RetentionConfig) {
	if s.runs == nil {
		return
	}
	cfg = cfg.withDefaults()
	slog.Info("retention scheduler started",
		"retention_days", cfg.Days,
		"check_interval", cfg.CheckInterval,
	)

	s.runRetentionJob(ctx, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention scheduler stopped")
			return
		case <-ticker.C:
			s.runRetentionJob(ctx, cfg)
		}
	}
}

// runRetentionJob performs one purge cycle.
func (s *Service) runRetentionJob(ctx context.Context, cfg RetentionConfig) {
	start := time.Now()
	cutoff := start.AddDate(0, 0, -cfg.Days)

	deleted, err := s.runs.DeleteRunsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("run retention failed", "error", err)
		return
	}
	slog.Info("purged old import runs",
		"runs_deleted", deleted,
		"cutoff", cutoff.Format(time.DateOnly),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
