// Package maintenance runs the periodic housekeeping jobs of a long-lived
// orchestrator process: sweeping idle rate-limiter windows and purging
// expired audit records.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/canopyhq/graphpilot/internal/audit"
	"github.com/canopyhq/graphpilot/internal/ratelimit"
)

const (
	// sweepSchedule runs the limiter sweep at the top of every hour.
	sweepSchedule = "0 * * * *"
	// purgeSchedule runs the audit purge daily at 03:00.
	purgeSchedule = "0 3 * * *"
)

// Config configures the scheduler.
type Config struct {
	// AuditRetentionDays is the purge cutoff. Zero disables the purge job.
	AuditRetentionDays int
	// Logger for job outcomes.
	Logger *slog.Logger
}

// Scheduler owns the cron runner. Jobs are registered at construction
// and run until Stop.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// New builds a scheduler over the given limiter and audit logger. Either
// may be nil, which skips its job.
func New(cfg Config, limiter *ratelimit.Limiter, auditor *audit.Logger) (*Scheduler, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Scheduler{
		cron:   cron.New(),
		logger: cfg.Logger,
	}

	if limiter != nil {
		if _, err := s.cron.AddFunc(sweepSchedule, func() {
			removed := limiter.Sweep()
			if removed > 0 {
				s.logger.Debug("rate limiter sweep", "removed_keys", removed)
			}
		}); err != nil {
			return nil, err
		}
	}

	if auditor != nil && cfg.AuditRetentionDays > 0 {
		retention := cfg.AuditRetentionDays
		if _, err := s.cron.AddFunc(purgeSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			purged, err := auditor.PurgeOlderThan(ctx, retention)
			if err != nil {
				s.logger.Error("audit purge failed", "error", err)
				return
			}
			if purged > 0 {
				s.logger.Info("audit purge", "purged_records", purged, "retention_days", retention)
			}
		}); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Start launches the cron runner in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
