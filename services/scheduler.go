// services/scheduler.go
package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// ExpiredPurger drops expired rows from a TTL table (rate-limit counters).
type ExpiredPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

type SchedulerConfig struct {
	SweepInterval      time.Duration
	ReconcileInterval  time.Duration
	ReconcileBatchSize int
	PurgeInterval      time.Duration
}

// StartPipelineScheduler registers the periodic jobs: challenge completion
// sweep, reconciliation of unprocessed verified transactions, and rate-limit
// counter cleanup. Each job runs in singleton mode so a slow run is never
// overlapped by the next tick. Shut the returned scheduler down on exit.
func StartPipelineScheduler(ctx context.Context, cfg SchedulerConfig, sweeper *CompletionSweeper, processor *TransactionProcessor, purger ExpiredPurger) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}

	singleton := gocron.WithSingletonMode(gocron.LimitModeReschedule)

	// Close out challenges whose end date has passed
	if _, err := sched.NewJob(
		gocron.DurationJob(cfg.SweepInterval),
		gocron.NewTask(func() {
			res, err := sweeper.SweepExpired(ctx, time.Now())
			if err != nil {
				slog.Error("[Scheduler] completion sweep failed", "error", err)
				return
			}
			if res.ChallengesCompleted > 0 {
				slog.Info("✅ [Scheduler] completed challenges", "challenges", res.ChallengesCompleted, "participants", res.ParticipantsCompleted)
			}
		}),
		gocron.WithName("challenge-completion-sweep"),
		singleton,
	); err != nil {
		return nil, err
	}

	// Apply verified transactions whose processing never finished
	if _, err := sched.NewJob(
		gocron.DurationJob(cfg.ReconcileInterval),
		gocron.NewTask(func() {
			n, err := processor.ReprocessPending(ctx, cfg.ReconcileBatchSize)
			if err != nil {
				slog.Error("[Scheduler] reconciliation failed", "error", err)
				return
			}
			if n > 0 {
				slog.Info("✅ [Scheduler] reconciled transactions", "count", n)
			}
		}),
		gocron.WithName("transaction-reconciliation"),
		singleton,
	); err != nil {
		return nil, err
	}

	if purger != nil {
		if _, err := sched.NewJob(
			gocron.DurationJob(cfg.PurgeInterval),
			gocron.NewTask(func() {
				if _, err := purger.DeleteExpired(ctx); err != nil {
					slog.Warn("[Scheduler] rate-limit counter cleanup failed", "error", err)
				}
			}),
			gocron.WithName("rate-limit-cleanup"),
			singleton,
		); err != nil {
			return nil, err
		}
	}

	sched.Start()
	return sched, nil
}
