package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/heating-monitor/internal/alarming"
	"github.com/smukkama/heating-monitor/internal/timer"
)

const (
	AlarmTaskID     = "consumption-alarm"
	RetentionTaskID = "reading-retention"
)

// Checker runs one consumption alarm check
type Checker interface {
	Check(ctx context.Context) alarming.Outcome
}

// Purger deletes old readings once a day
type Purger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
	CalculateNextRunTime(timeOfDay string) (time.Time, error)
}

// ScheduleAlarmChecks runs the check after initialDelay and then every interval
func ScheduleAlarmChecks(tm *timer.TimerManager, checker Checker, initialDelay, interval time.Duration, log *zap.Logger) error {
	if err := tm.Every(AlarmTaskID, initialDelay, interval, func(ctx context.Context) {
		outcome := checker.Check(ctx)
		log.Debug("consumption alarm check finished", zap.String("outcome", string(outcome)))
	}); err != nil {
		return fmt.Errorf("failed to schedule alarm checks: %w", err)
	}
	log.Info("consumption alarm scheduled",
		zap.Duration("initial_delay", initialDelay),
		zap.Duration("interval", interval))
	return nil
}

// ScheduleRetention purges readings older than retention every day at timeOfDay ("HH:MM").
// Each run schedules the next one.
func ScheduleRetention(tm *timer.TimerManager, purger Purger, retention time.Duration, timeOfDay string, log *zap.Logger) error {
	var scheduleNext func() error
	scheduleNext = func() error {
		nextRun, err := purger.CalculateNextRunTime(timeOfDay)
		if err != nil {
			return fmt.Errorf("failed to calculate retention run time: %w", err)
		}
		log.Info("next retention run scheduled", zap.Time("at", nextRun))

		return tm.Schedule(RetentionTaskID, nextRun, func(ctx context.Context) {
			n, err := purger.Purge(ctx, retention)
			if err != nil {
				log.Error("retention run failed", zap.Error(err))
			} else {
				log.Info("old readings purged", zap.Int64("deleted", n), zap.Duration("retention", retention))
			}

			if err := scheduleNext(); err != nil {
				log.Error("failed to reschedule retention", zap.Error(err))
			}
		})
	}
	return scheduleNext()
}
