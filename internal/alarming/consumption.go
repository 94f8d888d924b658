package alarming

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/heating-monitor/internal/metrics"
)

// DefaultThresholdKwh is the daily consumption above which an alarm is sent
const DefaultThresholdKwh = 12.0

// ConsumptionSource supplies the energy consumed on a calendar day
type ConsumptionSource interface {
	DailyKwh(ctx context.Context, day time.Time) (float64, error)
}

// Alarm describes an exceeded daily consumption
type Alarm struct {
	Day          string
	CurrentKwh   float64
	ThresholdKwh float64
	TriggeredAt  time.Time
}

// OverKwh is the amount above the threshold
func (a Alarm) OverKwh() float64 {
	return a.CurrentKwh - a.ThresholdKwh
}

// Notifier delivers an alarm. It returns false when the alarm was not delivered,
// including when the channel is not configured.
type Notifier interface {
	Send(ctx context.Context, alarm Alarm) bool
}

// Outcome is the result of a single check
type Outcome string

const (
	OutcomeInProgress      Outcome = "in_progress"
	OutcomeAlreadyNotified Outcome = "already_notified"
	OutcomeBelowThreshold  Outcome = "below_threshold"
	OutcomeSent            Outcome = "sent"
	OutcomeSendFailed      Outcome = "send_failed"
	OutcomeError           Outcome = "error"
)

// ConsumptionAlarm sends at most one notification per calendar day when the daily
// consumption exceeds the threshold
type ConsumptionAlarm struct {
	source    ConsumptionSource
	notifier  Notifier
	threshold float64
	location  *time.Location
	now       func() time.Time
	log       *zap.Logger
	metrics   *metrics.Metrics
	state     *DedupState
	running   atomic.Bool
}

// Option configures a ConsumptionAlarm
type Option func(*ConsumptionAlarm)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(a *ConsumptionAlarm) { a.now = now }
}

// WithLocation sets the time zone that defines a calendar day
func WithLocation(loc *time.Location) Option {
	return func(a *ConsumptionAlarm) { a.location = loc }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(a *ConsumptionAlarm) { a.log = log }
}

// WithMetrics records check outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *ConsumptionAlarm) { a.metrics = m }
}

// NewConsumptionAlarm creates an engine with its own dedup state.
// A non-positive threshold falls back to DefaultThresholdKwh.
func NewConsumptionAlarm(source ConsumptionSource, notifier Notifier, thresholdKwh float64, opts ...Option) *ConsumptionAlarm {
	if thresholdKwh <= 0 {
		thresholdKwh = DefaultThresholdKwh
	}
	a := &ConsumptionAlarm{
		source:    source,
		notifier:  notifier,
		threshold: thresholdKwh,
		location:  time.Local,
		now:       time.Now,
		log:       zap.NewNop(),
		state:     &DedupState{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ThresholdKwh returns the configured threshold
func (a *ConsumptionAlarm) ThresholdKwh() float64 {
	return a.threshold
}

// Check evaluates today's consumption and notifies once per day. Errors are logged
// and reported through the outcome; the next check retries independently.
func (a *ConsumptionAlarm) Check(ctx context.Context) Outcome {
	if !a.running.CompareAndSwap(false, true) {
		a.log.Warn("consumption check still running, skipping")
		return a.finish(OutcomeInProgress)
	}
	defer a.running.Store(false)

	now := a.now().In(a.location)
	day := now.Format(dayLayout)

	if a.state.AlreadySent(day) {
		a.log.Info("consumption check: already notified today, skipping", zap.String("day", day))
		return a.finish(OutcomeAlreadyNotified)
	}

	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.location)
	kwh, err := a.source.DailyKwh(ctx, startOfDay)
	if err != nil {
		a.log.Error("consumption check failed", zap.String("day", day), zap.Error(err))
		return a.finish(OutcomeError)
	}
	a.metrics.SetDailyKwh(kwh)

	a.log.Info("daily consumption",
		zap.String("day", day),
		zap.Float64("kwh", kwh),
		zap.Float64("threshold_kwh", a.threshold))

	if kwh <= a.threshold {
		a.state.recordCheck(day, DayStateBelowThreshold, kwh, now)
		return a.finish(OutcomeBelowThreshold)
	}

	alarm := Alarm{
		Day:          day,
		CurrentKwh:   kwh,
		ThresholdKwh: a.threshold,
		TriggeredAt:  now,
	}
	a.log.Warn("daily consumption above threshold, sending notification",
		zap.Float64("kwh", kwh),
		zap.Float64("over_kwh", alarm.OverKwh()))

	if !a.notifier.Send(ctx, alarm) {
		a.state.recordCheck(day, DayStateAboveNotSent, kwh, now)
		a.log.Warn("consumption alarm not delivered, will retry on next check", zap.String("day", day))
		return a.finish(OutcomeSendFailed)
	}

	a.state.MarkSent(day)
	a.state.recordCheck(day, DayStateSent, kwh, now)
	a.metrics.IncAlarmSent()
	a.log.Info("consumption alarm delivered", zap.String("day", day))
	return a.finish(OutcomeSent)
}

func (a *ConsumptionAlarm) finish(outcome Outcome) Outcome {
	a.metrics.IncAlarmCheck(string(outcome))
	return outcome
}

// Reset clears the dedup state
func (a *ConsumptionAlarm) Reset() {
	a.state.Reset()
	a.log.Info("consumption alarm state reset")
}

// Status returns the dedup state for today
func (a *ConsumptionAlarm) Status() Snapshot {
	day := a.now().In(a.location).Format(dayLayout)
	snap := a.state.snapshot(day)
	snap.ThresholdKwh = a.threshold
	return snap
}
