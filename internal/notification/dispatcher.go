package notification

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smukkama/heating-monitor/internal/protocol"
	"github.com/smukkama/heating-monitor/internal/queue"
)

const (
	DefaultMaxAttempts = 5
	DefaultBackoff     = 2 * time.Second
)

// AlarmSender delivers one alarm notification
type AlarmSender interface {
	SendConsumptionAlarm(ctx context.Context, notification *protocol.AlarmNotification) error
}

// Dispatcher consumes the alarm topic and hands each notification to the sender.
// A notification is committed once delivered, once it proves undeliverable, or
// after the last failed attempt.
type Dispatcher struct {
	source      queue.MessageSource
	sender      AlarmSender
	maxAttempts int
	backoff     time.Duration
	log         *zap.Logger
}

// NewDispatcher creates a dispatcher with the default retry policy
func NewDispatcher(source queue.MessageSource, sender AlarmSender, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		source:      source,
		sender:      sender,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		log:         log,
	}
}

// Run processes notifications until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		msg, err := d.source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.log.Warn("failed to consume alarm", zap.Error(err))
			if !sleep(ctx, d.backoff) {
				return nil
			}
			continue
		}

		if !d.handle(ctx, msg) {
			return nil
		}
		if err := d.source.Commit(ctx, msg); err != nil {
			d.log.Error("failed to commit alarm offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// handle reports false only when ctx ended before the message was settled
func (d *Dispatcher) handle(ctx context.Context, msg kafka.Message) bool {
	n, err := protocol.DecodeAlarmNotification(msg.Value)
	if err != nil {
		d.log.Warn("dropping malformed alarm", zap.Int64("offset", msg.Offset), zap.Error(err))
		return true
	}

	log := d.log.With(zap.String("alarm_id", n.ID), zap.String("day", n.Day))
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err = d.sender.SendConsumptionAlarm(ctx, n)
		if err == nil {
			log.Info("alarm notification delivered", zap.Int("attempt", attempt))
			return true
		}
		if errors.Is(err, ErrNotConfigured) {
			log.Warn("email not configured, alarm logged only",
				zap.Float64("current_kwh", n.CurrentKwh),
				zap.Float64("threshold_kwh", n.ThresholdKwh))
			return true
		}

		log.Warn("alarm delivery failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < d.maxAttempts && !sleep(ctx, d.backoff*time.Duration(attempt)) {
			return false
		}
	}

	log.Error("giving up on alarm notification", zap.Int("attempts", d.maxAttempts), zap.Error(err))
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
