package notification

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/heating-monitor/internal/alarming"
	"github.com/smukkama/heating-monitor/internal/protocol"
)

// AlarmPublisher publishes alarm notifications, e.g. to a Kafka topic
type AlarmPublisher interface {
	PublishAlarm(ctx context.Context, alarm *protocol.AlarmNotification) error
}

// QueueNotifier hands alarms to the notification service through the alarm topic.
// An alarm counts as delivered once the broker acknowledged it.
type QueueNotifier struct {
	publisher AlarmPublisher
	timeout   time.Duration
	log       *zap.Logger
}

// NewQueueNotifier creates a notifier on the given publisher
func NewQueueNotifier(publisher AlarmPublisher, timeout time.Duration, log *zap.Logger) *QueueNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &QueueNotifier{publisher: publisher, timeout: timeout, log: log}
}

// Send publishes the alarm. It implements alarming.Notifier.
func (q *QueueNotifier) Send(ctx context.Context, alarm alarming.Alarm) bool {
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	notification := protocol.NewConsumptionNotification(alarm.Day, alarm.CurrentKwh, alarm.ThresholdKwh, alarm.TriggeredAt)
	if err := q.publisher.PublishAlarm(ctx, notification); err != nil {
		q.log.Error("failed to publish consumption alarm", zap.String("day", alarm.Day), zap.Error(err))
		return false
	}

	q.log.Info("consumption alarm published", zap.String("day", alarm.Day), zap.String("alarm_id", notification.ID))
	return true
}
