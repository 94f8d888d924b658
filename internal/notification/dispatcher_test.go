package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/heating-monitor/internal/protocol"
)

type chanSource struct {
	mu        sync.Mutex
	msgs      chan kafka.Message
	committed []int64
}

func (s *chanSource) Consume(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-s.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (s *chanSource) Commit(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.committed = append(s.committed, m.Offset)
	}
	return nil
}

func (s *chanSource) offsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.committed...)
}

type flakySender struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
	sent     []string
}

func (f *flakySender) SendConsumptionAlarm(_ context.Context, n *protocol.AlarmNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	f.sent = append(f.sent, n.Day)
	return nil
}

func (f *flakySender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func alarmMessage(t *testing.T, offset int64, day string) kafka.Message {
	t.Helper()
	value, err := protocol.EncodeAlarmNotification(protocol.NewConsumptionNotification(day, 13.2, 12, time.Now()))
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: value}
}

func runDispatcher(t *testing.T, d *Dispatcher) (cancel func()) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, d.Run(ctx))
	}()
	return func() {
		cancelCtx()
		<-done
	}
}

func TestDispatcher_RetriesThenCommits(t *testing.T) {
	source := &chanSource{msgs: make(chan kafka.Message, 4)}
	sender := &flakySender{failures: 2, err: errors.New("421 service not available")}
	d := NewDispatcher(source, sender, nil)
	d.backoff = time.Millisecond

	source.msgs <- alarmMessage(t, 1, "2025-01-15")
	source.msgs <- kafka.Message{Offset: 2, Value: []byte("{broken")}
	source.msgs <- alarmMessage(t, 3, "2025-01-16")

	stop := runDispatcher(t, d)
	defer stop()

	assert.Eventually(t, func() bool { return len(source.offsets()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3}, source.offsets())
	assert.Equal(t, 4, sender.callCount())
	assert.Equal(t, []string{"2025-01-15", "2025-01-16"}, sender.sent)
}

func TestDispatcher_GivesUpAfterMaxAttempts(t *testing.T) {
	source := &chanSource{msgs: make(chan kafka.Message, 1)}
	sender := &flakySender{failures: 100, err: errors.New("connection reset")}
	d := NewDispatcher(source, sender, nil)
	d.backoff = time.Millisecond
	d.maxAttempts = 3

	source.msgs <- alarmMessage(t, 7, "2025-01-15")
	stop := runDispatcher(t, d)
	defer stop()

	assert.Eventually(t, func() bool { return len(source.offsets()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, sender.callCount())
}

func TestDispatcher_NotConfiguredIsNotRetried(t *testing.T) {
	source := &chanSource{msgs: make(chan kafka.Message, 1)}
	sender := &flakySender{failures: 100, err: ErrNotConfigured}
	d := NewDispatcher(source, sender, nil)
	d.backoff = time.Hour

	source.msgs <- alarmMessage(t, 9, "2025-01-15")
	stop := runDispatcher(t, d)
	defer stop()

	assert.Eventually(t, func() bool { return len(source.offsets()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, sender.callCount())
}
