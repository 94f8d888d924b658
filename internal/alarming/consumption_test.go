package alarming

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/heating-monitor/internal/metrics"
)

type fakeSource struct {
	mu    sync.Mutex
	kwh   float64
	err   error
	calls int
	days  []time.Time
	block chan struct{}
}

func (f *fakeSource) DailyKwh(_ context.Context, day time.Time) (float64, error) {
	f.mu.Lock()
	f.calls++
	f.days = append(f.days, day)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.kwh, f.err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	delivered bool
	sent      []Alarm
}

func (f *fakeNotifier) Send(_ context.Context, alarm Alarm) bool {
	f.sent = append(f.sent, alarm)
	return f.delivered
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestAlarm(kwh float64, delivered bool, opts ...Option) (*ConsumptionAlarm, *fakeSource, *fakeNotifier, *clock) {
	clk := &clock{t: time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)}
	source := &fakeSource{kwh: kwh}
	notifier := &fakeNotifier{delivered: delivered}
	opts = append([]Option{WithClock(clk.now), WithLocation(time.UTC)}, opts...)
	return NewConsumptionAlarm(source, notifier, 12, opts...), source, notifier, clk
}

func TestCheck_SendsOncePerDay(t *testing.T) {
	a, source, notifier, _ := newTestAlarm(15, true)
	ctx := context.Background()

	assert.Equal(t, OutcomeSent, a.Check(ctx))
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "2025-01-15", notifier.sent[0].Day)
	assert.Equal(t, 15.0, notifier.sent[0].CurrentKwh)
	assert.Equal(t, 12.0, notifier.sent[0].ThresholdKwh)
	assert.Equal(t, 3.0, notifier.sent[0].OverKwh())

	assert.Equal(t, OutcomeAlreadyNotified, a.Check(ctx))
	assert.Len(t, notifier.sent, 1)
	assert.Equal(t, 1, source.callCount(), "no query once notified")

	a.Reset()
	assert.Equal(t, OutcomeSent, a.Check(ctx))
	assert.Len(t, notifier.sent, 2)
}

func TestCheck_QueriesStartOfDayInLocation(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	a, source, notifier, clk := newTestAlarm(13, true, WithLocation(cet))
	clk.t = time.Date(2025, 1, 15, 23, 30, 0, 0, time.UTC)

	a.Check(context.Background())

	require.Len(t, source.days, 1)
	assert.Equal(t, time.Date(2025, 1, 16, 0, 0, 0, 0, cet), source.days[0])
	assert.Equal(t, "2025-01-16", notifier.sent[0].Day)
}

func TestCheck_NewDaySendsAgain(t *testing.T) {
	a, _, notifier, clk := newTestAlarm(15, true)
	ctx := context.Background()

	assert.Equal(t, OutcomeSent, a.Check(ctx))
	clk.t = clk.t.Add(24 * time.Hour)
	assert.Equal(t, OutcomeSent, a.Check(ctx))

	require.Len(t, notifier.sent, 2)
	assert.Equal(t, "2025-01-16", notifier.sent[1].Day)
}

func TestCheck_BelowOrAtThreshold(t *testing.T) {
	for _, kwh := range []float64{0, 11.99, 12} {
		a, _, notifier, _ := newTestAlarm(kwh, true)
		assert.Equal(t, OutcomeBelowThreshold, a.Check(context.Background()))
		assert.Empty(t, notifier.sent)
		assert.Equal(t, DayStateBelowThreshold, a.Status().State)
	}
}

func TestCheck_FailedSendRetriesNextCheck(t *testing.T) {
	a, _, notifier, _ := newTestAlarm(15, false)
	ctx := context.Background()

	assert.Equal(t, OutcomeSendFailed, a.Check(ctx))
	assert.Equal(t, DayStateAboveNotSent, a.Status().State)

	notifier.delivered = true
	assert.Equal(t, OutcomeSent, a.Check(ctx))
	assert.Len(t, notifier.sent, 2)
	assert.Equal(t, DayStateSent, a.Status().State)
}

func TestCheck_SourceErrorIsSwallowed(t *testing.T) {
	a, source, notifier, _ := newTestAlarm(15, true)
	source.err = errors.New("database down")

	assert.Equal(t, OutcomeError, a.Check(context.Background()))
	assert.Empty(t, notifier.sent)
	assert.Equal(t, DayStateNotChecked, a.Status().State)

	source.err = nil
	assert.Equal(t, OutcomeSent, a.Check(context.Background()))
}

func TestCheck_OverlappingRunIsSkipped(t *testing.T) {
	a, source, _, _ := newTestAlarm(5, true)
	source.block = make(chan struct{})

	done := make(chan Outcome)
	go func() { done <- a.Check(context.Background()) }()

	require.Eventually(t, func() bool { return source.callCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, OutcomeInProgress, a.Check(context.Background()))

	close(source.block)
	assert.Equal(t, OutcomeBelowThreshold, <-done)
	assert.Equal(t, 1, source.callCount())
}

func TestStatus(t *testing.T) {
	a, _, _, clk := newTestAlarm(15, true)

	snap := a.Status()
	assert.Equal(t, "2025-01-15", snap.Day)
	assert.Equal(t, DayStateNotChecked, snap.State)
	assert.Equal(t, 12.0, snap.ThresholdKwh)
	assert.Nil(t, snap.LastCheckedAt)

	body, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.JSONEq(t, `{"day":"2025-01-15","state":"not_checked","last_kwh":0,"threshold_kwh":12}`, string(body))

	a.Check(context.Background())
	snap = a.Status()
	assert.Equal(t, DayStateSent, snap.State)
	assert.Equal(t, "2025-01-15", snap.LastAlarmDate)
	assert.Equal(t, 15.0, snap.LastKwh)
	require.NotNil(t, snap.LastCheckedAt)
	assert.Equal(t, clk.t, *snap.LastCheckedAt)
	assert.Equal(t, DayState("sent"), snap.State)

	clk.t = clk.t.Add(24 * time.Hour)
	snap = a.Status()
	assert.Equal(t, DayStateNotChecked, snap.State)
	assert.Equal(t, "2025-01-15", snap.LastAlarmDate)
}

func TestNewConsumptionAlarm_DefaultThreshold(t *testing.T) {
	a := NewConsumptionAlarm(&fakeSource{}, &fakeNotifier{}, 0)
	assert.Equal(t, DefaultThresholdKwh, a.ThresholdKwh())
}

func TestCheck_Metrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	a, _, _, _ := newTestAlarm(15, true, WithMetrics(m))

	a.Check(context.Background())
	a.Check(context.Background())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlarmsSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlarmChecks.WithLabelValues(string(OutcomeSent))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlarmChecks.WithLabelValues(string(OutcomeAlreadyNotified))))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.DailyKwh))
}
