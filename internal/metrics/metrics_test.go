package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncPoll("auto")
	m.IncPoll("auto")
	m.IncSwitch("auto", "on")
	m.IncAlarmCheck("sent")
	m.IncAlarmSent()
	m.AddReadings(3)
	m.SetDailyKwh(12.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PlugPolls.WithLabelValues("auto")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlugSwitches.WithLabelValues("auto", "on")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlarmChecks.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlarmsSent))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ReadingsIngested))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.DailyKwh))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncPoll("manual")
		m.IncSwitch("manual", "off")
		m.IncReport("on")
		m.IncAlarmCheck("below_threshold")
		m.IncAlarmSent()
		m.AddReadings(1)
		m.SetDailyKwh(1)
	})
}

func TestNewServer_ExposesAlarmCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.IncAlarmSent()
	m.IncAlarmCheck("sent")

	srv := httptest.NewServer(NewServer(":0", reg).Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "heating_monitor_consumption_alarms_sent_total 1")
	assert.Contains(t, string(body), `heating_monitor_consumption_alarm_checks_total{outcome="sent"} 1`)
}
