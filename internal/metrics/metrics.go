package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "heating_monitor"

// Metrics holds the process counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	PlugPolls        *prometheus.CounterVec
	PlugSwitches     *prometheus.CounterVec
	PlugReports      *prometheus.CounterVec
	AlarmChecks      *prometheus.CounterVec
	AlarmsSent       prometheus.Counter
	ReadingsIngested prometheus.Counter
	DailyKwh         prometheus.Gauge
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PlugPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plug_polls_total",
			Help:      "Device polls for the desired plug state, by mode.",
		}, []string{"mode"}),
		PlugSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plug_switches_total",
			Help:      "Desired state changes, by source and target state.",
		}, []string{"source", "state"}),
		PlugReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plug_reports_total",
			Help:      "State reports received from the device.",
		}, []string{"state"}),
		AlarmChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumption_alarm_checks_total",
			Help:      "Consumption alarm checks, by outcome.",
		}, []string{"outcome"}),
		AlarmsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumption_alarms_sent_total",
			Help:      "Consumption alarms delivered to the notifier.",
		}),
		ReadingsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_ingested_total",
			Help:      "Sensor readings accepted by the API.",
		}),
		DailyKwh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_consumption_kwh",
			Help:      "Today's consumption as seen by the last alarm check.",
		}),
	}
	reg.MustRegister(m.PlugPolls, m.PlugSwitches, m.PlugReports, m.AlarmChecks, m.AlarmsSent, m.ReadingsIngested, m.DailyKwh)
	return m
}

func (m *Metrics) IncPoll(mode string) {
	if m == nil {
		return
	}
	m.PlugPolls.WithLabelValues(mode).Inc()
}

func (m *Metrics) IncSwitch(source, state string) {
	if m == nil {
		return
	}
	m.PlugSwitches.WithLabelValues(source, state).Inc()
}

func (m *Metrics) IncReport(state string) {
	if m == nil {
		return
	}
	m.PlugReports.WithLabelValues(state).Inc()
}

func (m *Metrics) IncAlarmCheck(outcome string) {
	if m == nil {
		return
	}
	m.AlarmChecks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncAlarmSent() {
	if m == nil {
		return
	}
	m.AlarmsSent.Inc()
}

func (m *Metrics) AddReadings(n int) {
	if m == nil {
		return
	}
	m.ReadingsIngested.Add(float64(n))
}

func (m *Metrics) SetDailyKwh(kwh float64) {
	if m == nil {
		return
	}
	m.DailyKwh.Set(kwh)
}

// NewServer serves /metrics from g, for processes without the HTTP API
func NewServer(addr string, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
