package api

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/smukkama/heating-monitor/internal/alarming"
	"github.com/smukkama/heating-monitor/internal/plug"
	"github.com/smukkama/heating-monitor/internal/telemetry"
)

// PlugService is implemented by *plug.Engine
type PlugService interface {
	DesiredForDevice(ctx context.Context) (*plug.DeviceCommand, error)
	Status(ctx context.Context) (*plug.Record, error)
	SetDesired(ctx context.Context, state plug.State) (*plug.Record, error)
	ReportState(ctx context.Context, state plug.State) (*plug.Record, error)
	SetMode(ctx context.Context, update plug.ModeUpdate) (*plug.Record, error)
}

// ReadingService is implemented by *readings.Service
type ReadingService interface {
	Location() *time.Location
	LatestReading(ctx context.Context) (*telemetry.Reading, error)
	Last24Hours(ctx context.Context) ([]telemetry.Reading, error)
	Averages24h(ctx context.Context) (*telemetry.Averages, error)
	Hourly(ctx context.Context, hours int) ([]telemetry.HourlyPoint, error)
	Range(ctx context.Context, start, end time.Time) ([]telemetry.Reading, error)
	Day(ctx context.Context, day time.Time) ([]telemetry.Reading, error)
	Stats(ctx context.Context) (*telemetry.Stats, error)
	DailyKwh(ctx context.Context, day time.Time) (float64, error)
	Create(ctx context.Context, r telemetry.Reading) (*telemetry.Reading, error)
	CreateBulk(ctx context.Context, batch []telemetry.Reading) (int, error)
}

// AlarmService is implemented by *alarming.ConsumptionAlarm
type AlarmService interface {
	Check(ctx context.Context) alarming.Outcome
	Reset()
	Status() alarming.Snapshot
}

// Deps are the collaborators of the HTTP API. Alarm, Limiter and Gatherer are optional.
type Deps struct {
	Plug       PlugService
	Readings   ReadingService
	Alarm      AlarmService
	Limiter    *RateLimiter
	Gatherer   prometheus.Gatherer
	CORSOrigin string
	TrustProxy bool
	Log        *zap.Logger
}

// Handler serves the REST API
type Handler struct {
	plug      PlugService
	readings  ReadingService
	alarm     AlarmService
	log       *zap.Logger
	startedAt time.Time
	now       func() time.Time
}

// NewHandler creates the API handlers
func NewHandler(deps Deps) *Handler {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		plug:      deps.Plug,
		readings:  deps.Readings,
		alarm:     deps.Alarm,
		log:       log,
		startedAt: time.Now(),
		now:       time.Now,
	}
}
