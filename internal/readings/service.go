package readings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/heating-monitor/internal/metrics"
	"github.com/smukkama/heating-monitor/internal/telemetry"
)

const (
	MinHourlyWindow     = 1
	MaxHourlyWindow     = 168
	DefaultHourlyWindow = 24
	DefaultTimeout      = 5 * time.Second
)

var (
	ErrHoursOutOfRange = errors.New("hours must be between 1 and 168")
	ErrInvalidRange    = errors.New("end must not be before start")
	ErrEmptyBatch      = errors.New("no readings given")
)

// Store persists and queries raw readings
type Store interface {
	InsertReading(ctx context.Context, r *telemetry.Reading) error
	InsertReadings(ctx context.Context, readings []telemetry.Reading) (int, error)
	LatestReading(ctx context.Context) (*telemetry.Reading, error)
	ReadingsBetween(ctx context.Context, start, end time.Time) ([]telemetry.Reading, error)
	CountReadings(ctx context.Context) (int64, error)
}

// Rollups computes windowed aggregates
type Rollups interface {
	Rollup(ctx context.Context, since time.Time) ([]telemetry.HourlyPoint, error)
	Averages(ctx context.Context, since time.Time) (*telemetry.Averages, error)
}

// Consumption computes the energy used on a calendar day
type Consumption interface {
	DailyKwh(ctx context.Context, day time.Time) (float64, error)
}

// Sink receives accepted readings instead of the store, e.g. a Kafka topic
// that is drained by the database writer
type Sink interface {
	PublishReadings(ctx context.Context, readings []telemetry.Reading) error
}

// Service answers dashboard queries and ingests new readings
type Service struct {
	store       Store
	rollups     Rollups
	consumption Consumption
	sink        Sink
	location    *time.Location
	timeout     time.Duration
	now         func() time.Time
	log         *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures a Service
type Option func(*Service)

// WithSink routes ingested readings to sink
func WithSink(sink Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithLocation sets the time zone of calendar days
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.location = loc }
}

// WithTimeout bounds every store call
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithMetrics counts ingested readings
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a reading service
func NewService(store Store, rollups Rollups, consumption Consumption, opts ...Option) *Service {
	s := &Service{
		store:       store,
		rollups:     rollups,
		consumption: consumption,
		location:    time.Local,
		timeout:     DefaultTimeout,
		now:         time.Now,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the time zone of calendar days
func (s *Service) Location() *time.Location {
	return s.location
}

// LatestReading returns the most recent reading, or nil if there is none.
// It implements plug.ReadingSource.
func (s *Service) LatestReading(ctx context.Context) (*telemetry.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.LatestReading(ctx)
}

// Last24Hours returns the readings of the last 24 hours, oldest first
func (s *Service) Last24Hours(ctx context.Context) ([]telemetry.Reading, error) {
	now := s.now()
	return s.Range(ctx, now.Add(-24*time.Hour), now)
}

// Averages24h returns the rounded averages of the last 24 hours
func (s *Service) Averages24h(ctx context.Context) (*telemetry.Averages, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.rollups.Averages(ctx, s.now().Add(-24*time.Hour))
}

// Hourly returns hourly averages over the last hours hours
func (s *Service) Hourly(ctx context.Context, hours int) ([]telemetry.HourlyPoint, error) {
	if hours < MinHourlyWindow || hours > MaxHourlyWindow {
		return nil, ErrHoursOutOfRange
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.rollups.Rollup(ctx, s.now().Add(-time.Duration(hours)*time.Hour))
}

// Range returns readings with start <= timestamp <= end, oldest first
func (s *Service) Range(ctx context.Context, start, end time.Time) ([]telemetry.Reading, error) {
	if end.Before(start) {
		return nil, ErrInvalidRange
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.ReadingsBetween(ctx, start, end)
}

// Day returns the readings of the calendar day containing day
func (s *Service) Day(ctx context.Context, day time.Time) ([]telemetry.Reading, error) {
	day = day.In(s.location)
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.location)
	return s.Range(ctx, start, start.AddDate(0, 0, 1).Add(-time.Nanosecond))
}

// Stats returns the latest reading, the 24h averages and the total count
func (s *Service) Stats(ctx context.Context) (*telemetry.Stats, error) {
	latest, err := s.LatestReading(ctx)
	if err != nil {
		return nil, err
	}
	averages, err := s.Averages24h(ctx)
	if err != nil {
		return nil, err
	}

	countCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	total, err := s.store.CountReadings(countCtx)
	if err != nil {
		return nil, err
	}

	stats := &telemetry.Stats{Latest: latest, Total: total}
	if averages.Count > 0 {
		stats.Averages24h = averages
	}
	return stats, nil
}

// DailyKwh returns the energy consumed on the calendar day containing day.
// It implements alarming.ConsumptionSource.
func (s *Service) DailyKwh(ctx context.Context, day time.Time) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.consumption.DailyKwh(ctx, day)
}

// Create validates and stores one reading
func (s *Service) Create(ctx context.Context, r telemetry.Reading) (*telemetry.Reading, error) {
	r.ApplyDefaults(s.now())
	if err := r.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var err error
	if s.sink != nil {
		err = s.sink.PublishReadings(ctx, []telemetry.Reading{r})
	} else {
		err = s.store.InsertReading(ctx, &r)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store reading: %w", err)
	}

	s.metrics.AddReadings(1)
	return &r, nil
}

// CreateBulk validates all readings and stores them together. A single invalid
// reading rejects the whole batch.
func (s *Service) CreateBulk(ctx context.Context, batch []telemetry.Reading) (int, error) {
	if len(batch) == 0 {
		return 0, ErrEmptyBatch
	}

	now := s.now()
	accepted := make([]telemetry.Reading, len(batch))
	var problems []string
	for i, r := range batch {
		r.ApplyDefaults(now)
		if err := r.Validate(); err != nil {
			var verr *telemetry.ValidationError
			if errors.As(err, &verr) {
				for _, p := range verr.Problems {
					problems = append(problems, fmt.Sprintf("readings[%d]: %s", i, p))
				}
				continue
			}
			return 0, err
		}
		accepted[i] = r
	}
	if len(problems) > 0 {
		return 0, &telemetry.ValidationError{Problems: problems}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n := len(accepted)
	var err error
	if s.sink != nil {
		err = s.sink.PublishReadings(ctx, accepted)
	} else {
		n, err = s.store.InsertReadings(ctx, accepted)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to store readings: %w", err)
	}

	s.metrics.AddReadings(n)
	s.log.Info("bulk readings stored", zap.Int("count", n), zap.Bool("queued", s.sink != nil))
	return n, nil
}
