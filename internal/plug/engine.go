package plug

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/heating-monitor/internal/metrics"
	"github.com/smukkama/heating-monitor/internal/telemetry"
)

// ReadingSource supplies the most recent sensor reading. A nil reading means no data yet.
type ReadingSource interface {
	LatestReading(ctx context.Context) (*telemetry.Reading, error)
}

// OverridePolicy decides what SetDesired does while the plug is in auto mode
type OverridePolicy string

const (
	// OverrideTransient accepts the command; the next poll may overwrite it
	OverrideTransient OverridePolicy = "transient"
	// OverrideReject refuses the command with ErrAutoModeActive
	OverrideReject OverridePolicy = "reject"
)

const (
	sourceManual = "manual"
	sourceAuto   = "auto"
)

// ChangeHook is called after the desired state was changed by any actor
type ChangeHook func(ctx context.Context, rec *Record)

// Engine decides the desired state of the plug and applies commands from the
// dashboard and the device
type Engine struct {
	repo     Repository
	readings ReadingSource
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	override OverridePolicy
	hooks    []ChangeHook
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics records polls and switches
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithOverridePolicy sets how manual commands are handled in auto mode
func WithOverridePolicy(p OverridePolicy) Option {
	return func(e *Engine) { e.override = p }
}

// WithChangeHook registers a hook for desired state changes
func WithChangeHook(h ChangeHook) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, h) }
}

// NewEngine creates a plug control engine
func NewEngine(repo Repository, readings ReadingSource, opts ...Option) *Engine {
	e := &Engine{
		repo:     repo,
		readings: readings,
		log:      zap.NewNop(),
		now:      time.Now,
		override: OverrideTransient,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DesiredForDevice answers a device poll. In auto mode the temperature policy is
// evaluated first. The record is always marked as fetched.
func (e *Engine) DesiredForDevice(ctx context.Context) (*DeviceCommand, error) {
	rec, err := e.repo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load plug state: %w", err)
	}

	if rec.Mode == ModeAuto {
		rec = e.applyAutoPolicy(ctx, rec)
	}

	fetched, err := e.repo.MarkFetched(ctx, e.now())
	if err != nil {
		return nil, fmt.Errorf("failed to mark plug state fetched: %w", err)
	}
	e.metrics.IncPoll(string(fetched.Mode))

	return &DeviceCommand{
		DesiredState: fetched.DesiredState,
		LastChanged:  fetched.LastChanged,
		Mode:         fetched.Mode,
	}, nil
}

// applyAutoPolicy never fails: a missing reading or a store error keeps the current state
func (e *Engine) applyAutoPolicy(ctx context.Context, rec *Record) *Record {
	reading, err := e.readings.LatestReading(ctx)
	if err != nil {
		e.log.Warn("auto mode: latest reading unavailable, keeping desired state",
			zap.String("desired_state", string(rec.DesiredState)),
			zap.Error(err))
		return rec
	}
	if reading == nil {
		e.log.Debug("auto mode: no sensor data yet, keeping desired state")
		return rec
	}

	target, changed := Decide(rec.TemperatureThreshold, rec.Hysteresis, rec.DesiredState, reading.Temperature)
	if !changed {
		return rec
	}

	e.log.Info("auto mode: switching plug",
		zap.Float64("temperature", reading.Temperature),
		zap.Float64("threshold", rec.TemperatureThreshold),
		zap.Float64("hysteresis", EffectiveHysteresis(rec.Hysteresis)),
		zap.String("from", string(rec.DesiredState)),
		zap.String("to", string(target)))

	updated, err := e.setDesired(ctx, target, sourceAuto)
	if err != nil {
		e.log.Error("auto mode: failed to persist desired state", zap.Error(err))
		return rec
	}
	return updated
}

// Status returns the full record without side effects
func (e *Engine) Status(ctx context.Context) (*Record, error) {
	rec, err := e.repo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load plug state: %w", err)
	}
	return rec, nil
}

// SetDesired applies an explicit on/off command
func (e *Engine) SetDesired(ctx context.Context, state State) (*Record, error) {
	if err := validateDesired(state); err != nil {
		return nil, err
	}

	if e.override == OverrideReject {
		rec, err := e.repo.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load plug state: %w", err)
		}
		if rec.Mode == ModeAuto {
			return nil, ErrAutoModeActive
		}
	}

	return e.setDesired(ctx, state, sourceManual)
}

func (e *Engine) setDesired(ctx context.Context, state State, source string) (*Record, error) {
	rec, err := e.repo.SetDesired(ctx, state, e.now())
	if err != nil {
		return nil, fmt.Errorf("failed to set desired state: %w", err)
	}
	e.metrics.IncSwitch(source, string(state))
	for _, hook := range e.hooks {
		hook(ctx, rec)
	}
	return rec, nil
}

// ReportState records the state confirmed by the device
func (e *Engine) ReportState(ctx context.Context, state State) (*Record, error) {
	if err := validateReported(state); err != nil {
		return nil, err
	}
	rec, err := e.repo.SetReported(ctx, state, e.now())
	if err != nil {
		return nil, fmt.Errorf("failed to update reported state: %w", err)
	}
	e.metrics.IncReport(string(state))
	if !rec.InSync() {
		e.log.Debug("device state differs from desired state",
			zap.String("desired", string(rec.DesiredState)),
			zap.String("reported", string(rec.ReportedState)))
	}
	return rec, nil
}

// SetMode switches between manual and auto mode and optionally updates the
// threshold and hysteresis
func (e *Engine) SetMode(ctx context.Context, update ModeUpdate) (*Record, error) {
	if err := validateModeUpdate(update); err != nil {
		return nil, err
	}
	rec, err := e.repo.SetMode(ctx, update, e.now())
	if err != nil {
		return nil, fmt.Errorf("failed to set mode: %w", err)
	}
	e.log.Info("plug mode updated",
		zap.String("mode", string(rec.Mode)),
		zap.Float64("threshold", rec.TemperatureThreshold),
		zap.Float64("hysteresis", rec.Hysteresis))
	return rec, nil
}
