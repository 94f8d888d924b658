package plugstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/heating-monitor/internal/plug"
)

// Hash fields of the control record
const (
	fieldMode          = "mode"
	fieldThreshold     = "temperature_threshold"
	fieldHysteresis    = "hysteresis"
	fieldDesiredState  = "desired_state"
	fieldReportedState = "reported_state"
	fieldLastFetched   = "last_fetched"
	fieldLastChanged   = "last_changed"
	fieldLastReported  = "last_reported"
	fieldCreatedAt     = "created_at"
	fieldUpdatedAt     = "updated_at"
)

// RedisStore keeps the control record as a Redis hash. Each operation writes only its own
// fields, so concurrent writers are last-write-wins per field.
type RedisStore struct {
	redis *redis.Client
	key   string
}

// NewRedisStore creates a store on the given client
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{
		redis: redisClient,
		key:   fmt.Sprintf("plug_control:%s", plug.RecordID),
	}
}

// Get returns the record, creating it with defaults if absent
func (s *RedisStore) Get(ctx context.Context) (*plug.Record, error) {
	return s.update(ctx, time.Now(), nil)
}

// SetDesired stores the desired state and stamps last_changed
func (s *RedisStore) SetDesired(ctx context.Context, state plug.State, at time.Time) (*plug.Record, error) {
	return s.update(ctx, at, map[string]interface{}{
		fieldDesiredState: string(state),
		fieldLastChanged:  formatTime(at),
		fieldUpdatedAt:    formatTime(at),
	})
}

// SetReported stores the reported state and stamps last_reported
func (s *RedisStore) SetReported(ctx context.Context, state plug.State, at time.Time) (*plug.Record, error) {
	return s.update(ctx, at, map[string]interface{}{
		fieldReportedState: string(state),
		fieldLastReported:  formatTime(at),
		fieldUpdatedAt:     formatTime(at),
	})
}

// MarkFetched stamps last_fetched
func (s *RedisStore) MarkFetched(ctx context.Context, at time.Time) (*plug.Record, error) {
	return s.update(ctx, at, map[string]interface{}{
		fieldLastFetched: formatTime(at),
		fieldUpdatedAt:   formatTime(at),
	})
}

// SetMode stores the mode and the provided numbers
func (s *RedisStore) SetMode(ctx context.Context, update plug.ModeUpdate, at time.Time) (*plug.Record, error) {
	fields := map[string]interface{}{
		fieldMode:      string(update.Mode),
		fieldUpdatedAt: formatTime(at),
	}
	if update.Threshold != nil {
		fields[fieldThreshold] = formatFloat(*update.Threshold)
	}
	if update.Hysteresis != nil {
		fields[fieldHysteresis] = formatFloat(*update.Hysteresis)
	}
	return s.update(ctx, at, fields)
}

// update seeds missing default fields, applies fields and reads the hash back in one transaction
func (s *RedisStore) update(ctx context.Context, at time.Time, fields map[string]interface{}) (*plug.Record, error) {
	pipe := s.redis.TxPipeline()
	for field, value := range defaultFields(at) {
		pipe.HSetNX(ctx, s.key, field, value)
	}
	if len(fields) > 0 {
		pipe.HSet(ctx, s.key, fields)
	}
	all := pipe.HGetAll(ctx, s.key)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to update plug state in Redis: %w", err)
	}

	rec, err := decodeRecord(all.Val())
	if err != nil {
		return nil, fmt.Errorf("failed to decode plug state: %w", err)
	}
	return rec, nil
}

func defaultFields(now time.Time) map[string]string {
	d := plug.DefaultRecord(now)
	return map[string]string{
		fieldMode:          string(d.Mode),
		fieldThreshold:     formatFloat(d.TemperatureThreshold),
		fieldHysteresis:    formatFloat(d.Hysteresis),
		fieldDesiredState:  string(d.DesiredState),
		fieldReportedState: string(d.ReportedState),
		fieldLastChanged:   formatTime(d.LastChanged),
		fieldCreatedAt:     formatTime(d.CreatedAt),
		fieldUpdatedAt:     formatTime(d.UpdatedAt),
	}
}

func decodeRecord(values map[string]string) (*plug.Record, error) {
	rec := &plug.Record{
		ID:            plug.RecordID,
		Mode:          plug.Mode(values[fieldMode]),
		DesiredState:  plug.State(values[fieldDesiredState]),
		ReportedState: plug.State(values[fieldReportedState]),
	}

	var err error
	if rec.TemperatureThreshold, err = parseFloat(values, fieldThreshold, plug.DefaultThreshold); err != nil {
		return nil, err
	}
	if rec.Hysteresis, err = parseFloat(values, fieldHysteresis, plug.DefaultHysteresis); err != nil {
		return nil, err
	}
	if rec.LastFetched, err = parseOptionalTime(values, fieldLastFetched); err != nil {
		return nil, err
	}
	if rec.LastReported, err = parseOptionalTime(values, fieldLastReported); err != nil {
		return nil, err
	}
	for field, dst := range map[string]*time.Time{
		fieldLastChanged: &rec.LastChanged,
		fieldCreatedAt:   &rec.CreatedAt,
		fieldUpdatedAt:   &rec.UpdatedAt,
	} {
		t, err := parseOptionalTime(values, field)
		if err != nil {
			return nil, err
		}
		if t != nil {
			*dst = *t
		}
	}

	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(values map[string]string, field string, fallback float64) (float64, error) {
	raw, ok := values[field]
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", field, err)
	}
	return v, nil
}

func parseOptionalTime(values map[string]string, field string) (*time.Time, error) {
	raw, ok := values[field]
	if !ok || raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", field, err)
	}
	return &t, nil
}
