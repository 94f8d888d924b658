package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/heating-monitor/internal/telemetry"
)

const DefaultBatchSize = 1000

// Source opens an export file
type Source interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Writer stores one batch atomically
type Writer interface {
	InsertReadings(ctx context.Context, readings []telemetry.Reading) (int, error)
}

// Result summarises an import run
type Result struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Batches  int `json:"batches"`
}

// record is one element of the export array. The legacy export used German field names.
type record struct {
	Timestamp   *time.Time `json:"timestamp"`
	Temperature *float64   `json:"temperature"`
	Humidity    *float64   `json:"humidity"`
	PowerDraw   *float64   `json:"power_draw"`
	SensorID    string     `json:"sensor_id"`
	Location    string     `json:"location"`

	Zeitstempel      *time.Time `json:"zeitstempel"`
	Temperatur       *float64   `json:"temperatur"`
	Luftfeuchtigkeit *float64   `json:"luftfeuchtigkeit"`
	Stromverbrauch   *float64   `json:"stromverbrauch"`
}

func (r record) reading() (telemetry.Reading, error) {
	ts := pick(r.Timestamp, r.Zeitstempel)
	temperature := pick(r.Temperature, r.Temperatur)
	humidity := pick(r.Humidity, r.Luftfeuchtigkeit)
	power := pick(r.PowerDraw, r.Stromverbrauch)
	if ts == nil || temperature == nil || humidity == nil || power == nil {
		return telemetry.Reading{}, errors.New("record lacks timestamp, temperature, humidity or power")
	}

	reading := telemetry.Reading{
		Timestamp:   *ts,
		Temperature: *temperature,
		Humidity:    *humidity,
		PowerDraw:   *power,
		SensorID:    r.SensorID,
		Location:    r.Location,
	}
	reading.ApplyDefaults(*ts)
	return reading, reading.Validate()
}

func pick[T any](primary, legacy *T) *T {
	if primary != nil {
		return primary
	}
	return legacy
}

// Loader streams a JSON array of readings into the database in batches.
// Invalid records are skipped; a failed batch aborts the run.
type Loader struct {
	source    Source
	writer    Writer
	batchSize int
	log       *zap.Logger
}

// NewLoader creates a loader
func NewLoader(source Source, writer Writer, batchSize int, log *zap.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{source: source, writer: writer, batchSize: batchSize, log: log}
}

// Import loads s3://bucket/key
func (l *Loader) Import(ctx context.Context, bucket, key string) (*Result, error) {
	body, err := l.source.Open(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	l.log.Info("import started", zap.String("bucket", bucket), zap.String("key", key))
	res, err := l.load(ctx, body)
	if err != nil {
		return res, err
	}
	l.log.Info("import finished",
		zap.Int("imported", res.Imported),
		zap.Int("skipped", res.Skipped),
		zap.Int("batches", res.Batches))
	return res, nil
}

func (l *Loader) load(ctx context.Context, r io.Reader) (*Result, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	if tok != json.Delim('[') {
		return nil, fmt.Errorf("export must be a JSON array, found %v", tok)
	}

	res := &Result{}
	batch := make([]telemetry.Reading, 0, l.batchSize)
	for index := 0; dec.More(); index++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			// the decoder cannot resynchronise after a syntax error
			return res, fmt.Errorf("failed to decode record %d: %w", index, err)
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			res.Skipped++
			l.log.Warn("skipping malformed record", zap.Int("index", index), zap.Error(err))
			continue
		}
		reading, err := rec.reading()
		if err != nil {
			res.Skipped++
			l.log.Warn("skipping record", zap.Int("index", index), zap.Error(err))
			continue
		}

		batch = append(batch, reading)
		if len(batch) >= l.batchSize {
			if err := l.flush(ctx, batch, res); err != nil {
				return res, err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := l.flush(ctx, batch, res); err != nil {
			return res, err
		}
	}

	if tok, err := dec.Token(); err != nil || tok != json.Delim(']') {
		return res, fmt.Errorf("export is not terminated by ']'")
	}
	return res, nil
}

func (l *Loader) flush(ctx context.Context, batch []telemetry.Reading, res *Result) error {
	n, err := l.writer.InsertReadings(ctx, batch)
	if err != nil {
		return fmt.Errorf("failed to insert batch %d: %w", res.Batches+1, err)
	}
	res.Batches++
	res.Imported += n
	l.log.Debug("batch imported", zap.Int("batch", res.Batches), zap.Int("readings", n))
	return nil
}
