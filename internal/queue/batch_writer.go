package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smukkama/heating-monitor/internal/protocol"
	"github.com/smukkama/heating-monitor/internal/telemetry"
)

// MessageSource is the consumer side used by the batch writer
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// ReadingWriter stores a batch of readings atomically
type ReadingWriter interface {
	InsertReadings(ctx context.Context, readings []telemetry.Reading) (int, error)
}

// BatchWriter consumes readings from Kafka and batch-writes them to the database
type BatchWriter struct {
	consumer      MessageSource
	db            ReadingWriter
	batchSize     int
	flushInterval time.Duration
	log           *zap.Logger
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(consumer MessageSource, db ReadingWriter, batchSize int, flushInterval time.Duration, log *zap.Logger) *BatchWriter {
	if log == nil {
		log = zap.NewNop()
	}
	return &BatchWriter{
		consumer:      consumer,
		db:            db,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		log:           log,
		stopCh:        make(chan struct{}),
	}
}

// Start begins consuming and writing to database
func (bw *BatchWriter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	msgCh := make(chan kafka.Message, bw.batchSize)
	bw.wg.Add(2)
	go bw.consume(ctx, msgCh)
	go func() {
		defer cancel()
		bw.run(ctx, msgCh)
	}()
	return nil
}

// Stop flushes the pending batch and waits for the writer to exit
func (bw *BatchWriter) Stop() {
	bw.stopOnce.Do(func() { close(bw.stopCh) })
	bw.wg.Wait()
}

func (bw *BatchWriter) consume(ctx context.Context, msgCh chan<- kafka.Message) {
	defer bw.wg.Done()

	for {
		msg, err := bw.consumer.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			bw.log.Warn("consumer error", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case msgCh <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (bw *BatchWriter) run(ctx context.Context, msgCh <-chan kafka.Message) {
	defer bw.wg.Done()

	var batch []kafka.Message
	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-bw.stopCh:
			// Final flush must not be cut short by the cancelled consumer context
			bw.flush(context.WithoutCancel(ctx), batch)
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if len(batch) > 0 {
				bw.log.Debug("flush interval reached", zap.Int("messages", len(batch)))
				batch = bw.flush(ctx, batch)
			}

		case msg := <-msgCh:
			batch = append(batch, msg)
			if len(batch) >= bw.batchSize {
				bw.log.Debug("batch full", zap.Int("messages", len(batch)))
				batch = bw.flush(ctx, batch)
			}
		}
	}
}

// flush writes the batch and commits it. It returns the messages to retry;
// undecodable messages are skipped and committed.
func (bw *BatchWriter) flush(ctx context.Context, batch []kafka.Message) []kafka.Message {
	if len(batch) == 0 {
		return nil
	}

	readings, skipped := decodeBatch(batch)
	for _, err := range skipped {
		bw.log.Warn("skipping malformed reading message", zap.Error(err))
	}

	if len(readings) > 0 {
		if _, err := bw.db.InsertReadings(ctx, readings); err != nil {
			bw.log.Error("failed to write batch, will retry", zap.Int("readings", len(readings)), zap.Error(err))
			return batch
		}
	}

	if err := bw.consumer.Commit(ctx, batch...); err != nil {
		bw.log.Error("failed to commit offsets", zap.Error(err))
	}

	bw.log.Info("flushed batch to database", zap.Int("readings", len(readings)), zap.Int("skipped", len(skipped)))
	return nil
}

func decodeBatch(batch []kafka.Message) ([]telemetry.Reading, []error) {
	readings := make([]telemetry.Reading, 0, len(batch))
	var skipped []error
	for _, msg := range batch {
		r, err := decodeReading(msg)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("partition=%d offset=%d: %w", msg.Partition, msg.Offset, err))
			continue
		}
		readings = append(readings, r)
	}
	return readings, skipped
}

func decodeReading(msg kafka.Message) (telemetry.Reading, error) {
	readingMsg, err := protocol.DecodeReadingMessage(msg.Value)
	if err != nil {
		return telemetry.Reading{}, fmt.Errorf("failed to decode message: %w", err)
	}

	r := readingMsg.Reading
	r.ApplyDefaults(readingMsg.ReceivedAt)
	if err := r.Validate(); err != nil {
		return telemetry.Reading{}, err
	}
	if r.Timestamp.IsZero() {
		return telemetry.Reading{}, errors.New("missing timestamp")
	}
	return r, nil
}
