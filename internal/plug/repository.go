package plug

import (
	"context"
	"sync"
	"time"
)

// Repository owns the single persisted control record. Every operation creates the
// record with defaults when it does not exist yet and returns the record after the write.
type Repository interface {
	Get(ctx context.Context) (*Record, error)
	SetDesired(ctx context.Context, state State, at time.Time) (*Record, error)
	SetReported(ctx context.Context, state State, at time.Time) (*Record, error)
	MarkFetched(ctx context.Context, at time.Time) (*Record, error)
	SetMode(ctx context.Context, update ModeUpdate, at time.Time) (*Record, error)
}

// MemoryRepository keeps the record in process memory. Used for local runs and tests.
type MemoryRepository struct {
	mu     sync.Mutex
	record *Record
	now    func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{now: time.Now}
}

func (m *MemoryRepository) ensure() *Record {
	if m.record == nil {
		m.record = DefaultRecord(m.now())
	}
	return m.record
}

func (m *MemoryRepository) snapshot() *Record {
	rec := *m.record
	return &rec
}

// Get returns the record, creating it if needed
func (m *MemoryRepository) Get(_ context.Context) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensure()
	return m.snapshot(), nil
}

// SetDesired stores the desired state and stamps last_changed
func (m *MemoryRepository) SetDesired(_ context.Context, state State, at time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.ensure()
	rec.DesiredState = state
	rec.LastChanged = at
	rec.UpdatedAt = at
	return m.snapshot(), nil
}

// SetReported stores the reported state and stamps last_reported
func (m *MemoryRepository) SetReported(_ context.Context, state State, at time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.ensure()
	rec.ReportedState = state
	rec.LastReported = &at
	rec.UpdatedAt = at
	return m.snapshot(), nil
}

// MarkFetched stamps last_fetched
func (m *MemoryRepository) MarkFetched(_ context.Context, at time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.ensure()
	rec.LastFetched = &at
	rec.UpdatedAt = at
	return m.snapshot(), nil
}

// SetMode stores the mode and any provided numbers
func (m *MemoryRepository) SetMode(_ context.Context, update ModeUpdate, at time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.ensure()
	rec.Mode = update.Mode
	if update.Threshold != nil {
		rec.TemperatureThreshold = *update.Threshold
	}
	if update.Hysteresis != nil {
		rec.Hysteresis = *update.Hysteresis
	}
	rec.UpdatedAt = at
	return m.snapshot(), nil
}
