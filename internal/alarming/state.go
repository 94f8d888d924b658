package alarming

import (
	"sync"
	"time"
)

// DayState is the alarm state for the current calendar day
type DayState string

const (
	DayStateNotChecked     DayState = "not_checked"
	DayStateBelowThreshold DayState = "below_threshold"
	DayStateAboveNotSent   DayState = "above_threshold_not_sent"
	DayStateSent           DayState = "sent"
)

const dayLayout = "2006-01-02"

// DedupState remembers the last day an alarm was delivered. It lives as long as the
// engine that owns it and is never persisted.
type DedupState struct {
	mu            sync.Mutex
	lastAlarmDate string
	checkedDay    string
	checkedState  DayState
	lastKwh       float64
	lastCheckedAt time.Time
}

// AlreadySent reports whether an alarm was delivered on day
func (s *DedupState) AlreadySent(day string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAlarmDate == day
}

// MarkSent records a delivered alarm for day
func (s *DedupState) MarkSent(day string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAlarmDate = day
}

// Reset forgets the last delivered alarm so the next check may send again
func (s *DedupState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAlarmDate = ""
	s.checkedDay = ""
	s.checkedState = ""
}

func (s *DedupState) recordCheck(day string, state DayState, kwh float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkedDay = day
	s.checkedState = state
	s.lastKwh = kwh
	s.lastCheckedAt = at
}

// Snapshot is a read-only view of the dedup state for one day
type Snapshot struct {
	Day           string     `json:"day"`
	State         DayState   `json:"state"`
	LastAlarmDate string     `json:"last_alarm_date,omitempty"`
	LastKwh       float64    `json:"last_kwh"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	ThresholdKwh  float64    `json:"threshold_kwh"`
}

func (s *DedupState) snapshot(day string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Day:           day,
		State:         DayStateNotChecked,
		LastAlarmDate: s.lastAlarmDate,
	}
	switch {
	case s.lastAlarmDate == day:
		snap.State = DayStateSent
	case s.checkedDay == day:
		snap.State = s.checkedState
	}
	if s.checkedDay == day {
		snap.LastKwh = s.lastKwh
		checkedAt := s.lastCheckedAt
		snap.LastCheckedAt = &checkedAt
	}
	return snap
}
