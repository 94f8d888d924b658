package api

import (
	"net/http"
	"time"

	"github.com/smukkama/heating-monitor/internal/alarming"
)

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime"` // seconds
}

type checkResponse struct {
	Outcome alarming.Outcome  `json:"outcome"`
	Status  alarming.Snapshot `json:"status"`
}

// GET /health
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	now := h.now()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "OK",
		Timestamp: now.UTC(),
		Uptime:    now.Sub(h.startedAt).Seconds(),
	})
}

// GET /api/alarm/status
func (h *Handler) getAlarmStatus(w http.ResponseWriter, _ *http.Request) {
	respondData(w, http.StatusOK, "", h.alarm.Status())
}

// POST /api/alarm/check runs a check now. An overlapping check reports in_progress.
func (h *Handler) checkAlarm(w http.ResponseWriter, r *http.Request) {
	outcome := h.alarm.Check(r.Context())
	respondData(w, http.StatusOK, "", checkResponse{Outcome: outcome, Status: h.alarm.Status()})
}

// POST /api/alarm/reset
func (h *Handler) resetAlarm(w http.ResponseWriter, _ *http.Request) {
	h.alarm.Reset()
	respondData(w, http.StatusOK, "alarm state reset", h.alarm.Status())
}
