package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/smukkama/heating-monitor/internal/aggregation"
	"github.com/smukkama/heating-monitor/internal/protocol"
	"github.com/smukkama/heating-monitor/internal/readings"
	"github.com/smukkama/heating-monitor/internal/telemetry"
)

const dateLayout = "2006-01-02"

// consumptionResponse is the body of GET /api/sensors/consumption
type consumptionResponse struct {
	Date         string   `json:"date"`
	Kwh          float64  `json:"kwh"`
	ThresholdKwh *float64 `json:"threshold_kwh,omitempty"`
}

// parseTime accepts RFC3339 or a plain date. A plain date is midnight in loc,
// or the last instant of that day when endOfDay is set.
func parseTime(value string, loc *time.Location, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	day, err := time.ParseInLocation(dateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use RFC3339 or YYYY-MM-DD)", value)
	}
	if endOfDay {
		_, end := aggregation.DayBounds(day, loc)
		return end, nil
	}
	return day, nil
}

// GET /api/sensors/latest
func (h *Handler) getLatest(w http.ResponseWriter, r *http.Request) {
	reading, err := h.readings.LatestReading(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if reading == nil {
		respondError(w, http.StatusNotFound, "no data available")
		return
	}
	respondData(w, http.StatusOK, "", reading)
}

// GET /api/sensors/24h
func (h *Handler) get24h(w http.ResponseWriter, r *http.Request) {
	list, err := h.readings.Last24Hours(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondReadings(w, list)
}

// GET /api/sensors/averages
func (h *Handler) getAverages(w http.ResponseWriter, r *http.Request) {
	averages, err := h.readings.Averages24h(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if averages == nil {
		averages = &telemetry.Averages{}
	}
	respondData(w, http.StatusOK, "", averages)
}

// GET /api/sensors/hourly?hours=N
func (h *Handler) getHourly(w http.ResponseWriter, r *http.Request) {
	hours := readings.DefaultHourlyWindow
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, readings.ErrHoursOutOfRange.Error())
			return
		}
		hours = n
	}

	points, err := h.readings.Hourly(r.Context(), hours)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if points == nil {
		points = []telemetry.HourlyPoint{}
	}
	respondList(w, points, len(points))
}

// GET /api/sensors/range?start=...&end=...
func (h *Handler) getRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("start") == "" || q.Get("end") == "" {
		respondError(w, http.StatusBadRequest, "start and end are required")
		return
	}

	loc := h.readings.Location()
	start, err := parseTime(q.Get("start"), loc, false)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseTime(q.Get("end"), loc, true)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.readings.Range(r.Context(), start, end)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondReadings(w, list)
}

// GET /api/sensors/day?date=YYYY-MM-DD
func (h *Handler) getDay(w http.ResponseWriter, r *http.Request) {
	day, ok := h.dayParam(w, r)
	if !ok {
		return
	}
	list, err := h.readings.Day(r.Context(), day)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondReadings(w, list)
}

// GET /api/sensors/stats
func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.readings.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondData(w, http.StatusOK, "", stats)
}

// GET /api/sensors/consumption?date=YYYY-MM-DD
func (h *Handler) getConsumption(w http.ResponseWriter, r *http.Request) {
	day, ok := h.dayParam(w, r)
	if !ok {
		return
	}
	kwh, err := h.readings.DailyKwh(r.Context(), day)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := consumptionResponse{
		Date: day.In(h.readings.Location()).Format(dateLayout),
		Kwh:  aggregation.Round(kwh, 2),
	}
	if h.alarm != nil {
		threshold := h.alarm.Status().ThresholdKwh
		resp.ThresholdKwh = &threshold
	}
	respondData(w, http.StatusOK, "", resp)
}

// dayParam reads ?date, defaulting to today. It writes the 400 itself.
func (h *Handler) dayParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return h.now(), true
	}
	day, err := parseTime(raw, h.readings.Location(), false)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return time.Time{}, false
	}
	return day, true
}

// POST /api/sensors
func (h *Handler) createReading(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateReadingRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	reading, err := req.ToReading()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.readings.Create(r.Context(), reading)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondData(w, http.StatusCreated, "reading created", created)
}

// POST /api/sensors/bulk
func (h *Handler) createBulk(w http.ResponseWriter, r *http.Request) {
	var req protocol.BulkReadingsRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Readings) == 0 {
		respondError(w, http.StatusBadRequest, "readings array is required")
		return
	}

	batch := make([]telemetry.Reading, 0, len(req.Readings))
	var problems []string
	for i := range req.Readings {
		reading, err := req.Readings[i].ToReading()
		if err != nil {
			problems = append(problems, fmt.Sprintf("readings[%d]: %v", i, err))
			continue
		}
		batch = append(batch, reading)
	}
	if len(problems) > 0 {
		respondError(w, http.StatusBadRequest, "validation failed", problems...)
		return
	}

	n, err := h.readings.CreateBulk(r.Context(), batch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, protocol.Response{
		Success: true,
		Message: fmt.Sprintf("%d readings created", n),
		Count:   &n,
	})
}

func respondReadings(w http.ResponseWriter, list []telemetry.Reading) {
	if list == nil {
		list = []telemetry.Reading{}
	}
	respondList(w, list, len(list))
}
