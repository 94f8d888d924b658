package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/heating-monitor/internal/alarming"
	"github.com/smukkama/heating-monitor/internal/plug"
	"github.com/smukkama/heating-monitor/internal/readings"
	"github.com/smukkama/heating-monitor/internal/telemetry"
)

var testNow = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

type fakeReadings struct {
	latest     *telemetry.Reading
	list       []telemetry.Reading
	created    []telemetry.Reading
	start, end time.Time
	day        time.Time
	hours      int
	kwh        float64
	err        error
}

func (f *fakeReadings) Location() *time.Location { return time.UTC }

func (f *fakeReadings) LatestReading(context.Context) (*telemetry.Reading, error) {
	return f.latest, f.err
}

func (f *fakeReadings) Last24Hours(context.Context) ([]telemetry.Reading, error) {
	return f.list, f.err
}

func (f *fakeReadings) Averages24h(context.Context) (*telemetry.Averages, error) {
	return &telemetry.Averages{}, f.err
}

func (f *fakeReadings) Hourly(_ context.Context, hours int) ([]telemetry.HourlyPoint, error) {
	f.hours = hours
	if hours < readings.MinHourlyWindow || hours > readings.MaxHourlyWindow {
		return nil, readings.ErrHoursOutOfRange
	}
	return nil, f.err
}

func (f *fakeReadings) Range(_ context.Context, start, end time.Time) ([]telemetry.Reading, error) {
	f.start, f.end = start, end
	if end.Before(start) {
		return nil, readings.ErrInvalidRange
	}
	return f.list, f.err
}

func (f *fakeReadings) Day(_ context.Context, day time.Time) ([]telemetry.Reading, error) {
	f.day = day
	return f.list, f.err
}

func (f *fakeReadings) Stats(context.Context) (*telemetry.Stats, error) {
	return &telemetry.Stats{Latest: f.latest, Total: int64(len(f.list))}, f.err
}

func (f *fakeReadings) DailyKwh(_ context.Context, day time.Time) (float64, error) {
	f.day = day
	return f.kwh, f.err
}

func (f *fakeReadings) Create(_ context.Context, r telemetry.Reading) (*telemetry.Reading, error) {
	r.ApplyDefaults(testNow)
	if err := r.Validate(); err != nil {
		return nil, err
	}
	f.created = append(f.created, r)
	return &r, nil
}

func (f *fakeReadings) CreateBulk(_ context.Context, batch []telemetry.Reading) (int, error) {
	f.created = append(f.created, batch...)
	return len(batch), nil
}

type fakeAlarm struct {
	resets int
	checks int
}

func (f *fakeAlarm) Check(context.Context) alarming.Outcome {
	f.checks++
	return alarming.OutcomeBelowThreshold
}

func (f *fakeAlarm) Reset() { f.resets++ }

func (f *fakeAlarm) Status() alarming.Snapshot {
	return alarming.Snapshot{Day: "2025-01-15", State: alarming.DayStateNotChecked, ThresholdKwh: 12}
}

type fakeCounter struct {
	mu   sync.Mutex
	hits map[string]int64
	err  error
}

func (c *fakeCounter) Hit(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, 0, c.err
	}
	if c.hits == nil {
		c.hits = map[string]int64{}
	}
	c.hits[key]++
	return c.hits[key], window, nil
}

type testEnv struct {
	handler  http.Handler
	readings *fakeReadings
	alarm    *fakeAlarm
	repo     *plug.MemoryRepository
}

func newTestEnv(t *testing.T, mutate func(*Deps), engineOpts ...plug.Option) *testEnv {
	t.Helper()
	fr := &fakeReadings{}
	repo := plug.NewMemoryRepository()
	engine := plug.NewEngine(repo, fr, append([]plug.Option{plug.WithClock(func() time.Time { return testNow })}, engineOpts...)...)
	alarm := &fakeAlarm{}

	deps := Deps{
		Plug:       engine,
		Readings:   fr,
		Alarm:      alarm,
		CORSOrigin: "http://localhost:5173",
	}
	if mutate != nil {
		mutate(&deps)
	}
	return &testEnv{handler: NewHTTPHandler(deps), readings: fr, alarm: alarm, repo: repo}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Count   *int            `json:"count"`
	Errors  []string        `json:"errors"`
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)

	var env envelope
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	}
	return rr, env
}

func TestPlug_DesiredHandshake(t *testing.T) {
	env := newTestEnv(t, nil)

	rr, body := env.do(t, http.MethodGet, "/api/plug/desired", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var cmd plug.DeviceCommand
	require.NoError(t, json.Unmarshal(body.Data, &cmd))
	assert.Equal(t, plug.StateOff, cmd.DesiredState)
	assert.Equal(t, plug.ModeManual, cmd.Mode)

	rr, body = env.do(t, http.MethodPut, "/api/plug/desired", `{"state":"on"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, body.Message, `"on"`)

	rr, _ = env.do(t, http.MethodPost, "/api/plug/reported", `{"state":"on"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, body = env.do(t, http.MethodGet, "/api/plug/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var rec plug.Record
	require.NoError(t, json.Unmarshal(body.Data, &rec))
	assert.Equal(t, plug.StateOn, rec.DesiredState)
	assert.Equal(t, plug.StateOn, rec.ReportedState)
	assert.NotNil(t, rec.LastFetched)
	assert.NotNil(t, rec.LastReported)
}

func TestPlug_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []struct {
		method, path, body string
	}{
		{http.MethodPut, "/api/plug/desired", `{}`},
		{http.MethodPut, "/api/plug/desired", `{"state":"maybe"}`},
		{http.MethodPut, "/api/plug/desired", `not json`},
		{http.MethodPost, "/api/plug/reported", `{"state":"blinking"}`},
		{http.MethodPut, "/api/plug/mode", `{"mode":"eco"}`},
		{http.MethodPut, "/api/plug/mode", `{"mode":"auto","temperature_threshold":31}`},
		{http.MethodPut, "/api/plug/mode", `{"mode":"auto","hysteresis":-0.1}`},
	}
	for _, tc := range cases {
		rr, body := env.do(t, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, "%s %s %s", tc.method, tc.path, tc.body)
		assert.False(t, body.Success)
		assert.NotEmpty(t, body.Message)
	}

	rec, err := env.repo.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, plug.DefaultRecord(rec.CreatedAt).DesiredState, rec.DesiredState, "rejected input changes nothing")
	assert.Equal(t, plug.ModeManual, rec.Mode)
}

func TestPlug_SetMode(t *testing.T) {
	env := newTestEnv(t, nil)

	rr, body := env.do(t, http.MethodPut, "/api/plug/mode", `{"mode":"auto","temperature_threshold":21.5,"hysteresis":1}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, body.Message, "threshold: 21.5°C")
	assert.Contains(t, body.Message, "hysteresis: 1°C")

	var rec plug.Record
	require.NoError(t, json.Unmarshal(body.Data, &rec))
	assert.Equal(t, plug.ModeAuto, rec.Mode)
	assert.Equal(t, 21.5, rec.TemperatureThreshold)
	assert.Equal(t, 1.0, rec.Hysteresis)
}

func TestPlug_AutoPolicyOnPoll(t *testing.T) {
	env := newTestEnv(t, nil)
	env.readings.latest = &telemetry.Reading{Timestamp: testNow, Temperature: 18}

	rr, _ := env.do(t, http.MethodPut, "/api/plug/mode", `{"mode":"auto","temperature_threshold":20}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, body := env.do(t, http.MethodGet, "/api/plug/desired", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var cmd plug.DeviceCommand
	require.NoError(t, json.Unmarshal(body.Data, &cmd))
	assert.Equal(t, plug.StateOn, cmd.DesiredState)
	assert.Equal(t, plug.ModeAuto, cmd.Mode)
}

func TestPlug_RejectOverrideInAutoMode(t *testing.T) {
	env := newTestEnv(t, nil, plug.WithOverridePolicy(plug.OverrideReject))

	rr, _ := env.do(t, http.MethodPut, "/api/plug/mode", `{"mode":"auto"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, body := env.do(t, http.MethodPut, "/api/plug/desired", `{"state":"on"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.False(t, body.Success)
}

func TestSensors_Latest(t *testing.T) {
	env := newTestEnv(t, nil)

	rr, body := env.do(t, http.MethodGet, "/api/sensors/latest", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "no data available", body.Message)

	env.readings.latest = &telemetry.Reading{Timestamp: testNow, Temperature: 21.3, Humidity: 40, PowerDraw: 0}
	rr, body = env.do(t, http.MethodGet, "/api/sensors/latest", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var r telemetry.Reading
	require.NoError(t, json.Unmarshal(body.Data, &r))
	assert.Equal(t, 21.3, r.Temperature)
}

func TestSensors_ListsCarryCount(t *testing.T) {
	env := newTestEnv(t, nil)

	rr, body := env.do(t, http.MethodGet, "/api/sensors/24h", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, body.Count)
	assert.Equal(t, 0, *body.Count)
	assert.JSONEq(t, `[]`, string(body.Data))

	env.readings.list = []telemetry.Reading{{Temperature: 20}, {Temperature: 21}}
	_, body = env.do(t, http.MethodGet, "/api/sensors/24h", "")
	assert.Equal(t, 2, *body.Count)
}

func TestSensors_Hourly(t *testing.T) {
	env := newTestEnv(t, nil)

	rr, _ := env.do(t, http.MethodGet, "/api/sensors/hourly", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, readings.DefaultHourlyWindow, env.readings.hours)

	for _, q := range []string{"0", "169", "abc"} {
		rr, _ = env.do(t, http.MethodGet, "/api/sensors/hourly?hours="+q, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
}

func TestSensors_Range(t *testing.T) {
	env := newTestEnv(t, nil)

	rr, _ := env.do(t, http.MethodGet, "/api/sensors/range?start=2025-01-14", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = env.do(t, http.MethodGet, "/api/sensors/range?start=yesterday&end=2025-01-15", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = env.do(t, http.MethodGet, "/api/sensors/range?start=2025-01-14&end=2025-01-15", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC), env.readings.start)
	assert.Equal(t, time.Date(2025, 1, 15, 23, 59, 59, 999999999, time.UTC), env.readings.end)

	rr, _ = env.do(t, http.MethodGet, "/api/sensors/range?start=2025-01-14T10:00:00Z&end=2025-01-14T12:00:00Z", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, time.Date(2025, 1, 14, 12, 0, 0, 0, time.UTC), env.readings.end)

	rr, _ = env.do(t, http.MethodGet, "/api/sensors/range?start=2025-01-15T10:00:00Z&end=2025-01-14T12:00:00Z", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSensors_Consumption(t *testing.T) {
	env := newTestEnv(t, nil)
	env.readings.kwh = 7.4567

	rr, body := env.do(t, http.MethodGet, "/api/sensors/consumption?date=2025-01-10", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"date":"2025-01-10","kwh":7.46,"threshold_kwh":12}`, string(body.Data))
	assert.Equal(t, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), env.readings.day)

	rr, _ = env.do(t, http.MethodGet, "/api/sensors/consumption?date=10.01.2025", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSensors_Create(t *testing.T) {
	env := newTestEnv(t, nil)

	rr, body := env.do(t, http.MethodPost, "/api/sensors", `{"temperature":21.5,"humidity":45,"power_draw":850}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.True(t, body.Success)
	require.Len(t, env.readings.created, 1)
	assert.Equal(t, telemetry.DefaultSensorID, env.readings.created[0].SensorID)

	rr, _ = env.do(t, http.MethodPost, "/api/sensors", `{"temperature":21.5,"humidity":45}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, body = env.do(t, http.MethodPost, "/api/sensors", `{"temperature":120,"humidity":45,"power_draw":10}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.NotEmpty(t, body.Errors)
	assert.Len(t, env.readings.created, 1)
}

func TestSensors_Bulk(t *testing.T) {
	env := newTestEnv(t, nil)

	rr, body := env.do(t, http.MethodPost, "/api/sensors/bulk", `{"readings":[]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, body = env.do(t, http.MethodPost, "/api/sensors/bulk",
		`{"readings":[{"temperature":20,"humidity":40,"power_draw":1},{"temperature":20}]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	require.Len(t, body.Errors, 1)
	assert.Contains(t, body.Errors[0], "readings[1]")
	assert.Empty(t, env.readings.created)

	rr, body = env.do(t, http.MethodPost, "/api/sensors/bulk",
		`{"readings":[{"temperature":20,"humidity":40,"power_draw":1},{"temperature":21,"humidity":41,"power_draw":2}]}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, 2, *body.Count)
	assert.Len(t, env.readings.created, 2)
}

func TestAlarmRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	rr, body := env.do(t, http.MethodGet, "/api/alarm/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(body.Data), `"threshold_kwh":12`)

	rr, body = env.do(t, http.MethodPost, "/api/alarm/check", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(body.Data), `"outcome":"below_threshold"`)
	assert.Equal(t, 1, env.alarm.checks)

	rr, _ = env.do(t, http.MethodPost, "/api/alarm/reset", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, env.alarm.resets)
}

func TestAlarmRoutes_AbsentWithoutAlarm(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Alarm = nil })

	rr, _ := env.do(t, http.MethodGet, "/api/alarm/status", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestInternalErrorIsHidden(t *testing.T) {
	env := newTestEnv(t, nil)
	env.readings.err = errors.New("pq: connection refused")

	rr, body := env.do(t, http.MethodGet, "/api/sensors/stats", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal server error", body.Message)
}

func TestHealthAndMiddleware(t *testing.T) {
	env := newTestEnv(t, nil)

	rr, _ := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var health healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, "OK", health.Status)
	assert.GreaterOrEqual(t, health.Uptime, 0.0)

	assert.NotEmpty(t, rr.Header().Get(requestIDHeader))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, "req-42", rr.Header().Get(requestIDHeader))

	rr, body := env.do(t, http.MethodDelete, "/api/plug/desired", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.False(t, body.Success)

	rr, _ = env.do(t, http.MethodGet, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRateLimiter(t *testing.T) {
	counter := &fakeCounter{}
	env := newTestEnv(t, func(d *Deps) {
		d.Limiter = NewRateLimiter(counter, 15*time.Minute, 2, nil)
	})

	for i := 0; i < 2; i++ {
		rr, _ := env.do(t, http.MethodGet, "/api/sensors/24h", "")
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr, body := env.do(t, http.MethodGet, "/api/sensors/24h", "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.False(t, body.Success)
	assert.Equal(t, "2", rr.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "0", rr.Header().Get("RateLimit-Remaining"))
	assert.Equal(t, "900", rr.Header().Get("RateLimit-Reset"))

	// device endpoints are not limited
	rr, _ = env.do(t, http.MethodGet, "/api/plug/desired", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	counter := &fakeCounter{err: errors.New("redis: connection refused")}
	env := newTestEnv(t, func(d *Deps) {
		d.Limiter = NewRateLimiter(counter, time.Minute, 1, nil)
	})

	for i := 0; i < 3; i++ {
		rr, _ := env.do(t, http.MethodGet, "/api/sensors/24h", "")
		assert.Equal(t, http.StatusOK, rr.Code)
	}
}
