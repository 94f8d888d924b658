package plugstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/smukkama/heating-monitor/internal/plug"
)

func TestDecodeRecord_Defaults(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	rec, err := decodeRecord(defaultFields(now))
	require.NoError(t, err)

	assert.Equal(t, plug.DefaultRecord(now), rec)
}

func TestDecodeRecord_OptionalTimes(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	fetched := now.Add(time.Minute)

	values := defaultFields(now)
	values[fieldLastFetched] = formatTime(fetched)
	values[fieldDesiredState] = "on"
	values[fieldThreshold] = "22.5"
	values[fieldHysteresis] = "0"

	rec, err := decodeRecord(values)
	require.NoError(t, err)

	require.NotNil(t, rec.LastFetched)
	assert.True(t, fetched.Equal(*rec.LastFetched))
	assert.Nil(t, rec.LastReported)
	assert.Equal(t, plug.StateOn, rec.DesiredState)
	assert.Equal(t, 22.5, rec.TemperatureThreshold)
	assert.Equal(t, 0.0, rec.Hysteresis)
}

func TestDecodeRecord_MissingNumbersFallBack(t *testing.T) {
	values := map[string]string{
		fieldMode:         "auto",
		fieldDesiredState: "off",
	}

	rec, err := decodeRecord(values)
	require.NoError(t, err)
	assert.Equal(t, plug.DefaultThreshold, rec.TemperatureThreshold)
	assert.Equal(t, plug.DefaultHysteresis, rec.Hysteresis)
}

func TestDecodeRecord_Corrupt(t *testing.T) {
	values := defaultFields(time.Now())
	values[fieldThreshold] = "warm"

	_, err := decodeRecord(values)
	assert.Error(t, err)

	values = defaultFields(time.Now())
	values[fieldLastReported] = "yesterday"
	_, err = decodeRecord(values)
	assert.Error(t, err)
}

func TestInsertDefaults_SkipsFieldsBeingSet(t *testing.T) {
	now := time.Now()
	set := bson.M{fieldDesiredState: plug.StateOn, fieldLastChanged: now, fieldUpdatedAt: now}

	defaults := insertDefaults(now, set)

	for field := range set {
		assert.NotContains(t, defaults, field)
	}
	assert.Equal(t, plug.ModeManual, defaults[fieldMode])
	assert.Equal(t, plug.StateUnknown, defaults[fieldReportedState])
	assert.Contains(t, defaults, fieldCreatedAt)
}
