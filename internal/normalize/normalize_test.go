package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"soilguard/internal/model"
)

func TestReadingFromBackendPayload(t *testing.T) {
	objs, err := Objects([]byte(`{
		"sensorDataId": 42,
		"sensorId": 3,
		"soilHumidity": 35.5,
		"temperature": 22,
		"condutivity": 120,
		"ph": "6.4",
		"nitrogen": 30,
		"phosphorus": 20,
		"potassium": 210,
		"dateTime": "2025-05-01T10:00:00Z"
	}`))
	require.NoError(t, err)
	require.Len(t, objs, 1)

	r, err := Reading(objs[0], 0, time.UTC)
	require.NoError(t, err)
	require.Equal(t, int64(3), r.SensorID)
	require.Equal(t, int64(42), r.ReadingID)
	require.Equal(t, time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC), r.Timestamp)
	require.Len(t, r.Values, len(model.AllMetrics))
	require.Equal(t, 120.0, r.Values[model.MetricConductivity])
	require.Equal(t, 6.4, r.Values[model.MetricPH])
}

func TestReadingFallbackSensor(t *testing.T) {
	obj := map[string]any{"ph": 6.5, "dateTime": "2025-05-01 10:00:00"}
	_, err := Reading(obj, 0, time.UTC)
	require.ErrorIs(t, err, ErrMissingSensorID)

	r, err := Reading(obj, 9, time.UTC)
	require.NoError(t, err)
	require.Equal(t, int64(9), r.SensorID)
}

func TestReadingZoneLessTimestampUsesLocation(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	r, err := Reading(map[string]any{"sensorId": 1, "dateTime": "2025-05-01 10:00:00"}, 0, loc)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 5, 1, 13, 0, 0, 0, time.UTC), r.Timestamp)
}

func TestReadingsArray(t *testing.T) {
	objs, err := Objects([]byte(`[{"ph": 6}, {"ph": 7}]`))
	require.NoError(t, err)
	list, err := Readings(objs, 5, time.UTC)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, int64(5), list[1].SensorID)
}

func TestAlertLevels(t *testing.T) {
	a, err := Alert(map[string]any{
		"alertId":  json.Number("17"),
		"message":  "pH crítico",
		"level":    "Crítico",
		"dateTime": "1714557600000",
	}, 4, time.UTC)
	require.NoError(t, err)
	require.Equal(t, int64(17), a.ID)
	require.Equal(t, int64(4), a.SensorID)
	require.Equal(t, model.SeverityCritico, a.Level)
	require.Equal(t, time.UnixMilli(1714557600000).UTC(), a.Timestamp)

	a, err = Alert(map[string]any{"id": 2, "sensorId": 8, "level": 1}, 4, time.UTC)
	require.NoError(t, err)
	require.Equal(t, int64(8), a.SensorID)
	require.Equal(t, model.SeverityAlerta, a.Level)

	_, err = Alert(map[string]any{"id": 3, "level": "purple"}, 4, time.UTC)
	require.ErrorIs(t, err, model.ErrUnknownSeverity)

	_, err = Alert(map[string]any{"level": "Ok"}, 4, time.UTC)
	require.ErrorIs(t, err, ErrMissingAlertID)
}

func TestSensor(t *testing.T) {
	s, err := Sensor(map[string]any{"sensorId": json.Number("12"), "sensorName": "Horta"})
	require.NoError(t, err)
	require.Equal(t, model.Sensor{ID: 12, Name: "Horta"}, s)
}

func TestParseTimestampFormats(t *testing.T) {
	want := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, in := range []string{
		"2025-01-02T03:04:05Z",
		"2025-01-02 03:04:05",
		"2025-01-02T03:04:05",
		"1735787045",
		"1735787045000",
	} {
		got, err := ParseTimestamp(in, time.UTC)
		require.NoError(t, err, in)
		require.True(t, want.Equal(got), in)
	}
	_, err := ParseTimestamp("yesterday", time.UTC)
	require.Error(t, err)
}

func TestObjectsRejectsGarbage(t *testing.T) {
	_, err := Objects([]byte("   "))
	require.Error(t, err)
	_, err = Objects([]byte("{not json"))
	require.Error(t, err)
}

func TestParseLevelNumeric(t *testing.T) {
	for in, want := range map[any]model.Severity{
		0:                model.SeverityOk,
		2.0:              model.SeverityCritico,
		json.Number("1"): model.SeverityAlerta,
		"2":              model.SeverityCritico,
		"alerta":         model.SeverityAlerta,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	for _, in := range []any{1.7, -0.5, 3, json.Number("0.2"), "NaN"} {
		_, err := ParseLevel(in)
		require.ErrorIs(t, err, model.ErrUnknownSeverity, in)
	}
}
