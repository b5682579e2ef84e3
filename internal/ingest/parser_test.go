package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"soilguard/internal/config"
	"soilguard/internal/model"
)

func TestParsePlainText(t *testing.T) {
	p := NewParser()
	readings, err := DecodeLine(p, "2026-02-23 12:34:56 sensorId=4 ph=6.8 condutivity=150", time.UTC)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	r := readings[0]
	require.Equal(t, int64(4), r.SensorID)
	require.Equal(t, 6.8, r.Values[model.MetricPH])
	require.Equal(t, 150.0, r.Values[model.MetricConductivity])
	require.Equal(t, time.Date(2026, 2, 23, 12, 34, 56, 0, time.UTC), r.Timestamp)
}

func TestParseCSV(t *testing.T) {
	p := NewParser()
	objs, err := p.ParseLine("sensorId,dateTime,ph,nitrogen")
	require.NoError(t, err)
	require.Nil(t, objs, "header row yields nothing")

	readings, err := DecodeLine(p, "2,2026-02-23T12:34:56Z,5.2,18", time.UTC)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	require.Equal(t, int64(2), readings[0].SensorID)
	require.Equal(t, 5.2, readings[0].Values[model.MetricPH])
	require.Equal(t, 18.0, readings[0].Values[model.MetricNitrogen])
}

func TestParseCSVWithoutHeader(t *testing.T) {
	readings, err := DecodeLine(NewParser(), "7,2026-02-23T12:34:56Z,40,25,100,6.5,30,20,200", time.UTC)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	require.Len(t, readings[0].Values, len(model.AllMetrics))
	require.Equal(t, 200.0, readings[0].Values[model.MetricPotassium])
}

func TestParseJSON(t *testing.T) {
	line := `[{"sensorId":1,"ph":6},{"sensorId":2,"ph":7}]`
	readings, err := DecodeLine(NewParser(), line, time.UTC)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	require.Equal(t, int64(2), readings[1].SensorID)
}

func TestParseBlank(t *testing.T) {
	readings, err := DecodeLine(NewParser(), "   ", time.UTC)
	require.NoError(t, err)
	require.Empty(t, readings)
}

func TestSendNonBlockingDropsWhenFull(t *testing.T) {
	out := make(chan model.Reading, 1)
	require.True(t, SendNonBlocking(context.Background(), out, model.Reading{SensorID: 1}, nil))
	require.False(t, SendNonBlocking(context.Background(), out, model.Reading{SensorID: 2}, nil))
}

func TestRESTReadings(t *testing.T) {
	out := make(chan model.Reading, 10)
	h := NewRESTServer(config.NewStaticManager(config.DefaultConfig()), out, nil).Handler()

	req := httptest.NewRequest(http.MethodPost, "/readings", strings.NewReader(`[{"sensorId":1,"ph":6.5},{"ph":7}]`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"accepted":1,"failed":1,"dropped":0}`, rec.Body.String())
	require.Len(t, out, 1)

	req = httptest.NewRequest(http.MethodPost, "/readings", strings.NewReader("sensorId,ph\n3,6.1\n4,6.2\n"))
	req.Header.Set("Content-Type", "text/csv")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"accepted":2,"failed":0,"dropped":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readings", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
