package ingest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"soilguard/internal/config"
	"soilguard/internal/model"
)

func postReadings(t *testing.T, h http.Handler, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/readings", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRESTPlainTextBody(t *testing.T) {
	out := make(chan model.Reading, 10)
	h := NewRESTServer(config.NewStaticManager(config.DefaultConfig()), out, nil).Handler()

	body := "2026-02-23 12:34:56 sensorId=4 ph=6.8 condutivity=150\n\nph=7.1\n"
	rec := postReadings(t, h, "text/plain; charset=utf-8", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"accepted":1,"failed":1,"dropped":0}`, rec.Body.String())

	r := <-out
	require.Equal(t, int64(4), r.SensorID)
	require.Equal(t, 6.8, r.Values[model.MetricPH])
	require.Equal(t, 150.0, r.Values[model.MetricConductivity])
	require.Equal(t, time.Date(2026, 2, 23, 12, 34, 56, 0, time.UTC), r.Timestamp)
}

func TestRESTCountsDroppedReadings(t *testing.T) {
	out := make(chan model.Reading, 1)
	h := NewRESTServer(config.NewStaticManager(config.DefaultConfig()), out, nil).Handler()

	rec := postReadings(t, h, "application/json", `[{"sensorId":1,"ph":6},{"sensorId":2,"ph":6},{"sensorId":3,"ph":6}]`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"accepted":1,"failed":0,"dropped":2}`, rec.Body.String())
	require.Len(t, out, 1)
	require.Equal(t, int64(1), (<-out).SensorID)
}

func TestRESTCSVWithoutHeader(t *testing.T) {
	out := make(chan model.Reading, 10)
	h := NewRESTServer(config.NewStaticManager(config.DefaultConfig()), out, nil).Handler()

	rec := postReadings(t, h, "text/csv", "7,2026-02-23 10:00:00,35\n")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"accepted":1,"failed":0,"dropped":0}`, rec.Body.String())
	require.Equal(t, int64(7), (<-out).SensorID)
}

func TestRESTRejectsBadBodies(t *testing.T) {
	out := make(chan model.Reading, 10)
	h := NewRESTServer(config.NewStaticManager(config.DefaultConfig()), out, nil).Handler()

	require.Equal(t, http.StatusBadRequest, postReadings(t, h, "application/json", "   ").Code)
	require.Equal(t, http.StatusBadRequest, postReadings(t, h, "application/json", "not json").Code)
	require.Empty(t, out)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
