package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"soilguard/internal/config"
	"soilguard/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(config.BackendConfig{BaseURL: srv.URL + "/api", Token: "tok", Timeout: config.Duration(2 * time.Second)}, time.UTC)
	require.NoError(t, err)
	return c
}

func TestListSensorsSendsToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/sensors", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"sensorId":1,"sensorName":"Canteiro A"},{"sensorId":2,"sensorName":"Estufa"}]`))
	})
	sensors, err := c.ListSensors(context.Background())
	require.NoError(t, err)
	require.Equal(t, []model.Sensor{{ID: 1, Name: "Canteiro A"}, {ID: 2, Name: "Estufa"}}, sensors)
}

func TestSensorDataAndAlerts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/sensors/7/data":
			_, _ = w.Write([]byte(`[{"sensorDataId":1,"ph":6.1,"condutivity":90,"dateTime":"2025-05-01T00:00:00Z"}]`))
		case "/api/sensor/7/alerts":
			_, _ = w.Write([]byte(`[{"alertId":11,"level":"Alerta","message":"pH baixo","dateTime":"2025-05-01T00:00:00Z"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	data, err := c.SensorData(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, data, 1)
	require.Equal(t, int64(7), data[0].SensorID)
	require.Equal(t, 90.0, data[0].Values[model.MetricConductivity])

	alerts, err := c.SensorAlerts(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, int64(11), alerts[0].ID)
	require.Equal(t, int64(7), alerts[0].SensorID)
	require.Equal(t, model.SeverityAlerta, alerts[0].Level)
}

func TestEmptyBodyIsEmptyList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	alerts, err := c.SensorAlerts(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, alerts)
}

func TestStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/api/alert/5", r.URL.Path)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"forbidden"}`))
	})
	err := c.DeleteAlert(context.Background(), 5)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusForbidden, se.StatusCode)
	require.Equal(t, "/alert/5", se.Path)
	require.Contains(t, se.Error(), "forbidden")
}

func TestStatusErrorKeepsRunesWhole(t *testing.T) {
	msg := strings.Repeat("a", maxExcerpt-1) + "ção inválida"
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(msg))
	})
	_, err := c.ListSensors(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.True(t, utf8.ValidString(se.Body))
	require.Len(t, se.Body, maxExcerpt-1)

	require.Equal(t, "ação", excerpt([]byte("  ação  "), 16))
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(config.BackendConfig{}, nil)
	require.Error(t, err)
}
