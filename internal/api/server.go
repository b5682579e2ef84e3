package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"soilguard/internal/alerts"
	"soilguard/internal/config"
	"soilguard/internal/engine"
	"soilguard/internal/metrics"
	"soilguard/internal/model"
	"soilguard/internal/normalize"
	"soilguard/internal/refresh"
	"soilguard/internal/thresholds"
	"soilguard/internal/trend"
)

type EngineControl interface {
	Reset()
	UpdateConfig(cfg *config.Config)
	Table() *thresholds.Table
	Evaluate(r model.Reading) model.Assessment
	Classify(metric model.Metric, value float64) model.Severity
	Suggest(metric model.Metric, value float64, level model.Severity) (string, bool)
}

// Backend is the part of the backend client the API forwards to.
type Backend interface {
	SensorData(ctx context.Context, sensorID int64) ([]model.Reading, error)
	DeleteAlert(ctx context.Context, alertID int64) error
}

type Refresher interface {
	Run(ctx context.Context) (refresh.Result, error)
}

// Deps lists what the handlers use. Backend and Refresher may be nil when no
// backend is configured; their endpoints then answer 503.
type Deps struct {
	Config    *config.Manager
	Status    *metrics.Store
	Feed      *alerts.Store
	Engine    EngineControl
	Backend   Backend
	Refresher Refresher
	Logger    *slog.Logger
	Version   string
}

type Server struct {
	cfg       *config.Manager
	status    *metrics.Store
	feed      *alerts.Store
	engine    EngineControl
	backend   Backend
	refresher Refresher
	logger    *slog.Logger
	version   string
}

type statusResponse struct {
	Status           string       `json:"status"`
	Time             string       `json:"time"`
	Version          string       `json:"version"`
	ThresholdVersion string       `json:"threshold_version"`
	ConfigPath       string       `json:"config_path"`
	Ingest           ingestStatus `json:"ingest"`
	API              apiStatus    `json:"api"`
	Backend          bool         `json:"backend"`
	Storage          string       `json:"storage"`
	MQTT             bool         `json:"mqtt"`
	Sensors          int          `json:"sensors"`
	FeedUpdatedAt    string       `json:"feed_updated_at,omitempty"`
}

type ingestStatus struct {
	REST  bool `json:"rest"`
	Kafka bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// classifyResponse carries a null value for NaN and ±Inf inputs, which JSON
// cannot represent; the level is still reported.
type classifyResponse struct {
	Metric     model.Metric   `json:"metric"`
	Value      *float64       `json:"value"`
	Level      model.Severity `json:"level"`
	Color      string         `json:"color"`
	Suggestion string         `json:"suggestion,omitempty"`
}

type warningResponse struct {
	Op       string `json:"op"`
	SensorID int64  `json:"sensor_id,omitempty"`
	AlertID  int64  `json:"alert_id,omitempty"`
	Error    string `json:"error"`
}

func NewServer(deps Deps) *Server {
	return &Server{
		cfg:       deps.Config,
		status:    deps.Status,
		feed:      deps.Feed,
		engine:    deps.Engine,
		backend:   deps.Backend,
		refresher: deps.Refresher,
		logger:    deps.Logger,
		version:   deps.Version,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/thresholds", s.handleThresholds)
	mux.HandleFunc("/classify", s.handleClassify)
	mux.HandleFunc("/assess", s.handleAssess)
	mux.HandleFunc("/sensors/{id}/status", s.handleSensorStatus)
	mux.HandleFunc("/sensors/{id}/summary", s.handleSensorSummary)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/alerts/{id}", s.handleAlert)
	mux.HandleFunc("/refresh", s.handleRefresh)
	mux.HandleFunc("/admin/clear", s.handleClear)
	mux.HandleFunc("/admin/restart", s.handleRestart)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func Start(ctx context.Context, deps Deps) *http.Server {
	if deps.Config == nil {
		return nil
	}
	logger := deps.Logger
	current := deps.Config.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           NewServer(deps).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:           "ok",
		Time:             time.Now().UTC().Format(time.RFC3339Nano),
		Version:          s.version,
		ThresholdVersion: s.engine.Table().Version,
		ConfigPath:       s.cfg.Path(),
		Ingest: ingestStatus{
			REST:  cfg.Ingest.REST.Enabled,
			Kafka: cfg.Ingest.Kafka.Enabled,
		},
		API:     apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Backend: s.backend != nil,
		Storage: cfg.Storage.Driver,
		MQTT:    cfg.Notify.MQTT.Enabled,
	}
	if s.status != nil {
		resp.Sensors = s.status.Len()
	}
	if s.feed != nil {
		if ts := s.feed.UpdatedAt(); !ts.IsZero() {
			resp.FeedUpdatedAt = ts.Format(time.RFC3339Nano)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleThresholds serves the active table; PUT replaces it, persisting to
// the config file when there is one.
func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.engine.Table())
	case http.MethodPut, http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var table thresholds.Table
		if err := json.Unmarshal(body, &table); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", err)
			return
		}
		if err := thresholds.Validate(&table); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_table", err)
			return
		}
		next, err := s.cfg.UpdateThresholds(&table)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "update_failed", err)
			return
		}
		s.engine.UpdateConfig(next)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": table.Version})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	metric, err := model.ParseMetric(q.Get("metric"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_metric", err)
		return
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(q.Get("value")), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_value", err)
		return
	}
	level := s.engine.Classify(metric, value)
	resp := classifyResponse{Metric: metric, Level: level, Color: engine.Color(level)}
	if !math.IsNaN(value) && !math.IsInf(value, 0) {
		resp.Value = &value
	}
	if text, ok := s.engine.Suggest(metric, value, level); ok {
		resp.Suggestion = text
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAssess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	objs, err := normalize.Objects(body)
	if err != nil || len(objs) != 1 {
		writeError(w, http.StatusBadRequest, "invalid_json", err)
		return
	}
	reading, err := normalize.Reading(withSensorID(objs[0]), 0, normalize.Location(s.cfg.Get().Ingest.Parser.Timezone))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_reading", err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Evaluate(reading))
}

func (s *Server) handleSensorStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, updated, found := s.status.Get(id)
	if !found {
		writeError(w, http.StatusNotFound, "not_found", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sensor_id":  id,
		"updated_at": updated.Format(time.RFC3339Nano),
		"assessment": a,
	})
}

func (s *Server) handleSensorSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	metric, err := model.ParseMetric(r.URL.Query().Get("metric"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_metric", err)
		return
	}
	if s.backend == nil {
		writeError(w, http.StatusServiceUnavailable, "backend_unavailable", nil)
		return
	}
	series, err := s.backend.SensorData(r.Context(), id)
	if err != nil {
		s.warn("sensor data fetch failed", id, err)
		writeError(w, http.StatusBadGateway, "backend_error", err)
		return
	}
	summary, err := trend.Summarize(series, metric, time.Now().UTC())
	if errors.Is(err, trend.ErrEmptySeries) {
		writeError(w, http.StatusNotFound, "empty_series", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "summary_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.Alert
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.feed.Since(ts)
	} else {
		list = s.feed.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if s.backend == nil {
		writeError(w, http.StatusServiceUnavailable, "backend_unavailable", nil)
		return
	}
	if err := s.backend.DeleteAlert(r.Context(), id); err != nil {
		writeError(w, http.StatusBadGateway, "backend_error", err)
		return
	}
	removed := s.feed.Remove(id)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "removed": removed})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "backend_unavailable", nil)
		return
	}
	res, err := s.refresher.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "refresh_failed", err)
		return
	}
	warnings := make([]warningResponse, 0, len(res.Warnings))
	for _, wr := range res.Warnings {
		warnings = append(warnings, warningResponse{Op: wr.Op, SensorID: wr.SensorID, AlertID: wr.AlertID, Error: wr.Err.Error()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notified": res.Notified,
		"feed":     len(res.Feed),
		"seen":     len(res.Seen),
		"warnings": warnings,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.status.Clear()
		s.feed.Clear()
	case "alerts", "feed":
		s.feed.Clear()
	case "status":
		s.status.Clear()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleRestart drops the classification memo along with cached state.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.engine.Reset()
	s.feed.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) warn(msg string, sensorID int64, err error) {
	if s.logger != nil {
		s.logger.Warn(msg, "sensor_id", sensorID, "err", err)
	}
}

// withSensorID lets ad-hoc readings omit the sensor; they are assessed as
// sensor 0.
func withSensorID(obj map[string]any) map[string]any {
	for k := range obj {
		switch strings.ToLower(k) {
		case "sensorid", "sensor_id", "sensor":
			return obj
		}
	}
	out := make(map[string]any, len(obj)+1)
	for k, v := range obj {
		out[k] = v
	}
	out["sensorId"] = 0
	return out
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err)
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	payload := map[string]any{"error": code}
	if err != nil {
		payload["message"] = err.Error()
	}
	writeJSON(w, status, payload)
}

// writeJSON encodes before writing the header so an unencodable payload
// becomes a 500 instead of an empty success.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		buf.Reset()
		status = http.StatusInternalServerError
		_ = json.NewEncoder(&buf).Encode(map[string]any{"error": "encode_failed", "message": err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
