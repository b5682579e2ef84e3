package engine

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"soilguard/internal/config"
	"soilguard/internal/metrics"
	"soilguard/internal/model"
	"soilguard/internal/thresholds"
)

type Engine struct {
	logger  *slog.Logger
	status  *metrics.Store
	active  atomic.Pointer[snapshot]
	started time.Time
}

// snapshot pairs a table with the memo built against it, so a swap never
// mixes results from two tables.
type snapshot struct {
	table *thresholds.Table
	memo  *MemoCache
}

func NewEngine(cfg *config.Config, logger *slog.Logger, statusStore *metrics.Store) *Engine {
	e := &Engine{
		logger:  logger,
		status:  statusStore,
		started: time.Now().UTC(),
	}
	e.active.Store(&snapshot{table: tableFrom(cfg), memo: NewMemoCache()})
	return e
}

// UpdateConfig swaps the threshold table together with a fresh memo.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	next := tableFrom(cfg)
	prev := e.Table()
	e.active.Store(&snapshot{table: next, memo: NewMemoCache()})
	if e.logger != nil && prev.Version != next.Version {
		e.logger.Info("threshold table updated", "from", prev.Version, "to", next.Version)
	}
}

func (e *Engine) Reset() {
	e.active.Store(&snapshot{table: e.Table(), memo: NewMemoCache()})
	if e.status != nil {
		e.status.Clear()
	}
}

func (e *Engine) Table() *thresholds.Table {
	if snap := e.active.Load(); snap != nil {
		return snap.table
	}
	return thresholds.DefaultTable()
}

func (e *Engine) Start(ctx context.Context, in <-chan model.Reading) {
	go func() {
		for {
			select {
			case r := <-in:
				e.ProcessReading(r)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessReading evaluates r and records the result as the sensor's latest
// status.
func (e *Engine) ProcessReading(r model.Reading) model.Assessment {
	a := e.Evaluate(r)
	for _, ms := range a.Metrics {
		metrics.RecordClassified(ms.Metric, ms.Level)
	}
	if e.status != nil {
		e.status.Update(a)
	}
	if a.Worst != model.SeverityOk && e.logger != nil {
		e.logger.Warn("reading out of ideal band",
			"sensor_id", a.SensorID,
			"reading_id", a.ReadingID,
			"worst", a.Worst.String(),
			"metrics", offending(a),
		)
	}
	return a
}

// Evaluate classifies every metric of r. A missing or non-finite value is
// Crítico.
func (e *Engine) Evaluate(r model.Reading) model.Assessment {
	snap := e.active.Load()
	a := model.Assessment{
		SensorID:  r.SensorID,
		ReadingID: r.ReadingID,
		Timestamp: r.Timestamp,
		Metrics:   make([]model.MetricStatus, 0, len(model.AllMetrics)),
	}
	for _, m := range model.AllMetrics {
		v, present := r.Value(m)
		ms := model.MetricStatus{Metric: m, Present: present, Unit: m.Unit()}
		if present {
			ms.Value = v
			ms.Level = snap.classify(m, v)
		} else {
			ms.Level = model.SeverityCritico
		}
		ms.Color = Color(ms.Level)
		suggestOn := v
		if !present {
			suggestOn = math.NaN()
		}
		if text, ok := Suggest(snap.table, m, suggestOn, ms.Level); ok {
			ms.Suggestion = text
		}
		if ms.Level > a.Worst {
			a.Worst = ms.Level
		}
		a.Metrics = append(a.Metrics, ms)
	}
	return a
}

func (e *Engine) Classify(metric model.Metric, value float64) model.Severity {
	return e.active.Load().classify(metric, value)
}

func (e *Engine) Suggest(metric model.Metric, value float64, level model.Severity) (string, bool) {
	return Suggest(e.Table(), metric, value, level)
}

func (e *Engine) Uptime() time.Duration {
	return time.Since(e.started)
}

func (s *snapshot) classify(metric model.Metric, value float64) model.Severity {
	if level, ok := s.memo.Get(metric, value); ok {
		return level
	}
	level := Classify(s.table, metric, value)
	s.memo.Put(metric, value, level)
	return level
}

func tableFrom(cfg *config.Config) *thresholds.Table {
	if cfg == nil || cfg.Thresholds == nil {
		return thresholds.DefaultTable()
	}
	return cfg.Thresholds.Clone()
}

func offending(a model.Assessment) []string {
	out := make([]string, 0, len(a.Metrics))
	for _, ms := range a.Metrics {
		if ms.Level != model.SeverityOk {
			out = append(out, string(ms.Metric)+"="+ms.Level.String())
		}
	}
	return out
}
