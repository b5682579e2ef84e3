package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"soilguard/internal/model"
)

var (
	ErrMissingSensorID = errors.New("missing sensor id")
	ErrMissingAlertID  = errors.New("missing alert id")
)

// Location resolves a configured timezone, falling back to UTC.
func Location(tz string) *time.Location {
	if strings.TrimSpace(tz) == "" {
		return time.UTC
	}
	if l, err := time.LoadLocation(tz); err == nil {
		return l
	}
	return time.UTC
}

// Objects decodes a JSON object or an array of objects.
func Objects(data []byte) ([]map[string]any, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 {
		return nil, errors.New("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(trim))
	dec.UseNumber()
	if trim[0] == '[' {
		var list []map[string]any
		if err := dec.Decode(&list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return []map[string]any{obj}, nil
}

// Reading maps a backend sensor-data object onto a model.Reading. Metric keys
// go through model.ParseMetric, so "condutivity" lands on conductivity. A
// missing sensorId is allowed when fallbackSensor is non-zero.
func Reading(obj map[string]any, fallbackSensor int64, loc *time.Location) (model.Reading, error) {
	fields := lowerKeys(obj)
	r := model.Reading{Values: make(map[model.Metric]float64, len(model.AllMetrics))}

	if id, ok := intField(fields, "sensorid", "sensor_id", "sensor"); ok {
		r.SensorID = id
	} else if fallbackSensor != 0 {
		r.SensorID = fallbackSensor
	} else {
		return model.Reading{}, ErrMissingSensorID
	}
	r.ReadingID, _ = intField(fields, "sensordataid", "reading_id", "readingid", "id")

	ts, err := timestampField(fields, loc, "datetime", "timestamp", "time", "ts")
	if err != nil {
		return model.Reading{}, err
	}
	r.Timestamp = ts

	for key, raw := range fields {
		m, err := model.ParseMetric(key)
		if err != nil {
			continue
		}
		if v, ok := toFloat(raw); ok {
			r.Values[m] = v
		}
	}
	return r, nil
}

// Readings normalizes every object, stopping at the first error.
func Readings(objs []map[string]any, fallbackSensor int64, loc *time.Location) ([]model.Reading, error) {
	out := make([]model.Reading, 0, len(objs))
	for i, obj := range objs {
		r, err := Reading(obj, fallbackSensor, loc)
		if err != nil {
			return nil, fmt.Errorf("reading %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Alert maps a backend alert object. Levels may be names or 0..2.
func Alert(obj map[string]any, fallbackSensor int64, loc *time.Location) (model.Alert, error) {
	fields := lowerKeys(obj)
	id, ok := intField(fields, "alertid", "alert_id", "id")
	if !ok {
		return model.Alert{}, ErrMissingAlertID
	}
	a := model.Alert{ID: id}
	if sid, ok := intField(fields, "sensorid", "sensor_id"); ok {
		a.SensorID = sid
	} else {
		a.SensorID = fallbackSensor
	}
	a.Message = stringField(fields, "message", "msg", "description", "text")

	level, err := levelField(fields, "level", "severity", "status")
	if err != nil {
		return model.Alert{}, err
	}
	a.Level = level

	ts, err := timestampField(fields, loc, "datetime", "timestamp", "createdat", "created_at", "time")
	if err != nil {
		return model.Alert{}, err
	}
	a.Timestamp = ts
	return a, nil
}

func Sensor(obj map[string]any) (model.Sensor, error) {
	fields := lowerKeys(obj)
	id, ok := intField(fields, "sensorid", "sensor_id", "id")
	if !ok {
		return model.Sensor{}, ErrMissingSensorID
	}
	return model.Sensor{ID: id, Name: stringField(fields, "sensorname", "sensor_name", "name")}, nil
}

func ParseLevel(value any) (model.Severity, error) {
	if n, ok := toFloat(value); ok {
		if n != math.Trunc(n) {
			return model.SeverityOk, fmt.Errorf("%w: %v", model.ErrUnknownSeverity, value)
		}
		switch int(n) {
		case 0:
			return model.SeverityOk, nil
		case 1:
			return model.SeverityAlerta, nil
		case 2:
			return model.SeverityCritico, nil
		}
		return model.SeverityOk, fmt.Errorf("%w: %v", model.ErrUnknownSeverity, value)
	}
	return model.ParseSeverity(fmt.Sprint(value))
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02",
}

// ParseTimestamp accepts RFC 3339, a few zone-less layouts read in loc, and
// unix seconds or milliseconds.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

func lowerKeys(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

func lookup(fields map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(fields map[string]any, keys ...string) string {
	v, ok := lookup(fields, keys...)
	if !ok {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func intField(fields map[string]any, keys ...string) (int64, bool) {
	v, ok := lookup(fields, keys...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, true
		}
	}
	if f, ok := toFloat(v); ok && f == math.Trunc(f) {
		return int64(f), true
	}
	return 0, false
}

func levelField(fields map[string]any, keys ...string) (model.Severity, error) {
	v, ok := lookup(fields, keys...)
	if !ok {
		return model.SeverityOk, fmt.Errorf("%w: missing level", model.ErrUnknownSeverity)
	}
	return ParseLevel(v)
}

func timestampField(fields map[string]any, loc *time.Location, keys ...string) (time.Time, error) {
	v, ok := lookup(fields, keys...)
	if !ok {
		return time.Now().UTC(), nil
	}
	ts, err := ParseTimestamp(fmt.Sprint(v), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return ts, nil
}

// toFloat converts JSON numbers and numeric strings. Non-finite results are
// returned as-is; classification treats them as invalid readings.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
