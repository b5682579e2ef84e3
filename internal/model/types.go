package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrUnknownMetric   = errors.New("unknown metric")
	ErrUnknownSeverity = errors.New("unknown severity")
)

type Metric string

const (
	MetricSoilHumidity Metric = "soilHumidity"
	MetricTemperature  Metric = "temperature"
	MetricConductivity Metric = "conductivity"
	MetricPH           Metric = "ph"
	MetricNitrogen     Metric = "nitrogen"
	MetricPhosphorus   Metric = "phosphorus"
	MetricPotassium    Metric = "potassium"
)

// AllMetrics lists every metric a sensor reports, in display order.
var AllMetrics = []Metric{
	MetricSoilHumidity,
	MetricTemperature,
	MetricConductivity,
	MetricPH,
	MetricNitrogen,
	MetricPhosphorus,
	MetricPotassium,
}

// ParseMetric accepts the canonical names plus the spellings the backend uses.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "soilhumidity", "soil_humidity", "humidity":
		return MetricSoilHumidity, nil
	case "temperature", "temp":
		return MetricTemperature, nil
	case "conductivity", "condutivity", "ec":
		return MetricConductivity, nil
	case "ph":
		return MetricPH, nil
	case "nitrogen", "n":
		return MetricNitrogen, nil
	case "phosphorus", "p":
		return MetricPhosphorus, nil
	case "potassium", "k":
		return MetricPotassium, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

func (m Metric) Valid() bool {
	for _, known := range AllMetrics {
		if m == known {
			return true
		}
	}
	return false
}

func (m Metric) Unit() string {
	switch m {
	case MetricSoilHumidity:
		return "%"
	case MetricTemperature:
		return "°C"
	case MetricConductivity:
		return "µS/cm"
	case MetricNitrogen, MetricPhosphorus, MetricPotassium:
		return "mg/L"
	}
	return ""
}

// Severity is ordered Ok < Alerta < Crítico. The order is for display and
// worst-of selection only.
type Severity int

const (
	SeverityOk Severity = iota
	SeverityAlerta
	SeverityCritico
)

func (s Severity) String() string {
	switch s {
	case SeverityOk:
		return "Ok"
	case SeverityAlerta:
		return "Alerta"
	case SeverityCritico:
		return "Crítico"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Notifiable reports whether alerts at this level produce a notification.
func (s Severity) Notifiable() bool {
	return s == SeverityAlerta || s == SeverityCritico
}

func ParseSeverity(v string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "ok", "normal", "green":
		return SeverityOk, nil
	case "alerta", "alert", "warning", "warn", "yellow":
		return SeverityAlerta, nil
	case "crítico", "critico", "critical", "crit", "red":
		return SeverityCritico, nil
	}
	return SeverityOk, fmt.Errorf("%w: %q", ErrUnknownSeverity, v)
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	parsed, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type Sensor struct {
	ID   int64  `json:"sensor_id"`
	Name string `json:"sensor_name"`
}

type Reading struct {
	SensorID  int64              `json:"sensor_id"`
	ReadingID int64              `json:"reading_id"`
	Values    map[Metric]float64 `json:"values"`
	Timestamp time.Time          `json:"timestamp"`
}

// Value returns the metric value and whether it is present and finite.
func (r Reading) Value(m Metric) (float64, bool) {
	v, ok := r.Values[m]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return v, false
	}
	return v, true
}

type Alert struct {
	ID        int64     `json:"alert_id"`
	SensorID  int64     `json:"sensor_id"`
	Message   string    `json:"message"`
	Level     Severity  `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

type MetricStatus struct {
	Metric     Metric   `json:"metric"`
	Value      float64  `json:"value"`
	Present    bool     `json:"present"`
	Level      Severity `json:"level"`
	Color      string   `json:"color"`
	Unit       string   `json:"unit,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

type Assessment struct {
	SensorID  int64          `json:"sensor_id"`
	ReadingID int64          `json:"reading_id"`
	Timestamp time.Time      `json:"timestamp"`
	Metrics   []MetricStatus `json:"metrics"`
	Worst     Severity       `json:"worst"`
}

// Status returns the entry for metric m, if the assessment contains it.
func (a Assessment) Status(m Metric) (MetricStatus, bool) {
	for _, ms := range a.Metrics {
		if ms.Metric == m {
			return ms, true
		}
	}
	return MetricStatus{}, false
}
