package thresholds

import (
	"errors"
	"fmt"
	"math"

	"soilguard/internal/model"
)

// DefaultVersion identifies the built-in table below. Bump it whenever a bound
// changes so stored assessments can be traced to the bands that produced them.
const DefaultVersion = "2025.1"

// Interval is a closed range [lo, hi].
type Interval [2]float64

func (iv Interval) Lo() float64 { return iv[0] }
func (iv Interval) Hi() float64 { return iv[1] }

func (iv Interval) Contains(v float64) bool {
	return v >= iv[0] && v <= iv[1]
}

func (iv Interval) Mid() float64 {
	return iv[0] + (iv[1]-iv[0])/2
}

type Band struct {
	Ideal        Interval   `json:"ideal" yaml:"ideal" toml:"ideal"`
	Intermediate []Interval `json:"intermediate" yaml:"intermediate" toml:"intermediate"`
}

type Table struct {
	Version string                `json:"version" yaml:"version" toml:"version"`
	Bands   map[model.Metric]Band `json:"bands" yaml:"bands" toml:"bands"`
}

func (t *Table) Band(m model.Metric) (Band, bool) {
	if t == nil || t.Bands == nil {
		return Band{}, false
	}
	b, ok := t.Bands[m]
	return b, ok
}

// DefaultTable returns a fresh copy of the canonical bands.
func DefaultTable() *Table {
	return &Table{
		Version: DefaultVersion,
		Bands: map[model.Metric]Band{
			model.MetricSoilHumidity: {
				Ideal:        Interval{20, 60},
				Intermediate: []Interval{{15, 20}, {60, 65}},
			},
			model.MetricTemperature: {
				Ideal:        Interval{18, 30},
				Intermediate: []Interval{{15, 18}, {30, 33}},
			},
			model.MetricConductivity: {
				Ideal:        Interval{20, 200},
				Intermediate: []Interval{{15, 20}, {200, 250}},
			},
			model.MetricPH: {
				Ideal:        Interval{6.0, 7.0},
				Intermediate: []Interval{{5.5, 6.0}, {7.0, 7.5}},
			},
			model.MetricNitrogen: {
				Ideal:        Interval{20, 50},
				Intermediate: []Interval{{15, 20}, {50, 60}},
			},
			model.MetricPhosphorus: {
				Ideal:        Interval{15, 40},
				Intermediate: []Interval{{10, 15}, {40, 50}},
			},
			model.MetricPotassium: {
				Ideal:        Interval{100, 300},
				Intermediate: []Interval{{80, 100}, {300, 350}},
			},
		},
	}
}

// Clone returns a deep copy so callers can edit bands without touching a
// table that is already in use.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := &Table{Version: t.Version, Bands: make(map[model.Metric]Band, len(t.Bands))}
	for m, b := range t.Bands {
		inter := make([]Interval, len(b.Intermediate))
		copy(inter, b.Intermediate)
		out.Bands[m] = Band{Ideal: b.Ideal, Intermediate: inter}
	}
	return out
}

func Validate(t *Table) error {
	if t == nil {
		return errors.New("thresholds: table is nil")
	}
	if t.Version == "" {
		return errors.New("thresholds.version required")
	}
	for m := range t.Bands {
		if !m.Valid() {
			return fmt.Errorf("thresholds.bands: %w: %q", model.ErrUnknownMetric, m)
		}
	}
	for _, m := range model.AllMetrics {
		b, ok := t.Bands[m]
		if !ok {
			return fmt.Errorf("thresholds.bands.%s missing", m)
		}
		if err := validInterval(b.Ideal); err != nil {
			return fmt.Errorf("thresholds.bands.%s.ideal: %w", m, err)
		}
		for i, iv := range b.Intermediate {
			if err := validInterval(iv); err != nil {
				return fmt.Errorf("thresholds.bands.%s.intermediate[%d]: %w", m, i, err)
			}
		}
	}
	return nil
}

func validInterval(iv Interval) error {
	for _, v := range iv {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("bounds must be finite")
		}
	}
	if iv[0] > iv[1] {
		return fmt.Errorf("lower bound %v above upper bound %v", iv[0], iv[1])
	}
	return nil
}
