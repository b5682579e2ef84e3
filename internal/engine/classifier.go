package engine

import (
	"math"

	"soilguard/internal/model"
	"soilguard/internal/thresholds"
)

const (
	ColorOk      = "#33582B"
	ColorAlerta  = "#CCAD2D"
	ColorCritico = "#CC5050"
)

// Classify maps a metric value onto the table. The ideal band is tested
// first, so a value on a shared edge between ideal and an intermediate band
// is Ok. Non-finite values and metrics without a band are Crítico.
func Classify(table *thresholds.Table, metric model.Metric, value float64) model.Severity {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return model.SeverityCritico
	}
	band, ok := table.Band(metric)
	if !ok {
		return model.SeverityCritico
	}
	if band.Ideal.Contains(value) {
		return model.SeverityOk
	}
	for _, iv := range band.Intermediate {
		if iv.Contains(value) {
			return model.SeverityAlerta
		}
	}
	return model.SeverityCritico
}

func Color(level model.Severity) string {
	switch level {
	case model.SeverityOk:
		return ColorOk
	case model.SeverityAlerta:
		return ColorAlerta
	default:
		return ColorCritico
	}
}
