package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"soilguard/internal/model"
)

var (
	ReadingsClassifiedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilguard_readings_classified_total",
			Help: "Metric values classified, by metric and level",
		},
		[]string{"metric", "level"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilguard_notifications_total",
			Help: "Alert notifications dispatched, by channel and result",
		},
		[]string{"channel", "result"},
	)

	RefreshWarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilguard_refresh_warnings_total",
			Help: "Non-fatal problems raised during refresh cycles, by operation",
		},
		[]string{"op"},
	)

	RefreshDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "soilguard_refresh_duration_seconds",
			Help:    "Duration of complete refresh cycles",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	SeenSetSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "soilguard_seen_set_size",
			Help: "Alert IDs held in the seen set after the last refresh",
		},
		[]string{"key"},
	)
)

func RecordClassified(metric model.Metric, level model.Severity) {
	ReadingsClassifiedTotal.WithLabelValues(string(metric), level.String()).Inc()
}

func RecordNotification(channel string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	NotificationsTotal.WithLabelValues(channel, result).Inc()
}

func RecordRefreshWarning(op string) {
	RefreshWarningsTotal.WithLabelValues(op).Inc()
}

func RecordRefresh(d time.Duration, key string, seenSize int) {
	RefreshDurationSeconds.Observe(d.Seconds())
	SeenSetSize.WithLabelValues(key).Set(float64(seenSize))
}
