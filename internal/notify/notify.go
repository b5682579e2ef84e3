package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"soilguard/internal/engine"
	"soilguard/internal/metrics"
	"soilguard/internal/model"
)

// Dispatcher delivers one alert notification. A nil error means delivered.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, p Payload) error
}

// Payload is the message body every channel sends.
type Payload struct {
	ID        string    `json:"id"`
	AlertID   int64     `json:"alert_id"`
	SensorID  int64     `json:"sensor_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Color     string    `json:"color"`
	Timestamp time.Time `json:"timestamp"`
}

func NewPayload(a model.Alert) Payload {
	return Payload{
		ID:        uuid.NewString(),
		AlertID:   a.ID,
		SensorID:  a.SensorID,
		Level:     a.Level.String(),
		Message:   a.Message,
		Color:     engine.Color(a.Level),
		Timestamp: a.Timestamp.UTC(),
	}
}

type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Name() string { return "log" }

func (d *LogDispatcher) Dispatch(_ context.Context, p Payload) error {
	if d.logger == nil {
		return nil
	}
	d.logger.Warn("soil alert",
		"notification_id", p.ID,
		"alert_id", p.AlertID,
		"sensor_id", p.SensorID,
		"level", p.Level,
		"message", p.Message,
		"timestamp", p.Timestamp,
	)
	return nil
}

// Multi fans a payload out to every dispatcher and succeeds only when all
// of them do.
type Multi struct {
	dispatchers []Dispatcher
}

func NewMulti(dispatchers ...Dispatcher) *Multi {
	out := make([]Dispatcher, 0, len(dispatchers))
	for _, d := range dispatchers {
		if d != nil {
			out = append(out, d)
		}
	}
	return &Multi{dispatchers: out}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Len() int { return len(m.dispatchers) }

func (m *Multi) Dispatch(ctx context.Context, p Payload) error {
	var errs []error
	for _, d := range m.dispatchers {
		err := d.Dispatch(ctx, p)
		metrics.RecordNotification(d.Name(), err == nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
		}
	}
	return errors.Join(errs...)
}
