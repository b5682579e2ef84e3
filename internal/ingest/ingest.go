package ingest

import (
	"context"
	"log/slog"
	"time"

	"soilguard/internal/model"
	"soilguard/internal/normalize"
)

// DecodeLine parses one input line into readings.
func DecodeLine(p *Parser, line string, loc *time.Location) ([]model.Reading, error) {
	objs, err := p.ParseLine(line)
	if err != nil || len(objs) == 0 {
		return nil, err
	}
	return normalize.Readings(objs, 0, loc)
}

// SendNonBlocking drops the reading when out is full.
func SendNonBlocking(ctx context.Context, out chan<- model.Reading, r model.Reading, logger *slog.Logger) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("reading channel full, dropping reading", "sensor_id", r.SensorID, "reading_id", r.ReadingID, "timestamp", r.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
