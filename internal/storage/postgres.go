package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/soilguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS seen_lists (
			key TEXT PRIMARY KEY,
			ids_json JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id UUID PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			channel TEXT NOT NULL,
			alert_id BIGINT NOT NULL,
			sensor_id BIGINT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			alert_ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_alert ON notifications(alert_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) LoadSeen(ctx context.Context, key string) ([]int64, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT ids_json::text FROM seen_lists WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []int64{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeIDs(raw)
}

func (s *postgresStore) SaveSeen(ctx context.Context, key string, ids []int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_lists (key, ids_json, updated_at) VALUES ($1, $2::jsonb, $3)
		ON CONFLICT (key) DO UPDATE SET ids_json = EXCLUDED.ids_json, updated_at = EXCLUDED.updated_at`,
		key, encodeIDs(ids), nowUTC(),
	)
	return err
}

func (s *postgresStore) RecordNotification(ctx context.Context, n Notification) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, ts, channel, alert_id, sensor_id, level, message, alert_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID,
		n.DeliveredAt.UTC(),
		n.Channel,
		n.Alert.ID,
		n.Alert.SensorID,
		n.Alert.Level.String(),
		n.Alert.Message,
		n.Alert.Timestamp.UTC(),
	)
	return err
}
