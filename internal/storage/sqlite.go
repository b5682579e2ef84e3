package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:soilguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS seen_lists (
			key TEXT PRIMARY KEY,
			ids_json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			channel TEXT NOT NULL,
			alert_id INTEGER NOT NULL,
			sensor_id INTEGER NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			alert_ts TEXT NOT NULL
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

func (s *sqliteStore) LoadSeen(ctx context.Context, key string) ([]int64, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT ids_json FROM seen_lists WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []int64{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeIDs(raw)
}

func (s *sqliteStore) SaveSeen(ctx context.Context, key string, ids []int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_lists (key, ids_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET ids_json = excluded.ids_json, updated_at = excluded.updated_at`,
		key, encodeIDs(ids), nowUTC().Format("2006-01-02T15:04:05.000Z07:00"),
	)
	return err
}

func (s *sqliteStore) RecordNotification(ctx context.Context, n Notification) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, ts, channel, alert_id, sensor_id, level, message, alert_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID,
		n.DeliveredAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		n.Channel,
		n.Alert.ID,
		n.Alert.SensorID,
		n.Alert.Level.String(),
		n.Alert.Message,
		n.Alert.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	)
	return err
}
