package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"soilguard/internal/alerts"
	"soilguard/internal/config"
	"soilguard/internal/model"
)

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

// Store keeps the seen-alert lists and an audit trail of delivered
// notifications. LoadSeen returns an empty list for an unknown key.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	LoadSeen(ctx context.Context, key string) ([]int64, error)
	SaveSeen(ctx context.Context, key string, ids []int64) error
	RecordNotification(ctx context.Context, n Notification) error
}

// Notification is one delivered alert.
type Notification struct {
	ID          string
	Channel     string
	Alert       model.Alert
	DeliveredAt time.Time
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "nats":
		return NewNATS(cfg.NATS)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

// AppendSeen adds ids to the list under key, evicting the oldest entries
// beyond capacity, and returns the stored list.
func AppendSeen(ctx context.Context, s Store, key string, ids []int64, capacity int) ([]int64, error) {
	current, err := s.LoadSeen(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load seen %q: %w", key, err)
	}
	next := alerts.NewSeenSet(capacity, current...).Add(ids...).IDs()
	if err := s.SaveSeen(ctx, key, next); err != nil {
		return nil, fmt.Errorf("save seen %q: %w", key, err)
	}
	return next, nil
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeIDs(ids []int64) string {
	if ids == nil {
		ids = []int64{}
	}
	data, _ := json.Marshal(ids)
	return string(data)
}

func decodeIDs(raw string) ([]int64, error) {
	ids := make([]int64, 0)
	if strings.TrimSpace(raw) == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode seen ids: %w", err)
	}
	return ids, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
