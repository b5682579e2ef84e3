package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"soilguard/internal/config"
)

// NATSStore keeps seen lists in a JetStream KV bucket, one entry per key.
// Notifications are published to "<bucket>.notifications" on the same
// connection.
type NATSStore struct {
	nc     *nats.Conn
	kv     nats.KeyValue
	bucket string
}

func NewNATS(settings config.NATSConfig) (*NATSStore, error) {
	if len(settings.URLs) == 0 {
		return nil, errors.New("storage.nats.urls is required")
	}
	nc, err := nats.Connect(strings.Join(settings.URLs, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	kv, err := js.KeyValue(settings.Bucket)
	if err != nil {
		if !settings.AllowCreate {
			nc.Close()
			return nil, fmt.Errorf("open seen bucket %q: %w", settings.Bucket, err)
		}
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: settings.Bucket})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create seen bucket %q: %w", settings.Bucket, err)
		}
	}
	return &NATSStore{nc: nc, kv: kv, bucket: settings.Bucket}, nil
}

func (s *NATSStore) Init(context.Context) error { return nil }

func (s *NATSStore) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}

func (s *NATSStore) LoadSeen(_ context.Context, key string) ([]int64, error) {
	entry, err := s.kv.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return []int64{}, nil
		}
		return nil, fmt.Errorf("get seen %q: %w", key, err)
	}
	return decodeIDs(string(entry.Value()))
}

func (s *NATSStore) SaveSeen(_ context.Context, key string, ids []int64) error {
	if _, err := s.kv.Put(key, []byte(encodeIDs(ids))); err != nil {
		return fmt.Errorf("put seen %q: %w", key, err)
	}
	return nil
}

type notificationRecord struct {
	ID          string `json:"id"`
	Channel     string `json:"channel"`
	AlertID     int64  `json:"alert_id"`
	SensorID    int64  `json:"sensor_id"`
	Level       string `json:"level"`
	Message     string `json:"message"`
	DeliveredAt int64  `json:"delivered_at_unix_ms"`
}

func (s *NATSStore) RecordNotification(_ context.Context, n Notification) error {
	body, err := json.Marshal(notificationRecord{
		ID:          n.ID,
		Channel:     n.Channel,
		AlertID:     n.Alert.ID,
		SensorID:    n.Alert.SensorID,
		Level:       n.Alert.Level.String(),
		Message:     n.Alert.Message,
		DeliveredAt: n.DeliveredAt.UnixMilli(),
	})
	if err != nil {
		return err
	}
	if err := s.nc.Publish(s.bucket+".notifications", body); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
