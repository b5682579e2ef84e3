package storage

import (
	"context"
	"sync"
)

// MemoryStore is the default store. Its state does not survive a restart.
type MemoryStore struct {
	mu            sync.Mutex
	seen          map[string][]int64
	notifications []Notification
}

func NewMemory() *MemoryStore {
	return &MemoryStore{seen: make(map[string][]int64)}
}

func (m *MemoryStore) Init(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) LoadSeen(_ context.Context, key string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(m.seen[key]))
	copy(out, m.seen[key])
	return out, nil
}

func (m *MemoryStore) SaveSeen(_ context.Context, key string, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[key] = append([]int64(nil), ids...)
	return nil
}

func (m *MemoryStore) RecordNotification(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *MemoryStore) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.notifications))
	copy(out, m.notifications)
	return out
}
