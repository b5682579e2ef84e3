package alerts

import (
	"sync"
	"time"

	"soilguard/internal/model"
)

// Store caches the last aggregated feed, newest first. It holds at most
// limit alerts.
type Store struct {
	mu        sync.RWMutex
	buf       []model.Alert
	limit     int
	updatedAt time.Time
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Replace(feed []model.Alert) {
	n := len(feed)
	if n > s.limit {
		n = s.limit
	}
	buf := make([]model.Alert, n)
	copy(buf, feed[:n])
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = buf
	s.updatedAt = time.Now().UTC()
}

func (s *Store) List(limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Alert, limit)
	copy(out, s.buf[:limit])
	return out
}

func (s *Store) Since(ts time.Time) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for _, a := range s.buf {
		if !a.Timestamp.Before(ts) {
			out = append(out, a)
		}
	}
	return out
}

// Remove drops every cached alert with the given ID and reports how many
// were removed.
func (s *Store) Remove(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.buf[:0]
	removed := 0
	for _, a := range s.buf {
		if a.ID == id {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	s.buf = kept
	return removed
}

func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
	s.updatedAt = time.Time{}
}
