package metrics

import (
	"sync"
	"time"

	"soilguard/internal/model"
)

// Store keeps the latest assessment per sensor. When more than limit sensors
// are tracked the one updated longest ago is dropped.
type Store struct {
	mu        sync.RWMutex
	bySensor  map[int64]model.Assessment
	updatedAt map[int64]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		bySensor:  make(map[int64]model.Assessment),
		updatedAt: make(map[int64]time.Time),
		limit:     limit,
	}
}

// Update replaces the sensor's assessment unless a newer reading is already
// stored; readings may arrive out of order.
func (s *Store) Update(a model.Assessment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.bySensor[a.SensorID]; ok && prev.Timestamp.After(a.Timestamp) {
		return
	}
	s.bySensor[a.SensorID] = a
	s.updatedAt[a.SensorID] = time.Now().UTC()
	if len(s.bySensor) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(sensorID int64) (model.Assessment, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.bySensor[sensorID]
	if !ok {
		return model.Assessment{}, time.Time{}, false
	}
	return a, s.updatedAt[sensorID], true
}

func (s *Store) GetAll() map[int64]model.Assessment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]model.Assessment, len(s.bySensor))
	for id, a := range s.bySensor {
		out[id] = a
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySensor)
}

func (s *Store) evictOldest() {
	var (
		oldestID int64
		oldest   time.Time
		found    bool
	)
	for id, ts := range s.updatedAt {
		if !found || ts.Before(oldest) {
			oldestID = id
			oldest = ts
			found = true
		}
	}
	if found {
		delete(s.bySensor, oldestID)
		delete(s.updatedAt, oldestID)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySensor = make(map[int64]model.Assessment)
	s.updatedAt = make(map[int64]time.Time)
}
