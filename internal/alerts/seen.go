package alerts

import (
	"sort"

	"soilguard/internal/model"
)

// DefaultSeenCapacity bounds the persisted list of notified alert IDs.
const DefaultSeenCapacity = 100

// SeenSet is a bounded FIFO set of alert IDs that already produced a
// notification. Values are immutable: every mutation returns a new set.
type SeenSet struct {
	ids      []int64
	capacity int
}

func NewSeenSet(capacity int, ids ...int64) SeenSet {
	if capacity <= 0 {
		capacity = DefaultSeenCapacity
	}
	s := SeenSet{capacity: capacity}
	return s.with(ids)
}

func (s SeenSet) Capacity() int {
	if s.capacity <= 0 {
		return DefaultSeenCapacity
	}
	return s.capacity
}

func (s SeenSet) Len() int { return len(s.ids) }

func (s SeenSet) Contains(id int64) bool {
	for _, v := range s.ids {
		if v == id {
			return true
		}
	}
	return false
}

// IDs returns the entries oldest first.
func (s SeenSet) IDs() []int64 {
	out := make([]int64, len(s.ids))
	copy(out, s.ids)
	return out
}

// Add returns s with ids appended in the given order.
func (s SeenSet) Add(ids ...int64) SeenSet {
	return s.with(ids)
}

// with appends ids in the given order, skipping ones already present, and
// evicts from the front until the set fits its capacity.
func (s SeenSet) with(ids []int64) SeenSet {
	capacity := s.Capacity()
	next := make([]int64, len(s.ids), len(s.ids)+len(ids))
	copy(next, s.ids)
	present := make(map[int64]struct{}, len(next)+len(ids))
	for _, id := range next {
		present[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := present[id]; ok {
			continue
		}
		present[id] = struct{}{}
		next = append(next, id)
	}
	if len(next) > capacity {
		next = append([]int64(nil), next[len(next)-capacity:]...)
	}
	return SeenSet{ids: next, capacity: capacity}
}

// FilterNew picks the alerts that still need a notification: level Alerta or
// Crítico and an ID not in seen. A repeated ID inside the batch is reported
// once. The returned set holds seen plus the picked IDs, appended in
// ascending ID order so eviction drops the oldest alerts first.
func FilterNew(batch []model.Alert, seen SeenSet) ([]model.Alert, SeenSet) {
	toNotify := make([]model.Alert, 0)
	picked := make(map[int64]struct{})
	for _, a := range batch {
		if !a.Level.Notifiable() || seen.Contains(a.ID) {
			continue
		}
		if _, dup := picked[a.ID]; dup {
			continue
		}
		picked[a.ID] = struct{}{}
		toNotify = append(toNotify, a)
	}
	return toNotify, MarkSeen(seen, toNotify)
}

// MarkSeen adds the IDs of list to seen under the same ordering and eviction
// rule as FilterNew.
func MarkSeen(seen SeenSet, list []model.Alert) SeenSet {
	ids := make([]int64, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return seen.with(ids)
}
