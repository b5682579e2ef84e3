package engine

import (
	"math"
	"sync"

	"soilguard/internal/model"
)

const memoLimit = 10000

type memoKey struct {
	metric model.Metric
	bits   uint64
}

// MemoCache remembers classifications by (metric, value). It is only valid
// for one table and must be reset when the table changes.
type MemoCache struct {
	mu    sync.Mutex
	items map[memoKey]model.Severity
}

func NewMemoCache() *MemoCache {
	return &MemoCache{items: make(map[memoKey]model.Severity)}
}

func (c *MemoCache) Get(metric model.Metric, value float64) (model.Severity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	level, ok := c.items[memoKey{metric: metric, bits: math.Float64bits(value)}]
	return level, ok
}

func (c *MemoCache) Put(metric model.Metric, value float64, level model.Severity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) >= memoLimit {
		c.items = make(map[memoKey]model.Severity)
	}
	c.items[memoKey{metric: metric, bits: math.Float64bits(value)}] = level
}

func (c *MemoCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
