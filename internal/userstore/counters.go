package userstore

import (
	"context"
	"maps"
	"sync"
)

// Global counter names.
const (
	CounterUses                  = "uses"
	CounterTimesShared           = "times_shared"
	CounterLangsAutoSet          = "langs_auto_set"
	CounterPersonalStickersAdded = "personal_stickers_added"
)

// Counters is the process-wide counter store. Increment is the only way to
// change a counter.
type Counters interface {
	Increment(ctx context.Context, name string) error
	Get(ctx context.Context, name string) (int64, error)
	All(ctx context.Context) (map[string]int64, error)
}

// MemoryCounters keeps counters in memory.
type MemoryCounters struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewMemoryCounters creates an empty counter store.
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{values: make(map[string]int64)}
}

func (c *MemoryCounters) Increment(_ context.Context, name string) error {
	c.mu.Lock()
	c.values[name]++
	c.mu.Unlock()
	return nil
}

func (c *MemoryCounters) Get(_ context.Context, name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[name], nil
}

func (c *MemoryCounters) All(_ context.Context) (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.values), nil
}

// Restore replaces every counter with values.
func (c *MemoryCounters) Restore(values map[string]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[string]int64, len(values))
	maps.Copy(c.values, values)
}
