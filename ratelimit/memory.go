package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter is a process-local Counter for tests and single-node setups
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return NewMemoryCounterWithClock(time.Now)
}

func NewMemoryCounterWithClock(now func() time.Time) *MemoryCounter {
	return &MemoryCounter{
		entries: make(map[string]*memoryEntry),
		now:     now,
	}
}

func (c *MemoryCounter) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.liveLocked(key)
	if entry == nil {
		entry = &memoryEntry{}
		c.entries[key] = entry
	}
	entry.count++
	return entry.count, nil
}

func (c *MemoryCounter) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry := c.liveLocked(key); entry != nil {
		entry.expiresAt = c.now().Add(ttl)
	}
	return nil
}

func (c *MemoryCounter) TTL(_ context.Context, key string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.liveLocked(key)
	if entry == nil {
		return -2 * time.Second, nil
	}
	if entry.expiresAt.IsZero() {
		return -1 * time.Second, nil
	}
	return entry.expiresAt.Sub(c.now()), nil
}

// liveLocked returns the entry for key, dropping it first if it has expired
func (c *MemoryCounter) liveLocked(key string) *memoryEntry {
	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	return entry
}
