package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps buckets in process. Suitable for a single instance only.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]Bucket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]Bucket)}
}

func (m *MemoryStore) Take(_ context.Context, key string, p Policy, now time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.buckets[key]
	next, res := p.take(cur, ok, now)
	m.buckets[key] = next
	return res, nil
}

// Sweep drops buckets whose last refill is older than maxAge. A dropped bucket
// is recreated at full capacity, which is what a refill would have produced.
func (m *MemoryStore) Sweep(now time.Time, maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, b := range m.buckets {
		if now.Sub(b.LastRefill) >= maxAge {
			delete(m.buckets, k)
			n++
		}
	}
	return n
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
