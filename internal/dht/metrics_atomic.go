package dht

import (
	"sync"
	"sync/atomic"
)

// AtomicMetrics keeps the last reported values in memory.
type AtomicMetrics struct {
	size atomic.Int64

	mu      sync.Mutex
	buckets map[int]int
}

func (m *AtomicMetrics) SetRoutingTableSize(n int) { m.size.Store(int64(n)) }

func (m *AtomicMetrics) SetBucketOccupancy(bucket int, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buckets == nil {
		m.buckets = make(map[int]int)
	}
	m.buckets[bucket] = n
}

func (m *AtomicMetrics) Size() int { return int(m.size.Load()) }

func (m *AtomicMetrics) Bucket(bucket int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buckets[bucket]
}
