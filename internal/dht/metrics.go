package dht

// Metrics is intentionally tiny and dependency-free.
// Implementations must be thread-safe.
type Metrics interface {
	SetRoutingTableSize(n int)
	SetBucketOccupancy(bucket int, n int)
}

// NoopMetrics is the default.
type NoopMetrics struct{}

func (NoopMetrics) SetRoutingTableSize(n int)            {}
func (NoopMetrics) SetBucketOccupancy(bucket int, n int) {}
