package dispatch

import "sync/atomic"

// Metrics receives dispatch outcomes. Implementations must be thread-safe.
type Metrics interface {
	ObserveSend(path string, ok bool)
	IncRetry()
	ObserveChain(attempts int, ok bool)
}

// NoopMetrics is the default.
type NoopMetrics struct{}

func (NoopMetrics) ObserveSend(path string, ok bool)   {}
func (NoopMetrics) IncRetry()                          {}
func (NoopMetrics) ObserveChain(attempts int, ok bool) {}

type AtomicMetrics struct {
	sendOK    atomic.Uint64
	sendFail  atomic.Uint64
	retries   atomic.Uint64
	chainsOK  atomic.Uint64
	chainFail atomic.Uint64
}

func (m *AtomicMetrics) ObserveSend(path string, ok bool) {
	if ok {
		m.sendOK.Add(1)
	} else {
		m.sendFail.Add(1)
	}
}

func (m *AtomicMetrics) IncRetry() { m.retries.Add(1) }

func (m *AtomicMetrics) ObserveChain(attempts int, ok bool) {
	if ok {
		m.chainsOK.Add(1)
	} else {
		m.chainFail.Add(1)
	}
}

func (m *AtomicMetrics) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"send_ok":    m.sendOK.Load(),
		"send_fail":  m.sendFail.Load(),
		"retries":    m.retries.Load(),
		"chain_ok":   m.chainsOK.Load(),
		"chain_fail": m.chainFail.Load(),
	}
}
