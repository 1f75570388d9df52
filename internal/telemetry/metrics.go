package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports routing table and dispatch counters to prometheus. It
// satisfies both dht.Metrics and dispatch.Metrics.
type Metrics struct {
	rtSize     prometheus.Gauge
	bucketSize *prometheus.GaugeVec
	sends      *prometheus.CounterVec
	retries    prometheus.Counter
	chainLen   prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rtSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "overlay",
			Name:      "routing_table_size",
			Help:      "Peers currently tracked by the routing table.",
		}),
		bucketSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "overlay",
			Name:      "routing_bucket_occupancy",
			Help:      "Peers per routing table bucket.",
		}, []string{"bucket"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overlay",
			Name:      "dispatch_sends_total",
			Help:      "Terminal dispatch outcomes by path.",
		}, []string{"path", "outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overlay",
			Name:      "dispatch_retries_total",
			Help:      "Forwarding attempts re-driven after a failure.",
		}),
		chainLen: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "overlay",
			Name:      "dispatch_chain_attempts",
			Help:      "Attempts used by finished forwarding chains.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.rtSize, m.bucketSize, m.sends, m.retries, m.chainLen)
	}
	return m
}

func (m *Metrics) SetRoutingTableSize(n int) { m.rtSize.Set(float64(n)) }

func (m *Metrics) SetBucketOccupancy(bucket int, n int) {
	m.bucketSize.WithLabelValues(strconv.Itoa(bucket)).Set(float64(n))
}

func (m *Metrics) ObserveSend(path string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "fail"
	}
	m.sends.WithLabelValues(path, outcome).Inc()
}

func (m *Metrics) IncRetry() { m.retries.Inc() }

func (m *Metrics) ObserveChain(attempts int, ok bool) {
	m.chainLen.Observe(float64(attempts))
}
