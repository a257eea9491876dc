// Package metrics provides Prometheus metrics for the cache layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/krisalay/progressive-cache/types"
)

// Prometheus implements types.Metrics.
type Prometheus struct {
	lookups         *prometheus.CounterVec
	expired         prometheus.Counter
	evictions       prometheus.Counter
	persistFailures *prometheus.CounterVec
	fetches         *prometheus.CounterVec
	fetchDuration   prometheus.Histogram
	deduplicated    prometheus.Counter
	detailBatch     prometheus.Histogram
}

var _ types.Metrics = (*Prometheus)(nil)

// NewPrometheus creates the collectors and registers them with reg. Each
// registry can hold one set; pass a fresh registry in tests.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	f := promauto.With(reg)

	return &Prometheus{
		lookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by result",
			},
			[]string{"result"},
		),
		expired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_expired_total",
			Help:      "Entries dropped on read because their TTL passed",
		}),
		evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted to keep the volatile tier under capacity",
		}),
		persistFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_persist_failures_total",
				Help:      "Persistent writes skipped, by reason",
			},
			[]string{"reason"},
		),
		fetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Remote fetches by outcome",
			},
			[]string{"status"},
		),
		fetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Remote fetch duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		deduplicated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_deduplicated_total",
			Help:      "Fetches served by a call already in flight",
		}),
		detailBatch: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detail_batch_size",
			Help:      "Number of ids per detail request",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}),
	}
}

func (m *Prometheus) Hit()      { m.lookups.WithLabelValues("hit").Inc() }
func (m *Prometheus) Miss()     { m.lookups.WithLabelValues("miss").Inc() }
func (m *Prometheus) Expire()   { m.expired.Inc() }
func (m *Prometheus) Eviction() { m.evictions.Inc() }

func (m *Prometheus) PersistFailure(reason string) {
	m.persistFailures.WithLabelValues(reason).Inc()
}

func (m *Prometheus) Fetch(ok bool, took time.Duration) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.fetches.WithLabelValues(status).Inc()
	m.fetchDuration.Observe(took.Seconds())
}

func (m *Prometheus) Deduplicated() { m.deduplicated.Inc() }

func (m *Prometheus) DetailBatch(size int) { m.detailBatch.Observe(float64(size)) }
