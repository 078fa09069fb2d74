// Package metrics exposes purchase and attribution telemetry as Prometheus
// collectors on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements workflow.Metrics and attribution.Metrics.
type Collector struct {
	registry *prometheus.Registry

	purchases       *prometheus.CounterVec
	purchaseLatency *prometheus.HistogramVec
	syncs           *prometheus.CounterVec
	bulkSyncs       *prometheus.CounterVec
	lastBulkSync    prometheus.Gauge
}

// NewCollector creates a collector. An empty namespace means "iapsync".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "iapsync"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.purchases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "purchase",
			Name:      "attempts_total",
			Help:      "Purchase attempts by terminal status",
		},
		[]string{"status"},
	)

	c.purchaseLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "purchase",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of purchase attempts, user interaction included",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"status"},
	)

	c.syncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attribution",
			Name:      "syncs_total",
			Help:      "Transaction syncs sent to the attribution service by result",
		},
		[]string{"result"},
	)

	c.bulkSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attribution",
			Name:      "bulk_syncs_total",
			Help:      "Bulk sync runs by result",
		},
		[]string{"result"},
	)

	c.lastBulkSync = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "attribution",
			Name:      "last_bulk_sync_timestamp_seconds",
			Help:      "Unix time of the last finished bulk sync run",
		},
	)

	c.registry.MustRegister(
		c.purchases,
		c.purchaseLatency,
		c.syncs,
		c.bulkSyncs,
		c.lastBulkSync,
	)

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObservePurchase records a finished purchase attempt.
func (c *Collector) ObservePurchase(status string, elapsed time.Duration) {
	c.purchases.WithLabelValues(status).Inc()
	c.purchaseLatency.WithLabelValues(status).Observe(elapsed.Seconds())
}

// ObserveSync records one transaction sync result ("ok" or "error").
func (c *Collector) ObserveSync(result string) {
	c.syncs.WithLabelValues(result).Inc()
}

// ObserveBulkSync records a finished bulk sync run.
func (c *Collector) ObserveBulkSync(err error, at time.Time) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.bulkSyncs.WithLabelValues(result).Inc()
	c.lastBulkSync.Set(float64(at.Unix()))
}
