// Package metrics exports pool and connection statistics as real
// Prometheus metrics, registered against a caller-supplied registry so
// multiple pools in one process don't collide on metric names.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolCollector holds the metric vectors a ConnectionPool updates as
// it schedules requests and manages connections.
type PoolCollector struct {
	OpenConnections   *prometheus.GaugeVec
	IdleConnections   *prometheus.GaugeVec
	QueuedTickets      prometheus.Gauge
	RequestsTotal      *prometheus.CounterVec
	RetriesTotal       *prometheus.CounterVec
	SchedulingDuration prometheus.Histogram
}

// NewPoolCollector creates and registers a PoolCollector on reg. reg
// may be prometheus.NewRegistry() for test isolation, or
// prometheus.DefaultRegisterer in production.
func NewPoolCollector(reg prometheus.Registerer) *PoolCollector {
	c := &PoolCollector{
		OpenConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wayfare",
			Subsystem: "pool",
			Name:      "open_connections",
			Help:      "Number of connections currently open, by origin.",
		}, []string{"origin"}),
		IdleConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wayfare",
			Subsystem: "pool",
			Name:      "idle_connections",
			Help:      "Number of idle, reusable connections, by origin.",
		}, []string{"origin"}),
		QueuedTickets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wayfare",
			Subsystem: "pool",
			Name:      "queued_tickets",
			Help:      "Number of requests currently waiting for a connection.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wayfare",
			Subsystem: "pool",
			Name:      "requests_total",
			Help:      "Requests dispatched, by origin and outcome.",
		}, []string{"origin", "outcome"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wayfare",
			Subsystem: "pool",
			Name:      "connect_retries_total",
			Help:      "Connect attempts retried, by origin.",
		}, []string{"origin"}),
		SchedulingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wayfare",
			Subsystem: "pool",
			Name:      "scheduling_pass_seconds",
			Help:      "Time spent in one scheduling pass under the pool mutex.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.OpenConnections,
		c.IdleConnections,
		c.QueuedTickets,
		c.RequestsTotal,
		c.RetriesTotal,
		c.SchedulingDuration,
	)

	return c
}

// ObserveSchedulingPass records how long a scheduling pass took.
func (c *PoolCollector) ObserveSchedulingPass(d time.Duration) {
	c.SchedulingDuration.Observe(d.Seconds())
}
