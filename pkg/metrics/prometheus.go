// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector is a Collector backed by client_golang counter and
// histogram vectors. It registers into the prometheus.Registry supplied at
// construction; exposing that registry over HTTP (e.g. via promhttp) is
// left to the embedding application, not to this package.
type PrometheusCollector struct {
	compilations *prometheus.CounterVec
	workers      *prometheus.CounterVec
	captures     *prometheus.CounterVec
	batchGroups  prometheus.Counter

	queueWait      prometheus.Histogram
	readinessWait  prometheus.Histogram
	submitToOutput prometheus.Histogram
	total          prometheus.Histogram

	// fallback holds the same counters in memory so GetStats can return a
	// Stats snapshot without scraping client_golang's internal metric
	// families, which are built for exposition, not programmatic readback.
	fallback *InMemoryCollector
}

// NewPrometheusCollector creates a PrometheusCollector and registers its
// metrics on reg. Passing prometheus.NewRegistry() keeps the pool's metrics
// isolated from the global default registry.
func NewPrometheusCollector(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	c := &PrometheusCollector{
		compilations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compilations_total",
			Help:      "Tailwind CLI compilations by outcome.",
		}, []string{"outcome"}),
		workers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workers_total",
			Help:      "Worker lifecycle events by kind.",
		}, []string{"kind"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_method_total",
			Help:      "Output capture results by capture tier.",
		}, []string{"method"}),
		batchGroups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_groups_total",
			Help:      "Distinct fingerprint groups formed by batch_compile.",
		}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_wait_seconds",
			Help:      "Time a request spends queued for a worker.",
			Buckets:   prometheus.DefBuckets,
		}),
		readinessWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "readiness_wait_seconds",
			Help:      "Time spent waiting for a newly started worker to become ready.",
			Buckets:   prometheus.DefBuckets,
		}),
		submitToOutput: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submit_to_output_seconds",
			Help:      "Time from stdin submission to a delivered output burst.",
			Buckets:   prometheus.DefBuckets,
		}),
		total: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_total_seconds",
			Help:      "End-to-end request latency, queueing included.",
			Buckets:   prometheus.DefBuckets,
		}),
		fallback: NewInMemoryCollector(),
	}

	reg.MustRegister(c.compilations, c.workers, c.captures, c.batchGroups,
		c.queueWait, c.readinessWait, c.submitToOutput, c.total)

	return c
}

func (c *PrometheusCollector) IncCompilationsTotal() {
	c.compilations.WithLabelValues("total").Inc()
	c.fallback.IncCompilationsTotal()
}

func (c *PrometheusCollector) IncCompilationsOK() {
	c.compilations.WithLabelValues("ok").Inc()
	c.fallback.IncCompilationsOK()
}

func (c *PrometheusCollector) IncCompilationsErr() {
	c.compilations.WithLabelValues("err").Inc()
	c.fallback.IncCompilationsErr()
}

func (c *PrometheusCollector) IncWorkerCreated() {
	c.workers.WithLabelValues("created").Inc()
	c.fallback.IncWorkerCreated()
}

func (c *PrometheusCollector) IncWorkerReused() {
	c.workers.WithLabelValues("reused").Inc()
	c.fallback.IncWorkerReused()
}

func (c *PrometheusCollector) IncWorkerEvicted() {
	c.workers.WithLabelValues("evicted").Inc()
	c.fallback.IncWorkerEvicted()
}

func (c *PrometheusCollector) IncCaptureMethod(tier CaptureMethod) {
	c.captures.WithLabelValues(string(tier)).Inc()
	c.fallback.IncCaptureMethod(tier)
}

func (c *PrometheusCollector) IncBatchGroups() {
	c.batchGroups.Inc()
	c.fallback.IncBatchGroups()
}

func (c *PrometheusCollector) ObserveQueueWait(d time.Duration) {
	c.queueWait.Observe(d.Seconds())
	c.fallback.ObserveQueueWait(d)
}

func (c *PrometheusCollector) ObserveReadinessWait(d time.Duration) {
	c.readinessWait.Observe(d.Seconds())
	c.fallback.ObserveReadinessWait(d)
}

func (c *PrometheusCollector) ObserveSubmitToOutput(d time.Duration) {
	c.submitToOutput.Observe(d.Seconds())
	c.fallback.ObserveSubmitToOutput(d)
}

func (c *PrometheusCollector) ObserveTotal(d time.Duration) {
	c.total.Observe(d.Seconds())
	c.fallback.ObserveTotal(d)
}

// GetStats returns the counters mirrored into the in-memory fallback, since
// client_golang's vectors are write-oriented and not meant for programmatic
// readback outside of a scrape.
func (c *PrometheusCollector) GetStats() *Stats {
	return c.fallback.GetStats()
}

// Reset resets the in-memory fallback only; client_golang counters are
// cumulative by design and are not reset.
func (c *PrometheusCollector) Reset() {
	c.fallback.Reset()
}
