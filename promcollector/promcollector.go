// Package promcollector exposes index operation metrics to Prometheus.
//
// The collector implements ledgerann.MetricsCollector and registers its
// series on construction. Register the default collector on
// prometheus.DefaultRegisterer and scrape via promhttp:
//
//	collector := promcollector.New(prometheus.DefaultRegisterer)
//	idx, err := ledgerann.New[string](s, ledgerann.WithMetricsCollector(collector))
package promcollector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/s9swata/ledgerann"
)

// Compile-time check.
var _ ledgerann.MetricsCollector = (*Collector)(nil)

// Collector records index operations as Prometheus series.
type Collector struct {
	insertTotal      prometheus.Counter
	insertErrors     prometheus.Counter
	insertDuration   prometheus.Histogram
	batchItemsTotal  prometheus.Counter
	batchItemsFailed prometheus.Counter
	searchTotal      prometheus.Counter
	searchErrors     prometheus.Counter
	searchDuration   prometheus.Histogram
	searchK          prometheus.Histogram
}

// New creates a Collector registered on r.
func New(r prometheus.Registerer) *Collector {
	factory := promauto.With(r)

	return &Collector{
		insertTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerann",
			Name:      "inserts_total",
			Help:      "Total number of insert operations.",
		}),
		insertErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerann",
			Name:      "insert_errors_total",
			Help:      "Total number of failed insert operations.",
		}),
		insertDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledgerann",
			Name:      "insert_duration_seconds",
			Help:      "Insert latency. Dominated by storage round trips.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		batchItemsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerann",
			Name:      "batch_insert_items_total",
			Help:      "Total number of items submitted through batch inserts.",
		}),
		batchItemsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerann",
			Name:      "batch_insert_items_failed_total",
			Help:      "Total number of batch insert items that failed.",
		}),
		searchTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerann",
			Name:      "searches_total",
			Help:      "Total number of search operations.",
		}),
		searchErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerann",
			Name:      "search_errors_total",
			Help:      "Total number of failed search operations.",
		}),
		searchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledgerann",
			Name:      "search_duration_seconds",
			Help:      "Search latency. Dominated by storage round trips.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		searchK: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledgerann",
			Name:      "search_k",
			Help:      "Requested neighbor counts.",
			Buckets:   []float64{1, 5, 10, 20, 50, 100, 200, 500},
		}),
	}
}

// RecordInsert implements ledgerann.MetricsCollector.
func (c *Collector) RecordInsert(duration time.Duration, err error) {
	c.insertTotal.Inc()
	c.insertDuration.Observe(duration.Seconds())
	if err != nil {
		c.insertErrors.Inc()
	}
}

// RecordBatchInsert implements ledgerann.MetricsCollector.
func (c *Collector) RecordBatchInsert(count, failed int, duration time.Duration) {
	c.batchItemsTotal.Add(float64(count))
	c.batchItemsFailed.Add(float64(failed))
}

// RecordSearch implements ledgerann.MetricsCollector.
func (c *Collector) RecordSearch(k int, duration time.Duration, err error) {
	c.searchTotal.Inc()
	c.searchDuration.Observe(duration.Seconds())
	c.searchK.Observe(float64(k))
	if err != nil {
		c.searchErrors.Inc()
	}
}
