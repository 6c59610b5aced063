package ldap

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolMetrics records connection acquisition metrics for both tiers. A nil
// *PoolMetrics records nothing.
type PoolMetrics struct {
	acquireWait *prometheus.HistogramVec
	acquires    *prometheus.CounterVec
}

// NewPoolMetrics creates unregistered pool metrics.
func NewPoolMetrics() *PoolMetrics {
	return &PoolMetrics{
		acquireWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "s3auth_ldap_pool_acquire_wait_seconds",
			Help:    "Time spent waiting for a directory connection slot.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}, []string{"tier"}),
		acquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "s3auth_ldap_pool_acquire_total",
			Help: "Directory connection acquisitions by outcome.",
		}, []string{"tier", "result"}),
	}
}

func (m *PoolMetrics) observeWait(tier Tier, d time.Duration) {
	if m == nil {
		return
	}
	m.acquireWait.WithLabelValues(string(tier)).Observe(d.Seconds())
}

func (m *PoolMetrics) countAcquire(tier Tier, result string) {
	if m == nil {
		return
	}
	m.acquires.WithLabelValues(string(tier), result).Inc()
}

// Describe implements prometheus.Collector.
func (m *PoolMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.acquireWait.Describe(ch)
	m.acquires.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *PoolMetrics) Collect(ch chan<- prometheus.Metric) {
	m.acquireWait.Collect(ch)
	m.acquires.Collect(ch)
}

// statsCollector exports PoolStats of a client at scrape time.
type statsCollector struct {
	client Client

	open      *prometheus.Desc
	holders   *prometheus.Desc
	idle      *prometheus.Desc
	waiting   *prometheus.Desc
	created   *prometheus.Desc
	discarded *prometheus.Desc
	errors    *prometheus.Desc
	exhausted *prometheus.Desc
}

// NewStatsCollector returns a collector reporting the pool statistics of c.
func NewStatsCollector(c Client) prometheus.Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("s3auth_ldap_pool_"+name, help, []string{"tier"}, nil)
	}
	return &statsCollector{
		client:    c,
		open:      desc("open_connections", "Open directory connections."),
		holders:   desc("holders", "Outstanding connection acquisitions."),
		idle:      desc("idle_connections", "Open connections with no holder."),
		waiting:   desc("waiting", "Callers waiting for a connection slot."),
		created:   desc("created_total", "Directory connections opened."),
		discarded: desc("discarded_total", "Directory connections discarded after a failed liveness check or lost transport."),
		errors:    desc("dial_errors_total", "Failed directory dial attempts."),
		exhausted: desc("exhausted_total", "Acquisitions that timed out waiting for a slot."),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.open, c.holders, c.idle, c.waiting, c.created, c.discarded, c.errors, c.exhausted} {
		ch <- d
	}
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.client.Stats() {
		tier := string(s.Tier)
		ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(s.Open), tier)
		ch <- prometheus.MustNewConstMetric(c.holders, prometheus.GaugeValue, float64(s.Holders), tier)
		ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle), tier)
		ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(s.Waiting), tier)
		ch <- prometheus.MustNewConstMetric(c.created, prometheus.CounterValue, float64(s.Created), tier)
		ch <- prometheus.MustNewConstMetric(c.discarded, prometheus.CounterValue, float64(s.Discarded), tier)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.Errors), tier)
		ch <- prometheus.MustNewConstMetric(c.exhausted, prometheus.CounterValue, float64(s.Exhausted), tier)
	}
}
