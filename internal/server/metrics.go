package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the HTTP request metrics. A nil *Metrics records nothing.
type Metrics struct {
	inFlight prometheus.Gauge
	duration *prometheus.HistogramVec
}

// NewMetrics creates unregistered request metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "s3auth_http_in_flight_requests",
			Help: "Requests currently being handled.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "s3auth_http_request_duration_seconds",
			Help:    "Request latencies by action and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"action", "code"}),
	}
}

func (m *Metrics) begin() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) end(action string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	if action == "" {
		action = "none"
	}
	m.duration.WithLabelValues(action, strconv.Itoa(code)).Observe(d.Seconds())
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.inFlight.Describe(ch)
	m.duration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.inFlight.Collect(ch)
	m.duration.Collect(ch)
}
