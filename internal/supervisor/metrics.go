package supervisor

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels a generation attempt.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeRateLimited Outcome = Outcome(KindRateLimited)
	OutcomeOther       Outcome = Outcome(KindOther)
)

// Metrics collects Prometheus metrics for the service.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	attemptsTotal    *prometheus.CounterVec
	backoffSeconds   *prometheus.HistogramVec
	recordsReceived  prometheus.Histogram
	inFlightRequests prometheus.Gauge
	upstreamHealthy  prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// NewMetrics returns the process-wide metrics collector, registering it on
// first use.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInst = &Metrics{
			requestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "greenhouse_report_requests_total",
					Help: "Total number of HTTP requests processed",
				},
				[]string{"endpoint", "code"},
			),
			requestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "greenhouse_report_request_duration_seconds",
					Help:    "Request duration in seconds, including retry waits",
					Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
				},
				[]string{"endpoint"},
			),
			attemptsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "greenhouse_report_generation_attempts_total",
					Help: "Generation attempts by outcome",
				},
				[]string{"outcome"},
			),
			backoffSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "greenhouse_report_generation_backoff_seconds",
					Help:    "Wait before a generation retry",
					Buckets: []float64{0.5, 1, 1.5, 2, 3, 4, 6},
				},
				[]string{"kind"},
			),
			recordsReceived: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "greenhouse_report_records_per_request",
					Help:    "Number of sensor records per report request",
					Buckets: prometheus.ExponentialBuckets(1, 4, 8),
				},
			),
			inFlightRequests: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "greenhouse_report_requests_in_flight",
					Help: "Number of report requests currently in flight",
				},
			),
			upstreamHealthy: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "greenhouse_report_upstream_healthy",
					Help: "Gemini API reachability (1 = healthy, 0 = unhealthy)",
				},
			),
		}
	})
	return metricsInst
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(endpoint string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	m.requestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordAttempt counts one generation attempt.
func (m *Metrics) RecordAttempt(outcome Outcome) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordBackoff observes a retry wait.
func (m *Metrics) RecordBackoff(kind Kind, wait time.Duration) {
	if m == nil {
		return
	}
	m.backoffSeconds.WithLabelValues(string(kind)).Observe(wait.Seconds())
}

// RecordBatchSize observes the number of records in a request.
func (m *Metrics) RecordBatchSize(n int) {
	if m == nil {
		return
	}
	m.recordsReceived.Observe(float64(n))
}

// AddInFlight adjusts the in-flight gauge by delta.
func (m *Metrics) AddInFlight(delta int) {
	if m == nil {
		return
	}
	m.inFlightRequests.Add(float64(delta))
}

// UpdateUpstreamHealth updates the upstream health gauge.
func (m *Metrics) UpdateUpstreamHealth(healthy bool) {
	if m == nil {
		return
	}
	if healthy {
		m.upstreamHealthy.Set(1)
	} else {
		m.upstreamHealthy.Set(0)
	}
}
