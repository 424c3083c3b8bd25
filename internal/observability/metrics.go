// Package observability provides Prometheus metrics for the application.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medialoader"

// Extraction results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds all application metrics.
type Metrics struct {
	// Job metrics
	JobsCreated      *prometheus.CounterVec
	JobsCompleted    *prometheus.CounterVec
	JobsFailed       *prometheus.CounterVec
	JobsCancelled    *prometheus.CounterVec
	JobsInProgress   *prometheus.GaugeVec
	JobDownloadBytes *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec

	// Archive metrics
	ExtractionsTotal  *prometheus.CounterVec
	HandlersAvailable prometheus.Gauge

	// Provider metrics
	ProviderRequestsTotal *prometheus.CounterVec
	ProviderErrors        *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Proxy metrics
	ProxyRequestsTotal *prometheus.CounterVec
	ProxyFailures      *prometheus.CounterVec
	ProxiesAvailable   prometheus.Gauge

	// Auth metrics
	OTPIssued prometheus.Counter
}

// New creates all application metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	metrics := &Metrics{
		// Job metrics
		JobsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "created_total",
			Help:      "Total number of download jobs created",
		}, []string{"provider"}),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "completed_total",
			Help:      "Total number of download jobs completed successfully",
		}, []string{"provider"}),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "failed_total",
			Help:      "Total number of download jobs that failed",
		}, []string{"provider"}),
		JobsCancelled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "cancelled_total",
			Help:      "Total number of download jobs cancelled",
		}, []string{"provider"}),
		JobsInProgress: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "in_progress",
			Help:      "Number of download jobs currently transferring",
		}, []string{"provider"}),
		JobDownloadBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "download_bytes_total",
			Help:      "Total bytes downloaded across all jobs",
		}, []string{"provider"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Histogram of job transfer duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"provider"}),

		// Archive metrics
		ExtractionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "extractions_total",
			Help:      "Total number of archive extractions",
		}, []string{"handler", "result"}),
		HandlersAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "handlers_available",
			Help:      "Number of archive handlers whose tool was found at startup",
		}),

		// Provider metrics
		ProviderRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total number of upstream provider requests",
		}, []string{"provider", "operation"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "errors_total",
			Help:      "Total number of upstream provider errors",
		}, []string{"provider", "error_type"}),

		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPResponseSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Histogram of HTTP response sizes in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
		}, []string{"method", "path"}),

		// Proxy metrics
		ProxyRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Total number of provider requests made through proxies",
		}, []string{"proxy"}),
		ProxyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "failures_total",
			Help:      "Total number of proxy failures",
		}, []string{"proxy"}),
		ProxiesAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "available",
			Help:      "Number of currently available proxies",
		}),

		// Auth metrics
		OTPIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "otp_issued_total",
			Help:      "Total number of one-time passwords issued",
		}),
	}

	return metrics
}

// Handler returns the Prometheus HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// JobTimer returns a function to record job duration.
func (m *Metrics) JobTimer(provider string) func() {
	start := time.Now()

	return func() {
		m.JobDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration, size int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(size))
}

// RecordJobCreated increments the jobs created counter.
func (m *Metrics) RecordJobCreated(provider string) {
	m.JobsCreated.WithLabelValues(provider).Inc()
	m.JobsInProgress.WithLabelValues(provider).Inc()
}

// RecordJobCompleted records a completed job.
func (m *Metrics) RecordJobCompleted(provider string) {
	m.JobsCompleted.WithLabelValues(provider).Inc()
	m.JobsInProgress.WithLabelValues(provider).Dec()
}

// RecordJobFailed records a failed job.
func (m *Metrics) RecordJobFailed(provider string) {
	m.JobsFailed.WithLabelValues(provider).Inc()
	m.JobsInProgress.WithLabelValues(provider).Dec()
}

// RecordJobCancelled records a cancelled job.
func (m *Metrics) RecordJobCancelled(provider string) {
	m.JobsCancelled.WithLabelValues(provider).Inc()
	m.JobsInProgress.WithLabelValues(provider).Dec()
}

// RecordBytes adds n transferred bytes.
func (m *Metrics) RecordBytes(provider string, n int) {
	m.JobDownloadBytes.WithLabelValues(provider).Add(float64(n))
}

// RecordExtraction records an archive extraction outcome.
func (m *Metrics) RecordExtraction(handler, result string) {
	m.ExtractionsTotal.WithLabelValues(handler, result).Inc()
}

// SetHandlersAvailable sets the number of usable archive handlers.
func (m *Metrics) SetHandlersAvailable(count int) {
	m.HandlersAvailable.Set(float64(count))
}

// RecordProviderRequest records an upstream provider call.
func (m *Metrics) RecordProviderRequest(provider, operation string) {
	m.ProviderRequestsTotal.WithLabelValues(provider, operation).Inc()
}

// RecordProviderError records an upstream provider error.
func (m *Metrics) RecordProviderError(provider, errorType string) {
	m.ProviderErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordProxyRequest records a proxy request.
func (m *Metrics) RecordProxyRequest(proxy string) {
	m.ProxyRequestsTotal.WithLabelValues(proxy).Inc()
}

// RecordProxyFailure records a proxy failure.
func (m *Metrics) RecordProxyFailure(proxy string) {
	m.ProxyFailures.WithLabelValues(proxy).Inc()
}

// SetProxiesAvailable sets the number of available proxies.
func (m *Metrics) SetProxiesAvailable(count int) {
	m.ProxiesAvailable.Set(float64(count))
}

// RecordOTPIssued counts an issued one-time password.
func (m *Metrics) RecordOTPIssued() {
	m.OTPIssued.Inc()
}
