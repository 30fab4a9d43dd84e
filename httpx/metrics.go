package httpx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lgc202/stripe-go-kit/telemetry"
)

// MetricsCollector exports Prometheus metrics for every attempt a Client makes.
// It is safe for concurrent use.
type MetricsCollector struct {
	attemptsTotal     *prometheus.CounterVec
	attemptDuration   *prometheus.HistogramVec
	retriesTotal      *prometheus.CounterVec
	transportErrors   *prometheus.CounterVec
	telemetryAttached prometheus.Counter
	warningsTotal     *prometheus.CounterVec
}

// NewMetricsCollector registers the collector's metrics on registry.
func NewMetricsCollector(registry prometheus.Registerer) *MetricsCollector {
	f := promauto.With(registry)
	return &MetricsCollector{
		attemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stripe_http_attempts_total",
				Help: "Total number of HTTP attempts that produced a response",
			},
			[]string{"method", "status_code"},
		),
		attemptDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stripe_http_attempt_duration_seconds",
				Help:    "Duration of HTTP attempts in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		retriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stripe_http_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method"},
		),
		transportErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stripe_http_transport_errors_total",
				Help: "Total number of attempts that failed before a response was received",
			},
			[]string{"method"},
		),
		telemetryAttached: f.NewCounter(
			prometheus.CounterOpts{
				Name: "stripe_http_telemetry_attached_total",
				Help: "Total number of requests sent with client telemetry",
			},
		),
		warningsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stripe_http_warnings_total",
				Help: "Total number of non-fatal client warnings",
			},
			[]string{"kind"},
		),
	}
}

// BeforeHook counts requests carrying telemetry in header (first attempt only).
// An empty header defaults to telemetry.HeaderName.
func (m *MetricsCollector) BeforeHook(header string) BeforeHook {
	if header == "" {
		header = telemetry.HeaderName
	}
	return func(req *http.Request, attempt int) error {
		if attempt == 0 && req.Header.Get(header) != "" {
			m.telemetryAttached.Inc()
		}
		return nil
	}
}

// AfterHook records attempts, retries, latency and transport errors.
func (m *MetricsCollector) AfterHook() AfterHook {
	return func(req *http.Request, resp *Response, err error, dur time.Duration, attempt int) {
		if attempt > 0 {
			m.retriesTotal.WithLabelValues(req.Method).Inc()
		}
		m.attemptDuration.WithLabelValues(req.Method).Observe(dur.Seconds())
		if err != nil || resp == nil {
			m.transportErrors.WithLabelValues(req.Method).Inc()
			return
		}
		m.attemptsTotal.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()
	}
}

// WarningHandler counts warnings by kind.
func (m *MetricsCollector) WarningHandler() WarningHandler {
	return func(w Warning) {
		m.warningsTotal.WithLabelValues(string(w.Kind)).Inc()
	}
}
