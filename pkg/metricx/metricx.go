// Package metricx holds the prometheus collectors for token and session
// activity, plus HTTP request instrumentation for fiber.
package metricx

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the service exports.
type Metrics struct {
	registry *prometheus.Registry

	TokensMinted        *prometheus.CounterVec
	VerificationsFailed *prometheus.CounterVec
	SessionsInvalidated *prometheus.CounterVec
	LoginAttempts       *prometheus.CounterVec
	SessionsCleaned     prometheus.Counter
	JobsProcessed       *prometheus.CounterVec
	JobDuration         *prometheus.HistogramVec

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on a private registry.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TokensMinted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_minted_total",
			Help:      "Session tokens minted, by token type.",
		}, []string{"type"}),
		VerificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_verifications_failed_total",
			Help:      "Token verifications rejected, by error code.",
		}, []string{"code"}),
		SessionsInvalidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_invalidated_total",
			Help:      "Session tokens deleted by invalidation, by trigger.",
		}, []string{"reason"}),
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts, by method and outcome.",
		}, []string{"method", "outcome"}),
		SessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_cleaned_total",
			Help:      "Expired session tokens removed by the cleanup job.",
		}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Background jobs processed, by job type and outcome.",
		}, []string{"type", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Background job handler latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	m.registry.MustRegister(
		m.TokensMinted,
		m.VerificationsFailed,
		m.SessionsInvalidated,
		m.LoginAttempts,
		m.SessionsCleaned,
		m.JobsProcessed,
		m.JobDuration,
		m.httpInFlight,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Instrument records RPS, latency and in-flight requests. The route
// pattern is used as path label to keep cardinality bounded.
func (m *Metrics) Instrument() fiber.Handler {
	return func(c *fiber.Ctx) error {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		path := c.Route().Path
		labels := []string{c.Method(), path, strconv.Itoa(status)}
		m.httpRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(labels...).Inc()
		return err
	}
}

// ObserveJob matches jobx.Observer.
func (m *Metrics) ObserveJob(jobType, outcome string, elapsed time.Duration) {
	m.JobsProcessed.WithLabelValues(jobType, outcome).Inc()
	m.JobDuration.WithLabelValues(jobType).Observe(elapsed.Seconds())
}

// Nop returns metrics that are never scraped.
func Nop() *Metrics {
	return New("nop")
}
