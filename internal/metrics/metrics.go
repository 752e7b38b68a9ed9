// Package metrics exposes Prometheus instrumentation for the intent
// lifecycle and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service owns the Prometheus registry and the collectors registered on it.
type Service struct {
	intentsCreatedTotal    *prometheus.CounterVec
	intentTransitionsTotal *prometheus.CounterVec
	authFailuresTotal      *prometheus.CounterVec
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	expirySweepDuration    prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a metrics service with its own registry.
func New() *Service {
	registry := prometheus.NewRegistry()

	intentsCreatedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signoff_intents_created_total",
			Help: "Total number of payment intents created",
		},
		[]string{"network", "asset"},
	)

	intentTransitionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signoff_intent_transitions_total",
			Help: "Total number of intent status transitions",
		},
		[]string{"from", "to"},
	)

	authFailuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signoff_auth_failures_total",
			Help: "Total number of rejected agent authentication attempts",
		},
		[]string{"reason"},
	)

	httpRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signoff_http_requests_total",
			Help: "Total number of HTTP requests handled",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signoff_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	expirySweepDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signoff_expiry_sweep_duration_seconds",
			Help:    "Duration of background expiry sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	registry.MustRegister(intentsCreatedTotal)
	registry.MustRegister(intentTransitionsTotal)
	registry.MustRegister(authFailuresTotal)
	registry.MustRegister(httpRequestsTotal)
	registry.MustRegister(httpRequestDuration)
	registry.MustRegister(expirySweepDuration)

	return &Service{
		intentsCreatedTotal:    intentsCreatedTotal,
		intentTransitionsTotal: intentTransitionsTotal,
		authFailuresTotal:      authFailuresTotal,
		httpRequestsTotal:      httpRequestsTotal,
		httpRequestDuration:    httpRequestDuration,
		expirySweepDuration:    expirySweepDuration,
		registry:               registry,
	}
}

// IntentCreated records a newly created intent.
func (s *Service) IntentCreated(network, asset string) {
	s.intentsCreatedTotal.WithLabelValues(network, asset).Inc()
}

// IntentTransition records a status transition.
func (s *Service) IntentTransition(from, to string) {
	s.intentTransitionsTotal.WithLabelValues(from, to).Inc()
}

// AuthFailure records a rejected agent authentication attempt.
func (s *Service) AuthFailure(reason string) {
	s.authFailuresTotal.WithLabelValues(reason).Inc()
}

// HTTPRequest records one handled request.
func (s *Service) HTTPRequest(method, path string, status int, duration time.Duration) {
	s.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	s.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ExpirySweep records the duration of a background expiry sweep.
func (s *Service) ExpirySweep(duration time.Duration) {
	s.expirySweepDuration.Observe(duration.Seconds())
}

// Handler returns the Prometheus exposition handler for this registry.
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
