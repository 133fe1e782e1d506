package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce             sync.Once
	gatewayRequestsTotal     *prometheus.CounterVec
	gatewayLatencySeconds    *prometheus.HistogramVec
	gatewayErrorsTotal       *prometheus.CounterVec
	backendRequestsTotal     *prometheus.CounterVec
	backendLatencySeconds    *prometheus.HistogramVec
	referralValidationsTotal *prometheus.CounterVec
	feedEventsTotal          *prometheus.CounterVec
	feedSessionsActive       prometheus.Gauge
	streamClientsActive      prometheus.Gauge
	pushReconnectsTotal      prometheus.Counter
	enrollmentCacheTotal     *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the gateway.
func RegisterMetrics() {
	registerOnce.Do(func() {
		gatewayRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of gateway API requests served.",
		}, []string{"method", "route", "status"})

		gatewayLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_latency_seconds",
			Help:    "Latency distribution for gateway API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		gatewayErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_errors_total",
			Help: "Total number of error responses returned by the gateway.",
		}, []string{"method", "route", "status"})

		backendRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backend_requests_total",
			Help: "Requests issued to the LMS backend by endpoint and outcome.",
		}, []string{"endpoint", "status"})

		backendLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backend_latency_seconds",
			Help:    "Latency of requests issued to the LMS backend.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"})

		referralValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_validations_total",
			Help: "Referral validations by outcome.",
		}, []string{"outcome"})

		feedEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_feed_events_total",
			Help: "Notification feed changes by kind.",
		}, []string{"kind"})

		feedSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notification_feed_sessions_active",
			Help: "Hydrated notification feeds held in memory.",
		})

		streamClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notification_stream_clients_active",
			Help: "Browser SSE and websocket clients subscribed to feed events.",
		})

		pushReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "push_reconnects_total",
			Help: "Reconnect attempts on the backend push channel.",
		})

		enrollmentCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enrollment_cache_lookups_total",
			Help: "Enrollment cache lookups by result.",
		}, []string{"result"})

		prometheus.MustRegister(
			gatewayRequestsTotal,
			gatewayLatencySeconds,
			gatewayErrorsTotal,
			backendRequestsTotal,
			backendLatencySeconds,
			referralValidationsTotal,
			feedEventsTotal,
			feedSessionsActive,
			streamClientsActive,
			pushReconnectsTotal,
			enrollmentCacheTotal,
		)
	})
}

// GatewayRequests exposes the counter for gateway requests.
func GatewayRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return gatewayRequestsTotal
}

// GatewayLatency exposes the latency histogram for gateway requests.
func GatewayLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return gatewayLatencySeconds
}

// GatewayErrors exposes the counter for gateway error responses.
func GatewayErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return gatewayErrorsTotal
}

// BackendRequests exposes the counter for backend calls.
func BackendRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return backendRequestsTotal
}

// BackendLatency exposes the latency histogram for backend calls.
func BackendLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return backendLatencySeconds
}

// ReferralValidations exposes the referral outcome counter.
func ReferralValidations() *prometheus.CounterVec {
	RegisterMetrics()
	return referralValidationsTotal
}

// FeedEvents exposes the feed change counter.
func FeedEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return feedEventsTotal
}

// FeedSessionsActive exposes the hydrated feed gauge.
func FeedSessionsActive() prometheus.Gauge {
	RegisterMetrics()
	return feedSessionsActive
}

// StreamClientsActive exposes the browser stream client gauge.
func StreamClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return streamClientsActive
}

// PushReconnects exposes the push reconnect counter.
func PushReconnects() prometheus.Counter {
	RegisterMetrics()
	return pushReconnectsTotal
}

// EnrollmentCache exposes the enrollment cache lookup counter.
func EnrollmentCache() *prometheus.CounterVec {
	RegisterMetrics()
	return enrollmentCacheTotal
}
