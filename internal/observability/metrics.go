package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_booking"

var (
	// ConfirmationsTotal counts confirmation attempts that reached the
	// transaction, by outcome code ("confirmed", "already_confirmed", ...).
	ConfirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "confirmations_total", Help: "Booking confirmation attempts by outcome"},
		[]string{"outcome"},
	)
	ConfirmLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "confirm_latency_seconds",
		Help:      "Latency of the confirmation transaction",
		Buckets:   prometheus.DefBuckets,
	})
	BookingsCreatedTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "bookings_created_total", Help: "Bookings created"})
	RidePostsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ride_posts_created_total", Help: "Ride posts created"})

	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limited_total", Help: "Requests rejected by the rate limiter"},
		[]string{"route"},
	)
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "auth_failures_total", Help: "Identity gate rejections by code"},
		[]string{"code"},
	)
	AuditFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "audit_failures_total", Help: "Audit entries a sink failed to write"},
		[]string{"sink"},
	)
	WSSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ws_sessions", Help: "Connected websocket sessions"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
