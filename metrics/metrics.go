// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mediagate"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// UpstreamAttempts counts outbound attempts by upstream host and
	// outcome (ok, http_4xx, http_5xx, timeout, offline, short_circuit,
	// transient).
	UpstreamAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_attempts_total",
			Help:      "Outbound upstream attempts by outcome.",
		},
		[]string{"host", "outcome"},
	)

	ProxyRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_rejections_total",
			Help:      "Media proxy requests rejected by validation rule.",
		},
		[]string{"reason"},
	)

	ProxyBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_bytes_total",
			Help:      "Bytes streamed to clients by the media proxy.",
		},
	)

	CookieOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cookie_outcomes_total",
			Help:      "Recorded cookie outcomes by platform and result.",
		},
		[]string{"platform", "result"},
	)

	ThrottleDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttle_decisions_total",
			Help:      "Pacing decisions by platform (throttled, allowed, rate_limited).",
		},
		[]string{"platform", "decision"},
	)

	GuestRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guest_quota_rejections_total",
			Help:      "Guest requests rejected for exhausted quota by surface.",
		},
		[]string{"surface"},
	)

	BookkeepDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookkeep_dropped_total",
			Help:      "Bookkeeping tasks dropped because the queue was full.",
		},
	)
)
