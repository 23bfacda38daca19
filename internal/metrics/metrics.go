// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "accessd"

var (
	// CacheRequests counts access cache lookups by result (hit, miss, expired).
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Access cache lookups by result.",
		},
		[]string{"result"},
	)

	// AccessChecks counts access checks by application and outcome.
	AccessChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_checks_total",
			Help:      "Access checks by application and outcome (granted, denied, store_error).",
		},
		[]string{"app", "outcome"},
	)

	// StoreDuration observes grant store round trips.
	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Grant store operation latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// AuthorizationDecisions counts middleware outcomes.
	AuthorizationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_decisions_total",
			Help:      "Request authorization outcomes.",
		},
		[]string{"outcome"},
	)

	// ClaimsSyncs counts custom-claims synchronisations by result.
	ClaimsSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_sync_total",
			Help:      "Custom claims synchronisations by result.",
		},
		[]string{"result"},
	)

	// IdentityRequests counts identity provider calls by operation and result.
	IdentityRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_requests_total",
			Help:      "Identity provider calls by operation and result.",
		},
		[]string{"operation", "result"},
	)

	// IdentityBreakerState is 0 closed, 1 half-open, 2 open.
	IdentityBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "identity_breaker_state",
			Help:      "Identity provider circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
	)
)
