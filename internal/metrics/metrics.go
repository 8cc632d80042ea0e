// Package metrics holds the Prometheus collectors for the session components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Credential exchange
var (
	// ExchangesTotal counts credential exchanges by result kind
	ExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hseai_credential_exchanges_total",
			Help: "Credential exchanges by result",
		},
		[]string{"result"},
	)

	// ExchangeDuration tracks exchange latency in seconds
	ExchangeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hseai_credential_exchange_duration_seconds",
			Help:    "Credential exchange duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// ExchangeWaiters counts callers that joined an exchange already in flight
	ExchangeWaiters = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hseai_credential_exchange_shared_total",
			Help: "Callers that shared an in-flight credential exchange",
		},
	)
)

// Request guard
var (
	// GuardAttemptsTotal counts protected request attempts by attempt number
	GuardAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hseai_guard_attempts_total",
			Help: "Protected request attempts by attempt number",
		},
		[]string{"attempt"},
	)

	// GuardRetriesTotal counts retries after an authorization failure
	GuardRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hseai_guard_retries_total",
			Help: "Retries after an authorization failure",
		},
	)

	// GuardOutcomesTotal counts guarded calls by final outcome kind
	GuardOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hseai_guard_outcomes_total",
			Help: "Guarded calls by outcome",
		},
		[]string{"outcome"},
	)
)

// Session
var (
	// SessionTransitionsTotal counts authorization state transitions by target state
	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hseai_session_transitions_total",
			Help: "Authorization state transitions by target state",
		},
		[]string{"state"},
	)

	// StreamSubscribers tracks open state stream subscriptions
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hseai_state_stream_subscribers",
			Help: "Open authorization state stream subscriptions",
		},
	)
)

// Inference
var (
	// InferenceRequestDuration tracks inference pass-through latency by backend
	InferenceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hseai_inference_request_duration_seconds",
			Help:    "Inference request duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"backend"},
	)
)
