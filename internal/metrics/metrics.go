// Package metrics registers the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animerec_http_requests_total",
			Help: "HTTP requests by route, method and status code",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "animerec_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	RecommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animerec_recommendations_total",
			Help: "Recommendation requests by outcome",
		},
		[]string{"outcome"},
	)

	RecommendationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "animerec_recommendation_duration_seconds",
			Help:    "End-to-end recommendation latency including retrieval and generation",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
	)

	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animerec_pipeline_runs_total",
			Help: "Pipeline runs by step and final status",
		},
		[]string{"kind", "status"},
	)

	ExternalRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animerec_external_retries_total",
			Help: "Retried calls to external APIs",
		},
		[]string{"service"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "animerec_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// Outcome labels for RecommendationsTotal.
const (
	OutcomeSuccess    = "success"
	OutcomeEmptyQuery = "empty_query"
	OutcomeEmptyIndex = "empty_index"
	OutcomeError      = "error"
)
