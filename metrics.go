package platemate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts submissions answered from the response cache
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "platemate_cache_hits_total",
			Help: "Total number of response cache hits",
		},
	)

	// CacheMisses counts submissions that needed a model call
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "platemate_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	// CacheErrors tracks storage failures by operation
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platemate_cache_errors_total",
			Help: "Total number of response cache errors",
		},
		[]string{"operation"}, // "lookup", "store"
	)

	// ModelCalls tracks calls to the model backend by outcome
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platemate_model_calls_total",
			Help: "Total number of model analysis calls",
		},
		[]string{"backend", "outcome"}, // outcome: "ok" or an error class
	)

	// ModelDuration tracks how long model calls take
	ModelDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "platemate_model_call_duration_seconds",
			Help:    "Duration of model analysis calls",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"backend"},
	)
)
