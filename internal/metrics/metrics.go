package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_sessions_started_total",
			Help: "Total number of research sessions started",
		},
	)

	SessionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_sessions_completed_total",
			Help: "Total number of research sessions reaching a terminal stage",
		},
		[]string{"status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_stage_duration_seconds",
			Help:    "Workflow stage execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 120, 300},
		},
		[]string{"stage"},
	)

	// Scheduler metrics
	ResearchSlotsRun = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_research_slots_total",
			Help: "Total researcher slots run, by outcome",
		},
		[]string{"outcome"},
	)

	// LLM gateway metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_llm_requests_total",
			Help: "Total LLM generate calls, by provider and status",
		},
		[]string{"provider", "stage", "status"},
	)

	LLMFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_llm_fallbacks_total",
			Help: "Total times the gateway fell back to the next provider",
		},
		[]string{"from", "stage"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider", "stage"},
	)

	// Search gateway metrics
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_search_requests_total",
			Help: "Total search calls, by status",
		},
		[]string{"status"},
	)

	SearchCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_search_cache_hits_total",
			Help: "Search cache hits",
		},
	)

	SearchCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_search_cache_misses_total",
			Help: "Search cache misses",
		},
	)

	// Progress bus metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_events_published_total",
			Help: "Total progress events published, by type",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_events_dropped_total",
			Help: "Total progress events dropped on slow subscribers",
		},
	)

	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepresearch_subscribers",
			Help: "Current number of progress subscribers",
		},
	)

	// Store metrics
	StoreUpdateConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_store_update_conflicts_total",
			Help: "Optimistic-concurrency conflicts retried by the session store",
		},
	)
)
