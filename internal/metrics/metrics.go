package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Runs enqueued counter
	RunsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelci",
			Subsystem: "engine",
			Name:      "runs_enqueued_total",
			Help:      "Total runs accepted into the engine",
		},
		[]string{"flow_type"},
	)

	// Runs completed counter by final status
	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelci",
			Subsystem: "engine",
			Name:      "runs_completed_total",
			Help:      "Total runs reaching a terminal status",
		},
		[]string{"flow_type", "status"},
	)

	// Runs cancelled because a newer run took over their concurrency group
	RunsSuperseded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelci",
			Subsystem: "engine",
			Name:      "runs_superseded_total",
			Help:      "Total runs cancelled by a newer run in the same concurrency group",
		},
		[]string{"flow_type"},
	)

	// In-memory work queue depth
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modelci",
			Subsystem: "engine",
			Name:      "queue_depth",
			Help:      "Runs currently buffered for the worker pool",
		},
	)

	// Step duration histogram
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modelci",
			Subsystem: "jobs",
			Name:      "step_duration_seconds",
			Help:      "Wall time of individual job steps",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"pipeline", "job"},
	)

	// Stale sweep actions counter
	StaleActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelci",
			Subsystem: "stale",
			Name:      "actions_total",
			Help:      "Stale sweep actions taken against forge items",
		},
		[]string{"action", "item_type"},
	)
)
