// Package metrics defines the prometheus instrumentation for the warden engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_events_submitted_total",
			Help: "Total number of events submitted for evaluation",
		},
		[]string{"category"},
	)

	ValidationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_validation_failures_total",
			Help: "Total number of event submissions rejected by the normalizer",
		},
	)

	DetectionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_detections_created_total",
			Help: "Total number of detections created",
		},
		[]string{"severity", "category"},
	)

	ScorerInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_scorer_invocations_total",
			Help: "Total number of scorer invocations by outcome",
		},
		[]string{"scorer", "outcome"},
	)

	RulesFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_rules_fired_total",
			Help: "Total number of mitigation rule firings",
		},
		[]string{"rule"},
	)

	ActionsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_actions_dispatched_total",
			Help: "Total number of dispatched actions by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	SinkDeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_sink_delivery_failures_total",
			Help: "Total number of failed deliveries to the security event sink",
		},
	)

	DecisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_decision_duration_seconds",
			Help:    "End-to-end time from submission to dispatched actions",
			Buckets: prometheus.DefBuckets,
		},
	)

	StoredDetections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_stored_detections",
			Help: "Number of detections currently retained in the store",
		},
	)

	SweepEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_sweep_evictions_total",
			Help: "Total number of detections evicted by the retention sweep",
		},
	)

	BlockSetSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_block_set_size",
			Help: "Number of targets currently in the block-set",
		},
	)

	WorkerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_worker_pool_active_workers",
			Help: "Number of active workers per pool",
		},
		[]string{"pool"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_worker_pool_queue_size",
			Help: "Current task queue depth per pool",
		},
		[]string{"pool"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_worker_pool_tasks_processed_total",
			Help: "Total number of tasks processed per pool",
		},
		[]string{"pool"},
	)
)
