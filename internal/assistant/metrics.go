package assistant

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fable_executions_started_total",
		Help: "Agent executions started, by agent.",
	}, []string{"agent"})

	executionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fable_executions_completed_total",
		Help: "Agent executions completed successfully, by agent.",
	}, []string{"agent"})

	executionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fable_executions_failed_total",
		Help: "Agent executions that ended in failure, by agent.",
	}, []string{"agent"})

	executionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fable_execution_duration_seconds",
		Help:    "Wall-clock agent execution duration, by agent.",
		Buckets: prometheus.DefBuckets,
	}, []string{"agent"})
)
