package orchestrator

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	shipmetrics "github.com/shipd-io/shipd/pkg/metrics"
)

var (
	runsCreated = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "shipd",
		Subsystem: "orchestrator",
		Name:      "runs_created_total",
		Help:      "Count of pipeline runs created, by trigger kind.",
	}, []string{shipmetrics.LabelTrigger})

	gateDecisions = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "shipd",
		Subsystem: "orchestrator",
		Name:      "gate_decisions_total",
		Help:      "Count of publish-gate decisions, by decision.",
	}, []string{shipmetrics.LabelDecision})

	stageDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "shipd",
		Subsystem: "orchestrator",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages, in seconds.",
		Buckets:   stdprometheus.ExponentialBuckets(0.1, 3, 9),
	}, []string{shipmetrics.LabelStage, shipmetrics.LabelSuccess})

	jobDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "shipd",
		Subsystem: "orchestrator",
		Name:      "job_duration_seconds",
		Help:      "Duration of queued pipeline jobs, in seconds.",
		Buckets:   stdprometheus.ExponentialBuckets(0.1, 3, 9),
	}, []string{shipmetrics.LabelSuccess})
)
