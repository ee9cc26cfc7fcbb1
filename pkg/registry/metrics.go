package registry

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	shipmetrics "github.com/shipd-io/shipd/pkg/metrics"
)

var (
	pushDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "shipd",
		Subsystem: "registry",
		Name:      "push_duration_seconds",
		Help:      "Duration of image pushes, in seconds.",
		Buckets:   stdprometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{shipmetrics.LabelSuccess})
)
