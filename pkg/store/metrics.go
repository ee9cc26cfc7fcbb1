package store

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

var (
	heldBytes = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: "shipd",
		Subsystem: "artifact_store",
		Name:      "held_bytes",
		Help:      "Bytes currently held on behalf of live runs.",
	}, []string{})
)
