package postgres

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ensureSchemaCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "distlock",
			Subsystem: "postgres",
			Name:      "ensureschema_total",
			Help:      "Total number of database queries issued in the EnsureSchema method.",
		},
		[]string{"query"},
	)
	ensureSchemaDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "distlock",
			Subsystem: "postgres",
			Name:      "ensureschema_duration_seconds",
			Help:      "The duration of all queries issued in the EnsureSchema method.",
		},
		[]string{"query"},
	)

	claimCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "distlock",
			Subsystem: "postgres",
			Name:      "claim_total",
			Help:      "Total number of database queries issued in the Claim method.",
		},
		[]string{"query"},
	)
	claimDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "distlock",
			Subsystem: "postgres",
			Name:      "claim_duration_seconds",
			Help:      "The duration of all queries issued in the Claim method.",
		},
		[]string{"query"},
	)

	releaseCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "distlock",
			Subsystem: "postgres",
			Name:      "release_total",
			Help:      "Total number of database queries issued in the Release method.",
		},
		[]string{"query"},
	)
	releaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "distlock",
			Subsystem: "postgres",
			Name:      "release_duration_seconds",
			Help:      "The duration of all queries issued in the Release method.",
		},
		[]string{"query"},
	)
)
