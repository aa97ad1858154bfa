package reforms

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reformWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reforms_writes_total",
		Help: "Reform rows written by the reconciliation engine, by outcome",
	}, []string{"outcome"})

	recordFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reforms_record_failures_total",
		Help: "Input records skipped, by error kind",
	}, []string{"kind"})

	lateCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reforms_late_collisions_total",
		Help: "Bulk inserts that hit an identity index and fell back to update",
	})

	mergeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reforms_merges_total",
		Help: "Post-hoc merges by outcome",
	}, []string{"outcome"})

	batchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reforms_batch_duration_seconds",
		Help:    "Duration of ingestion batches",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"status"})
)

func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRecord):
		return "invalid"
	case errors.Is(err, ErrUnknownReference):
		return "unknown_reference"
	default:
		return "other"
	}
}
