package repository

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal counts repository operations by operation and result
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recurra_rule_operations_total",
		Help: "Rule repository operations by operation and result",
	}, []string{"operation", "result"})

	eventsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recurra_events_generated_total",
		Help: "Events written by generation passes",
	})

	eventsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recurra_events_deleted_total",
		Help: "Events removed by regeneration, deletion or exceptions",
	})

	generationTruncated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recurra_generation_truncated_total",
		Help: "Generation passes cut short by the occurrence cap",
	})

	generationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recurra_generation_duration_seconds",
		Help:    "Time spent expanding a rule in one generation pass",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8), // 10µs to ~160ms
	})
)

func observe(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(operation, result).Inc()
}
