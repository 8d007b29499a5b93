// Package observability exposes the outbox metric surface. Metric names
// render the contract names (outbox.messages.created and friends) in
// Prometheus form.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	messagesCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outbox",
		Subsystem: "messages",
		Name:      "created_total",
		Help:      "Number of outbox records created, labeled by entity and event type.",
	}, []string{"entity_type", "event_type"})

	messagesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outbox",
		Subsystem: "messages",
		Name:      "processed_total",
		Help:      "Number of outbox records processed by the relay, labeled by resulting status.",
	}, []string{"entity_type", "status"})

	creationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outbox",
		Subsystem: "creation",
		Name:      "failures_total",
		Help:      "Number of outbox record creation failures.",
	}, []string{"entity_type"})

	relayPolling = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "outbox",
		Subsystem: "relay",
		Name:      "polling_total",
		Help:      "Number of relay poll cycles.",
	})

	pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "outbox",
		Subsystem: "messages",
		Name:      "pending",
		Help:      "Outbox records currently in PENDING.",
	})

	failedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "outbox",
		Subsystem: "messages",
		Name:      "failed",
		Help:      "Outbox records currently in FAILED.",
	})

	deadLetterGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "outbox",
		Subsystem: "messages",
		Name:      "dead_letter",
		Help:      "Outbox records currently in DEAD_LETTER.",
	})

	processingTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "outbox",
		Subsystem: "processing",
		Name:      "time_seconds",
		Help:      "Per-record publish latency.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"entity_type"})
)

func init() {
	prometheus.MustRegister(
		messagesCreated,
		messagesProcessed,
		creationFailures,
		relayPolling,
		pendingGauge,
		failedGauge,
		deadLetterGauge,
		processingTime,
	)
}

// RecordCreated counts one captured outbox record.
func RecordCreated(entityType, eventType string) {
	messagesCreated.WithLabelValues(entityType, eventType).Inc()
}

// RecordProcessed counts one relay transition, status SENT or FAILED.
func RecordProcessed(entityType, status string) {
	messagesProcessed.WithLabelValues(entityType, status).Inc()
}

// RecordCreationFailure counts an interceptor failure for the entity type.
func RecordCreationFailure(entityType string) {
	creationFailures.WithLabelValues(entityType).Inc()
}

// RecordPolling counts one relay poll cycle.
func RecordPolling() {
	relayPolling.Inc()
}

// SetQueueDepths refreshes the pending / failed / dead-letter gauges.
func SetQueueDepths(pending, failed, deadLetter int64) {
	pendingGauge.Set(float64(pending))
	failedGauge.Set(float64(failed))
	deadLetterGauge.Set(float64(deadLetter))
}

// ObserveProcessingTime records one record's publish latency.
func ObserveProcessingTime(entityType string, elapsed time.Duration) {
	processingTime.WithLabelValues(entityType).Observe(elapsed.Seconds())
}
