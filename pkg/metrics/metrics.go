// Package metrics provides Prometheus metrics for the linker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CandidateSearches tracks which strategy produced each candidate list
	CandidateSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "candidates",
			Name:      "searches_total",
			Help:      "Total number of candidate searches by winning strategy",
		},
		[]string{"resource_type", "strategy"},
	)

	// CandidatesFound tracks the size of returned candidate lists
	CandidatesFound = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sage",
			Subsystem: "candidates",
			Name:      "found",
			Help:      "Number of candidates returned per search",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 25, 50},
		},
		[]string{"strategy"},
	)

	// PairsScored tracks rule engine evaluations during score sweeps
	PairsScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "rules",
			Name:      "pairs_scored_total",
			Help:      "Total number of record pairs scored by the rule engine",
		},
		[]string{"resource_type"},
	)

	// PairsBlocked tracks golden records skipped by blocking keys
	PairsBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "rules",
			Name:      "pairs_blocked_total",
			Help:      "Total number of golden records skipped by blocking",
		},
		[]string{"resource_type"},
	)

	// LinkChanges tracks effective link writes
	LinkChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "links",
			Name:      "changes_total",
			Help:      "Total number of link writes that changed stored content",
		},
		[]string{"match_result", "link_source"},
	)

	// GoldenRecordsCreated tracks golden records created by the resolver
	GoldenRecordsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "golden",
			Name:      "created_total",
			Help:      "Total number of golden records created",
		},
		[]string{"resource_type"},
	)

	// RecordsProcessed tracks pipeline outcomes per record
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "pipeline",
			Name:      "records_total",
			Help:      "Total number of records processed by outcome",
		},
		[]string{"status"},
	)

	// RecordDuration tracks end-to-end processing time per record
	RecordDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sage",
			Subsystem: "pipeline",
			Name:      "record_duration_seconds",
			Help:      "Duration of record processing in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	// RecordsInFlight tracks records currently being processed
	RecordsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sage",
			Subsystem: "pipeline",
			Name:      "records_in_flight",
			Help:      "Number of records currently being processed",
		},
	)

	// DLQRecordsTotal tracks records sent to the dead letter queue
	DLQRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "dlq",
			Name:      "records_total",
			Help:      "Total number of records sent to the dead letter queue",
		},
		[]string{"reason"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaMessagesConsumed tracks Kafka messages consumed
	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "kafka",
			Name:      "messages_consumed_total",
			Help:      "Total number of messages consumed from Kafka",
		},
		[]string{"topic", "status"},
	)

	// RuleSetReloads tracks rule set load attempts
	RuleSetReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "rules",
			Name:      "reloads_total",
			Help:      "Total number of rule set loads by status",
		},
		[]string{"status"},
	)
)

// RecordCandidateSearch records the outcome of a candidate search
func RecordCandidateSearch(resourceType, strategy string, found int) {
	CandidateSearches.WithLabelValues(resourceType, strategy).Inc()
	CandidatesFound.WithLabelValues(strategy).Observe(float64(found))
}

// RecordLinkChange records an effective link write
func RecordLinkChange(matchResult, linkSource string) {
	LinkChanges.WithLabelValues(matchResult, linkSource).Inc()
}

// RecordPipelineRecord records a pipeline outcome and its duration
func RecordPipelineRecord(status string, durationSeconds float64) {
	RecordsProcessed.WithLabelValues(status).Inc()
	RecordDuration.Observe(durationSeconds)
}

// RecordDLQ records a dead-lettered record
func RecordDLQ(reason string) {
	DLQRecordsTotal.WithLabelValues(reason).Inc()
}

// RecordRuleSetReload records a rule set load attempt
func RecordRuleSetReload(status string) {
	RuleSetReloads.WithLabelValues(status).Inc()
}
