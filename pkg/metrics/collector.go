package metrics

import "github.com/prometheus/client_golang/prometheus"

// Skip reasons for RecordsSkipped.
const (
	ReasonHeader       = "header"
	ReasonPayload      = "payload"
	ReasonUnknownTopic = "unknown_topic"
	ReasonStore        = "store"
)

var (
	RecordsPersisted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packrat_records_persisted_total",
			Help: "Total number of healthcheck records written to the record store",
		},
		[]string{"topic"},
	)

	RecordsDuplicate = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packrat_records_duplicate_total",
			Help: "Total number of redelivered records rejected by unique key",
		},
		[]string{"topic"},
	)

	RecordsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packrat_records_skipped_total",
			Help: "Total number of records skipped without being persisted",
		},
		[]string{"topic", "reason"},
	)

	OffsetCommits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packrat_offset_commits_total",
			Help: "Total number of offset store updates",
		},
		[]string{"topic", "result"}, // applied, stale, error
	)

	PollErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packrat_poll_errors_total",
			Help: "Total number of failed broker polls",
		},
		[]string{"consumer"},
	)

	BatchesInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "packrat_batches_inflight",
			Help: "Batches dispatched to the worker pool and not yet finished",
		},
		[]string{"consumer"},
	)

	BatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "packrat_batch_duration_seconds",
			Help:    "Histogram of batch processing time including the offset commit",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"consumer"},
	)
)
