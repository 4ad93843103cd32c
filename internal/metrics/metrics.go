package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recordlog_events_appended_total",
		Help: "Total number of events durably appended, labelled by op kind.",
	}, []string{"op_kind"})

	Merges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recordlog_merges_total",
		Help: "Stale updates resolved by replay-merge, labelled by whether a committed write was kept.",
	}, []string{"outcome"})

	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recordlog_rejections_total",
		Help: "Proposed changes rejected by the coordinator, labelled by error code.",
	}, []string{"code"})

	AppendRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recordlog_append_retries_total",
		Help: "Appends that lost a compare-and-set race and were retried.",
	})

	ProposeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recordlog_propose_duration_seconds",
		Help:    "Latency of proposeChange including lock wait and retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op_kind"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recordlog_snapshot_cache_lookups_total",
		Help: "Snapshot cache lookups, labelled hit or miss.",
	}, []string{"result"})

	HistoryViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recordlog_history_violations_total",
		Help: "Streams found by the auditor with gaps or out-of-order versions.",
	})

	StreamsAudited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recordlog_streams_audited_total",
		Help: "Streams replayed and verified by the auditor.",
	})
)
