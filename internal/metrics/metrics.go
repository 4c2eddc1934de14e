package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SEMSAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semsmon_sems_api_calls_total",
			Help: "Total SEMS portal API calls",
		},
		[]string{"endpoint", "status"},
	)

	SEMSAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "semsmon_sems_api_latency_seconds",
			Help:    "SEMS portal API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	SamplesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semsmon_samples_ingested_total",
			Help: "Total history samples written, by table",
		},
		[]string{"table"},
	)

	IngestFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semsmon_ingest_failures_total",
			Help: "Ingestion cycles that failed, by route",
		},
		[]string{"route"},
	)

	BackfillDays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semsmon_backfill_days_total",
			Help: "Backfilled days, by outcome",
		},
		[]string{"outcome"},
	)

	InsightRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semsmon_insight_requests_total",
			Help: "Forecast and recommendation computations",
		},
		[]string{"kind"},
	)
)
