package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lakeflow_build_info",
			Help: "Build information of the lakeflow pipeline",
		},
		[]string{"version", "commit", "date"},
	)

	RecordsNormalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeflow_records_normalized_total",
			Help: "Total number of raw records normalized",
		},
		[]string{"dataset", "status"},
	)

	NormalizeWarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeflow_normalize_warnings_total",
			Help: "Total number of nullable values mapped to null during normalization",
		},
		[]string{"dataset"},
	)

	DedupDiscardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeflow_dedup_discards_total",
			Help: "Total number of records superseded during conformance",
		},
		[]string{"dataset"},
	)

	FactRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeflow_fact_rows_total",
			Help: "Total number of fact source rows by outcome",
		},
		[]string{"table", "outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lakeflow_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 0.01s to ~82s
		},
		[]string{"stage"},
	)

	LedgerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeflow_ledger_transitions_total",
			Help: "Total number of ledger state transitions",
		},
		[]string{"dataset", "state"},
	)

	CatalogPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeflow_catalog_publish_total",
			Help: "Total number of catalog publishes",
		},
		[]string{"result"},
	)

	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeflow_storage_operations_total",
			Help: "Total number of object storage operations",
		},
		[]string{"operation", "status"},
	)

	WarehouseLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lakeflow_warehouse_load_duration_seconds",
			Help:    "Duration of curated table loads into the query engine",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"table"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeflow_http_requests_total",
			Help: "Total number of read API requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lakeflow_http_request_duration_seconds",
			Help:    "Duration of read API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
