package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sparkify_etl_build_info",
			Help: "Build information of the Sparkify ETL",
		},
		[]string{"version", "commit", "date"},
	)

	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparkify_etl_rows_written_total",
			Help: "Rows written per output table",
		},
		[]string{"table", "sink"},
	)

	WriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sparkify_etl_table_write_duration_seconds",
			Help:    "Duration of a full table write",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"table", "sink"},
	)

	WriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparkify_etl_table_write_errors_total",
			Help: "Failed table writes",
		},
		[]string{"table", "sink"},
	)

	UnmatchedPlays = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sparkify_etl_unmatched_songplays",
			Help: "Songplays of the last run whose title did not resolve to a catalog song",
		},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sparkify_etl_run_duration_seconds",
			Help:    "Duration of a pipeline run",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		},
		[]string{"stage", "status"},
	)

	LastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sparkify_etl_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		},
		[]string{"stage"},
	)
)

// Collectors lists every metric, for pushing to a Pushgateway.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		BuildInfo,
		RowsWritten,
		WriteDuration,
		WriteErrors,
		UnmatchedPlays,
		RunDuration,
		LastSuccess,
	}
}
