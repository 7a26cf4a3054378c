package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecordsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_records_ingested_total",
		Help: "Total number of raw records committed to the bronze store.",
	})

	RecordsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_records_skipped_total",
		Help: "Total number of malformed archive lines skipped.",
	})

	RecordsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_records_duplicate_total",
		Help: "Total number of records dropped as already-committed duplicates.",
	})

	FilesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_files_completed_total",
		Help: "Total number of archive files processed to completion.",
	})

	FilesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_files_failed_total",
		Help: "Total number of archive files marked failed after retry exhaustion.",
	})

	MergeRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_merge_retries_total",
		Help: "Total number of optimistic merge retries due to version conflicts.",
	})

	FilesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "strata_files_inflight",
		Help: "Number of archive files currently being processed.",
	})

	FileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "strata_file_processing_seconds",
		Help:    "End-to-end processing time per archive file in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})
)

// Serve exposes /metrics on addr in a background goroutine. Errors from the
// listener are delivered on the returned channel.
func Serve(addr string) <-chan error {
	errC := make(chan error, 1)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		errC <- srv.ListenAndServe()
	}()
	return errC
}
