package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts ingestion runs.
	// Labels: repo, status (success, partial, failed, up_to_date, rejected)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codeindexd",
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Total number of ingestion runs",
		},
		[]string{"repo", "status"},
	)

	// FilesTotal counts files processed during ingestion runs.
	// Labels: repo, result (added, modified, deleted, failed, skipped)
	FilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codeindexd",
			Subsystem: "ingest",
			Name:      "files_total",
			Help:      "Total number of files processed during ingestion",
		},
		[]string{"repo", "result"},
	)

	// ChunksWrittenTotal counts chunks upserted into the vector index.
	ChunksWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codeindexd",
			Subsystem: "ingest",
			Name:      "chunks_written_total",
			Help:      "Total number of chunks written to the vector index",
		},
		[]string{"repo"},
	)

	// ChunksDeletedTotal counts chunks purged from the vector index.
	ChunksDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codeindexd",
			Subsystem: "ingest",
			Name:      "chunks_deleted_total",
			Help:      "Total number of chunks deleted from the vector index",
		},
		[]string{"repo"},
	)

	// RunDuration tracks how long ingestion runs take.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "codeindexd",
			Subsystem: "ingest",
			Name:      "run_duration_seconds",
			Help:      "Duration of ingestion runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"repo"},
	)
)

func recordRun(repo, status string, report *Report) {
	RunsTotal.WithLabelValues(repo, status).Inc()
	if report == nil {
		return
	}
	RunDuration.WithLabelValues(repo).Observe(report.Duration.Seconds())
	FilesTotal.WithLabelValues(repo, "added").Add(float64(report.FilesAdded))
	FilesTotal.WithLabelValues(repo, "modified").Add(float64(report.FilesModified))
	FilesTotal.WithLabelValues(repo, "deleted").Add(float64(report.FilesDeleted))
	FilesTotal.WithLabelValues(repo, "failed").Add(float64(len(report.Errors)))
	FilesTotal.WithLabelValues(repo, "skipped").Add(float64(report.FilesSkipped))
	ChunksWrittenTotal.WithLabelValues(repo).Add(float64(report.ChunksWritten))
	ChunksDeletedTotal.WithLabelValues(repo).Add(float64(report.ChunksDeleted))
}
