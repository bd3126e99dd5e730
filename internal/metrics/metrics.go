// Package metrics holds the Prometheus collectors of the ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every collector of this package. It is separate from the
// default registry so a run can be written out as a text file.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	StageDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "csv2iceberg_stage_duration_seconds",
		Help:    "Duration of pipeline stages.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage", "result"})

	BytesUploaded = factory.NewCounter(prometheus.CounterOpts{
		Name: "csv2iceberg_bytes_uploaded_total",
		Help: "Total number of bytes uploaded to object storage.",
	})

	RowsWritten = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "csv2iceberg_rows_written_total",
		Help: "Total number of rows committed to tables.",
	}, []string{"table"})

	RowsRead = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "csv2iceberg_rows_read_total",
		Help: "Total number of rows read from tables.",
	}, []string{"table"})

	DataFilesWritten = factory.NewCounter(prometheus.CounterOpts{
		Name: "csv2iceberg_data_files_written_total",
		Help: "Total number of parquet data files written.",
	})

	CommitAttempts = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "csv2iceberg_commit_attempts_total",
		Help: "Table commit attempts by result (committed, conflict, failed).",
	}, []string{"result"})
)

// WriteTextfile writes the current values in the Prometheus text format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
