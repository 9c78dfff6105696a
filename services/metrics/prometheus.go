package metricsvc

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/trezcool/tabula/core"
)

var (
	once     sync.Once
	instance *Prometheus
)

// Prometheus records service events as prometheus metrics.
type Prometheus struct {
	ChunksTotal   *prometheus.CounterVec   // tabula_upload_chunks_total{result}
	ChunkBytes    prometheus.Counter       // tabula_upload_chunk_bytes_total
	MergesTotal   *prometheus.CounterVec   // tabula_upload_merges_total{result}
	MergeDuration *prometheus.HistogramVec // tabula_upload_merge_duration_seconds{result}
	IngestsTotal  *prometheus.CounterVec   // tabula_ingest_runs_total{result}
	IngestedRows  prometheus.Counter       // tabula_ingest_rows_total
	ExportedRows  prometheus.Counter       // tabula_dataset_rows_exported_total
	DeletedRows   prometheus.Counter       // tabula_dataset_rows_deleted_total
}

var _ core.Metrics = (*Prometheus)(nil)

// New registers the metrics with registry (the default registerer when nil).
func New(registry prometheus.Registerer) *Prometheus {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)
	return &Prometheus{
		ChunksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tabula_upload_chunks_total",
			Help: "Chunks received by result (stored, duplicate, error)",
		}, []string{"result"}),
		ChunkBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "tabula_upload_chunk_bytes_total",
			Help: "Bytes received in chunks",
		}),
		MergesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tabula_upload_merges_total",
			Help: "Merges by result (ok, missing_chunk, error)",
		}, []string{"result"}),
		MergeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tabula_upload_merge_duration_seconds",
			Help:    "Merge duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
		IngestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tabula_ingest_runs_total",
			Help: "Ingestion runs by result (ok, error)",
		}, []string{"result"}),
		IngestedRows: f.NewCounter(prometheus.CounterOpts{
			Name: "tabula_ingest_rows_total",
			Help: "Dataset rows inserted by ingestion",
		}),
		ExportedRows: f.NewCounter(prometheus.CounterOpts{
			Name: "tabula_dataset_rows_exported_total",
			Help: "Dataset rows written to CSV exports",
		}),
		DeletedRows: f.NewCounter(prometheus.CounterOpts{
			Name: "tabula_dataset_rows_deleted_total",
			Help: "Dataset rows soft deleted",
		}),
	}
}

// Default returns the process wide instance, registered on the default registerer.
func Default() *Prometheus {
	once.Do(func() { instance = New(nil) })
	return instance
}

func (m *Prometheus) ChunkReceived(result string, bytes int64) {
	m.ChunksTotal.WithLabelValues(result).Inc()
	m.ChunkBytes.Add(float64(bytes))
}

func (m *Prometheus) MergeFinished(result string, d time.Duration) {
	m.MergesTotal.WithLabelValues(result).Inc()
	m.MergeDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Prometheus) RowsIngested(n int) { m.IngestedRows.Add(float64(n)) }

func (m *Prometheus) IngestFinished(result string) { m.IngestsTotal.WithLabelValues(result).Inc() }

func (m *Prometheus) RowsExported(n int) { m.ExportedRows.Add(float64(n)) }

func (m *Prometheus) RowsDeleted(n int) { m.DeletedRows.Add(float64(n)) }
