package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StorageMetrics provides observability for storage engine operations.
//
// This interface is optional - if not provided to a storage, operations
// proceed without metrics collection (zero overhead).
type StorageMetrics interface {
	// RecordOperation records a completed put, delete or get.
	//
	// Parameters:
	//   - operation: Operation name ("put", "delete", "get")
	//   - duration: Time taken to complete the operation
	//   - err: Error if operation failed, nil if successful
	RecordOperation(operation string, duration time.Duration, err error)

	// RecordStaleDrop records a put or delete discarded because a newer
	// timestamp was already stored.
	RecordStaleDrop(operation string)

	// RecordForeignFile records a get result served from a file without an
	// index record.
	RecordForeignFile()

	// RecordReclamation records one reclamation run.
	RecordReclamation(reclaimed, anomalies, orphans int, duration time.Duration)
}

// storageVectors are shared by every storage; instances differ only by the
// "storage" label. Collectors can be registered once per registry.
type storageVectors struct {
	operationsTotal    *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	staleDropsTotal    *prometheus.CounterVec
	foreignFilesTotal  *prometheus.CounterVec
	reclaimedTotal     *prometheus.CounterVec
	reclaimAnomalies   *prometheus.CounterVec
	orphanRecords      *prometheus.GaugeVec
	reclaimRunDuration *prometheus.HistogramVec
}

var (
	storageVecs     *storageVectors
	storageVecsOnce sync.Once
)

func getStorageVectors(reg *prometheus.Registry) *storageVectors {
	storageVecsOnce.Do(func() {
		f := promauto.With(reg)
		storageVecs = &storageVectors{
			operationsTotal: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fsstore_storage_operations_total",
					Help: "Total number of storage operations by storage, operation, and status",
				},
				[]string{"storage", "operation", "status"},
			),
			operationDuration: f.NewHistogramVec(
				prometheus.HistogramOpts{
					Name: "fsstore_storage_operation_duration_seconds",
					Help: "Duration of storage operations in seconds",
					Buckets: []float64{
						0.0001, // 100µs
						0.0005, // 500µs
						0.001,  // 1ms
						0.005,  // 5ms
						0.01,   // 10ms
						0.05,   // 50ms
						0.1,    // 100ms
						0.5,    // 500ms
						1.0,    // 1s
					},
				},
				[]string{"storage", "operation"},
			),
			staleDropsTotal: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fsstore_storage_stale_drops_total",
					Help: "Updates discarded because a newer timestamp was already stored",
				},
				[]string{"storage", "operation"},
			),
			foreignFilesTotal: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fsstore_storage_foreign_files_total",
					Help: "Query results served from files without an index record",
				},
				[]string{"storage"},
			),
			reclaimedTotal: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fsstore_reclaim_tombstones_total",
					Help: "Tombstones removed by reclamation",
				},
				[]string{"storage"},
			),
			reclaimAnomalies: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fsstore_reclaim_anomalies_total",
					Help: "Expired tombstones skipped because a file exists at their path",
				},
				[]string{"storage"},
			),
			orphanRecords: f.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "fsstore_reclaim_orphan_records",
					Help: "Live records without a backing file seen by the last reclamation run",
				},
				[]string{"storage"},
			),
			reclaimRunDuration: f.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "fsstore_reclaim_run_duration_seconds",
					Help:    "Duration of reclamation runs in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"storage"},
			),
		}
	})
	return storageVecs
}

// storageMetrics is the Prometheus implementation of StorageMetrics.
type storageMetrics struct {
	storage string
	vecs    *storageVectors
}

// NewStorageMetrics creates a Prometheus-backed StorageMetrics for the named
// storage, or a no-op implementation when metrics are disabled.
func NewStorageMetrics(storage string) StorageMetrics {
	if !IsEnabled() {
		return NoopStorageMetrics{}
	}
	return &storageMetrics{storage: storage, vecs: getStorageVectors(GetRegistry())}
}

func (m *storageMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	m.vecs.operationsTotal.WithLabelValues(m.storage, operation, statusLabel(err)).Inc()
	m.vecs.operationDuration.WithLabelValues(m.storage, operation).Observe(duration.Seconds())
}

func (m *storageMetrics) RecordStaleDrop(operation string) {
	m.vecs.staleDropsTotal.WithLabelValues(m.storage, operation).Inc()
}

func (m *storageMetrics) RecordForeignFile() {
	m.vecs.foreignFilesTotal.WithLabelValues(m.storage).Inc()
}

func (m *storageMetrics) RecordReclamation(reclaimed, anomalies, orphans int, duration time.Duration) {
	m.vecs.reclaimedTotal.WithLabelValues(m.storage).Add(float64(reclaimed))
	m.vecs.reclaimAnomalies.WithLabelValues(m.storage).Add(float64(anomalies))
	m.vecs.orphanRecords.WithLabelValues(m.storage).Set(float64(orphans))
	m.vecs.reclaimRunDuration.WithLabelValues(m.storage).Observe(duration.Seconds())
}

// NoopStorageMetrics discards everything.
type NoopStorageMetrics struct{}

func (NoopStorageMetrics) RecordOperation(string, time.Duration, error)   {}
func (NoopStorageMetrics) RecordStaleDrop(string)                         {}
func (NoopStorageMetrics) RecordForeignFile()                             {}
func (NoopStorageMetrics) RecordReclamation(int, int, int, time.Duration) {}
