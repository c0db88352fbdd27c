// Package metrics holds the Prometheus instruments for the disk store,
// reconciler and write pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every instrument. A nil *Metrics is valid and records
// nothing, so components can take one unconditionally.
type Metrics struct {
	// Remote store
	RequestsTotal   *prometheus.CounterVec   // carphoto_store_requests_total{operation,status}
	RequestDuration *prometheus.HistogramVec // carphoto_store_request_duration_seconds{operation}
	RetriesTotal    *prometheus.CounterVec   // carphoto_store_retries_total{operation}
	BytesUploaded   prometheus.Counter       // carphoto_store_bytes_uploaded_total
	BytesDownloaded prometheus.Counter       // carphoto_store_bytes_downloaded_total

	// Reconciler
	ReconcilesTotal *prometheus.CounterVec // carphoto_reconciles_total{depth}
	RepairsTotal    *prometheus.CounterVec // carphoto_reconcile_repairs_total{depth}

	// Write pipeline
	LockAcquired   prometheus.Counter     // carphoto_lock_acquired_total
	LockStolen     prometheus.Counter     // carphoto_lock_stolen_total
	LockConflicts  prometheus.Counter     // carphoto_lock_conflicts_total
	DirtyMarkers   prometheus.Counter     // carphoto_dirty_markers_total
	WritesTotal    *prometheus.CounterVec // carphoto_writes_total{operation,result}
	CacheFallbacks prometheus.Counter     // carphoto_cache_fallbacks_total
}

// New registers all instruments with registry. A nil registry uses the
// Prometheus default registerer.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carphoto_store_requests_total",
			Help: "Remote store requests by operation and status",
		}, []string{"operation", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carphoto_store_request_duration_seconds",
			Help:    "Remote store request duration in seconds, retries included",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		RetriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carphoto_store_retries_total",
			Help: "Remote store retries after transient failures",
		}, []string{"operation"}),

		BytesUploaded: f.NewCounter(prometheus.CounterOpts{
			Name: "carphoto_store_bytes_uploaded_total",
			Help: "Bytes uploaded to the remote store",
		}),

		BytesDownloaded: f.NewCounter(prometheus.CounterOpts{
			Name: "carphoto_store_bytes_downloaded_total",
			Help: "Bytes downloaded from the remote store",
		}),

		ReconcilesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carphoto_reconciles_total",
			Help: "Reconciliation passes by depth",
		}, []string{"depth"}),

		RepairsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carphoto_reconcile_repairs_total",
			Help: "Index files rewritten by reconciliation, by depth",
		}, []string{"depth"}),

		LockAcquired: f.NewCounter(prometheus.CounterOpts{
			Name: "carphoto_lock_acquired_total",
			Help: "Lock markers acquired",
		}),

		LockStolen: f.NewCounter(prometheus.CounterOpts{
			Name: "carphoto_lock_stolen_total",
			Help: "Expired lock markers taken over",
		}),

		LockConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "carphoto_lock_conflicts_total",
			Help: "Lock acquisitions that gave up on a live lock",
		}),

		DirtyMarkers: f.NewCounter(prometheus.CounterOpts{
			Name: "carphoto_dirty_markers_total",
			Help: "Dirty markers written after failed post-commit verification",
		}),

		WritesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carphoto_writes_total",
			Help: "Write pipeline operations by operation and result",
		}, []string{"operation", "result"}),

		CacheFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "carphoto_cache_fallbacks_total",
			Help: "Reads served from the relational cache because the remote store was unavailable",
		}),
	}
}

// RecordRequest records one logical store call.
func (m *Metrics) RecordRequest(operation, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordRetry records a retry of operation.
func (m *Metrics) RecordRetry(operation string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(operation).Inc()
}

// RecordUpload records bytes uploaded.
func (m *Metrics) RecordUpload(n int) {
	if m == nil {
		return
	}
	m.BytesUploaded.Add(float64(n))
}

// RecordDownload records bytes downloaded.
func (m *Metrics) RecordDownload(n int) {
	if m == nil {
		return
	}
	m.BytesDownloaded.Add(float64(n))
}

// RecordReconcile records one reconciliation pass and how many index files
// it rewrote.
func (m *Metrics) RecordReconcile(depth string, repaired int) {
	if m == nil {
		return
	}
	m.ReconcilesTotal.WithLabelValues(depth).Inc()
	if repaired > 0 {
		m.RepairsTotal.WithLabelValues(depth).Add(float64(repaired))
	}
}

// RecordLock records the outcome of a lock acquisition.
func (m *Metrics) RecordLock(acquired, stolen bool) {
	if m == nil {
		return
	}
	switch {
	case acquired && stolen:
		m.LockAcquired.Inc()
		m.LockStolen.Inc()
	case acquired:
		m.LockAcquired.Inc()
	default:
		m.LockConflicts.Inc()
	}
}

// RecordDirty records a dirty marker.
func (m *Metrics) RecordDirty() {
	if m == nil {
		return
	}
	m.DirtyMarkers.Inc()
}

// RecordWrite records a write pipeline outcome ("ok", "dirty", "rejected", "failed").
func (m *Metrics) RecordWrite(operation, result string) {
	if m == nil {
		return
	}
	m.WritesTotal.WithLabelValues(operation, result).Inc()
}

// RecordCacheFallback records a read served from the relational cache.
func (m *Metrics) RecordCacheFallback() {
	if m == nil {
		return
	}
	m.CacheFallbacks.Inc()
}
