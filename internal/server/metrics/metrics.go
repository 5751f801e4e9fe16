// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Upload metrics
	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkdrop_uploads_total",
			Help: "Total number of upload attempts by outcome",
		},
		[]string{"result"},
	)

	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zkdrop_upload_size_bytes",
			Help:    "Size of accepted ciphertext uploads",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB to ~256MiB
		},
	)

	// Download metrics
	Downloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkdrop_downloads_total",
			Help: "Total number of download attempts by outcome",
		},
		[]string{"result"},
	)

	// Lifecycle metrics
	CleanupRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zkdrop_cleanup_removed_total",
			Help: "Total number of expired or exhausted files removed",
		},
	)

	StorageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkdrop_storage_retries_total",
			Help: "Total number of retried storage operations",
		},
		[]string{"operation"},
	)

	AuditEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkdrop_audit_events_total",
			Help: "Total number of emitted audit events",
		},
		[]string{"type"},
	)

	// API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkdrop_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zkdrop_api_request_duration_seconds",
			Help:    "API request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordUpload records an upload attempt; size is observed only on success.
func RecordUpload(result string, size int64) {
	Uploads.WithLabelValues(result).Inc()
	if result == "success" {
		UploadBytes.Observe(float64(size))
	}
}

func RecordDownload(result string) {
	Downloads.WithLabelValues(result).Inc()
}

func RecordCleanup(removed int) {
	CleanupRemoved.Add(float64(removed))
}

func RecordStorageRetry(operation string) {
	StorageRetries.WithLabelValues(operation).Inc()
}

func RecordAuditEvent(eventType string) {
	AuditEvents.WithLabelValues(eventType).Inc()
}

// RecordAPIRequest records an API request and its duration
func RecordAPIRequest(method, endpoint, statusCode string, duration float64) {
	APIRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}
