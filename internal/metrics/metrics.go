// Package metrics defines custom Prometheus metrics for Rupee.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request/response size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rupee_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rupee_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rupee_http_request_size_bytes",
			Help:    "Request body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rupee_http_response_size_bytes",
			Help:    "Response body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Storage metrics.
var (
	// BlobOperationsTotal counts blob store calls by backend name, operation
	// (put, get, delete) and status (success, error).
	BlobOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rupee_blob_operations_total",
			Help: "Blob store operations by backend",
		},
		[]string{"backend", "operation", "status"},
	)

	BlobBytesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rupee_blob_bytes_written_total",
			Help: "Total payload bytes written to blob stores",
		},
	)

	BlobBytesReadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rupee_blob_bytes_read_total",
			Help: "Total payload bytes read from blob stores",
		},
	)

	// BucketRotationsTotal counts bucket handovers after a bucket filled up.
	BucketRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rupee_bucket_rotations_total",
			Help: "Bucket rotations",
		},
	)

	// BucketAllocationAttemptsTotal counts individual bucket acquire attempts.
	BucketAllocationAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rupee_bucket_allocation_attempts_total",
			Help: "Bucket acquire attempts during allocation",
		},
	)

	// MetaOperationsTotal counts metadata store calls by operation and status.
	MetaOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rupee_meta_operations_total",
			Help: "Metadata store operations",
		},
		[]string{"operation", "status"},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPRequestSize,
			HTTPResponseSize,
			BlobOperationsTotal,
			BlobBytesWrittenTotal,
			BlobBytesReadTotal,
			BucketRotationsTotal,
			BucketAllocationAttemptsTotal,
			MetaOperationsTotal,
		)
	})
}

// Status maps an error to the status label used by the operation counters.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// NormalizePath maps actual request paths to normalized path templates
// suitable for use as Prometheus metric labels. This avoids high-cardinality
// labels from individual blob ids.
func NormalizePath(path string) string {
	switch path {
	case "/health", "/ping", "/metrics", "/openapi.json":
		return path
	case "/docs", "/docs/":
		return "/docs"
	case "/", "":
		return "/"
	}

	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}

	trimmed := strings.Trim(path, "/")
	parts := strings.Split(trimmed, "/")
	if parts[0] != "blobs" {
		return "/other"
	}
	switch {
	case len(parts) == 1:
		return "/blobs"
	case len(parts) == 2:
		return "/blobs/{id}"
	case len(parts) == 3 && parts[2] == "meta":
		return "/blobs/{id}/meta"
	}
	return "/other"
}
