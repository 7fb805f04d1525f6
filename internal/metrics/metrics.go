// Package metrics provides Prometheus metrics for lsfs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status labels for RecordFSOp.
const (
	StatusOK       = "ok"
	StatusNotFound = "not_found"
	StatusNotDir   = "not_dir"
	StatusDenied   = "denied"
	StatusError    = "error"
)

var (
	fsOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lsfs_fs_operations_total",
			Help: "Filesystem requests served, by operation and outcome",
		},
		[]string{"backend", "op", "status"},
	)

	dirEntriesListed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lsfs_dir_entries_listed_total",
			Help: "Directory entries returned to the kernel",
		},
	)

	treeEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lsfs_tree_entries",
			Help: "Number of files and directories in the mounted tree",
		},
	)

	treeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lsfs_tree_bytes",
			Help: "Sum of all file sizes in the mounted tree",
		},
	)

	buildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lsfs_build_duration_seconds",
			Help:    "Time to parse a transcript into a tree",
			Buckets: prometheus.DefBuckets,
		},
	)

	transcriptBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lsfs_transcript_bytes_read_total",
			Help: "Transcript bytes consumed",
		},
	)

	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lsfs_s3_operation_duration_seconds",
			Help:    "S3 operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	s3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lsfs_s3_operations_total",
			Help: "Total S3 operations",
		},
		[]string{"operation", "status"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lsfs_http_requests_total",
			Help: "Total number of HTTP requests on the metrics listener",
		},
		[]string{"method", "path", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordFSOp records one filesystem request.
func RecordFSOp(backend, op, status string) {
	fsOpsTotal.WithLabelValues(backend, op, status).Inc()
}

// RecordDirEntries records entries emitted by a readdir reply.
func RecordDirEntries(n int) {
	dirEntriesListed.Add(float64(n))
}

// SetTree publishes the size of the mounted tree.
func SetTree(entries int, bytes uint64) {
	treeEntries.Set(float64(entries))
	treeBytes.Set(float64(bytes))
}

// RecordBuild records how long a transcript took to parse.
func RecordBuild(duration time.Duration) {
	buildDuration.Observe(duration.Seconds())
}

// AddTranscriptBytes counts consumed transcript bytes.
func AddTranscriptBytes(n int) {
	transcriptBytes.Add(float64(n))
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, duration time.Duration, success bool) {
	s3OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	s3OperationsTotal.WithLabelValues(operation, status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode)).Inc()
	})
}
