package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics live on the Queue's own registry, never the global one.
type metrics struct {
	// outcomes counts finished attempts by provider and outcome
	// (complete, failed, paused).
	outcomes *prometheus.CounterVec
	// retries counts automatic and manual retries.
	retries *prometheus.CounterVec
	// bytes counts bytes of successfully uploaded files.
	bytes *prometheus.CounterVec
	// duration observes upload attempt wall time.
	duration *prometheus.HistogramVec
	// jobs is the current number of jobs per status.
	jobs *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)

	return &metrics{
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clipcloud_queue_attempts_total",
			Help: "Upload attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clipcloud_queue_retries_total",
			Help: "Jobs returned to pending after a failure.",
		}, []string{"provider", "kind"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clipcloud_queue_uploaded_bytes_total",
			Help: "Bytes of files uploaded successfully.",
		}, []string{"provider"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clipcloud_queue_upload_duration_seconds",
			Help:    "Wall time of upload attempts in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"provider"}),
		jobs: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clipcloud_queue_jobs",
			Help: "Jobs currently in the queue by status.",
		}, []string{"status"}),
	}
}
