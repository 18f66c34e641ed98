package compress

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/imalyk/squnch/pkg/job"
)

var (
	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "squnch_job_duration_seconds",
		Help:    "Duration of compression jobs in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"kind", "status"})

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "squnch_jobs_total",
		Help: "Total number of finished compression jobs",
	}, []string{"kind", "status"})

	bytesSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "squnch_bytes_saved_total",
		Help: "Bytes saved by completed compression jobs",
	}, []string{"kind"})

	jobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "squnch_video_jobs_in_flight",
		Help: "Video jobs accepted and not yet finished",
	})
)

func observeJob(kind job.Kind, status job.Status, d time.Duration, saved int64) {
	jobDuration.WithLabelValues(string(kind), string(status)).Observe(d.Seconds())
	jobsTotal.WithLabelValues(string(kind), string(status)).Inc()
	if saved > 0 {
		bytesSaved.WithLabelValues(string(kind)).Add(float64(saved))
	}
}
