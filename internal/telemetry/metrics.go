package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"transcription-orchestrator/internal/models"
)

var (
	once sync.Once

	JobsEnqueued     = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcription_jobs_enqueued_total", Help: "Jobs accepted and placed on the trigger queue"})
	JobsFinished     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "transcription_jobs_finished_total", Help: "Jobs reaching a terminal status"}, []string{"status"})
	JobAborts        = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcription_job_aborts_total", Help: "Orchestration attempts aborted by a store fault"})
	JobDuration      = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "transcription_job_duration_seconds", Help: "Wall-clock duration of finished jobs", Buckets: prometheus.ExponentialBuckets(1, 2, 12)})
	JobItems         = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "transcription_job_items", Help: "Item count per finished job", Buckets: prometheus.ExponentialBuckets(1, 2, 10)})
	ItemsCompleted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcription_items_completed_total", Help: "Items freshly transcribed with success"})
	ItemsFailed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcription_items_failed_total", Help: "Items whose recognition failed"})
	ItemsReused      = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcription_items_reused_total", Help: "Items skipped via a stored result"})
	ItemOutcomes     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "transcription_item_outcomes_total", Help: "Aggregated item outcomes across finished jobs"}, []string{"outcome"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcription_rate_limit_rejects_total", Help: "Job submissions rejected by the rate limiter"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "transcription_trigger_queue_depth", Help: "Job keys waiting on the trigger queue"})
)

// ObserveJob records the per-job completion telemetry in one shot.
// Recording is fire-and-forget: it cannot fail the job.
func ObserveJob(status models.JobStatus, total, success, failure int, duration time.Duration) {
	JobsFinished.WithLabelValues(string(status)).Inc()
	JobDuration.Observe(duration.Seconds())
	JobItems.Observe(float64(total))
	ItemOutcomes.WithLabelValues("succeeded").Add(float64(success))
	ItemOutcomes.WithLabelValues("failed").Add(float64(failure))
}

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			JobsFinished,
			JobAborts,
			JobDuration,
			JobItems,
			ItemsCompleted,
			ItemsFailed,
			ItemsReused,
			ItemOutcomes,
			RateLimitRejects,
			QueueDepthGauge,
		)
	})
	return promhttp.Handler()
}
