package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics covers both sides of the pipeline: the watch loop (polls,
// messages) and the ingestion batcher (attachment jobs, batches, duplicates).
type PipelineMetrics struct {
	registry *prometheus.Registry

	pollTotal     *prometheus.CounterVec
	messageTotal  *prometheus.CounterVec
	jobTotal      *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobsInFlight  prometheus.Gauge
	batchDuration prometheus.Histogram
	batchSize     prometheus.Histogram
	duplicates    prometheus.Counter
}

func NewPipelineMetrics() *PipelineMetrics {
	registry := prometheus.NewRegistry()

	pollTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rp",
			Subsystem: "watch",
			Name:      "poll_total",
			Help:      "Total message source polls by outcome.",
		},
		[]string{"outcome"},
	)
	messageTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rp",
			Subsystem: "watch",
			Name:      "message_total",
			Help:      "Total drained messages by outcome.",
		},
		[]string{"outcome"},
	)
	jobTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rp",
			Subsystem: "ingest",
			Name:      "attachment_job_total",
			Help:      "Total attachment jobs by verdict.",
		},
		[]string{"verdict"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rp",
			Subsystem: "ingest",
			Name:      "attachment_job_duration_seconds",
			Help:      "Attachment job duration in seconds by verdict.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"verdict"},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rp",
			Subsystem: "ingest",
			Name:      "attachment_jobs_in_flight",
			Help:      "Number of attachment jobs currently running.",
		},
	)
	batchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rp",
			Subsystem: "ingest",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one bounded-concurrency batch.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)
	batchSize := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rp",
			Subsystem: "ingest",
			Name:      "batch_size_jobs",
			Help:      "Number of jobs per batch.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)
	duplicates := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rp",
			Subsystem: "ingest",
			Name:      "duplicate_receipts_total",
			Help:      "Receipts skipped because a matching transaction already existed.",
		},
	)

	registry.MustRegister(
		pollTotal, messageTotal,
		jobTotal, jobDuration, jobsInFlight,
		batchDuration, batchSize, duplicates,
	)

	return &PipelineMetrics{
		registry:      registry,
		pollTotal:     pollTotal,
		messageTotal:  messageTotal,
		jobTotal:      jobTotal,
		jobDuration:   jobDuration,
		jobsInFlight:  jobsInFlight,
		batchDuration: batchDuration,
		batchSize:     batchSize,
		duplicates:    duplicates,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) PollObserved(outcome string) {
	m.pollTotal.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) MessageObserved(outcome string) {
	m.messageTotal.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) JobStarted() {
	m.jobsInFlight.Inc()
}

func (m *PipelineMetrics) JobFinished(verdict string, duration time.Duration) {
	m.jobsInFlight.Dec()
	m.jobTotal.WithLabelValues(verdict).Inc()
	m.jobDuration.WithLabelValues(verdict).Observe(duration.Seconds())
}

func (m *PipelineMetrics) BatchObserved(jobs int, duration time.Duration) {
	m.batchSize.Observe(float64(jobs))
	m.batchDuration.Observe(duration.Seconds())
}

func (m *PipelineMetrics) DuplicateDetected() {
	m.duplicates.Inc()
}
