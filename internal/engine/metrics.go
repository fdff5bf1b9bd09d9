package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/compatscan/internal/model"
)

var (
	jobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "compatscan_jobs_active",
			Help: "Number of jobs in the active set.",
		},
	)

	jobsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "compatscan_jobs_pending",
			Help: "Number of jobs waiting in the pending queue.",
		},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compatscan_jobs_total",
			Help: "Total number of jobs that reached a terminal status.",
		},
		[]string{"kind", "status"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compatscan_job_duration_seconds",
			Help:    "Time from job start to terminal status, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compatscan_pipeline_stage_seconds",
			Help:    "Duration of each scan pipeline stage, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compatscan_events_published_total",
			Help: "Total number of lifecycle events published on the event bus.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(jobsActive)
	prometheus.MustRegister(jobsPending)
	prometheus.MustRegister(jobsTotal)
	prometheus.MustRegister(jobDuration)
	prometheus.MustRegister(stageDuration)
	prometheus.MustRegister(eventsPublished)

	// Pre-initialize label combinations so they appear in /metrics with
	// value 0 from startup.
	for _, kind := range []string{model.KindScan, model.KindApply} {
		for _, status := range []string{model.StatusDone, model.StatusFailed, model.StatusCancelled} {
			jobsTotal.WithLabelValues(kind, status)
		}
	}
	for _, kind := range []EventKind{EventProgress, EventDone, EventFailed, EventRemoved} {
		eventsPublished.WithLabelValues(string(kind))
	}
}
