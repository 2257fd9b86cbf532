package worker

import (
	"net/http"
	"time"

	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	stageDuration        *prometheus.HistogramVec
	stageErrors          *prometheus.CounterVec
	pipelineOutputsTotal prometheus.Counter
	pixelsProcessedTotal prometheus.Counter
	bytesSavedTotal      prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rasterflow_worker_jobs_total",
			Help: "Total worker jobs by source type and final status.",
		}, []string{"source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rasterflow_worker_job_duration_seconds",
			Help:    "Total processing duration for each worker job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rasterflow_worker_active_jobs",
			Help: "Current number of active processing jobs in the worker.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rasterflow_engine_stage_duration_seconds",
			Help:    "Duration of each engine stage.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"stage", "outcome"}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rasterflow_engine_stage_errors_total",
			Help: "Engine stage failures by stage and error kind.",
		}, []string{"stage", "kind"}),
		pipelineOutputsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rasterflow_worker_pipeline_outputs_total",
			Help: "Total transformed outputs emitted by the worker.",
		}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rasterflow_usage_pixels_processed_total",
			Help: "Total pixels processed across all successful jobs.",
		}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rasterflow_usage_bytes_saved_total",
			Help: "Total bytes saved across all successful jobs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rasterflow_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.stageDuration,
		m.stageErrors,
		m.pipelineOutputsTotal,
		m.pixelsProcessedTotal,
		m.bytesSavedTotal,
		m.computeTimeMSTotal,
	)
	return m
}

// ObserveStage feeds engine stage timings into the stage histograms.
func (m *metrics) ObserveStage(stage imgerr.Stage, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		kind := string(imgerr.KindOf(err))
		if kind == "" {
			kind = "unclassified"
		}
		m.stageErrors.WithLabelValues(string(stage), kind).Inc()
	}
	m.stageDuration.WithLabelValues(string(stage), outcome).Observe(d.Seconds())
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
