// Package metrics exposes job and HTTP instruments to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobDurationBuckets  = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800}
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
)

// Metrics implements service.JobListener. It derives transitions from the
// sequence of updates it sees for each job.
type Metrics struct {
	JobsTotal           *prometheus.CounterVec
	JobsRunning         prometheus.Gauge
	JobDuration         *prometheus.HistogramVec
	JobSteps            *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer

	mu   sync.Mutex
	seen map[string]jobState
}

type jobState struct {
	status models.JobStatus
	step   string
}

// New creates the instruments and registers them on reg. The registry is
// also what Handler serves.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omnidrive_jobs_total",
			Help: "Jobs that reached each status.",
		}, []string{"workflow", "status"}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "omnidrive_jobs_running",
			Help: "Jobs currently running.",
		}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "omnidrive_job_duration_seconds",
			Help:    "Wall time from job start to completion.",
			Buckets: jobDurationBuckets,
		}, []string{"workflow", "status"}),
		JobSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omnidrive_job_steps_total",
			Help: "Workflow steps and graph nodes entered by jobs.",
		}, []string{"workflow", "step"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omnidrive_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "omnidrive_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "route"}),
		gatherer: reg,
		seen:     make(map[string]jobState),
	}
	reg.MustRegister(
		m.JobsTotal,
		m.JobsRunning,
		m.JobDuration,
		m.JobSteps,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

func (m *Metrics) OnJobUpdate(job models.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, known := m.seen[job.ID]
	if job.CurrentStep != "" && job.CurrentStep != prev.step {
		m.JobSteps.WithLabelValues(job.Workflow, job.CurrentStep).Inc()
	}
	if !known || prev.status != job.Status {
		m.JobsTotal.WithLabelValues(job.Workflow, string(job.Status)).Inc()
		if job.Status == models.RunningJobStatus {
			m.JobsRunning.Inc()
		}
		if prev.status == models.RunningJobStatus {
			m.JobsRunning.Dec()
		}
	}
	if job.Status.Terminal() {
		if job.StartedAt != nil && job.CompletedAt != nil {
			m.JobDuration.WithLabelValues(job.Workflow, string(job.Status)).
				Observe(job.CompletedAt.Sub(*job.StartedAt).Seconds())
		}
		delete(m.seen, job.ID)
		return
	}
	m.seen[job.ID] = jobState{status: job.Status, step: job.CurrentStep}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument counts and times requests to next under route, a fixed
// pattern rather than the raw path.
func (m *Metrics) Instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	}
}
