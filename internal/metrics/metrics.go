// Package metrics exposes Prometheus instrumentation for the provisioning loop.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "provisioner"

// Metrics groups the collectors updated by the orchestration loop.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cyclesTotal      prometheus.Counter
	fetchErrorsTotal prometheus.Counter
	statusErrors     *prometheus.CounterVec
	usersTotal       *prometheus.CounterVec
	tasksTotal       *prometheus.CounterVec
	pipelineDuration prometheus.Histogram
	loopState        *prometheus.GaugeVec
}

// New creates and registers the collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "cycles_total",
			Help:      "Total number of polling cycles started",
		}),
		fetchErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "fetch_errors_total",
			Help:      "Total number of failed approved-user fetches",
		}),
		statusErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "status_update_errors_total",
			Help:      "Total number of status updates that failed after retries, by target status",
		}, []string{"status"}),
		usersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "users_total",
			Help:      "Total number of processed users by outcome",
		}, []string{"outcome"}),
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "tasks_total",
			Help:      "Total number of task invocations by task and result",
		}, []string{"task", "result"}),
		pipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Duration of one user pipeline in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~8.5min
		}),
		loopState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "state",
			Help:      "Current loop state (1 for the active state)",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.cyclesTotal,
		m.fetchErrorsTotal,
		m.statusErrors,
		m.usersTotal,
		m.tasksTotal,
		m.pipelineDuration,
		m.loopState,
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CycleStarted() {
	if m != nil {
		m.cyclesTotal.Inc()
	}
}

func (m *Metrics) FetchFailed() {
	if m != nil {
		m.fetchErrorsTotal.Inc()
	}
}

func (m *Metrics) StatusUpdateFailed(status string) {
	if m != nil {
		m.statusErrors.WithLabelValues(status).Inc()
	}
}

// UserProcessed records a user outcome and its pipeline duration
func (m *Metrics) UserProcessed(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.usersTotal.WithLabelValues(outcome).Inc()
	m.pipelineDuration.Observe(d.Seconds())
}

// TaskFinished records one task result
func (m *Metrics) TaskFinished(task string, success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.tasksTotal.WithLabelValues(task, result).Inc()
}

// SetState marks state as the active loop state among all
func (m *Metrics) SetState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.loopState.WithLabelValues(s).Set(v)
	}
}
