// Package metrics provides the Prometheus collectors shared by the
// scheduler, update pipeline, script runner and API adapter, grounded on
// the teacher's infrastructure/metrics package.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the core registers.
type Metrics struct {
	TasksScheduled   *prometheus.CounterVec
	TasksExecuted    *prometheus.CounterVec
	TasksErased      *prometheus.CounterVec
	TaskDuration     *prometheus.HistogramVec
	UpdatesAccepted  *prometheus.CounterVec
	UpdatesRejected  *prometheus.CounterVec
	ScriptRuns       *prometheus.CounterVec
	ScriptErrors     *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPInFlight        prometheus.Gauge
}

// New creates and registers a Metrics instance against the default
// registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against a custom
// registerer, used by tests that want an isolated registry.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "micasa_scheduler_tasks_scheduled_total",
			Help: "Number of tasks scheduled, by owner tag.",
		}, []string{"owner"}),
		TasksExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "micasa_scheduler_tasks_executed_total",
			Help: "Number of task executions.",
		}, []string{"owner"}),
		TasksErased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "micasa_scheduler_tasks_erased_total",
			Help: "Number of tasks erased before or during execution.",
		}, []string{"owner"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "micasa_scheduler_task_duration_seconds",
			Help:    "Task execution duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"owner"}),
		UpdatesAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "micasa_device_updates_accepted_total",
			Help: "Device updates that passed every pipeline gate.",
		}, []string{"kind", "source"}),
		UpdatesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "micasa_device_updates_rejected_total",
			Help: "Device updates dropped by a pipeline gate.",
		}, []string{"kind", "gate"}),
		ScriptRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "micasa_script_runs_total",
			Help: "Script executions, by trigger key (event/timer).",
		}, []string{"key"}),
		ScriptErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "micasa_script_errors_total",
			Help: "Script execution failures, by classification.",
		}, []string{"kind"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "micasa_http_requests_total",
			Help: "Total API adapter requests.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "micasa_http_request_duration_seconds",
			Help:    "API adapter request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "micasa_http_requests_in_flight",
			Help: "API adapter requests currently being served.",
		}),
	}

	reg.MustRegister(
		m.TasksScheduled, m.TasksExecuted, m.TasksErased, m.TaskDuration,
		m.UpdatesAccepted, m.UpdatesRejected,
		m.ScriptRuns, m.ScriptErrors,
		m.HTTPRequestsTotal, m.HTTPRequestDuration, m.HTTPInFlight,
	)
	return m
}
