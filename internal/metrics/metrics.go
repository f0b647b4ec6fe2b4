// Package metrics exposes scheduler activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShayCichocki/hive/pkg/models"
)

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Metrics holds the scheduler's Prometheus collectors.
//
// Metrics:
//   - hive_tasks_added_total{category}
//   - hive_tasks_completed_total{category}
//   - hive_tasks_failed_total{category,reason}
//   - hive_delegations_total{kind,target}
//   - hive_dependency_deadlocks_total
//   - hive_active_workers
//   - hive_pending_tasks
//   - hive_task_duration_seconds{category,outcome}
type Metrics struct {
	TasksAdded     *prometheus.CounterVec
	TasksCompleted *prometheus.CounterVec
	TasksFailed    *prometheus.CounterVec
	Delegations    *prometheus.CounterVec
	Deadlocks      prometheus.Counter
	ActiveWorkers  prometheus.Gauge
	PendingTasks   prometheus.Gauge
	TaskDuration   *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// Default returns metrics registered once on the global Prometheus
// registry, so repeated calls do not panic with duplicate registration.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	})
	return defaultMetrics
}

// NewRegistry returns metrics on a fresh registry. Used by tests and by
// embedders that serve their own registry.
func NewRegistry() *Metrics {
	reg := prometheus.NewRegistry()
	return New(reg, reg)
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TasksAdded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hive_tasks_added_total",
				Help: "Total number of tasks accepted by the queue",
			},
			[]string{"category"},
		),
		TasksCompleted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hive_tasks_completed_total",
				Help: "Total number of tasks that completed successfully",
			},
			[]string{"category"},
		),
		TasksFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hive_tasks_failed_total",
				Help: "Total number of failed tasks",
			},
			[]string{"category", "reason"}, // executor, timeout, dependency, deadlock, cancelled
		),
		Delegations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hive_delegations_total",
				Help: "Total number of tasks created by delegation",
			},
			[]string{"kind", "target"},
		),
		Deadlocks: f.NewCounter(
			prometheus.CounterOpts{
				Name: "hive_dependency_deadlocks_total",
				Help: "Total number of tasks failed after exhausting unmet dependency retries",
			},
		),
		ActiveWorkers: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "hive_active_workers",
				Help: "Number of executions in flight",
			},
		),
		PendingTasks: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "hive_pending_tasks",
				Help: "Number of tasks waiting to run",
			},
		),
		TaskDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hive_task_duration_seconds",
				Help:    "Duration of task executions in seconds",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17m
			},
			[]string{"category", "outcome"},
		),
		gatherer: gatherer,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// TaskAdded records an accepted task.
func (m *Metrics) TaskAdded(c models.Category) {
	if m == nil {
		return
	}
	m.TasksAdded.WithLabelValues(string(c)).Inc()
}

// TaskFinished records a terminal task and its execution time.
func (m *Metrics) TaskFinished(c models.Category, success bool, reason string, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if success {
		m.TasksCompleted.WithLabelValues(string(c)).Inc()
	} else {
		outcome = "failure"
		m.TasksFailed.WithLabelValues(string(c), reason).Inc()
	}
	if d > 0 {
		m.TaskDuration.WithLabelValues(string(c), outcome).Observe(d.Seconds())
	}
}

// TaskAbandoned records a task failed without running, such as the
// dependents of a failed task.
func (m *Metrics) TaskAbandoned(c models.Category, reason string) {
	if m == nil {
		return
	}
	m.TasksFailed.WithLabelValues(string(c), reason).Inc()
}

// Deadlock records a task failed by the unmet dependency bound.
func (m *Metrics) Deadlock(c models.Category) {
	if m == nil {
		return
	}
	m.Deadlocks.Inc()
	m.TasksFailed.WithLabelValues(string(c), "deadlock").Inc()
}

// Delegated records a task created from another task's output.
func (m *Metrics) Delegated(kind string, target models.Category) {
	if m == nil {
		return
	}
	m.Delegations.WithLabelValues(kind, string(target)).Inc()
}

// SetLoad updates the in-flight and pending gauges.
func (m *Metrics) SetLoad(active, pending int) {
	if m == nil {
		return
	}
	m.ActiveWorkers.Set(float64(active))
	m.PendingTasks.Set(float64(pending))
}
