// Package metrics exposes Prometheus collectors fed by the agent event
// stream plus gauges sampled from the orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pkatsogr/crewd/internal/agent"
	"github.com/pkatsogr/crewd/internal/orchestrator"
)

// Metrics holds the collectors. Construct one per registry; tests pass a
// fresh registry to avoid duplicate registration panics.
type Metrics struct {
	taskDuration *prometheus.HistogramVec
	tasksTotal   *prometheus.CounterVec
	tasksQueued  prometheus.Counter
}

// MustNew constructs and registers the collectors, panicking on registration
// conflicts the way promauto does. The orchestrator's queue depth is sampled
// lazily through a GaugeFunc.
func MustNew(reg prometheus.Registerer, orch *orchestrator.Orchestrator) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "crewd",
				Name:      "task_duration_seconds",
				Help:      "Duration of task executions per agent and outcome.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"agent", "status"},
		),
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crewd",
				Name:      "tasks_total",
				Help:      "Total task executions per agent and outcome.",
			},
			[]string{"agent", "status"},
		),
		tasksQueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "crewd",
				Name:      "tasks_queued_total",
				Help:      "Total tasks accepted into the FIFO queue.",
			},
		),
	}

	queueDepth := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "crewd",
			Name:      "queue_depth",
			Help:      "Tasks currently waiting in the queue.",
		},
		func() float64 { return float64(orch.Status().QueueDepth) },
	)

	reg.MustRegister(m.taskDuration, m.tasksTotal, m.tasksQueued, queueDepth)
	return m
}

// Observer returns the event callback that feeds the collectors. A single
// orchestrator subscription covers agent lifecycle events too, since the
// orchestrator attaches its observers to every agent.
func (m *Metrics) Observer() agent.Observer {
	return func(ev agent.Event) {
		switch ev.Type {
		case agent.EventTaskCompleted:
			m.tasksTotal.WithLabelValues(ev.Agent, "completed").Inc()
			m.taskDuration.WithLabelValues(ev.Agent, "completed").Observe(ev.Duration.Seconds())
		case agent.EventTaskFailed:
			m.tasksTotal.WithLabelValues(ev.Agent, "failed").Inc()
			m.taskDuration.WithLabelValues(ev.Agent, "failed").Observe(ev.Duration.Seconds())
		case orchestrator.EventTaskQueued:
			m.tasksQueued.Inc()
		}
	}
}
