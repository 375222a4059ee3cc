// Package metrics provides Prometheus metrics for project actions.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	ActionsTotal   *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec
	ToolRunsTotal  *prometheus.CounterVec
	QueueDepth     *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stm32pio_actions_total",
				Help: "Total number of project actions by action and result.",
			},
			[]string{"action", "result"},
		),
		ActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stm32pio_action_duration_seconds",
				Help:    "Project action duration by action.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"action"},
		),
		ToolRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stm32pio_tool_runs_total",
				Help: "Total external tool invocations by tool and outcome.",
			},
			[]string{"tool", "outcome"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stm32pio_queue_depth",
				Help: "Actions waiting in a project queue.",
			},
			[]string{"project"},
		),
		registry: reg,
	}

	reg.MustRegister(m.ActionsTotal)
	reg.MustRegister(m.ActionDuration)
	reg.MustRegister(m.ToolRunsTotal)
	reg.MustRegister(m.QueueDepth)

	return m
}

// Handler returns an http.Handler for a /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes every metric to path in the text exposition format,
// for collection by a node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}

// RecordAction counts a finished action and its duration. A nil receiver is
// a no-op so callers can run without metrics.
func (m *Metrics) RecordAction(action, result string, seconds float64) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(action, result).Inc()
	m.ActionDuration.WithLabelValues(action).Observe(seconds)
}

// RecordToolRun counts one external tool invocation.
func (m *Metrics) RecordToolRun(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolRunsTotal.WithLabelValues(tool, outcome).Inc()
}

// SetQueueDepth sets the number of pending actions for a project.
func (m *Metrics) SetQueueDepth(project string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(project).Set(float64(depth))
}
