// Package metrics provides Prometheus metrics export for workflow execution.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ticketflow/ticketflow/workflow"
)

// PrometheusExporter exports workflow metrics in Prometheus format.
// It implements workflow.StepObserver.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Step metrics
	stepLatency   *prometheus.HistogramVec
	stepsTotal    *prometheus.CounterVec
	fallbackTotal *prometheus.CounterVec
	tokensTotal   *prometheus.CounterVec

	// Workflow metrics
	workflowLatency *prometheus.HistogramVec
	workflowsTotal  *prometheus.CounterVec
}

var _ workflow.StepObserver = (*PrometheusExporter)(nil)

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{
		registry: registry,
	}

	e.stepLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ticketflow",
			Subsystem: "workflow",
			Name:      "step_latency_seconds",
			Help:      "Workflow step latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"step"},
	)

	e.stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ticketflow",
			Subsystem: "workflow",
			Name:      "steps_total",
			Help:      "Total number of executed workflow steps",
		},
		[]string{"step", "status"},
	)

	e.fallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ticketflow",
			Subsystem: "workflow",
			Name:      "step_fallbacks_total",
			Help:      "Total number of steps that fell back to the deterministic path",
		},
		[]string{"step"},
	)

	e.tokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ticketflow",
			Subsystem: "workflow",
			Name:      "llm_tokens_total",
			Help:      "Total LLM tokens consumed by workflow steps",
		},
		[]string{"step"},
	)

	e.workflowLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ticketflow",
			Subsystem: "workflow",
			Name:      "duration_seconds",
			Help:      "End-to-end workflow duration in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"outcome"},
	)

	e.workflowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ticketflow",
			Subsystem: "workflow",
			Name:      "executions_total",
			Help:      "Total number of workflow executions",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(
		e.stepLatency,
		e.stepsTotal,
		e.fallbackTotal,
		e.tokensTotal,
		e.workflowLatency,
		e.workflowsTotal,
	)

	return e
}

// ObserveStep records one completed workflow step.
func (e *PrometheusExporter) ObserveStep(step workflow.StepResult) {
	e.stepsTotal.WithLabelValues(step.StepName, string(step.Status)).Inc()
	e.stepLatency.WithLabelValues(step.StepName).Observe(float64(step.DurationMs) / 1000)
	if step.FallbackUsed {
		e.fallbackTotal.WithLabelValues(step.StepName).Inc()
	}
	if step.TokensUsed > 0 {
		e.tokensTotal.WithLabelValues(step.StepName).Add(float64(step.TokensUsed))
	}
}

// ObserveWorkflow records one completed workflow execution.
func (e *PrometheusExporter) ObserveWorkflow(outcome string, duration time.Duration) {
	e.workflowsTotal.WithLabelValues(outcome).Inc()
	e.workflowLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}
