// Package metrics exposes Prometheus collectors for requests, tokens,
// cost, and active task counts, served at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the process's Prometheus collectors under a private
// registry, so multiple instances (e.g. across tests) never collide on
// the global default registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	TokensTotal     *prometheus.CounterVec
	CostTotalUSD    prometheus.Counter
	ActiveTasks     prometheus.Gauge
	TaskQueueDepth  prometheus.Gauge
	ExecutorLatency *prometheus.HistogramVec
}

// New constructs and registers the collector set.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentsvcd_requests_total",
			Help: "Total agent executions by model and outcome.",
		}, []string{"model", "outcome"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentsvcd_tokens_total",
			Help: "Total input/output tokens consumed by model.",
		}, []string{"model", "direction"}),
		CostTotalUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentsvcd_cost_usd_total",
			Help: "Total cost in USD attributed across all executions.",
		}),
		ActiveTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentsvcd_active_tasks",
			Help: "Number of tasks currently occupying a concurrency slot.",
		}),
		TaskQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentsvcd_task_queue_depth",
			Help: "Number of tasks currently pending dispatch.",
		}),
		ExecutorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentsvcd_executor_duration_seconds",
			Help:    "Agent CLI execution latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"model", "outcome"}),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.TokensTotal,
		m.CostTotalUSD,
		m.ActiveTasks,
		m.TaskQueueDepth,
		m.ExecutorLatency,
	)
	return m
}

// Handler returns the HTTP handler to mount at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordExecution records one Agent Executor attempt's outcome, token
// usage, cost, and latency.
func (m *Metrics) RecordExecution(model string, success bool, inputTokens, outputTokens int64, costUSD float64, durationSeconds float64) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.RequestsTotal.WithLabelValues(model, outcome).Inc()
	m.TokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	m.TokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	m.CostTotalUSD.Add(costUSD)
	m.ExecutorLatency.WithLabelValues(model, outcome).Observe(durationSeconds)
}

// SetActiveTasks reports the Task Queue's current active-task count.
func (m *Metrics) SetActiveTasks(n int) {
	m.ActiveTasks.Set(float64(n))
}

// SetQueueDepth reports the Task Store's current pending-task count.
func (m *Metrics) SetQueueDepth(n int) {
	m.TaskQueueDepth.Set(float64(n))
}
