package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics records engine metrics in Prometheus format.
//
// Metrics (namespace "weavegraph"):
//
//   - node_runs_total{node_type,status}: completed node runs
//   - node_run_latency_ms{node_type,status}: node run duration histogram
//   - llm_retries_total{model,reason}: LLM attempts retried after a transient error
//   - connections_rejected_total{reason}: connect calls refused by the validator
//   - kind_mismatches_total: admitted connections whose handle kinds differ
//   - ledger_write_failures_total: run ledger writes that failed and were swallowed
//   - inflight_runs: node runs currently executing
//   - graph_nodes{workflow}, graph_edges{workflow}: current graph size per
//     workflow name (see WithName)
//
// All methods are safe on a nil receiver, so components can hold an
// optional *PrometheusMetrics without guarding each call.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	wf, _ := graph.NewWorkflow(graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	inflightRuns prometheus.Gauge
	graphNodes   *prometheus.GaugeVec
	graphEdges   *prometheus.GaugeVec

	runLatency *prometheus.HistogramVec

	runs           *prometheus.CounterVec
	retries        *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	kindMismatches prometheus.Counter
	ledgerFailures prometheus.Counter

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers the engine metrics with
// registry. A nil registry selects prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.inflightRuns = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "weavegraph",
		Name:      "inflight_runs",
		Help:      "Node runs currently executing",
	})

	pm.graphNodes = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "weavegraph",
		Name:      "graph_nodes",
		Help:      "Nodes currently held by each workflow",
	}, []string{"workflow"})

	pm.graphEdges = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "weavegraph",
		Name:      "graph_edges",
		Help:      "Edges currently held by each workflow",
	}, []string{"workflow"})

	pm.runLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "weavegraph",
		Name:      "node_run_latency_ms",
		Help:      "Node run duration in milliseconds, including retry backoff",
		Buckets:   []float64{10, 50, 100, 500, 1000, 2500, 5000, 10000, 30000, 60000},
	}, []string{"node_type", "status"})

	pm.runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weavegraph",
		Name:      "node_runs_total",
		Help:      "Completed node runs by node type and outcome",
	}, []string{"node_type", "status"})

	pm.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weavegraph",
		Name:      "llm_retries_total",
		Help:      "LLM attempts retried after a transient error",
	}, []string{"model", "reason"})

	pm.rejected = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weavegraph",
		Name:      "connections_rejected_total",
		Help:      "Connections refused by the validator",
	}, []string{"reason"})

	pm.kindMismatches = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "weavegraph",
		Name:      "kind_mismatches_total",
		Help:      "Admitted connections whose handle data kinds differ",
	})

	pm.ledgerFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "weavegraph",
		Name:      "ledger_write_failures_total",
		Help:      "Run ledger writes that failed and were swallowed",
	})

	return pm
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordRun records a completed node run. status is "success" or "failed".
func (pm *PrometheusMetrics) RecordRun(nodeType NodeType, status string, latency time.Duration) {
	if !pm.on() {
		return
	}
	pm.runs.WithLabelValues(string(nodeType), status).Inc()
	pm.runLatency.WithLabelValues(string(nodeType), status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries counts one retried LLM attempt. reason is the matched
// transient signal, e.g. "503" or "rate limit".
func (pm *PrometheusMetrics) IncrementRetries(model, reason string) {
	if !pm.on() {
		return
	}
	pm.retries.WithLabelValues(model, reason).Inc()
}

// IncrementRejected counts one refused connection. reason is an error code
// such as "CYCLE" or "SELF_LOOP".
func (pm *PrometheusMetrics) IncrementRejected(reason string) {
	if !pm.on() {
		return
	}
	pm.rejected.WithLabelValues(reason).Inc()
}

// IncrementKindMismatch counts one admitted connection with differing kinds.
func (pm *PrometheusMetrics) IncrementKindMismatch() {
	if !pm.on() {
		return
	}
	pm.kindMismatches.Inc()
}

// IncrementLedgerFailures counts one swallowed ledger write failure.
func (pm *PrometheusMetrics) IncrementLedgerFailures() {
	if !pm.on() {
		return
	}
	pm.ledgerFailures.Inc()
}

// AddInflight adjusts the in-flight run gauge by delta.
func (pm *PrometheusMetrics) AddInflight(delta int) {
	if !pm.on() {
		return
	}
	pm.inflightRuns.Add(float64(delta))
}

// SetGraphSize records the current node and edge counts of workflow.
func (pm *PrometheusMetrics) SetGraphSize(workflow string, nodes, edges int) {
	if !pm.on() {
		return
	}
	pm.graphNodes.WithLabelValues(workflow).Set(float64(nodes))
	pm.graphEdges.WithLabelValues(workflow).Set(float64(edges))
}

// ForgetGraph drops the size series of a workflow that is no longer held.
func (pm *PrometheusMetrics) ForgetGraph(workflow string) {
	if pm == nil {
		return
	}
	pm.graphNodes.DeleteLabelValues(workflow)
	pm.graphEdges.DeleteLabelValues(workflow)
}

// Disable temporarily disables metric recording.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes the in-flight gauge and drops every graph size series.
// Counters and histograms are cumulative and are left untouched.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.inflightRuns.Set(0)
	pm.graphNodes.Reset()
	pm.graphEdges.Reset()
}
