package graph

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// sampleValue returns the counter or gauge value of the first series of
// family name whose labels include every pair in labels.
func sampleValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue series
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
			if h := m.GetHistogram(); h != nil {
				return float64(h.GetSampleCount())
			}
		}
	}
	return 0
}

func TestPrometheusMetrics_WorkflowEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(reg)
	wf, _ := newTestWorkflow(t, WithMetrics(metrics))

	mustAdd(t, wf, "a", TypeText)
	mustAdd(t, wf, "b", TypeLLM)
	mustAdd(t, wf, "img", TypeUploadImage)
	mustConnect(t, wf, "a", "b", HandleUserMessage)
	wf.Connect(Connection{Source: "b", SourceHandle: OutputHandle, Target: "b", TargetHandle: HandleUserMessage})
	wf.Connect(Connection{Source: "img", SourceHandle: OutputHandle, Target: "b", TargetHandle: HandleSystemPrompt})

	if got := sampleValue(t, reg, "weavegraph_graph_nodes", nil); got != 3 {
		t.Errorf("graph_nodes = %v, want 3", got)
	}
	if got := sampleValue(t, reg, "weavegraph_graph_edges", nil); got != 2 {
		t.Errorf("graph_edges = %v, want 2", got)
	}
	if got := sampleValue(t, reg, "weavegraph_connections_rejected_total", map[string]string{"reason": "SELF_LOOP"}); got != 1 {
		t.Errorf("rejected{SELF_LOOP} = %v, want 1", got)
	}
	if got := sampleValue(t, reg, "weavegraph_kind_mismatches_total", nil); got != 1 {
		t.Errorf("kind_mismatches = %v, want 1", got)
	}
}

func TestPrometheusMetrics_GraphSizePerWorkflow(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(reg)
	first, _ := newTestWorkflow(t, WithMetrics(metrics), WithName("wf-1"))
	second, _ := newTestWorkflow(t, WithMetrics(metrics), WithName("wf-2"))

	mustAdd(t, first, "a", TypeText)
	mustAdd(t, first, "b", TypeText)
	mustAdd(t, second, "c", TypeText)

	if got := sampleValue(t, reg, "weavegraph_graph_nodes", map[string]string{"workflow": "wf-1"}); got != 2 {
		t.Errorf("graph_nodes{wf-1} = %v, want 2", got)
	}
	if got := sampleValue(t, reg, "weavegraph_graph_nodes", map[string]string{"workflow": "wf-2"}); got != 1 {
		t.Errorf("graph_nodes{wf-2} = %v, want 1", got)
	}

	metrics.ForgetGraph("wf-1")
	if got := sampleValue(t, reg, "weavegraph_graph_nodes", map[string]string{"workflow": "wf-1"}); got != 0 {
		t.Errorf("graph_nodes{wf-1} after ForgetGraph = %v, want 0", got)
	}
}

func TestPrometheusMetrics_RunsAndRetries(t *testing.T) {
	reg := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(reg)

	pm.RecordRun(TypeLLM, "success", 120*time.Millisecond)
	pm.RecordRun(TypeLLM, "failed", 5*time.Millisecond)
	pm.RecordRun(TypeLLM, "success", 80*time.Millisecond)
	pm.IncrementRetries("gemini-2.5-flash", "503")
	pm.IncrementLedgerFailures()

	if got := sampleValue(t, reg, "weavegraph_node_runs_total", map[string]string{"node_type": "llm", "status": "success"}); got != 2 {
		t.Errorf("runs{llm,success} = %v, want 2", got)
	}
	if got := sampleValue(t, reg, "weavegraph_node_run_latency_ms", map[string]string{"status": "failed"}); got != 1 {
		t.Errorf("latency samples{failed} = %v, want 1", got)
	}
	if got := sampleValue(t, reg, "weavegraph_llm_retries_total", map[string]string{"reason": "503"}); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
	if got := sampleValue(t, reg, "weavegraph_ledger_write_failures_total", nil); got != 1 {
		t.Errorf("ledger failures = %v, want 1", got)
	}
}

func TestPrometheusMetrics_DisableAndNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(reg)

	pm.Disable()
	pm.IncrementKindMismatch()
	pm.Enable()
	pm.AddInflight(2)
	pm.AddInflight(-1)

	if got := sampleValue(t, reg, "weavegraph_kind_mismatches_total", nil); got != 0 {
		t.Errorf("disabled counter recorded %v", got)
	}
	if got := sampleValue(t, reg, "weavegraph_inflight_runs", nil); got != 1 {
		t.Errorf("inflight = %v, want 1", got)
	}
	pm.Reset()
	if got := sampleValue(t, reg, "weavegraph_inflight_runs", nil); got != 0 {
		t.Errorf("inflight after Reset = %v, want 0", got)
	}

	var nilMetrics *PrometheusMetrics
	nilMetrics.RecordRun(TypeText, "success", time.Millisecond)
	nilMetrics.SetGraphSize(DefaultWorkflowName, 1, 1)
	nilMetrics.ForgetGraph(DefaultWorkflowName)
}
