package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitter_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, false)

	emitter.Emit(Event{
		RunID:    "run-001",
		NodeID:   "llm-1",
		NodeType: "llm",
		Msg:      MsgRunStart,
		Meta:     map[string]interface{}{"model": "gemini-1.5-flash"},
	})

	out := buf.String()
	for _, want := range []string{"[node_run_start]", "runID=run-001", "nodeID=llm-1", "type=llm", `"model":"gemini-1.5-flash"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("expected trailing newline, got %q", out)
	}
}

func TestLogEmitter_OmitsEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	NewLogEmitter(&buf, false).Emit(Event{Msg: MsgEdgeAdded})

	if got := buf.String(); got != "[edge_added]\n" {
		t.Errorf("got %q, want %q", got, "[edge_added]\n")
	}
}

func TestLogEmitter_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, true)

	emitter.Emit(Event{RunID: "r1", NodeID: "n1", NodeType: "text", Msg: MsgNodeAdded})
	emitter.Emit(Event{RunID: "r2", NodeID: "n2", NodeType: "llm", Msg: MsgRunError, Meta: map[string]interface{}{"error": "boom"}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}

	var decoded struct {
		RunID    string                 `json:"runID"`
		NodeID   string                 `json:"nodeID"`
		NodeType string                 `json:"nodeType"`
		Msg      string                 `json:"msg"`
		Meta     map[string]interface{} `json:"meta"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("second line is not JSON: %v", err)
	}
	if decoded.Msg != MsgRunError || decoded.NodeType != "llm" || decoded.Meta["error"] != "boom" {
		t.Errorf("unexpected decoded event: %+v", decoded)
	}
}
