package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/weavegraph/graph"
	"github.com/dshills/weavegraph/graph/emit"
	"github.com/dshills/weavegraph/graph/media"
	"github.com/dshills/weavegraph/graph/model"
	"github.com/dshills/weavegraph/graph/store"
)

type fixture struct {
	srv    *Server
	store  *store.MemStore
	chat   *model.MockChatModel
	events *emit.BufferedEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  store.NewMemStore(),
		chat:   &model.MockChatModel{Responses: []model.ChatOut{{Text: "a haiku", Usage: model.Usage{InputTokens: 10, OutputTokens: 5}}}},
		events: emit.NewBufferedEmitter(),
	}
	srv, err := New(Deps{
		Store:    f.store,
		Chat:     f.chat,
		Media:    &media.MockProcessor{},
		Events:   f.events,
		Gatherer: prometheus.NewRegistry(),
	}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.srv = srv
	return f
}

// do sends a request as owner (none when empty) and returns the status and
// body.
func (f *fixture) do(t *testing.T, method, path, owner, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	resp, err := f.srv.App().Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func (f *fixture) createWorkflow(t *testing.T, owner string) string {
	t.Helper()
	code, body := f.do(t, http.MethodPost, "/workflows", owner, `{"name":"demo"}`)
	if code != http.StatusCreated {
		t.Fatalf("create = %d %s", code, body)
	}
	return decode[store.WorkflowDocument](t, body).ID
}

func TestPublicRoutes(t *testing.T) {
	f := newFixture(t)

	if code, _ := f.do(t, http.MethodGet, "/healthz", "", ""); code != http.StatusOK {
		t.Errorf("healthz = %d", code)
	}
	code, body := f.do(t, http.MethodGet, "/schema", "", "")
	if code != http.StatusOK || !json.Valid(body) || !strings.Contains(string(body), "extractFrame") {
		t.Errorf("schema = %d %.80s", code, body)
	}
	if code, _ := f.do(t, http.MethodGet, "/metrics", "", ""); code != http.StatusOK {
		t.Errorf("metrics = %d", code)
	}

	code, body = f.do(t, http.MethodGet, "/workflows", "", "")
	if code != http.StatusUnauthorized || !strings.Contains(string(body), OwnerHeader) {
		t.Errorf("anonymous list = %d %s", code, body)
	}
}

func TestWorkflowDocuments(t *testing.T) {
	f := newFixture(t)
	id := f.createWorkflow(t, "alice")

	code, body := f.do(t, http.MethodGet, "/workflows", "alice", "")
	list := decode[[]workflowSummary](t, body)
	if code != http.StatusOK || len(list) != 1 || list[0].Name != "demo" {
		t.Fatalf("list = %d %s", code, body)
	}

	if code, _ := f.do(t, http.MethodGet, "/workflows/"+id, "mallory", ""); code != http.StatusNotFound {
		t.Errorf("other owner get = %d, want 404", code)
	}

	code, body = f.do(t, http.MethodPut, "/workflows/"+id, "alice", `{"name":"renamed"}`)
	if code != http.StatusOK || decode[store.WorkflowDocument](t, body).Name != "renamed" {
		t.Errorf("update = %d %s", code, body)
	}
	if code, _ := f.do(t, http.MethodPut, "/workflows/missing", "alice", `{"name":"x"}`); code != http.StatusNotFound {
		t.Errorf("update missing = %d", code)
	}

	code, body = f.do(t, http.MethodDelete, "/workflows/"+id, "alice", "")
	if code != http.StatusOK || !strings.Contains(string(body), `"success":true`) {
		t.Errorf("delete = %d %s", code, body)
	}
	if code, _ := f.do(t, http.MethodGet, "/workflows/"+id, "alice", ""); code != http.StatusNotFound {
		t.Errorf("get after delete = %d", code)
	}
}

func TestCreateRejectsInvalidGraphs(t *testing.T) {
	f := newFixture(t)
	tests := map[string]string{
		"unknown type": `{"data":{"nodes":[{"id":"a","type":"sticker","position":{"x":0,"y":0}}],"edges":[]}}`,
		"cycle": `{"data":{"nodes":[
			{"id":"a","type":"text","position":{"x":0,"y":0}},
			{"id":"b","type":"text","position":{"x":0,"y":0}}],
			"edges":[{"id":"e1","source":"a","target":"b"},{"id":"e2","source":"b","target":"a"}]}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			code, resp := f.do(t, http.MethodPost, "/workflows", "alice", body)
			if code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d %s", code, resp)
			}
		})
	}
	if code, _ := f.do(t, http.MethodPost, "/workflows", "alice", `{"name":`); code != http.StatusBadRequest {
		t.Errorf("malformed body = %d", code)
	}
}

func TestGraphReadLeavesDocument(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodPost, "/workflows", "alice", `{"name":"inline","data":{"nodes":[
		{"id":"img","type":"uploadImage","position":{"x":0,"y":0},"data":{"imageUrl":"data:image/png;base64,AAAA"}}],"edges":[]}}`)
	if code != http.StatusCreated {
		t.Fatalf("create = %d %s", code, body)
	}
	id := decode[store.WorkflowDocument](t, body).ID

	before, err := f.store.GetWorkflow(context.Background(), "alice", id)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		code, body = f.do(t, http.MethodGet, "/workflows/"+id+"/graph", "alice", "")
		if code != http.StatusOK || !strings.Contains(string(body), "data:image/png;base64,AAAA") {
			t.Fatalf("graph = %d %s", code, body)
		}
	}
	after, err := f.store.GetWorkflow(context.Background(), "alice", id)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("stored document changed by a read (-before +after):\n%s", diff)
	}
}

func TestEditAndRunNode(t *testing.T) {
	f := newFixture(t)
	id := f.createWorkflow(t, "alice")
	base := "/workflows/" + id

	code, body := f.do(t, http.MethodPost, base+"/nodes", "alice",
		`{"id":"text-1","type":"text","position":{"x":0,"y":0},"data":{"text":"write a haiku"}}`)
	if code != http.StatusCreated {
		t.Fatalf("add text = %d %s", code, body)
	}
	code, body = f.do(t, http.MethodPost, base+"/nodes", "alice",
		`{"id":"llm-1","type":"llm","position":{"x":300,"y":0},"data":{"model":"gemini-2.5-flash"}}`)
	if code != http.StatusCreated {
		t.Fatalf("add llm = %d %s", code, body)
	}
	code, body = f.do(t, http.MethodPost, base+"/edges", "alice",
		`{"source":"text-1","sourceHandle":"output","target":"llm-1","targetHandle":"user_message"}`)
	if code != http.StatusCreated {
		t.Fatalf("connect = %d %s", code, body)
	}

	code, body = f.do(t, http.MethodPost, base+"/nodes/llm-1/run", "alice", "")
	if code != http.StatusOK {
		t.Fatalf("run = %d %s", code, body)
	}
	resp := decode[struct {
		Run  resultView `json:"run"`
		Node graph.Node `json:"node"`
	}](t, body)
	if resp.Run.Status != store.StatusSuccess || resp.Run.RunID == "" {
		t.Errorf("run = %+v", resp.Run)
	}
	if got := resp.Node.Data.(*graph.LLMData).Output; got != "a haiku" {
		t.Errorf("output = %q", got)
	}
	if req, _ := f.chat.LastCall(); req.UserMessage != "write a haiku" {
		t.Errorf("user message = %q", req.UserMessage)
	}

	// Edits and results are written back to the saved document.
	doc, err := f.store.GetWorkflow(context.Background(), "alice", id)
	if err != nil {
		t.Fatal(err)
	}
	saved, err := graph.DecodeDocument(doc.Data)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.Nodes) != 2 || len(saved.Edges) != 1 {
		t.Fatalf("saved graph = %s", doc.Data)
	}

	code, body = f.do(t, http.MethodGet, "/runs", "alice", "")
	runs := decode[[]store.WorkflowRun](t, body)
	if code != http.StatusOK || len(runs) != 1 || runs[0].ID != resp.Run.RunID {
		t.Fatalf("runs = %d %s", code, body)
	}

	code, body = f.do(t, http.MethodGet, "/runs/"+resp.Run.RunID+"/events", "alice", "")
	var msgs []string
	for _, e := range decode[[]eventView](t, body) {
		msgs = append(msgs, e.Msg)
	}
	if diff := cmp.Diff([]string{emit.MsgRunStart, emit.MsgRunSuccess}, msgs); code != http.StatusOK || diff != "" {
		t.Errorf("events = %d (-want +got):\n%s", code, diff)
	}
	if code, _ := f.do(t, http.MethodGet, "/runs/"+resp.Run.RunID+"/events", "mallory", ""); code != http.StatusNotFound {
		t.Errorf("foreign events = %d", code)
	}

	code, body = f.do(t, http.MethodDelete, "/runs", "alice", "")
	if code != http.StatusOK || !strings.Contains(string(body), "Successfully deleted 1 workflow run") {
		t.Errorf("delete runs = %d %s", code, body)
	}
}

func TestEditErrors(t *testing.T) {
	f := newFixture(t)
	id := f.createWorkflow(t, "alice")
	base := "/workflows/" + id

	f.do(t, http.MethodPost, base+"/nodes", "alice", `{"id":"a","type":"text","position":{"x":0,"y":0}}`)
	f.do(t, http.MethodPost, base+"/nodes", "alice", `{"id":"b","type":"text","position":{"x":0,"y":0}}`)
	f.do(t, http.MethodPost, base+"/edges", "alice", `{"source":"a","target":"b","targetHandle":"input"}`)

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"duplicate node", http.MethodPost, "/nodes", `{"id":"a","type":"text","position":{"x":0,"y":0}}`, http.StatusUnprocessableEntity},
		{"unknown type", http.MethodPost, "/nodes", `{"type":"sticker","position":{"x":0,"y":0}}`, http.StatusUnprocessableEntity},
		{"cycle", http.MethodPost, "/edges", `{"source":"b","target":"a","targetHandle":"input"}`, http.StatusUnprocessableEntity},
		{"self loop", http.MethodPost, "/edges", `{"source":"a","target":"a","targetHandle":"input"}`, http.StatusUnprocessableEntity},
		{"missing endpoint", http.MethodPost, "/edges", `{"source":"a"}`, http.StatusBadRequest},
		{"bad patch type", http.MethodPatch, "/nodes/a", `{"text":42}`, http.StatusUnprocessableEntity},
		{"patch absent node", http.MethodPatch, "/nodes/zzz", `{"text":"x"}`, http.StatusNotFound},
		{"delete absent edge", http.MethodDelete, "/edges/nope", "", http.StatusNotFound},
		{"run passive node", http.MethodPost, "/nodes/a/run", "", http.StatusBadRequest},
		{"run absent node", http.MethodPost, "/nodes/zzz/run", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.do(t, tt.method, base+tt.path, "alice", tt.body)
			if code != tt.want {
				t.Errorf("status = %d, want %d (%s)", code, tt.want, body)
			}
		})
	}

	code, body := f.do(t, http.MethodPatch, base+"/nodes/a", "alice", `{"text":"updated"}`)
	if code != http.StatusOK || decode[graph.Node](t, body).Data.(*graph.TextData).Text != "updated" {
		t.Errorf("patch = %d %s", code, body)
	}
	code, body = f.do(t, http.MethodDelete, base+"/nodes/a", "alice", "")
	if code != http.StatusOK {
		t.Errorf("delete node = %d %s", code, body)
	}
	_, body = f.do(t, http.MethodGet, base+"/graph", "alice", "")
	snap := decode[graph.Document](t, body)
	if len(snap.Nodes) != 1 || len(snap.Edges) != 0 {
		t.Errorf("graph after delete = %s", body)
	}
}

func TestRunNodeValidationFailure(t *testing.T) {
	f := newFixture(t)
	id := f.createWorkflow(t, "alice")
	base := "/workflows/" + id
	f.do(t, http.MethodPost, base+"/nodes", "alice", `{"id":"llm-1","type":"llm","position":{"x":0,"y":0}}`)

	code, body := f.do(t, http.MethodPost, base+"/nodes/llm-1/run", "alice", "")
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d %s", code, body)
	}
	resp := decode[struct {
		Run  resultView `json:"run"`
		Node graph.Node `json:"node"`
	}](t, body)
	if resp.Run.Status != store.StatusFailed || resp.Run.Error != "User message is required" {
		t.Errorf("run = %+v", resp.Run)
	}
	if d := resp.Node.Data.(*graph.LLMData); d.IsRunning || d.Error != "User message is required" {
		t.Errorf("node state = %+v", d.RunState)
	}
	if f.chat.CallCount() != 0 {
		t.Error("model called without a user message")
	}
}

func TestRunScope(t *testing.T) {
	f := newFixture(t)
	id := f.createWorkflow(t, "alice")
	base := "/workflows/" + id
	f.do(t, http.MethodPost, base+"/nodes", "alice", `{"id":"t","type":"text","position":{"x":0,"y":0},"data":{"text":"hi"}}`)
	f.do(t, http.MethodPost, base+"/nodes", "alice", `{"id":"l","type":"llm","position":{"x":0,"y":0},"data":{"model":"gemini-2.5-flash"}}`)
	f.do(t, http.MethodPost, base+"/edges", "alice", `{"source":"t","target":"l","targetHandle":"user_message"}`)

	code, body := f.do(t, http.MethodPost, base+"/run", "alice", `{"scope":"full"}`)
	if code != http.StatusOK {
		t.Fatalf("run scope = %d %s", code, body)
	}
	br := decode[batchView](t, body)
	if br.Status != store.StatusSuccess || len(br.Results) != 1 || br.InputTokens != 10 || br.OutputTokens != 5 {
		t.Errorf("batch = %+v", br)
	}

	if code, _ := f.do(t, http.MethodPost, base+"/run", "alice", `{"scope":"everything"}`); code != http.StatusBadRequest {
		t.Errorf("bad scope = %d", code)
	}
	if code, _ := f.do(t, http.MethodPost, base+"/run", "alice", `{"scope":"partial","nodeIds":["ghost"]}`); code != http.StatusNotFound {
		t.Errorf("unknown node = %d", code)
	}
	if code, _ := f.do(t, http.MethodPost, base+"/run", "alice", `{"scope":"partial"}`); code != http.StatusBadRequest {
		t.Errorf("empty partial = %d", code)
	}
}
