package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/dshills/weavegraph/graph"
	"github.com/dshills/weavegraph/graph/store"
)

var t0 = time.UnixMilli(1_700_000_000_000).UTC()

// runStoreSuite exercises the Store contract against any backend. Owner
// ids are unique per call so shared databases do not interfere.
func runStoreSuite(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("ledger", func(t *testing.T) {
		owner := "owner-" + uuid.NewString()
		other := "other-" + uuid.NewString()

		var ids []string
		for i := 0; i < 3; i++ {
			created := t0.Add(time.Duration(i) * time.Second)
			id, err := st.CreateWorkflowRun(ctx, store.WorkflowRun{
				OwnerID:   owner,
				Status:    store.StatusSuccess,
				Scope:     store.ScopeSingle,
				Duration:  int64(100 + i),
				NodeIDs:   []string{"llm-1"},
				CreatedAt: created,
				NodeRuns: []store.NodeRun{{
					NodeID:    "llm-1",
					NodeType:  "llm",
					Status:    store.StatusSuccess,
					Duration:  int64(100 + i),
					Inputs:    map[string]any{"model": "gemini-2.5-flash", "imagesCount": float64(i)},
					Outputs:   map[string]any{"output": "answer"},
					CreatedAt: created,
				}},
			})
			if err != nil {
				t.Fatalf("CreateWorkflowRun: %v", err)
			}
			if id == "" {
				t.Fatal("empty run id")
			}
			ids = append(ids, id)
		}
		if _, err := st.CreateWorkflowRun(ctx, store.WorkflowRun{OwnerID: other, Status: store.StatusFailed}); err != nil {
			t.Fatal(err)
		}

		runs, err := st.ListRuns(ctx, owner, 0)
		if err != nil {
			t.Fatalf("ListRuns: %v", err)
		}
		var got []string
		for _, r := range runs {
			got = append(got, r.ID)
		}
		if diff := cmp.Diff([]string{ids[2], ids[1], ids[0]}, got); diff != "" {
			t.Errorf("runs not newest first (-want +got):\n%s", diff)
		}

		newest := runs[0]
		if newest.Duration != 102 || !newest.CreatedAt.Equal(t0.Add(2*time.Second)) {
			t.Errorf("newest = %+v", newest)
		}
		if len(newest.NodeRuns) != 1 {
			t.Fatalf("node runs = %d", len(newest.NodeRuns))
		}
		nr := newest.NodeRuns[0]
		if nr.WorkflowRunID != newest.ID || nr.ID == "" {
			t.Errorf("node run ids = %q/%q", nr.ID, nr.WorkflowRunID)
		}
		wantInputs := map[string]any{"model": "gemini-2.5-flash", "imagesCount": float64(2)}
		if diff := cmp.Diff(wantInputs, nr.Inputs); diff != "" {
			t.Errorf("inputs (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(map[string]any{"output": "answer"}, nr.Outputs); diff != "" {
			t.Errorf("outputs (-want +got):\n%s", diff)
		}

		limited, err := st.ListRuns(ctx, owner, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(limited) != 2 {
			t.Errorf("limit 2 returned %d runs", len(limited))
		}

		n, err := st.DeleteAllRuns(ctx, owner)
		if err != nil {
			t.Fatalf("DeleteAllRuns: %v", err)
		}
		if n != 3 {
			t.Errorf("deleted = %d, want 3", n)
		}
		if runs, _ := st.ListRuns(ctx, owner, 0); len(runs) != 0 {
			t.Errorf("runs after delete = %d", len(runs))
		}
		if runs, _ := st.ListRuns(ctx, other, 0); len(runs) != 1 {
			t.Errorf("other owner's runs = %d, want 1", len(runs))
		}
		if _, err := st.DeleteAllRuns(ctx, other); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("node runs newest first", func(t *testing.T) {
		owner := "owner-" + uuid.NewString()
		_, err := st.CreateWorkflowRun(ctx, store.WorkflowRun{
			OwnerID:   owner,
			Scope:     store.ScopeFull,
			Status:    store.StatusPartial,
			CreatedAt: t0,
			NodeRuns: []store.NodeRun{
				{NodeID: "a", NodeType: "llm", Status: store.StatusSuccess, CreatedAt: t0},
				{NodeID: "b", NodeType: "cropImage", Status: store.StatusFailed, Error: "boom", CreatedAt: t0.Add(time.Second)},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		runs, err := st.ListRuns(ctx, owner, 0)
		if err != nil || len(runs) != 1 {
			t.Fatalf("ListRuns = %v, %v", runs, err)
		}
		nrs := runs[0].NodeRuns
		if len(nrs) != 2 || nrs[0].NodeID != "b" || nrs[1].NodeID != "a" {
			t.Fatalf("node runs = %+v", nrs)
		}
		if nrs[0].Error != "boom" || nrs[0].Outputs != nil {
			t.Errorf("failed node run = %+v", nrs[0])
		}
		if runs[0].Scope != store.ScopeFull || runs[0].Status != store.StatusPartial {
			t.Errorf("run = %+v", runs[0])
		}
		if _, err := st.DeleteAllRuns(ctx, owner); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("documents", func(t *testing.T) {
		owner := "owner-" + uuid.NewString()
		data := json.RawMessage(`{"nodes":[],"edges":[]}`)

		first, err := st.SaveWorkflow(ctx, store.WorkflowDocument{OwnerID: owner, Data: data})
		if err != nil {
			t.Fatalf("SaveWorkflow: %v", err)
		}
		if first.ID == "" || first.Name != store.DefaultWorkflowName {
			t.Errorf("saved = %+v", first)
		}

		got, err := st.GetWorkflow(ctx, owner, first.ID)
		if err != nil {
			t.Fatalf("GetWorkflow: %v", err)
		}
		assertSameJSON(t, data, got.Data)

		if _, err := st.GetWorkflow(ctx, "someone-else", first.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("foreign get err = %v, want ErrNotFound", err)
		}

		second, err := st.SaveWorkflow(ctx, store.WorkflowDocument{OwnerID: owner, Name: "Second", Data: data})
		if err != nil {
			t.Fatal(err)
		}

		updatedData := json.RawMessage(`{"nodes":[{"id":"n"}],"edges":[]}`)
		time.Sleep(5 * time.Millisecond)
		updated, err := st.UpdateWorkflow(ctx, store.WorkflowDocument{ID: first.ID, OwnerID: owner, Data: updatedData})
		if err != nil {
			t.Fatalf("UpdateWorkflow: %v", err)
		}
		if updated.Name != store.DefaultWorkflowName {
			t.Errorf("empty name overwrote existing: %q", updated.Name)
		}
		assertSameJSON(t, updatedData, updated.Data)

		list, err := st.ListWorkflows(ctx, owner)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
			t.Errorf("list order = %+v", list)
		}

		if _, err := st.UpdateWorkflow(ctx, store.WorkflowDocument{ID: "missing", OwnerID: owner, Data: data}); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("update missing err = %v", err)
		}

		if err := st.DeleteWorkflow(ctx, owner, first.ID); err != nil {
			t.Fatal(err)
		}
		if err := st.DeleteWorkflow(ctx, owner, first.ID); err != nil {
			t.Errorf("second delete err = %v", err)
		}
		if _, err := st.GetWorkflow(ctx, owner, first.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("get deleted err = %v", err)
		}
		_ = st.DeleteWorkflow(ctx, owner, second.ID)
	})

	t.Run("persister", func(t *testing.T) {
		owner := "owner-" + uuid.NewString()
		doc, err := st.SaveWorkflow(ctx, store.WorkflowDocument{OwnerID: owner, Name: "live", Data: json.RawMessage(`{"nodes":[],"edges":[]}`)})
		if err != nil {
			t.Fatal(err)
		}
		wf, err := graph.NewWorkflow(graph.WithPersister(store.WorkflowPersister{
			Docs: st, OwnerID: owner, WorkflowID: doc.ID,
		}))
		if err != nil {
			t.Fatal(err)
		}
		n := graph.NewNode(graph.TypeUploadImage, graph.Position{})
		n.Data.(*graph.UploadImageData).ImageURL = "data:image/png;base64,AAAA"
		if _, err := wf.AddNode(n); err != nil {
			t.Fatal(err)
		}

		saved, err := st.GetWorkflow(ctx, owner, doc.ID)
		if err != nil {
			t.Fatal(err)
		}
		decoded, err := graph.DecodeDocument(saved.Data)
		if err != nil {
			t.Fatalf("DecodeDocument: %v", err)
		}
		if len(decoded.Nodes) != 1 {
			t.Fatalf("persisted nodes = %d", len(decoded.Nodes))
		}
		if url := decoded.Nodes[0].Data.(*graph.UploadImageData).ImageURL; url != "" {
			t.Errorf("data URI was persisted: %q", url)
		}
		_ = st.DeleteWorkflow(ctx, owner, doc.ID)
	})
}

func assertSameJSON(t *testing.T, want, got json.RawMessage) {
	t.Helper()
	var w, g any
	if err := json.Unmarshal(want, &w); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("stored data is not JSON: %v", err)
	}
	if diff := cmp.Diff(w, g); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestTruncation(t *testing.T) {
	long := strings.Repeat("é", 600)
	if got := store.TruncateUserMessage(long); len([]rune(got)) != 500 {
		t.Errorf("user message length = %d, want 500", len([]rune(got)))
	}
	if got := store.TruncateUserMessage("short"); got != "short" {
		t.Errorf("short message changed: %q", got)
	}

	exact := strings.Repeat("x", 5000)
	if got := store.TruncateOutput(exact); got != exact {
		t.Error("5000 chars should not be truncated")
	}
	over := strings.Repeat("x", 5001)
	if got := store.TruncateOutput(over); got != exact+"... (truncated)" {
		t.Errorf("truncated output suffix = %q", got[len(got)-20:])
	}
}

func TestLLMInputs(t *testing.T) {
	msg := strings.Repeat("m", 700)

	got := store.LLMInputs("gemini-2.5-flash", "", msg, 2, true)
	want := map[string]any{
		"model":        "gemini-2.5-flash",
		"systemPrompt": nil,
		"userMessage":  strings.Repeat("m", 500),
		"imagesCount":  2,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("success inputs (-want +got):\n%s", diff)
	}

	failed := store.LLMInputs("gpt-4o", "be brief", msg, 0, false)
	if failed["userMessage"] != msg || failed["systemPrompt"] != "be brief" {
		t.Errorf("failed inputs = %v", failed)
	}
}

func TestDeletedMessage(t *testing.T) {
	tests := map[int]string{
		0: "Successfully deleted 0 workflow runs",
		1: "Successfully deleted 1 workflow run",
		7: "Successfully deleted 7 workflow runs",
	}
	for n, want := range tests {
		if got := store.DeletedMessage(n); got != want {
			t.Errorf("DeletedMessage(%d) = %q, want %q", n, got, want)
		}
	}
}
