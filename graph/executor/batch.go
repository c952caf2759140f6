package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/weavegraph/graph"
	"github.com/dshills/weavegraph/graph/emit"
	"github.com/dshills/weavegraph/graph/model"
	"github.com/dshills/weavegraph/graph/store"
)

// Batch runs the active nodes of a selection, or of the whole workflow, in
// dependency order and records them as one workflow run.
//
// Nodes are grouped into topological waves. Passive relays are refreshed
// before each wave and the nodes of a wave run concurrently, bounded by
// WithConcurrency. A node whose upstream failed is not run and is recorded
// as failed.
type Batch struct {
	reg *Registry
}

// NewBatch returns a Batch over the registry's workflow and executors.
func NewBatch(reg *Registry) *Batch {
	return &Batch{reg: reg}
}

// BatchResult summarizes a scope run.
type BatchResult struct {
	// RunID is empty when the ledger write failed or no ledger is set.
	RunID    string
	Scope    store.Scope
	Status   store.Status
	Duration time.Duration

	// Results holds one entry per executed active node, in run order.
	Results []Result

	Cost         float64
	InputTokens  int
	OutputTokens int
}

// Failed returns the results of nodes that did not succeed.
func (br BatchResult) Failed() []Result {
	var out []Result
	for _, r := range br.Results {
		if r.Status != store.StatusSuccess {
			out = append(out, r)
		}
	}
	return out
}

// Run executes scope for owner. ScopeFull ignores nodeIDs and runs every
// active node; ScopePartial and ScopeSingle run the listed nodes. Node
// failures are reported in the result, not as an error; Run errors only
// when the selection itself is invalid.
func (b *Batch) Run(ctx context.Context, ownerID string, scope store.Scope, nodeIDs []string) (BatchResult, error) {
	r := b.reg
	selected, err := b.selection(scope, nodeIDs)
	if err != nil {
		return BatchResult{Scope: scope}, err
	}
	waves, err := graph.TopologicalWaves(selected, r.wf.Edges())
	if err != nil {
		return BatchResult{Scope: scope}, err
	}

	runID := uuid.NewString()
	start := r.cfg.now()
	r.cfg.emitter.Emit(emit.Event{
		RunID: runID,
		Msg:   emit.MsgScopeStart,
		Meta:  map[string]interface{}{"scope": string(scope), "nodes": len(selected)},
	})

	var (
		mu      sync.Mutex
		results []Result
		failed  = make(map[string]bool)
		tracker = model.NewCostTracker()
	)
	for _, wave := range waves {
		if err := ctx.Err(); err != nil {
			return BatchResult{Scope: scope}, err
		}
		Relay(r.wf, r.cfg.emitter)

		g := new(errgroup.Group)
		g.SetLimit(r.cfg.concurrency)
		for _, id := range wave {
			node, exec, err := r.lookup(id)
			if errors.Is(err, ErrNoExecutor) {
				n, _ := r.wf.Node(id)
				mu.Lock()
				failed[id] = true
				results = append(results, Result{
					NodeID:   id,
					NodeType: n.Type,
					Status:   store.StatusFailed,
					Err:      &RunError{Category: CategoryGeneric, Message: err.Error(), Cause: err},
				})
				mu.Unlock()
				continue
			}
			if err != nil {
				continue
			}
			mu.Lock()
			up := b.failedUpstream(id, failed)
			if up != "" {
				failed[id] = true
				results = append(results, skipped(node, up))
			}
			mu.Unlock()
			if up != "" {
				continue
			}
			g.Go(func() error {
				res := r.execute(ctx, runID, node, exec)
				if res.Outcome.Usage != nil {
					tracker.Record(res.Outcome.Model, *res.Outcome.Usage)
				}
				mu.Lock()
				defer mu.Unlock()
				if res.Status != store.StatusSuccess {
					failed[id] = true
				}
				results = append(results, res)
				return nil
			})
		}
		_ = g.Wait()
	}
	Relay(r.wf, r.cfg.emitter)

	br := BatchResult{
		Scope:    scope,
		Status:   scopeStatus(results),
		Duration: r.cfg.now().Sub(start),
		Results:  results,
		Cost:     tracker.Total(),
	}
	br.InputTokens, br.OutputTokens = tracker.Tokens()
	br.RunID = r.record(ctx, runID, ownerID, scope, br.Status, br.Duration, results)

	r.cfg.emitter.Emit(emit.Event{
		RunID: runID,
		Msg:   emit.MsgScopeDone,
		Meta: map[string]interface{}{
			"scope":       string(scope),
			"status":      string(br.Status),
			"nodes":       len(results),
			"failed":      len(br.Failed()),
			"duration_ms": br.Duration.Milliseconds(),
			"cost_usd":    br.Cost,
		},
	})
	return br, nil
}

// selection returns the ids to order, in workflow order. Passive nodes are
// kept so that waves respect dependencies through relays.
func (b *Batch) selection(scope store.Scope, nodeIDs []string) ([]string, error) {
	nodes := b.reg.wf.Nodes()
	if scope == store.ScopeFull {
		ids := make([]string, 0, len(nodes))
		for _, n := range nodes {
			ids = append(ids, n.ID)
		}
		return ids, nil
	}
	if scope == store.ScopeSingle && len(nodeIDs) != 1 {
		return nil, fmt.Errorf("single scope needs exactly one node, got %d", len(nodeIDs))
	}
	if len(nodeIDs) == 0 {
		return nil, fmt.Errorf("%s scope needs at least one node", scope)
	}

	want := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		if _, ok := b.reg.wf.Node(id); !ok {
			return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, id)
		}
		want[id] = true
	}
	ids := make([]string, 0, len(nodeIDs))
	for _, n := range nodes {
		if want[n.ID] {
			ids = append(ids, n.ID)
		}
	}
	return ids, nil
}

// failedUpstream returns a failed node feeding id, directly or through
// passive relays, or "".
func (b *Batch) failedUpstream(id string, failed map[string]bool) string {
	seen := make(map[string]bool)
	var walk func(string) string
	walk = func(id string) string {
		for _, p := range b.reg.wf.ConnectedProducers(id, "") {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			if failed[p.ID] {
				return p.ID
			}
			if !p.Type.Active() {
				if up := walk(p.ID); up != "" {
					return up
				}
			}
		}
		return ""
	}
	return walk(id)
}

func skipped(node graph.Node, upstream string) Result {
	msg := fmt.Sprintf("Skipped: upstream node %s failed", upstream)
	return Result{
		NodeID:   node.ID,
		NodeType: node.Type,
		Status:   store.StatusFailed,
		Err:      &RunError{Category: CategoryGeneric, Message: msg},
	}
}

func scopeStatus(results []Result) store.Status {
	var ok, bad int
	for _, r := range results {
		if r.Status == store.StatusSuccess {
			ok++
		} else {
			bad++
		}
	}
	switch {
	case bad == 0:
		return store.StatusSuccess
	case ok == 0:
		return store.StatusFailed
	}
	return store.StatusPartial
}
