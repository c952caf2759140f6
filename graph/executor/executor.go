// Package executor runs workflow nodes: it resolves their inputs, invokes
// the LLM or media capability behind each active node type, writes the
// result back into the workflow and records the run in the ledger.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/weavegraph/graph"
	"github.com/dshills/weavegraph/graph/emit"
	"github.com/dshills/weavegraph/graph/model"
	"github.com/dshills/weavegraph/graph/store"
)

// Executor performs the operation of one active node type.
//
// Run receives a copy of the node and its resolved inputs. On success the
// returned Outcome's Patch is merged into the node's data. On failure the
// Outcome still carries the inputs to record in the ledger.
type Executor interface {
	Run(ctx context.Context, node graph.Node, in Inputs) (Outcome, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, node graph.Node, in Inputs) (Outcome, error)

// Run implements Executor.
func (f ExecutorFunc) Run(ctx context.Context, node graph.Node, in Inputs) (Outcome, error) {
	return f(ctx, node, in)
}

// Inputs gives an executor access to the values flowing into its node.
type Inputs struct {
	NodeID   string
	Resolver graph.Resolver
	Emitter  emit.Emitter
	RunID    string

	cfg *config
}

func (in Inputs) settings() *config {
	if in.cfg == nil {
		c := defaultConfig()
		return &c
	}
	return in.cfg
}

// Text returns the aggregated text on handle, when any producer has one.
func (in Inputs) Text(handle string) (string, bool) {
	if in.Resolver == nil {
		return "", false
	}
	return in.Resolver.ResolveInput(in.NodeID, handle)
}

// First returns the first producer's value on handle.
func (in Inputs) First(handle string) (string, bool) {
	if in.Resolver == nil {
		return "", false
	}
	return in.Resolver.ResolveFirst(in.NodeID, handle)
}

// Images returns the image references connected to handle.
func (in Inputs) Images(handle string) []string {
	if in.Resolver == nil {
		return nil
	}
	return in.Resolver.ResolveImages(in.NodeID, handle)
}

func (in Inputs) emit(nodeType graph.NodeType, msg string, meta map[string]interface{}) {
	if in.Emitter == nil {
		return
	}
	in.Emitter.Emit(emit.Event{
		RunID:    in.RunID,
		NodeID:   in.NodeID,
		NodeType: string(nodeType),
		Msg:      msg,
		Meta:     meta,
	})
}

// Outcome is the result of an executor run.
type Outcome struct {
	// Patch is merged into the node's data on success.
	Patch graph.Patch

	// Inputs and Outputs are recorded in the node run ledger entry.
	Inputs  map[string]any
	Outputs map[string]any

	// Attempts is the number of calls made, including retries.
	Attempts int

	// Model, Usage and Cost are set when an LLM reported token usage.
	Model string
	Usage *model.Usage
	Cost  float64
}

// Result describes a completed node run.
type Result struct {
	// RunID is the ledger id, empty when no ledger is configured or the
	// ledger write failed. Run events carry the same id either way.
	RunID    string
	NodeID   string
	NodeType graph.NodeType
	Status   store.Status
	Duration time.Duration
	Outcome  Outcome
	// Err is the translated failure, nil on success.
	Err *RunError
}

// Registry maps node types to executors and runs nodes of one workflow.
//
// Example:
//
//	reg, _ := executor.NewRegistry(wf,
//	    executor.WithLedger(st),
//	    executor.WithEmitter(emitter),
//	)
//	reg.Register(graph.TypeLLM, executor.NewLLM(router))
//	res, err := reg.Run(ctx, "owner-1", llmNodeID)
type Registry struct {
	wf        *graph.Workflow
	executors map[graph.NodeType]Executor
	cfg       config
	tracer    trace.Tracer
}

// NewRegistry creates a registry bound to wf.
func NewRegistry(wf *graph.Workflow, opts ...Option) (*Registry, error) {
	if wf == nil {
		return nil, errors.New("workflow cannot be nil")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("executor option: %w", err)
		}
	}
	return &Registry{
		wf:        wf,
		executors: make(map[graph.NodeType]Executor),
		cfg:       cfg,
		tracer:    otel.Tracer("weavegraph/executor"),
	}, nil
}

// Register sets the executor for an active node type. A nil executor
// removes it.
func (r *Registry) Register(t graph.NodeType, e Executor) error {
	if !t.Active() {
		return fmt.Errorf("%w: %s", ErrNotRunnable, t)
	}
	if e == nil {
		delete(r.executors, t)
		return nil
	}
	r.executors[t] = e
	return nil
}

// Workflow returns the workflow the registry runs.
func (r *Registry) Workflow() *graph.Workflow {
	return r.wf
}

// Run executes one node for owner and records a single-scope ledger
// entry. The returned error is the translated *RunError on a failed run,
// or a structural error (unknown node, passive node, no executor) in
// which case nothing was run.
func (r *Registry) Run(ctx context.Context, ownerID, nodeID string) (Result, error) {
	node, exec, err := r.lookup(nodeID)
	if err != nil {
		return Result{NodeID: nodeID}, err
	}

	Relay(r.wf, r.cfg.emitter)
	runID := uuid.NewString()
	res := r.execute(ctx, runID, node, exec)
	res.RunID = r.record(ctx, runID, ownerID, store.ScopeSingle, res.Status, res.Duration, []Result{res})

	if res.Err != nil {
		return res, res.Err
	}
	return res, nil
}

func (r *Registry) lookup(nodeID string) (graph.Node, Executor, error) {
	node, ok := r.wf.Node(nodeID)
	if !ok {
		return graph.Node{}, nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, nodeID)
	}
	if !node.Type.Active() {
		return graph.Node{}, nil, fmt.Errorf("%w: %s", ErrNotRunnable, node.Type)
	}
	exec, ok := r.executors[node.Type]
	if !ok {
		return graph.Node{}, nil, fmt.Errorf("%w: %s", ErrNoExecutor, node.Type)
	}
	return node, exec, nil
}

// execute performs the common run contract for one node without touching
// the ledger. Events carry runID, which record later uses as the ledger id.
func (r *Registry) execute(ctx context.Context, runID string, node graph.Node, exec Executor) Result {
	start := r.cfg.now()

	ctx, span := r.tracer.Start(ctx, "node.run", trace.WithAttributes(
		attribute.String("node.id", node.ID),
		attribute.String("node.type", string(node.Type)),
	))
	defer span.End()

	r.cfg.metrics.AddInflight(1)
	defer r.cfg.metrics.AddInflight(-1)

	r.setState(node.ID, graph.Patch{"isRunning": true, "error": ""})
	r.emit(runID, node, emit.MsgRunStart, nil)

	in := Inputs{NodeID: node.ID, Resolver: r.wf, Emitter: r.cfg.emitter, RunID: runID, cfg: &r.cfg}
	out, err := exec.Run(ctx, node, in)
	duration := r.cfg.now().Sub(start)

	res := Result{NodeID: node.ID, NodeType: node.Type, Duration: duration, Outcome: out}
	if err != nil {
		res.Status = store.StatusFailed
		res.Err = Translate(err)
		r.setState(node.ID, graph.Patch{"isRunning": false, "error": res.Err.Message})

		span.RecordError(err)
		span.SetStatus(codes.Error, res.Err.Message)
		r.cfg.metrics.RecordRun(node.Type, string(store.StatusFailed), duration)
		r.emit(runID, node, emit.MsgRunError, map[string]interface{}{
			"error":       res.Err.Message,
			"category":    string(res.Err.Category),
			"cause":       err.Error(),
			"duration_ms": duration.Milliseconds(),
			"attempts":    out.Attempts,
		})
		return res
	}

	patch := graph.Patch{}
	for k, v := range out.Patch {
		patch[k] = v
	}
	patch["isRunning"] = false
	patch["error"] = ""
	if perr := r.wf.UpdateNodeData(node.ID, patch); perr != nil {
		res.Status = store.StatusFailed
		res.Err = &RunError{Category: CategoryGeneric, Message: perr.Error(), Cause: perr}
		r.setState(node.ID, graph.Patch{"isRunning": false, "error": res.Err.Message})
		span.SetStatus(codes.Error, res.Err.Message)
		r.cfg.metrics.RecordRun(node.Type, string(store.StatusFailed), duration)
		return res
	}

	res.Status = store.StatusSuccess
	span.SetStatus(codes.Ok, "")
	r.cfg.metrics.RecordRun(node.Type, string(store.StatusSuccess), duration)
	meta := map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
		"attempts":    out.Attempts,
	}
	if out.Usage != nil {
		meta["input_tokens"] = out.Usage.InputTokens
		meta["output_tokens"] = out.Usage.OutputTokens
		meta["cost_usd"] = out.Cost
	}
	r.emit(runID, node, emit.MsgRunSuccess, meta)
	return res
}

// record writes one workflow run holding a node run per result. Failures
// are reported through events and metrics and yield an empty id.
func (r *Registry) record(ctx context.Context, runID, ownerID string, scope store.Scope, status store.Status, duration time.Duration, results []Result) string {
	if r.cfg.ledger == nil || len(results) == 0 {
		return ""
	}

	now := r.cfg.now()
	run := store.WorkflowRun{
		ID:         runID,
		OwnerID:    ownerID,
		WorkflowID: r.cfg.workflowID,
		Status:     status,
		Scope:      scope,
		Duration:   duration.Milliseconds(),
		CreatedAt:  now,
	}
	for _, res := range results {
		run.NodeIDs = append(run.NodeIDs, res.NodeID)
		nr := store.NodeRun{
			NodeID:    res.NodeID,
			NodeType:  string(res.NodeType),
			Status:    res.Status,
			Duration:  res.Duration.Milliseconds(),
			Inputs:    res.Outcome.Inputs,
			CreatedAt: now,
		}
		if res.Err != nil {
			nr.Error = res.Err.Message
		} else {
			nr.Outputs = res.Outcome.Outputs
		}
		run.NodeRuns = append(run.NodeRuns, nr)
	}

	id, err := r.cfg.ledger.CreateWorkflowRun(ctx, run)
	if err != nil {
		r.cfg.metrics.IncrementLedgerFailures()
		r.cfg.emitter.Emit(emit.Event{
			RunID: runID,
			Msg:   emit.MsgLedgerWriteFailed,
			Meta: map[string]interface{}{
				"error":   err.Error(),
				"owner":   ownerID,
				"nodes":   run.NodeIDs,
				"warning": true,
			},
		})
		return ""
	}
	return id
}

func (r *Registry) setState(nodeID string, p graph.Patch) {
	// RunState fields always decode, so the only failure is an absent node,
	// which UpdateNodeData already treats as a no-op.
	_ = r.wf.UpdateNodeData(nodeID, p)
}

func (r *Registry) emit(runID string, node graph.Node, msg string, meta map[string]interface{}) {
	r.cfg.emitter.Emit(emit.Event{
		RunID:    runID,
		NodeID:   node.ID,
		NodeType: string(node.Type),
		Msg:      msg,
		Meta:     meta,
	})
}
