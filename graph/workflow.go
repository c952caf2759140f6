package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/weavegraph/graph/emit"
)

// Patch is a partial node data update keyed by JSON field name, e.g.
// Patch{"text": "hello"} or Patch{"xPercent": 10, "widthPercent": 50}.
type Patch map[string]interface{}

// Observer is notified with a copy of a node after its data changes.
type Observer func(Node)

// Persister stores a snapshot of the graph. Snapshots passed to Persist
// have already been through PersistFilter.
type Persister interface {
	Persist(ctx context.Context, doc Document) error
}

// Workflow is the authoritative in-memory graph of nodes and edges.
//
// All mutations are synchronous and atomic with respect to each other.
// Node data updates are shallow merges, so concurrent updates to different
// fields of a node both survive; concurrent updates to the same field are
// last-writer-wins. Edge insertion order is preserved and is the order in
// which multi-producer inputs are concatenated.
//
// Example:
//
//	wf, _ := graph.NewWorkflow(graph.WithEmitter(emitter))
//	a, _ := wf.AddNode(graph.NewNode(graph.TypeText, graph.Position{}))
//	b, _ := wf.AddNode(graph.NewNode(graph.TypeLLM, graph.Position{X: 300}))
//	wf.Connect(graph.Connection{
//	    Source: a.ID, SourceHandle: graph.OutputHandle,
//	    Target: b.ID, TargetHandle: graph.HandleUserMessage,
//	})
type Workflow struct {
	mu    sync.RWMutex
	nodes []Node
	index map[string]int
	edges []Edge

	name      string
	validator Validator
	emitter   emit.Emitter
	metrics   *PrometheusMetrics
	persister Persister
	observers []Observer

	persistMu sync.Mutex
}

// NewWorkflow creates an empty workflow.
func NewWorkflow(opts ...Option) (*Workflow, error) {
	cfg := workflowConfig{emitter: emit.NewNullEmitter(), name: DefaultWorkflowName}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("workflow option: %w", err)
		}
	}
	return &Workflow{
		index:     make(map[string]int),
		name:      cfg.name,
		validator: Validator{Strict: cfg.strict},
		emitter:   cfg.emitter,
		metrics:   cfg.metrics,
		persister: cfg.persister,
		observers: cfg.observers,
	}, nil
}

// AddNode appends n to the graph and returns the stored copy. An empty id
// is replaced with a fresh one and nil data with the type's defaults.
func (w *Workflow) AddNode(n Node) (Node, error) {
	if !n.Type.Valid() {
		return Node{}, fmt.Errorf("%w: %q", ErrUnknownNodeType, n.Type)
	}
	if n.ID == "" {
		n.ID = NewNodeID(n.Type)
	}
	if n.Data == nil {
		n.Data = NewData(n.Type)
	}
	if n.Data.NodeType() != n.Type {
		return Node{}, &NodeError{Message: "data variant " + string(n.Data.NodeType()) + " on " + string(n.Type) + " node", Code: "DATA_MISMATCH", NodeID: n.ID, Cause: ErrDataMismatch}
	}
	n = n.Clone()

	w.mu.Lock()
	if _, exists := w.index[n.ID]; exists {
		w.mu.Unlock()
		return Node{}, &NodeError{Message: "duplicate node id", Code: "DUPLICATE_NODE", NodeID: n.ID, Cause: ErrDuplicateNode}
	}
	w.index[n.ID] = len(w.nodes)
	w.nodes = append(w.nodes, n)
	nodeCount, edgeCount := len(w.nodes), len(w.edges)
	w.mu.Unlock()

	w.metrics.SetGraphSize(w.name, nodeCount, edgeCount)
	w.emitter.Emit(emit.Event{NodeID: n.ID, NodeType: string(n.Type), Msg: emit.MsgNodeAdded})
	w.persist()
	return n.Clone(), nil
}

// DeleteNode removes the node and every edge touching it. Deleting an
// absent id is a no-op. The result reports whether a node was removed.
func (w *Workflow) DeleteNode(id string) bool {
	w.mu.Lock()
	i, ok := w.index[id]
	if !ok {
		w.mu.Unlock()
		return false
	}
	removed := w.nodes[i]
	w.nodes = append(w.nodes[:i], w.nodes[i+1:]...)
	w.reindex()

	kept := w.edges[:0]
	var dropped []Edge
	for _, e := range w.edges {
		if e.Source == id || e.Target == id {
			dropped = append(dropped, e)
			continue
		}
		kept = append(kept, e)
	}
	w.edges = kept
	nodeCount, edgeCount := len(w.nodes), len(w.edges)
	w.mu.Unlock()

	w.metrics.SetGraphSize(w.name, nodeCount, edgeCount)
	w.emitter.Emit(emit.Event{
		NodeID:   id,
		NodeType: string(removed.Type),
		Msg:      emit.MsgNodeDeleted,
		Meta:     map[string]interface{}{"edges_removed": len(dropped)},
	})
	w.persist()
	return true
}

// UpdateNodeData shallow-merges patch into the node's data. Keys that are
// not fields of the node's variant are ignored. An absent node is a no-op.
// A value of the wrong JSON type for its field returns an error and leaves
// the node unchanged.
func (w *Workflow) UpdateNodeData(id string, patch Patch) error {
	if len(patch) == 0 {
		return nil
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode patch for node %s: %w", id, err)
	}

	w.mu.Lock()
	i, ok := w.index[id]
	if !ok {
		w.mu.Unlock()
		return nil
	}
	merged := w.nodes[i].Data.clone()
	if err := json.Unmarshal(raw, merged); err != nil {
		w.mu.Unlock()
		return &NodeError{Message: "invalid data patch: " + err.Error(), Code: "INVALID_PATCH", NodeID: id, Cause: err}
	}
	w.nodes[i].Data = merged
	updated := w.nodes[i].Clone()
	w.mu.Unlock()

	for _, o := range w.observers {
		o(updated.Clone())
	}
	w.persist()
	return nil
}

// Connect admits c when the validator accepts it and returns the new edge.
// A rejected connection is a no-op: the reason is emitted as a
// "connection_rejected" event and the boolean is false. Connecting the
// same handles twice returns the existing edge.
func (w *Workflow) Connect(c Connection) (Edge, bool) {
	e, err := w.ConnectStrict(c)
	return e, err == nil
}

// ConnectStrict is Connect for callers that want the rejection reason.
func (w *Workflow) ConnectStrict(c Connection) (Edge, error) {
	w.mu.Lock()
	for _, e := range w.edges {
		if e.sameEndpoints(c) {
			w.mu.Unlock()
			return e, nil
		}
	}
	verdict := w.validator.Check(w.typesLocked(), w.edges, c)
	if verdict.Err != nil {
		w.mu.Unlock()
		code := errorCode(verdict.Err)
		w.metrics.IncrementRejected(code)
		w.emitter.Emit(emit.Event{
			NodeID: c.Target,
			Msg:    emit.MsgConnectRejected,
			Meta: map[string]interface{}{
				"source":  c.Source,
				"target":  c.Target,
				"reason":  code,
				"detail":  verdict.Err.Error(),
				"warning": true,
			},
		})
		return Edge{}, verdict.Err
	}
	edge := c.Edge()
	edge.ID = w.uniqueEdgeIDLocked(edge.ID)
	w.edges = append(w.edges, edge)
	nodeCount, edgeCount := len(w.nodes), len(w.edges)
	w.mu.Unlock()

	if verdict.KindMismatch {
		w.metrics.IncrementKindMismatch()
		w.emitter.Emit(emit.Event{
			NodeID: c.Target,
			Msg:    emit.MsgKindMismatch,
			Meta: map[string]interface{}{
				"edge_id":     edge.ID,
				"source_kind": string(verdict.SourceKind),
				"target_kind": string(verdict.TargetKind),
				"warning":     true,
			},
		})
	}
	w.metrics.SetGraphSize(w.name, nodeCount, edgeCount)
	w.emitter.Emit(emit.Event{
		NodeID: c.Target,
		Msg:    emit.MsgEdgeAdded,
		Meta:   map[string]interface{}{"edge_id": edge.ID, "source": c.Source},
	})
	w.persist()
	return edge, nil
}

// RemoveEdge deletes the edge with the given id.
func (w *Workflow) RemoveEdge(id string) bool {
	return w.RemoveEdgesMatching(func(e Edge) bool { return e.ID == id }) > 0
}

// RemoveEdgesMatching deletes every edge for which pred returns true and
// returns how many were removed.
func (w *Workflow) RemoveEdgesMatching(pred func(Edge) bool) int {
	w.mu.Lock()
	kept := w.edges[:0]
	var removed []Edge
	for _, e := range w.edges {
		if pred(e) {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	w.edges = kept
	nodeCount, edgeCount := len(w.nodes), len(w.edges)
	w.mu.Unlock()

	if len(removed) == 0 {
		return 0
	}
	w.metrics.SetGraphSize(w.name, nodeCount, edgeCount)
	for _, e := range removed {
		w.emitter.Emit(emit.Event{NodeID: e.Target, Msg: emit.MsgEdgeRemoved, Meta: map[string]interface{}{"edge_id": e.ID}})
	}
	w.persist()
	return len(removed)
}

// SetNodes replaces every node. Edges that no longer have both endpoints
// are dropped. Nodes are validated as in AddNode except that ids are
// required.
func (w *Workflow) SetNodes(nodes []Node) error {
	prepared, index, err := prepareNodes(nodes)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.nodes = prepared
	w.index = index
	kept := make([]Edge, 0, len(w.edges))
	for _, e := range w.edges {
		_, srcOK := index[e.Source]
		_, dstOK := index[e.Target]
		if srcOK && dstOK {
			kept = append(kept, e)
		}
	}
	w.edges = kept
	nodeCount, edgeCount := len(w.nodes), len(w.edges)
	w.mu.Unlock()

	w.metrics.SetGraphSize(w.name, nodeCount, edgeCount)
	w.persist()
	return nil
}

// SetEdges replaces every edge. The set is re-validated: dangling
// references, self-loops and cycles are reported as an *IntegrityError and
// leave the store unchanged. Edges without an id get their canonical id.
func (w *Workflow) SetEdges(edges []Edge) error {
	prepared := prepareEdges(edges)

	w.mu.Lock()
	if err := ValidateGraph(w.typesLocked(), prepared); err != nil {
		w.mu.Unlock()
		return err
	}
	w.edges = prepared
	nodeCount, edgeCount := len(w.nodes), len(w.edges)
	w.mu.Unlock()

	w.metrics.SetGraphSize(w.name, nodeCount, edgeCount)
	w.persist()
	return nil
}

// Load replaces the whole graph with doc after validating it as a unit and
// persists the result. A document that fails validation leaves the store
// unchanged.
func (w *Workflow) Load(doc Document) error {
	if err := w.replace(doc); err != nil {
		return err
	}
	w.persist()
	return nil
}

// Restore is Load without the persist step. It hydrates a workflow from
// the copy its persister already holds.
func (w *Workflow) Restore(doc Document) error {
	return w.replace(doc)
}

func (w *Workflow) replace(doc Document) error {
	nodes, index, err := prepareNodes(doc.Nodes)
	if err != nil {
		return err
	}
	edges := prepareEdges(doc.Edges)
	types := make(map[string]NodeType, len(nodes))
	for _, n := range nodes {
		types[n.ID] = n.Type
	}
	if err := ValidateGraph(types, edges); err != nil {
		return err
	}

	w.mu.Lock()
	w.nodes = nodes
	w.index = index
	w.edges = edges
	w.mu.Unlock()

	w.metrics.SetGraphSize(w.name, len(nodes), len(edges))
	w.emitter.Emit(emit.Event{
		Msg:  emit.MsgWorkflowLoaded,
		Meta: map[string]interface{}{"nodes": len(nodes), "edges": len(edges)},
	})
	return nil
}

// Node returns a copy of the node with the given id.
func (w *Workflow) Node(id string) (Node, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	i, ok := w.index[id]
	if !ok {
		return Node{}, false
	}
	return w.nodes[i].Clone(), true
}

// Nodes returns copies of all nodes in insertion order.
func (w *Workflow) Nodes() []Node {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Node, len(w.nodes))
	for i, n := range w.nodes {
		out[i] = n.Clone()
	}
	return out
}

// Edges returns a copy of the edge list in insertion order.
func (w *Workflow) Edges() []Edge {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Edge(nil), w.edges...)
}

// Snapshot returns a copy of the whole graph.
func (w *Workflow) Snapshot() Document {
	w.mu.RLock()
	defer w.mu.RUnlock()
	doc := Document{
		Nodes: make([]Node, len(w.nodes)),
		Edges: append([]Edge{}, w.edges...),
	}
	for i, n := range w.nodes {
		doc.Nodes[i] = n.Clone()
	}
	return doc
}

func (w *Workflow) typesLocked() map[string]NodeType {
	types := make(map[string]NodeType, len(w.nodes))
	for _, n := range w.nodes {
		types[n.ID] = n.Type
	}
	return types
}

// uniqueEdgeIDLocked returns id, or id with a numeric suffix when another
// edge already holds it.
func (w *Workflow) uniqueEdgeIDLocked(id string) string {
	taken := make(map[string]struct{}, len(w.edges))
	for _, e := range w.edges {
		taken[e.ID] = struct{}{}
	}
	candidate := id
	for n := 2; ; n++ {
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
		candidate = fmt.Sprintf("%s~%d", id, n)
	}
}

func (w *Workflow) reindex() {
	w.index = make(map[string]int, len(w.nodes))
	for i, n := range w.nodes {
		w.index[n.ID] = i
	}
}

func (w *Workflow) persist() {
	if w.persister == nil {
		return
	}
	w.persistMu.Lock()
	defer w.persistMu.Unlock()

	doc := PersistFilter(w.Snapshot())
	if err := w.persister.Persist(context.Background(), doc); err != nil {
		w.emitter.Emit(emit.Event{
			Msg:  emit.MsgPersistFailed,
			Meta: map[string]interface{}{"error": err.Error()},
		})
	}
}

func prepareNodes(nodes []Node) ([]Node, map[string]int, error) {
	out := make([]Node, 0, len(nodes))
	index := make(map[string]int, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			return nil, nil, errors.New("node id is required")
		}
		if !n.Type.Valid() {
			return nil, nil, &NodeError{Message: "unknown node type " + string(n.Type), Code: "UNKNOWN_TYPE", NodeID: n.ID, Cause: ErrUnknownNodeType}
		}
		if n.Data == nil {
			n.Data = NewData(n.Type)
		}
		if n.Data.NodeType() != n.Type {
			return nil, nil, &NodeError{Message: "data variant does not match type", Code: "DATA_MISMATCH", NodeID: n.ID, Cause: ErrDataMismatch}
		}
		if _, dup := index[n.ID]; dup {
			return nil, nil, &NodeError{Message: "duplicate node id", Code: "DUPLICATE_NODE", NodeID: n.ID, Cause: ErrDuplicateNode}
		}
		index[n.ID] = len(out)
		out = append(out, n.Clone())
	}
	return out, index, nil
}

func prepareEdges(edges []Edge) []Edge {
	out := make([]Edge, len(edges))
	for i, e := range edges {
		if e.ID == "" {
			e.ID = EdgeID(e.Connection())
		}
		out[i] = e
	}
	return out
}
