package graph

import "fmt"

// Validator decides whether a proposed edge may be admitted.
//
// Rules, in order: no self-loop, both endpoints exist, the edge does not
// close a directed cycle. Handle kinds are compared last; a mismatch is
// reported in the Verdict but only rejects the edge when Strict is set.
type Validator struct {
	Strict bool
}

// Verdict is the outcome of checking one connection.
type Verdict struct {
	// Err is nil when the connection is admissible.
	Err error

	// KindMismatch is set when both handle kinds resolved and differ.
	KindMismatch bool
	SourceKind   DataKind
	TargetKind   DataKind
}

// Check validates c against the node types in nodes and the current edges.
func (v Validator) Check(nodes map[string]NodeType, edges []Edge, c Connection) Verdict {
	if c.Source == c.Target {
		return Verdict{Err: &NodeError{Message: "self-loop rejected", Code: "SELF_LOOP", NodeID: c.Source, Cause: ErrSelfLoop}}
	}
	srcType, ok := nodes[c.Source]
	if !ok {
		return Verdict{Err: &NodeError{Message: "source does not exist", Code: "NODE_NOT_FOUND", NodeID: c.Source, Cause: ErrNodeNotFound}}
	}
	dstType, ok := nodes[c.Target]
	if !ok {
		return Verdict{Err: &NodeError{Message: "target does not exist", Code: "NODE_NOT_FOUND", NodeID: c.Target, Cause: ErrNodeNotFound}}
	}
	if CreatesCycle(edges, c) {
		return Verdict{Err: &NodeError{
			Message: fmt.Sprintf("edge %s -> %s would create a cycle", c.Source, c.Target),
			Code:    "CYCLE",
			NodeID:  c.Source,
			Cause:   ErrCycle,
		}}
	}

	var verdict Verdict
	srcKind, srcOK := HandleKind(srcType, c.SourceHandle, true)
	dstKind, dstOK := HandleKind(dstType, c.TargetHandle, false)
	if srcOK && dstOK && srcKind != dstKind {
		verdict.KindMismatch = true
		verdict.SourceKind = srcKind
		verdict.TargetKind = dstKind
		if v.Strict {
			verdict.Err = &NodeError{
				Message: fmt.Sprintf("cannot connect %s output to %s input", srcKind, dstKind),
				Code:    "KIND_MISMATCH",
				NodeID:  c.Target,
				Cause:   ErrKindMismatch,
			}
		}
	}
	return verdict
}

const (
	white = iota // unvisited
	grey         // on the current DFS path
	black        // fully explored
)

// CreatesCycle reports whether adding c to edges would close a directed
// cycle. It runs a depth-first search from c.Source over the edges plus
// the candidate; meeting a grey node means a back edge.
func CreatesCycle(edges []Edge, c Connection) bool {
	adj := adjacency(edges)
	adj[c.Source] = append(adj[c.Source], c.Target)

	color := make(map[string]int, len(adj))
	var visit func(id string) bool
	visit = func(id string) bool {
		switch color[id] {
		case grey:
			return true
		case black:
			return false
		}
		color[id] = grey
		for _, next := range adj[id] {
			if visit(next) {
				return true
			}
		}
		color[id] = black
		return false
	}
	return visit(c.Source)
}

// ValidateGraph checks a complete node/edge set as produced by a bulk load:
// every edge must reference existing nodes, no edge may be a self-loop, and
// the edges must be acyclic. The first violation is returned as an
// *IntegrityError.
func ValidateGraph(nodes map[string]NodeType, edges []Edge) error {
	ids := make(map[string]struct{}, len(edges))
	for _, e := range edges {
		if _, dup := ids[e.ID]; dup {
			return &IntegrityError{EdgeID: e.ID, Cause: ErrDuplicateEdge}
		}
		ids[e.ID] = struct{}{}
		if e.Source == e.Target {
			return &IntegrityError{EdgeID: e.ID, Cause: ErrSelfLoop}
		}
		if _, ok := nodes[e.Source]; !ok {
			return &IntegrityError{EdgeID: e.ID, Cause: fmt.Errorf("source %q: %w", e.Source, ErrNodeNotFound)}
		}
		if _, ok := nodes[e.Target]; !ok {
			return &IntegrityError{EdgeID: e.ID, Cause: fmt.Errorf("target %q: %w", e.Target, ErrNodeNotFound)}
		}
	}
	if id, ok := findCycle(edges); ok {
		return &IntegrityError{EdgeID: id, Cause: ErrCycle}
	}
	return nil
}

// findCycle returns the id of an edge that closes a cycle, if any.
func findCycle(edges []Edge) (string, bool) {
	type arc struct{ to, id string }
	adj := make(map[string][]arc)
	var roots []string
	for _, e := range edges {
		if _, seen := adj[e.Source]; !seen {
			roots = append(roots, e.Source)
		}
		adj[e.Source] = append(adj[e.Source], arc{e.Target, e.ID})
	}

	color := make(map[string]int)
	var backEdge string
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		for _, a := range adj[id] {
			switch color[a.to] {
			case grey:
				backEdge = a.id
				return true
			case white:
				if visit(a.to) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	for _, r := range roots {
		if color[r] == white && visit(r) {
			return backEdge, true
		}
	}
	return "", false
}

func adjacency(edges []Edge) map[string][]string {
	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}
	return adj
}

// TopologicalWaves groups ids into dependency levels using only edges whose
// endpoints are both in ids. Nodes in a wave depend only on earlier waves.
// Order within a wave follows the order of ids.
func TopologicalWaves(ids []string, edges []Edge) ([][]string, error) {
	in := make(map[string]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}
	indeg := make(map[string]int, len(ids))
	next := make(map[string][]string)
	for _, e := range edges {
		if !in[e.Source] || !in[e.Target] {
			continue
		}
		indeg[e.Target]++
		next[e.Source] = append(next[e.Source], e.Target)
	}

	var waves [][]string
	done := 0
	current := make([]string, 0)
	for _, id := range ids {
		if indeg[id] == 0 {
			current = append(current, id)
		}
	}
	for len(current) > 0 {
		waves = append(waves, current)
		done += len(current)
		ready := make(map[string]bool)
		for _, id := range current {
			for _, t := range next[id] {
				indeg[t]--
				if indeg[t] == 0 {
					ready[t] = true
				}
			}
		}
		current = make([]string, 0, len(ready))
		for _, id := range ids {
			if ready[id] {
				current = append(current, id)
			}
		}
	}
	if done != len(ids) {
		return nil, &IntegrityError{Cause: ErrCycle}
	}
	return waves, nil
}
