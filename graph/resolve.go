package graph

import "strings"

// Resolver computes effective input values from upstream node state.
// *Workflow implements it.
type Resolver interface {
	ConnectedProducers(nodeID, handleID string) []Node
	ResolveValue(nodeID, outputHandle string) (string, bool)
	ResolveInput(nodeID, handleID string) (string, bool)
	ResolveFirst(nodeID, handleID string) (string, bool)
	ResolveImages(nodeID, handleID string) []string
	HasIncoming(nodeID, handleID string) bool
}

// InputSeparator joins the values of several producers feeding one handle.
const InputSeparator = "\n\n"

// ConnectedProducers returns, in edge insertion order, the source node of
// every edge targeting nodeID at handleID. An empty handleID matches any
// input handle. Edges whose source no longer exists are skipped.
func (w *Workflow) ConnectedProducers(nodeID, handleID string) []Node {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var out []Node
	for _, e := range w.incomingLocked(nodeID, handleID) {
		if i, ok := w.index[e.Source]; ok {
			out = append(out, w.nodes[i].Clone())
		}
	}
	return out
}

// HasIncoming reports whether any edge targets nodeID at handleID.
func (w *Workflow) HasIncoming(nodeID, handleID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.incomingLocked(nodeID, handleID)) > 0
}

// ResolveValue returns the current value a node exposes on outputHandle.
// The boolean is false when the node is absent, has produced nothing yet,
// or the handle does not carry a value for its type.
func (w *Workflow) ResolveValue(nodeID, outputHandle string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	i, ok := w.index[nodeID]
	if !ok {
		return "", false
	}
	return projectValue(w.nodes[i].Data, outputHandle)
}

// ResolveInput aggregates every producer connected to nodeID's handleID.
// Values are taken from each edge's source handle, kept in edge order,
// empty ones skipped, and joined with InputSeparator.
func (w *Workflow) ResolveInput(nodeID, handleID string) (string, bool) {
	values := w.resolveAll(nodeID, handleID)
	if len(values) == 0 {
		return "", false
	}
	return strings.Join(values, InputSeparator), true
}

// ResolveFirst returns the value of the first connected producer, if it
// has one.
func (w *Workflow) ResolveFirst(nodeID, handleID string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, e := range w.incomingLocked(nodeID, handleID) {
		i, ok := w.index[e.Source]
		if !ok {
			continue
		}
		v, ok := projectValue(w.nodes[i].Data, e.sourceHandle())
		if ok && strings.TrimSpace(v) != "" {
			return v, true
		}
		return "", false
	}
	return "", false
}

// ResolveImages aggregates image references connected to handleID,
// keeping only values that look like usable references.
func (w *Workflow) ResolveImages(nodeID, handleID string) []string {
	var out []string
	for _, v := range w.resolveAll(nodeID, handleID) {
		if IsImageRef(v) {
			out = append(out, v)
		}
	}
	return out
}

// IsImageRef reports whether v begins with a recognized reference scheme:
// a data URI or an http(s) URL.
func IsImageRef(v string) bool {
	return strings.HasPrefix(v, "data:") ||
		strings.HasPrefix(v, "http://") ||
		strings.HasPrefix(v, "https://")
}

func (w *Workflow) resolveAll(nodeID, handleID string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var values []string
	for _, e := range w.incomingLocked(nodeID, handleID) {
		i, ok := w.index[e.Source]
		if !ok {
			continue
		}
		v, ok := projectValue(w.nodes[i].Data, e.sourceHandle())
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		values = append(values, v)
	}
	return values
}

func (w *Workflow) incomingLocked(nodeID, handleID string) []Edge {
	var out []Edge
	for _, e := range w.edges {
		if e.Target != nodeID {
			continue
		}
		if handleID != "" && e.TargetHandle != handleID {
			continue
		}
		out = append(out, e)
	}
	return out
}

// projectValue is the per-type output projection. Passive nodes expose
// their value on any handle; active nodes only on the output handle.
func projectValue(data NodeData, handle string) (string, bool) {
	var v string
	switch d := data.(type) {
	case *TextData:
		v = d.Text
	case *UploadImageData:
		v = d.ImageURL
	case *UploadVideoData:
		v = d.VideoURL
	case *LLMData:
		if handle != OutputHandle {
			return "", false
		}
		v = d.Output
	case *CropImageData:
		if handle != OutputHandle {
			return "", false
		}
		v = d.OutputURL
	case *ExtractFrameData:
		if handle != OutputHandle {
			return "", false
		}
		v = d.OutputURL
	default:
		return "", false
	}
	return v, v != ""
}
