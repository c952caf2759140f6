package executor

import (
	"github.com/dshills/weavegraph/graph"
	"github.com/dshills/weavegraph/graph/emit"
)

// Relay copies resolved input into every passive node that has one, in
// dependency order so chained relays settle in a single pass. A text node
// takes all producers joined; an upload node takes its first producer.
// Nodes without a non-empty input keep their own value. It returns the
// ids of nodes whose data changed.
func Relay(wf *graph.Workflow, e emit.Emitter) []string {
	nodes := wf.Nodes()
	ids := make([]string, 0, len(nodes))
	types := make(map[string]graph.NodeType, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
		types[n.ID] = n.Type
	}
	waves, err := graph.TopologicalWaves(ids, wf.Edges())
	if err != nil {
		// The workflow admits only acyclic edge sets; fall back to
		// insertion order.
		waves = [][]string{ids}
	}

	var changed []string
	for _, wave := range waves {
		for _, id := range wave {
			if !types[id].Active() && relayNode(wf, e, id) {
				changed = append(changed, id)
			}
		}
	}
	return changed
}

func relayNode(wf *graph.Workflow, e emit.Emitter, id string) bool {
	node, ok := wf.Node(id)
	if !ok {
		return false
	}

	var (
		value   string
		found   bool
		field   string
		current string
	)
	switch d := node.Data.(type) {
	case *graph.TextData:
		value, found = wf.ResolveInput(id, graph.HandleInput)
		field, current = "text", d.Text
	case *graph.UploadImageData:
		value, found = wf.ResolveFirst(id, graph.HandleInput)
		field, current = "imageUrl", d.ImageURL
	case *graph.UploadVideoData:
		value, found = wf.ResolveFirst(id, graph.HandleInput)
		field, current = "videoUrl", d.VideoURL
	default:
		return false
	}
	if !found || value == "" || value == current {
		return false
	}
	if err := wf.UpdateNodeData(id, graph.Patch{field: value}); err != nil {
		return false
	}
	if e != nil {
		e.Emit(emit.Event{
			NodeID:   id,
			NodeType: string(node.Type),
			Msg:      emit.MsgRelay,
			Meta:     map[string]interface{}{"field": field, "length": len(value)},
		})
	}
	return true
}
