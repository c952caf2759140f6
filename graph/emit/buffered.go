package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// Events are kept in emission order and can be queried by run, node, node
// type or event name. The HTTP server uses one with a limit to back the
// per-node event view; tests use it to assert on emitted events.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter()
//	wf := graph.NewWorkflow(graph.WithEmitter(emitter))
//
//	// ... mutate and run ...
//
//	rejected := emitter.GetHistoryWithFilter(emit.HistoryFilter{Msg: emit.MsgConnectRejected})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events []Event
	limit  int
}

// HistoryFilter specifies criteria for filtering buffered events.
//
// All fields are optional and combined with AND logic.
type HistoryFilter struct {
	RunID    string // Filter by run ID (empty = no filter)
	NodeID   string // Filter by node ID (empty = no filter)
	NodeType string // Filter by node type (empty = no filter)
	Msg      string // Filter by event name (empty = no filter)
}

// NewBufferedEmitter creates an unbounded BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{}
}

// NewBoundedEmitter creates a BufferedEmitter that keeps at most limit
// events, discarding the oldest first. A limit <= 0 means unbounded.
func NewBoundedEmitter(limit int) *BufferedEmitter {
	return &BufferedEmitter{limit: limit}
}

// Emit stores an event in the buffer.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)
	if b.limit > 0 && len(b.events) > b.limit {
		drop := len(b.events) - b.limit
		b.events = append(b.events[:0:0], b.events[drop:]...)
	}
}

// GetHistory returns all events recorded for runID, in emission order.
// Returns an empty slice when there are none.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	return b.GetHistoryWithFilter(HistoryFilter{RunID: runID})
}

// GetHistoryWithFilter returns a copy of the events matching filter.
func (b *BufferedEmitter) GetHistoryWithFilter(filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events {
		if !matchesFilter(event, filter) {
			continue
		}
		result = append(result, event)
	}
	return result
}

// Len returns the number of buffered events.
func (b *BufferedEmitter) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.RunID != "" && event.RunID != filter.RunID {
		return false
	}
	if filter.NodeID != "" && event.NodeID != filter.NodeID {
		return false
	}
	if filter.NodeType != "" && event.NodeType != filter.NodeType {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	return true
}

// Clear removes stored events. A non-empty runID clears only that run's
// events; an empty runID clears everything.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = nil
		return
	}
	kept := b.events[:0]
	for _, event := range b.events {
		if event.RunID != runID {
			kept = append(kept, event)
		}
	}
	b.events = kept
}
