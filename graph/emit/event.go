package emit

// Event represents an observability event emitted by the workflow engine.
//
// Events cover graph mutations (node added, edge rejected), node runs
// (start, success, error, retry) and side channels such as ledger writes.
// They are delivered to an Emitter which may log them, buffer them for
// inspection, or turn them into OpenTelemetry spans.
type Event struct {
	// RunID identifies the node run or workflow run that emitted this event.
	// Empty for graph mutation events.
	RunID string

	// NodeID identifies the node the event concerns.
	// Empty for workflow-level events.
	NodeID string

	// NodeType is the wire name of the node type ("llm", "cropImage", ...).
	NodeType string

	// Msg is the event name, e.g. "node_run_start" or "connection_rejected".
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": execution duration in milliseconds
	//   - "error": error details
	//   - "attempt": 1-based attempt number for retried calls
	//   - "reason": rejection or retry reason
	//   - "warning": true for events that indicate a tolerated problem
	Meta map[string]interface{}
}

// Standard event names.
const (
	MsgNodeAdded         = "node_added"
	MsgNodeDeleted       = "node_deleted"
	MsgNodeUpdated       = "node_updated"
	MsgEdgeAdded         = "edge_added"
	MsgEdgeRemoved       = "edge_removed"
	MsgConnectRejected   = "connection_rejected"
	MsgKindMismatch      = "connection_kind_mismatch"
	MsgWorkflowLoaded    = "workflow_loaded"
	MsgPersistFailed     = "persist_failed"
	MsgRunStart          = "node_run_start"
	MsgRunSuccess        = "node_run_success"
	MsgRunError          = "node_run_error"
	MsgRelay             = "node_relay"
	MsgLLMRetry          = "llm_retry"
	MsgImageDropped      = "image_dropped"
	MsgLedgerWriteFailed = "ledger_write_failed"
	MsgScopeStart        = "scope_run_start"
	MsgScopeDone         = "scope_run_done"
)

// IsWarning reports whether the event marks a tolerated problem.
func (e Event) IsWarning() bool {
	w, _ := e.Meta["warning"].(bool)
	return w
}

// Err returns the "error" meta value, if any.
func (e Event) Err() string {
	s, _ := e.Meta["error"].(string)
	return s
}
