package graph

import (
	"errors"
	"fmt"
)

// Structural errors returned by the validator and the store.
var (
	// ErrSelfLoop indicates an edge whose source and target are the same node.
	ErrSelfLoop = errors.New("edge would connect a node to itself")

	// ErrNodeNotFound indicates a reference to a node id absent from the store.
	ErrNodeNotFound = errors.New("node not found")

	// ErrCycle indicates an edge set that contains a directed cycle.
	ErrCycle = errors.New("edge would create a cycle")

	// ErrKindMismatch indicates connected handles carry different data kinds.
	// Only returned when strict kind checking is enabled.
	ErrKindMismatch = errors.New("handle data kinds do not match")

	// ErrDuplicateNode indicates AddNode was given an id already in use.
	ErrDuplicateNode = errors.New("duplicate node id")

	// ErrDuplicateEdge indicates two edges in one set share an id.
	ErrDuplicateEdge = errors.New("duplicate edge id")

	// ErrUnknownNodeType indicates a node type outside the supported set.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrDataMismatch indicates node data whose variant does not match the node type.
	ErrDataMismatch = errors.New("node data variant does not match node type")
)

// NodeError represents an error concerning a specific node.
// It provides structured error information for observability and for
// mapping to API responses.
type NodeError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code, e.g. "SELF_LOOP" or "CYCLE".
	Code string

	// NodeID identifies which node the error concerns.
	NodeID string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause error.
func (e *NodeError) Unwrap() error {
	return e.Cause
}

// IntegrityError reports a bulk-loaded graph that violates a structural
// invariant. The store is left unchanged when one is returned.
type IntegrityError struct {
	// EdgeID is the first offending edge, when known.
	EdgeID string
	Cause  error
}

func (e *IntegrityError) Error() string {
	if e.EdgeID != "" {
		return fmt.Sprintf("graph integrity: edge %s: %v", e.EdgeID, e.Cause)
	}
	return fmt.Sprintf("graph integrity: %v", e.Cause)
}

func (e *IntegrityError) Unwrap() error { return e.Cause }

// ValidationError reports a malformed run request, such as a missing
// required input. Its message is safe to show to end users.
type ValidationError struct {
	NodeID  string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a ValidationError for a node field.
func NewValidationError(nodeID, field, msg string) *ValidationError {
	return &ValidationError{NodeID: nodeID, Field: field, Message: msg}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrSelfLoop):
		return "SELF_LOOP"
	case errors.Is(err, ErrNodeNotFound):
		return "NODE_NOT_FOUND"
	case errors.Is(err, ErrCycle):
		return "CYCLE"
	case errors.Is(err, ErrKindMismatch):
		return "KIND_MISMATCH"
	case errors.Is(err, ErrDuplicateNode):
		return "DUPLICATE_NODE"
	case errors.Is(err, ErrDuplicateEdge):
		return "DUPLICATE_EDGE"
	}
	return "INVALID"
}
