// Package store persists the run ledger and saved workflow documents.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested workflow document does not exist
// for the owner.
var ErrNotFound = errors.New("not found")

var errInvalidData = errors.New("workflow data is not valid JSON")

// DefaultListLimit caps ListRuns when the caller passes a non-positive limit.
const DefaultListLimit = 25

// DefaultWorkflowName is used when a document is saved without a name.
const DefaultWorkflowName = "Untitled Workflow"

// Scope describes how many nodes a workflow run covered.
type Scope string

const (
	ScopeSingle  Scope = "single"
	ScopePartial Scope = "partial"
	ScopeFull    Scope = "full"
)

// Status is the outcome of a workflow run or node run.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPartial Status = "partial"
)

// WorkflowRun is one ledger entry: a triggered execution and the node runs
// it produced. Duration is in milliseconds.
type WorkflowRun struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"ownerId"`
	WorkflowID string    `json:"workflowId,omitempty"`
	Status     Status    `json:"status"`
	Scope      Scope     `json:"scope"`
	Duration   int64     `json:"duration"`
	NodeIDs    []string  `json:"nodeIds"`
	CreatedAt  time.Time `json:"createdAt"`
	NodeRuns   []NodeRun `json:"nodeRuns"`
}

// NodeRun records a single node execution. Error is empty on success.
type NodeRun struct {
	ID            string         `json:"id"`
	WorkflowRunID string         `json:"workflowRunId"`
	NodeID        string         `json:"nodeId"`
	NodeType      string         `json:"nodeType"`
	Status        Status         `json:"status"`
	Duration      int64          `json:"duration"`
	Inputs        map[string]any `json:"inputs"`
	Outputs       map[string]any `json:"outputs,omitempty"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// WorkflowDocument is a saved graph. Data holds the {nodes, edges} JSON.
type WorkflowDocument struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"ownerId"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Ledger records workflow runs per owner.
type Ledger interface {
	// CreateWorkflowRun stores run and its node runs, assigning ids and
	// timestamps that are unset. Returns the run id.
	CreateWorkflowRun(ctx context.Context, run WorkflowRun) (string, error)

	// ListRuns returns the owner's most recent runs, newest first, each with
	// its node runs newest first. limit <= 0 means DefaultListLimit.
	ListRuns(ctx context.Context, ownerID string, limit int) ([]WorkflowRun, error)

	// DeleteAllRuns removes every run of the owner with its node runs and
	// returns how many workflow runs were deleted.
	DeleteAllRuns(ctx context.Context, ownerID string) (int, error)
}

// DocumentStore keeps saved workflow documents per owner.
type DocumentStore interface {
	// SaveWorkflow creates a document. An empty name becomes
	// DefaultWorkflowName.
	SaveWorkflow(ctx context.Context, doc WorkflowDocument) (WorkflowDocument, error)

	// GetWorkflow returns ErrNotFound when id does not belong to the owner.
	GetWorkflow(ctx context.Context, ownerID, id string) (WorkflowDocument, error)

	// ListWorkflows returns the owner's documents, most recently updated first.
	ListWorkflows(ctx context.Context, ownerID string) ([]WorkflowDocument, error)

	// UpdateWorkflow replaces data and, when non-empty, the name.
	UpdateWorkflow(ctx context.Context, doc WorkflowDocument) (WorkflowDocument, error)

	// DeleteWorkflow is idempotent.
	DeleteWorkflow(ctx context.Context, ownerID, id string) error
}

// Store is a complete persistence backend.
type Store interface {
	Ledger
	DocumentStore
	Close() error
}

// prepareRun fills ids and timestamps and normalizes nil slices.
func prepareRun(run WorkflowRun, now time.Time) WorkflowRun {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	if run.Scope == "" {
		run.Scope = ScopeSingle
	}
	if run.NodeIDs == nil {
		run.NodeIDs = []string{}
	}
	nodeRuns := make([]NodeRun, len(run.NodeRuns))
	for i, nr := range run.NodeRuns {
		if nr.ID == "" {
			nr.ID = uuid.NewString()
		}
		if nr.CreatedAt.IsZero() {
			nr.CreatedAt = run.CreatedAt
		}
		if nr.Inputs == nil {
			nr.Inputs = map[string]any{}
		}
		nr.WorkflowRunID = run.ID
		nodeRuns[i] = nr
	}
	run.NodeRuns = nodeRuns
	return run
}

func prepareDocument(doc WorkflowDocument, now time.Time) (WorkflowDocument, error) {
	if strings.TrimSpace(doc.OwnerID) == "" {
		return doc, errors.New("owner id is required")
	}
	if len(doc.Data) == 0 {
		return doc, errors.New("workflow data is required")
	}
	if !json.Valid(doc.Data) {
		return doc, errInvalidData
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if strings.TrimSpace(doc.Name) == "" {
		doc.Name = DefaultWorkflowName
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now
	return doc, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// DeletedMessage is the confirmation shown after DeleteAllRuns.
func DeletedMessage(n int) string {
	if n == 1 {
		return "Successfully deleted 1 workflow run"
	}
	return fmt.Sprintf("Successfully deleted %d workflow runs", n)
}
