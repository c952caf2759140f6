package store

import (
	"context"
	"fmt"

	"github.com/dshills/weavegraph/graph"
)

// WorkflowPersister saves graph snapshots into an existing workflow
// document. It implements graph.Persister.
//
// Example usage:
//
//	wf, _ := graph.NewWorkflow(graph.WithPersister(store.WorkflowPersister{
//	    Docs: st, OwnerID: owner, WorkflowID: doc.ID,
//	}))
type WorkflowPersister struct {
	Docs       DocumentStore
	OwnerID    string
	WorkflowID string
}

// Persist implements graph.Persister.
func (p WorkflowPersister) Persist(ctx context.Context, doc graph.Document) error {
	data, err := graph.EncodeDocument(doc)
	if err != nil {
		return fmt.Errorf("encode workflow %s: %w", p.WorkflowID, err)
	}
	if _, err := p.Docs.UpdateWorkflow(ctx, WorkflowDocument{
		ID:      p.WorkflowID,
		OwnerID: p.OwnerID,
		Data:    data,
	}); err != nil {
		return fmt.Errorf("persist workflow %s: %w", p.WorkflowID, err)
	}
	return nil
}
