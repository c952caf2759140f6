package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store.
//
// It keeps runs and documents in maps guarded by a mutex. Designed for:
//   - Testing and development
//   - Single-process use where history need not survive a restart
//
// MemStore is thread-safe. Returned values are deep copies.
type MemStore struct {
	mu        sync.RWMutex
	runs      []WorkflowRun // insertion order
	documents map[string]WorkflowDocument
	docOrder  []string
	now       func() time.Time
}

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		documents: make(map[string]WorkflowDocument),
		now:       time.Now,
	}
}

// CreateWorkflowRun implements Ledger.
func (m *MemStore) CreateWorkflowRun(ctx context.Context, run WorkflowRun) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	run = prepareRun(run, m.now())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, cloneRun(run))
	return run.ID, nil
}

// ListRuns implements Ledger. Ties on CreatedAt resolve newest insert first.
func (m *MemStore) ListRuns(ctx context.Context, ownerID string, limit int) ([]WorkflowRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []WorkflowRun
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].OwnerID == ownerID {
			out = append(out, cloneRun(m.runs[i]))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		sortNodeRunsDesc(out[i].NodeRuns)
	}
	return out, nil
}

// DeleteAllRuns implements Ledger.
func (m *MemStore) DeleteAllRuns(ctx context.Context, ownerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.runs[:0]
	deleted := 0
	for _, r := range m.runs {
		if r.OwnerID == ownerID {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.runs = kept
	return deleted, nil
}

// SaveWorkflow implements DocumentStore.
func (m *MemStore) SaveWorkflow(ctx context.Context, doc WorkflowDocument) (WorkflowDocument, error) {
	if err := ctx.Err(); err != nil {
		return WorkflowDocument{}, err
	}
	doc, err := prepareDocument(doc, m.now())
	if err != nil {
		return WorkflowDocument{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.documents[doc.ID]; !exists {
		m.docOrder = append(m.docOrder, doc.ID)
	}
	m.documents[doc.ID] = cloneDocument(doc)
	return doc, nil
}

// GetWorkflow implements DocumentStore.
func (m *MemStore) GetWorkflow(ctx context.Context, ownerID, id string) (WorkflowDocument, error) {
	if err := ctx.Err(); err != nil {
		return WorkflowDocument{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[id]
	if !ok || doc.OwnerID != ownerID {
		return WorkflowDocument{}, ErrNotFound
	}
	return cloneDocument(doc), nil
}

// ListWorkflows implements DocumentStore.
func (m *MemStore) ListWorkflows(ctx context.Context, ownerID string) ([]WorkflowDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []WorkflowDocument{}
	for i := len(m.docOrder) - 1; i >= 0; i-- {
		if doc := m.documents[m.docOrder[i]]; doc.OwnerID == ownerID {
			out = append(out, cloneDocument(doc))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// UpdateWorkflow implements DocumentStore.
func (m *MemStore) UpdateWorkflow(ctx context.Context, doc WorkflowDocument) (WorkflowDocument, error) {
	if err := ctx.Err(); err != nil {
		return WorkflowDocument{}, err
	}
	if !json.Valid(doc.Data) {
		return WorkflowDocument{}, errInvalidData
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.documents[doc.ID]
	if !ok || existing.OwnerID != doc.OwnerID {
		return WorkflowDocument{}, ErrNotFound
	}
	if doc.Name != "" {
		existing.Name = doc.Name
	}
	existing.Data = append(json.RawMessage(nil), doc.Data...)
	existing.UpdatedAt = m.now()
	m.documents[doc.ID] = existing

	// Move to the end so ties on UpdatedAt list the latest update first.
	for i, id := range m.docOrder {
		if id == doc.ID {
			m.docOrder = append(m.docOrder[:i], m.docOrder[i+1:]...)
			break
		}
	}
	m.docOrder = append(m.docOrder, doc.ID)
	return cloneDocument(existing), nil
}

// DeleteWorkflow implements DocumentStore.
func (m *MemStore) DeleteWorkflow(ctx context.Context, ownerID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[id]
	if !ok || doc.OwnerID != ownerID {
		return nil
	}
	delete(m.documents, id)
	for i, d := range m.docOrder {
		if d == id {
			m.docOrder = append(m.docOrder[:i], m.docOrder[i+1:]...)
			break
		}
	}
	return nil
}

// Close implements Store.
func (m *MemStore) Close() error {
	return nil
}

func sortNodeRunsDesc(runs []NodeRun) {
	// Reverse first so equal timestamps list the last recorded first.
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
}

func cloneRun(r WorkflowRun) WorkflowRun {
	r.NodeIDs = append([]string{}, r.NodeIDs...)
	nodeRuns := make([]NodeRun, len(r.NodeRuns))
	for i, nr := range r.NodeRuns {
		nr.Inputs = cloneMap(nr.Inputs)
		nr.Outputs = cloneMap(nr.Outputs)
		nodeRuns[i] = nr
	}
	r.NodeRuns = nodeRuns
	return r
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneDocument(d WorkflowDocument) WorkflowDocument {
	d.Data = append(json.RawMessage(nil), d.Data...)
	return d
}
