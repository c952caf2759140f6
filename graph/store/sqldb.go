package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// dialect holds the SQL that differs between database/sql backends.
type dialect struct {
	name   string
	schema []string
	// order is the column breaking created_at ties, newest insert first.
	order string
}

// sqlStore implements Store over database/sql with "?" placeholders.
// SQLiteStore and MySQLStore embed it with their own dialect.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
}

var errClosed = errors.New("store is closed")

func (s *sqlStore) createTables(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create %s schema: %w", s.dialect.name, err)
		}
	}
	return nil
}

func (s *sqlStore) checkOpen() error {
	if s.closed {
		return errClosed
	}
	return nil
}

// CreateWorkflowRun implements Ledger.
func (s *sqlStore) CreateWorkflowRun(ctx context.Context, run WorkflowRun) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return "", err
	}

	run = prepareRun(run, s.now())
	nodeIDs, err := json.Marshal(run.NodeIDs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal node ids: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, owner_id, workflow_id, status, scope, duration_ms, node_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.OwnerID, run.WorkflowID, string(run.Status), string(run.Scope),
		run.Duration, string(nodeIDs), run.CreatedAt.UnixMilli(),
	); err != nil {
		return "", fmt.Errorf("failed to insert workflow run: %w", err)
	}

	for _, nr := range run.NodeRuns {
		inputs, outputs, err := marshalIO(nr)
		if err != nil {
			return "", err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO node_runs (id, workflow_run_id, node_id, node_type, status, duration_ms, inputs, outputs, error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			nr.ID, run.ID, nr.NodeID, nr.NodeType, string(nr.Status), nr.Duration,
			inputs, outputs, nr.Error, nr.CreatedAt.UnixMilli(),
		); err != nil {
			return "", fmt.Errorf("failed to insert node run %s: %w", nr.NodeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit workflow run: %w", err)
	}
	return run.ID, nil
}

// ListRuns implements Ledger.
func (s *sqlStore) ListRuns(ctx context.Context, ownerID string, limit int) ([]WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, owner_id, workflow_id, status, scope, duration_ms, node_ids, created_at
		FROM workflow_runs WHERE owner_id = ?
		ORDER BY created_at DESC, %s DESC LIMIT ?`, s.dialect.order),
		ownerID, clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := []WorkflowRun{}
	index := make(map[string]int)
	for rows.Next() {
		var (
			run       WorkflowRun
			status    string
			scope     string
			nodeIDs   string
			createdAt int64
		)
		if err := rows.Scan(&run.ID, &run.OwnerID, &run.WorkflowID, &status, &scope,
			&run.Duration, &nodeIDs, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow run: %w", err)
		}
		run.Status = Status(status)
		run.Scope = Scope(scope)
		run.CreatedAt = time.UnixMilli(createdAt).UTC()
		if err := json.Unmarshal([]byte(nodeIDs), &run.NodeIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node ids: %w", err)
		}
		run.NodeRuns = []NodeRun{}
		index[run.ID] = len(runs)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflow runs: %w", err)
	}
	if len(runs) == 0 {
		return runs, nil
	}

	ids := make([]any, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	nodeRows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, workflow_run_id, node_id, node_type, status, duration_ms, inputs, outputs, error, created_at
		FROM node_runs WHERE workflow_run_id IN (%s)
		ORDER BY created_at DESC, %s DESC`, placeholders(len(ids)), s.dialect.order),
		ids...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query node runs: %w", err)
	}
	defer func() { _ = nodeRows.Close() }()

	for nodeRows.Next() {
		var (
			nr        NodeRun
			status    string
			inputs    string
			outputs   sql.NullString
			createdAt int64
		)
		if err := nodeRows.Scan(&nr.ID, &nr.WorkflowRunID, &nr.NodeID, &nr.NodeType, &status,
			&nr.Duration, &inputs, &outputs, &nr.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan node run: %w", err)
		}
		nr.Status = Status(status)
		nr.CreatedAt = time.UnixMilli(createdAt).UTC()
		if err := unmarshalIO(&nr, inputs, outputs); err != nil {
			return nil, err
		}
		i := index[nr.WorkflowRunID]
		runs[i].NodeRuns = append(runs[i].NodeRuns, nr)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate node runs: %w", err)
	}
	return runs, nil
}

// DeleteAllRuns implements Ledger.
func (s *sqlStore) DeleteAllRuns(ctx context.Context, ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM node_runs WHERE workflow_run_id IN
			(SELECT id FROM workflow_runs WHERE owner_id = ?)`, ownerID); err != nil {
		return 0, fmt.Errorf("failed to delete node runs: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM workflow_runs WHERE owner_id = ?`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete workflow runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted runs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return int(n), nil
}

// SaveWorkflow implements DocumentStore.
func (s *sqlStore) SaveWorkflow(ctx context.Context, doc WorkflowDocument) (WorkflowDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return WorkflowDocument{}, err
	}

	doc, err := prepareDocument(doc, s.now())
	if err != nil {
		return WorkflowDocument{}, err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, owner_id, name, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.OwnerID, doc.Name, string(doc.Data),
		doc.CreatedAt.UnixMilli(), doc.UpdatedAt.UnixMilli(),
	); err != nil {
		return WorkflowDocument{}, fmt.Errorf("failed to insert workflow: %w", err)
	}
	return doc, nil
}

// GetWorkflow implements DocumentStore.
func (s *sqlStore) GetWorkflow(ctx context.Context, ownerID, id string) (WorkflowDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return WorkflowDocument{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, data, created_at, updated_at
		FROM workflows WHERE id = ? AND owner_id = ?`, id, ownerID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkflowDocument{}, ErrNotFound
	}
	if err != nil {
		return WorkflowDocument{}, fmt.Errorf("failed to load workflow: %w", err)
	}
	return doc, nil
}

// ListWorkflows implements DocumentStore.
func (s *sqlStore) ListWorkflows(ctx context.Context, ownerID string) ([]WorkflowDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, data, created_at, updated_at
		FROM workflows WHERE owner_id = ?
		ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs := []WorkflowDocument{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflows: %w", err)
	}
	return docs, nil
}

// UpdateWorkflow implements DocumentStore.
func (s *sqlStore) UpdateWorkflow(ctx context.Context, doc WorkflowDocument) (WorkflowDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return WorkflowDocument{}, err
	}
	if !json.Valid(doc.Data) {
		return WorkflowDocument{}, errInvalidData
	}

	now := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows
		SET name = CASE WHEN ? = '' THEN name ELSE ? END, data = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?`,
		doc.Name, doc.Name, string(doc.Data), now, doc.ID, doc.OwnerID,
	)
	if err != nil {
		return WorkflowDocument{}, fmt.Errorf("failed to update workflow: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// MySQL reports zero for rows matched but unchanged; confirm it exists.
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM workflows WHERE id = ? AND owner_id = ?`,
			doc.ID, doc.OwnerID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return WorkflowDocument{}, ErrNotFound
		}
		if err != nil {
			return WorkflowDocument{}, fmt.Errorf("failed to load workflow: %w", err)
		}
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, data, created_at, updated_at
		FROM workflows WHERE id = ? AND owner_id = ?`, doc.ID, doc.OwnerID)
	updated, err := scanDocument(row)
	if err != nil {
		return WorkflowDocument{}, fmt.Errorf("failed to load workflow: %w", err)
	}
	return updated, nil
}

// DeleteWorkflow implements DocumentStore.
func (s *sqlStore) DeleteWorkflow(ctx context.Context, ownerID, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ? AND owner_id = ?`, id, ownerID); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	return nil
}

// Close closes the database connection. Further calls fail.
func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (WorkflowDocument, error) {
	var (
		doc                  WorkflowDocument
		data                 string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&doc.ID, &doc.OwnerID, &doc.Name, &data, &createdAt, &updatedAt); err != nil {
		return WorkflowDocument{}, err
	}
	doc.Data = json.RawMessage(data)
	doc.CreatedAt = time.UnixMilli(createdAt).UTC()
	doc.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return doc, nil
}

// marshalIO encodes a node run's inputs and outputs. Outputs may be NULL.
func marshalIO(nr NodeRun) (string, any, error) {
	inputs, err := json.Marshal(nr.Inputs)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal inputs of %s: %w", nr.NodeID, err)
	}
	if nr.Outputs == nil {
		return string(inputs), nil, nil
	}
	outputs, err := json.Marshal(nr.Outputs)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal outputs of %s: %w", nr.NodeID, err)
	}
	return string(inputs), string(outputs), nil
}

func unmarshalIO(nr *NodeRun, inputs string, outputs sql.NullString) error {
	if err := json.Unmarshal([]byte(inputs), &nr.Inputs); err != nil {
		return fmt.Errorf("failed to unmarshal inputs of %s: %w", nr.NodeID, err)
	}
	if outputs.Valid {
		if err := json.Unmarshal([]byte(outputs.String), &nr.Outputs); err != nil {
			return fmt.Errorf("failed to unmarshal outputs of %s: %w", nr.NodeID, err)
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
