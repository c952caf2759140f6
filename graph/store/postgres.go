package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements Store using PostgreSQL via pgx.
type PGStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

const pgSchemaSQL = `
CREATE TABLE IF NOT EXISTS workflow_runs (
    seq         BIGSERIAL,
    id          TEXT PRIMARY KEY,
    owner_id    TEXT NOT NULL,
    workflow_id TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    scope       TEXT NOT NULL,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    node_ids    JSONB NOT NULL DEFAULT '[]',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS node_runs (
    seq             BIGSERIAL,
    id              TEXT PRIMARY KEY,
    workflow_run_id TEXT NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
    node_id         TEXT NOT NULL,
    node_type       TEXT NOT NULL,
    status          TEXT NOT NULL,
    duration_ms     BIGINT NOT NULL DEFAULT 0,
    inputs          JSONB NOT NULL DEFAULT '{}',
    outputs         JSONB,
    error           TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS workflows (
    id         TEXT PRIMARY KEY,
    owner_id   TEXT NOT NULL,
    name       TEXT NOT NULL,
    data       JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_workflow_runs_owner ON workflow_runs(owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_node_runs_run       ON node_runs(workflow_run_id);
CREATE INDEX IF NOT EXISTS idx_workflows_owner     ON workflows(owner_id, updated_at);
`

// NewPGStore wraps an existing pool.
func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db, now: time.Now}
}

// OpenPGStore connects to databaseURL and creates the schema.
func OpenPGStore(ctx context.Context, databaseURL string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open Postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}
	s := NewPGStore(pool)
	if err := s.CreateSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// CreateSchema creates the ledger and document tables if they don't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, pgSchemaSQL); err != nil {
		return fmt.Errorf("failed to create postgres schema: %w", err)
	}
	return nil
}

// DropSchema drops every table owned by the store.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS node_runs, workflow_runs, workflows CASCADE;`)
	return err
}

// CreateWorkflowRun implements Ledger.
func (s *PGStore) CreateWorkflowRun(ctx context.Context, run WorkflowRun) (string, error) {
	run = prepareRun(run, s.now())

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO workflow_runs (id, owner_id, workflow_id, status, scope, duration_ms, node_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.OwnerID, run.WorkflowID, string(run.Status), string(run.Scope),
		run.Duration, run.NodeIDs, run.CreatedAt,
	); err != nil {
		return "", fmt.Errorf("store: insert workflow run: %w", err)
	}

	for _, nr := range run.NodeRuns {
		if _, err := tx.Exec(ctx, `
			INSERT INTO node_runs (id, workflow_run_id, node_id, node_type, status, duration_ms, inputs, outputs, error, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			nr.ID, run.ID, nr.NodeID, nr.NodeType, string(nr.Status), nr.Duration,
			nr.Inputs, nr.Outputs, nr.Error, nr.CreatedAt,
		); err != nil {
			return "", fmt.Errorf("store: insert node run %s: %w", nr.NodeID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("store: commit: %w", err)
	}
	return run.ID, nil
}

// ListRuns implements Ledger.
func (s *PGStore) ListRuns(ctx context.Context, ownerID string, limit int) ([]WorkflowRun, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, owner_id, workflow_id, status, scope, duration_ms, node_ids, created_at
		FROM workflow_runs WHERE owner_id = $1
		ORDER BY created_at DESC, seq DESC LIMIT $2`, ownerID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: query runs: %w", err)
	}
	defer rows.Close()

	runs := []WorkflowRun{}
	index := make(map[string]int)
	var ids []string
	for rows.Next() {
		var run WorkflowRun
		var status, scope string
		if err := rows.Scan(&run.ID, &run.OwnerID, &run.WorkflowID, &status, &scope,
			&run.Duration, &run.NodeIDs, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		run.Status, run.Scope = Status(status), Scope(scope)
		run.NodeRuns = []NodeRun{}
		index[run.ID] = len(runs)
		ids = append(ids, run.ID)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows runs: %w", err)
	}
	if len(runs) == 0 {
		return runs, nil
	}

	nodeRows, err := s.db.Query(ctx, `
		SELECT id, workflow_run_id, node_id, node_type, status, duration_ms, inputs, outputs, error, created_at
		FROM node_runs WHERE workflow_run_id = ANY($1)
		ORDER BY created_at DESC, seq DESC`, ids)
	if err != nil {
		return nil, fmt.Errorf("store: query node runs: %w", err)
	}
	defer nodeRows.Close()

	for nodeRows.Next() {
		var nr NodeRun
		var status string
		if err := nodeRows.Scan(&nr.ID, &nr.WorkflowRunID, &nr.NodeID, &nr.NodeType, &status,
			&nr.Duration, &nr.Inputs, &nr.Outputs, &nr.Error, &nr.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan node run: %w", err)
		}
		nr.Status = Status(status)
		i := index[nr.WorkflowRunID]
		runs[i].NodeRuns = append(runs[i].NodeRuns, nr)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows node runs: %w", err)
	}
	return runs, nil
}

// DeleteAllRuns implements Ledger. Node runs go with their workflow run
// through ON DELETE CASCADE.
func (s *PGStore) DeleteAllRuns(ctx context.Context, ownerID string) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM workflow_runs WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("store: delete runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// SaveWorkflow implements DocumentStore.
func (s *PGStore) SaveWorkflow(ctx context.Context, doc WorkflowDocument) (WorkflowDocument, error) {
	doc, err := prepareDocument(doc, s.now())
	if err != nil {
		return WorkflowDocument{}, err
	}
	if _, err := s.db.Exec(ctx, `
		INSERT INTO workflows (id, owner_id, name, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		doc.ID, doc.OwnerID, doc.Name, string(doc.Data), doc.CreatedAt, doc.UpdatedAt,
	); err != nil {
		return WorkflowDocument{}, fmt.Errorf("store: insert workflow: %w", err)
	}
	return doc, nil
}

// GetWorkflow implements DocumentStore.
func (s *PGStore) GetWorkflow(ctx context.Context, ownerID, id string) (WorkflowDocument, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, owner_id, name, data::text, created_at, updated_at
		FROM workflows WHERE id = $1 AND owner_id = $2`, id, ownerID)
	doc, err := scanPGDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return WorkflowDocument{}, ErrNotFound
	}
	if err != nil {
		return WorkflowDocument{}, fmt.Errorf("store: get workflow: %w", err)
	}
	return doc, nil
}

// ListWorkflows implements DocumentStore.
func (s *PGStore) ListWorkflows(ctx context.Context, ownerID string) ([]WorkflowDocument, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, owner_id, name, data::text, created_at, updated_at
		FROM workflows WHERE owner_id = $1 ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: query workflows: %w", err)
	}
	defer rows.Close()

	docs := []WorkflowDocument{}
	for rows.Next() {
		doc, err := scanPGDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan workflow: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows workflows: %w", err)
	}
	return docs, nil
}

// UpdateWorkflow implements DocumentStore.
func (s *PGStore) UpdateWorkflow(ctx context.Context, doc WorkflowDocument) (WorkflowDocument, error) {
	if len(doc.Data) == 0 {
		return WorkflowDocument{}, errInvalidData
	}
	row := s.db.QueryRow(ctx, `
		UPDATE workflows
		SET name = COALESCE(NULLIF($1, ''), name), data = $2, updated_at = $3
		WHERE id = $4 AND owner_id = $5
		RETURNING id, owner_id, name, data::text, created_at, updated_at`,
		doc.Name, string(doc.Data), s.now(), doc.ID, doc.OwnerID)
	updated, err := scanPGDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return WorkflowDocument{}, ErrNotFound
	}
	if err != nil {
		return WorkflowDocument{}, fmt.Errorf("store: update workflow: %w", err)
	}
	return updated, nil
}

// DeleteWorkflow implements DocumentStore.
func (s *PGStore) DeleteWorkflow(ctx context.Context, ownerID, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM workflows WHERE id = $1 AND owner_id = $2`, id, ownerID); err != nil {
		return fmt.Errorf("store: delete workflow: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PGStore) Close() error {
	s.db.Close()
	return nil
}

func scanPGDocument(row pgx.Row) (WorkflowDocument, error) {
	var doc WorkflowDocument
	var data string
	if err := row.Scan(&doc.ID, &doc.OwnerID, &doc.Name, &data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return WorkflowDocument{}, err
	}
	doc.Data = []byte(data)
	return doc, nil
}
