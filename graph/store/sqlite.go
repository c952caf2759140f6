package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps the run ledger and workflow documents in a single-file database.
// Designed for:
//   - Development and testing with zero setup
//   - The single-process `weave serve` default
//   - Local history that survives restarts
//
// Features:
//   - Single file database (e.g., "./weave.db")
//   - Auto-migration on first use
//   - WAL mode for concurrent reads
//   - Transactional run inserts
//
// Schema:
//   - workflow_runs: One row per triggered execution
//   - node_runs: Node executions, cascading from workflow_runs
//   - workflows: Saved workflow documents
type SQLiteStore struct {
	sqlStore
	path string
}

var sqliteDialect = dialect{
	name:  "sqlite",
	order: "rowid",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			workflow_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			scope TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			node_ids TEXT NOT NULL DEFAULT '[]',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_runs_owner ON workflow_runs(owner_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS node_runs (
			id TEXT PRIMARY KEY,
			workflow_run_id TEXT NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
			node_id TEXT NOT NULL,
			node_type TEXT NOT NULL,
			status TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			inputs TEXT NOT NULL,
			outputs TEXT,
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_node_runs_run ON node_runs(workflow_run_id)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_owner ON workflows(owner_id, updated_at)`,
	},
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./weave.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// Example:
//
//	st, err := store.NewSQLiteStore("./weave.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{
		sqlStore: sqlStore{db: db, dialect: sqliteDialect, now: time.Now},
		path:     path,
	}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}
