package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// Designed for:
//   - Production deployments sharing one ledger across server instances
//   - Run history retained for audit
//
// MySQLStore uses connection pooling and transactions for reliability.
type MySQLStore struct {
	sqlStore
}

var mysqlDialect = dialect{
	name:  "mysql",
	order: "seq",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			seq BIGINT AUTO_INCREMENT UNIQUE,
			id VARCHAR(64) PRIMARY KEY,
			owner_id VARCHAR(255) NOT NULL,
			workflow_id VARCHAR(64) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL,
			scope VARCHAR(16) NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			node_ids JSON NOT NULL,
			created_at BIGINT NOT NULL,
			INDEX idx_workflow_runs_owner (owner_id, created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS node_runs (
			seq BIGINT AUTO_INCREMENT UNIQUE,
			id VARCHAR(64) PRIMARY KEY,
			workflow_run_id VARCHAR(64) NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			node_type VARCHAR(32) NOT NULL,
			status VARCHAR(16) NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			inputs JSON NOT NULL,
			outputs JSON NULL,
			error TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			INDEX idx_node_runs_run (workflow_run_id),
			FOREIGN KEY (workflow_run_id) REFERENCES workflow_runs(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id VARCHAR(64) PRIMARY KEY,
			owner_id VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			data LONGTEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			INDEX idx_workflows_owner (owner_id, updated_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
//
// Example:
//
//	st, err := store.NewMySQLStore(os.Getenv("WEAVE_MYSQL_DSN"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{sqlStore: sqlStore{db: db, dialect: mysqlDialect, now: time.Now}}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
