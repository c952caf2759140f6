package store_test

import (
	"os"
	"testing"

	"github.com/dshills/weavegraph/graph/store"
)

// Set WEAVE_MYSQL_DSN, e.g. "user:pass@tcp(localhost:3306)/weave_test", to run.
func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("WEAVE_MYSQL_DSN")
	if dsn == "" {
		t.Skip("Skipping MySQL test: set WEAVE_MYSQL_DSN to run")
	}
	st, err := store.NewMySQLStore(dsn)
	if err != nil {
		t.Fatalf("NewMySQLStore: %v", err)
	}
	defer func() { _ = st.Close() }()

	runStoreSuite(t, st)
}
