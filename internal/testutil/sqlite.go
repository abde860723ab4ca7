package testutil

import (
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/stayops/stayops/internal/logger"
	"github.com/stayops/stayops/internal/postgres"
)

// NewSQLiteDB opens an in-memory sqlite database wrapped in the transaction
// layer, for exercising real begin/commit/rollback and savepoint semantics
// without a postgres instance. A single connection keeps every query on the
// same in-memory database.
func NewSQLiteDB(t *testing.T) *postgres.DB {
	t.Helper()

	sqlxDB, err := sqlx.Connect("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlxDB.SetMaxOpenConns(1)

	db := postgres.NewWithDB(sqlxDB, logger.L)
	t.Cleanup(db.Close)
	return db
}

// CreateOutboxTable installs an outbox_events table shaped like the postgres
// migration, minus postgres-only defaults.
func CreateOutboxTable(t *testing.T, db *postgres.DB) {
	t.Helper()

	schema := `
	CREATE TABLE outbox_events (
		id              TEXT PRIMARY KEY,
		aggregate_type  TEXT NOT NULL,
		aggregate_id    TEXT NOT NULL,
		event_type      TEXT NOT NULL,
		topic           TEXT NOT NULL,
		partition_key   TEXT NOT NULL,
		payload         BLOB NOT NULL,
		tenant_id       TEXT NOT NULL,
		status          TEXT NOT NULL,
		attempt_count   INTEGER NOT NULL DEFAULT 0,
		last_error      TEXT,
		next_attempt_at TIMESTAMP,
		claimed_by      TEXT,
		claimed_at      TIMESTAMP,
		created_at      TIMESTAMP NOT NULL,
		published_at    TIMESTAMP
	)`

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create outbox_events: %v", err)
	}
}
