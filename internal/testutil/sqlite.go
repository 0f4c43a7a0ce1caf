// Package testutil opens isolated sqlite databases carrying the mediaforge schema.
package testutil

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var schema = map[string]string{
	"subscriptions": `CREATE TABLE subscriptions (
		id BIGINT PRIMARY KEY,
		owner_id TEXT NOT NULL UNIQUE,
		tier TEXT NOT NULL,
		status TEXT NOT NULL,
		consumed_credits INTEGER NOT NULL DEFAULT 0,
		period_start DATETIME NOT NULL,
		custom_credit_limit INTEGER,
		last_verified_at DATETIME,
		product_id TEXT,
		store TEXT,
		entitlement_ids TEXT,
		expires_at DATETIME,
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	"subjects": `CREATE TABLE subjects (
		id BIGINT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT,
		prompt TEXT NOT NULL,
		primary_result_ref TEXT,
		primary_task_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	"generation_tasks": `CREATE TABLE generation_tasks (
		id BIGINT PRIMARY KEY,
		task_id TEXT NOT NULL UNIQUE,
		owner_id TEXT NOT NULL,
		subject_id BIGINT NOT NULL,
		subscription_id BIGINT NOT NULL,
		provider_type TEXT NOT NULL,
		credit_cost INTEGER NOT NULL,
		output_count INTEGER NOT NULL,
		queue_entry_id BIGINT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	"generation_outputs": `CREATE TABLE generation_outputs (
		id BIGINT PRIMARY KEY,
		task_id TEXT NOT NULL,
		output_index INTEGER NOT NULL,
		owner_id TEXT NOT NULL,
		subject_id BIGINT NOT NULL,
		status TEXT NOT NULL,
		result_ref TEXT,
		title TEXT,
		duration_seconds REAL,
		provider_result_id TEXT,
		error TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (task_id, output_index)
	)`,
	"credit_refunds": `CREATE TABLE credit_refunds (
		id BIGINT PRIMARY KEY,
		idempotency_key TEXT NOT NULL UNIQUE,
		subscription_id BIGINT NOT NULL,
		task_id TEXT,
		queue_entry_id BIGINT,
		reason TEXT NOT NULL,
		credits INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	"dispatch_queue_entries": `CREATE TABLE dispatch_queue_entries (
		id BIGINT PRIMARY KEY,
		provider_type TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		subject_id BIGINT NOT NULL,
		subscription_id BIGINT NOT NULL,
		credit_cost INTEGER NOT NULL,
		status TEXT NOT NULL,
		payload TEXT,
		task_id TEXT,
		correlation_id TEXT,
		last_error TEXT,
		enqueued_at DATETIME NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	"billing_webhook_events": `CREATE TABLE billing_webhook_events (
		id BIGINT PRIMARY KEY,
		dedupe_key TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		app_user_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		store TEXT,
		payload TEXT,
		status TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		processed_at DATETIME
	)`,
}

// OpenSQLite returns a private in-memory database with the named tables created.
// With no table names every table is created.
func OpenSQLite(t *testing.T, tables ...string) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	if len(tables) == 0 {
		tables = []string{
			"subscriptions", "subjects", "generation_tasks", "generation_outputs",
			"credit_refunds", "dispatch_queue_entries", "billing_webhook_events",
		}
	}
	for _, table := range tables {
		ddl, ok := schema[table]
		if !ok {
			t.Fatalf("unknown table %q", table)
		}
		if err := db.Exec(ddl).Error; err != nil {
			t.Fatalf("create %s: %v", table, err)
		}
	}
	return db
}

var (
	nodeOnce sync.Once
	node     *snowflake.Node
	nodeErr  error
)

// MustNode shares one node across a test binary so ids never collide.
func MustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	nodeOnce.Do(func() { node, nodeErr = snowflake.NewNode(1) })
	if nodeErr != nil {
		t.Fatalf("new node: %v", nodeErr)
	}
	return node
}
