// Package dbtest opens an in-memory SQLite database carrying the same tables
// as the goose migrations, for repository and service tests.
package dbtest

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// schema mirrors pkg/migrate/migrations with SQLite column types. Postgres
// enums become TEXT and CHECK constraints are kept so the ledger guards are
// exercised against the same invariants.
var schema = []string{
	`CREATE TABLE merchants (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		balance_cents INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE products (
		id TEXT PRIMARY KEY,
		merchant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		images TEXT NOT NULL DEFAULT '{}',
		price_cents INTEGER NOT NULL,
		shipping_cents INTEGER NOT NULL DEFAULT 0,
		inventory INTEGER NOT NULL DEFAULT 0 CHECK (inventory >= 0),
		reserved_inventory INTEGER NOT NULL DEFAULT 0 CHECK (reserved_inventory >= 0),
		sold_count INTEGER NOT NULL DEFAULT 0 CHECK (sold_count >= 0),
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		user_id TEXT NOT NULL,
		customer_email TEXT,
		product_id TEXT NOT NULL,
		merchant_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		price_cents INTEGER NOT NULL,
		shipping_cents INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		is_paid BOOLEAN NOT NULL DEFAULT false,
		inventory_reserved BOOLEAN NOT NULL DEFAULT false,
		stock_committed BOOLEAN NOT NULL DEFAULT false,
		payment TEXT,
		stripe_session_id TEXT,
		stripe_session_url TEXT,
		session_expires_at DATETIME,
		payment_intent_id TEXT,
		refund_reason TEXT,
		reserved_at DATETIME,
		paid_at DATETIME,
		expired_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (code, product_id)
	)`,
	`CREATE INDEX idx_orders_code ON orders (code)`,
	`CREATE TABLE payment_histories (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		merchant_id TEXT NOT NULL,
		order_code TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME,
		UNIQUE (order_code, merchant_id, status)
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		order_code TEXT NOT NULL DEFAULT '',
		payload BLOB NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		order_code TEXT NOT NULL DEFAULT '',
		payload_json BLOB NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME,
		created_at DATETIME
	)`,
}

// Open returns a fresh database private to the calling test. A single
// connection serializes transactions the way row locks would on Postgres.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:" + name + "_" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}
