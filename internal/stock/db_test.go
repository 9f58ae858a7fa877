package stock

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// openTestDB opens a fresh in-memory database per test. A single pooled
// connection keeps every caller on the same database and serializes the
// writers the way a real server's row locks would.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("failed to unwrap test db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	ddl := `CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		price NUMERIC NOT NULL DEFAULT 0,
		stock INTEGER NOT NULL DEFAULT 0,
		sold_count INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		tags TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`
	if err := conn.Exec(ddl).Error; err != nil {
		t.Fatalf("failed to create products table: %v", err)
	}
	return conn
}
