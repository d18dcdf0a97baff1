package db

import (
	"path/filepath"
	"testing"
)

// NewTestDB opens a fresh migrated database in a temp directory and closes it
// when the test ends.
func NewTestDB(t testing.TB) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
