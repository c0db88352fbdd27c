package testutil

import (
	"testing"

	"carphoto/internal/database"
)

// NewTestCache creates a new in-memory SQLite cache with the schema applied.
// The cache is automatically closed when the test completes.
func NewTestCache(t *testing.T) *database.SQLiteCache {
	t.Helper()

	c, err := database.NewSQLiteCache(":memory:")
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	t.Cleanup(func() {
		c.Close()
	})
	return c
}
