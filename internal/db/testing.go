package db

import (
	"testing"
)

// NewTestStore creates an in-memory, migrated store for tests.
// The database is closed when the test completes.
func NewTestStore(t testing.TB) *Store {
	t.Helper()

	d, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
	})
	if err := d.Migrate(SchemaProject); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return NewStore(d)
}
