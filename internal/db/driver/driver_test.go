package driver

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func TestNewDriver(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		wantErr bool
	}{
		{"sqlite", DialectSQLite, false},
		{"postgres", DialectPostgres, false},
		{"invalid", Dialect("invalid"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv, err := New(tt.dialect)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if drv.Dialect() != tt.dialect {
				t.Errorf("Dialect() = %v, want %v", drv.Dialect(), tt.dialect)
			}
		})
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		input   string
		want    Dialect
		wantErr bool
	}{
		{"sqlite", DialectSQLite, false},
		{"sqlite3", DialectSQLite, false},
		{"postgres", DialectPostgres, false},
		{"postgresql", DialectPostgres, false},
		{"pg", DialectPostgres, false},
		{"mysql", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDialect(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRebindDollar(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{"SELECT '?' FROM t WHERE a = ?", "SELECT '?' FROM t WHERE a = $1"},
	}
	for _, tt := range tests {
		if got := RebindDollar(tt.in); got != tt.want {
			t.Errorf("RebindDollar(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := NewSQLite().Rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite Rebind changed query: %q", got)
	}
}

func TestSQLiteDriver(t *testing.T) {
	drv := NewSQLite()
	if err := drv.Open(filepath.Join(t.TempDir(), "test.db")); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = drv.Close() }()

	ctx := context.Background()
	if _, err := drv.Exec(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("Exec CREATE TABLE failed: %v", err)
	}
	if _, err := drv.Exec(ctx, "INSERT INTO test (name) VALUES (?)", "hello"); err != nil {
		t.Fatalf("Exec INSERT failed: %v", err)
	}

	var name string
	if err := drv.QueryRow(ctx, "SELECT name FROM test WHERE id = ?", 1).Scan(&name); err != nil {
		t.Fatalf("QueryRow Scan failed: %v", err)
	}
	if name != "hello" {
		t.Errorf("got %q, want 'hello'", name)
	}

	tx, err := drv.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO test (name) VALUES (?)", "rollback"); err != nil {
		t.Fatalf("tx.Exec failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	var count int
	if err := drv.QueryRow(ctx, "SELECT COUNT(*) FROM test").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count after rollback = %d, want 1", count)
	}
}

func TestSQLiteDriver_CloseWithoutOpen(t *testing.T) {
	if err := NewSQLite().Close(); err != nil {
		t.Errorf("Close without Open failed: %v", err)
	}
}

type mapFSAdapter struct{ fs fstest.MapFS }

func (m mapFSAdapter) ReadDir(name string) ([]DirEntry, error) {
	entries, err := m.fs.ReadDir(name)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, len(entries))
	for i, e := range entries {
		out[i] = e
	}
	return out, nil
}

func (m mapFSAdapter) ReadFile(name string) ([]byte, error) {
	return m.fs.ReadFile(name)
}

func TestSQLiteMigrate(t *testing.T) {
	schema := mapFSAdapter{fs: fstest.MapFS{
		"schema/demo_001.sql":  {Data: []byte("CREATE TABLE a (id INTEGER PRIMARY KEY);")},
		"schema/demo_002.sql":  {Data: []byte("CREATE TABLE b (id INTEGER PRIMARY KEY);")},
		"schema/other_001.sql": {Data: []byte("CREATE TABLE c (id INTEGER PRIMARY KEY);")},
	}}

	drv := NewSQLite()
	if err := drv.Open(MemoryDSN); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = drv.Close() }()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := drv.Migrate(ctx, schema, "demo"); err != nil {
			t.Fatalf("Migrate pass %d failed: %v", i, err)
		}
	}

	var versions int
	if err := drv.QueryRow(ctx, "SELECT COUNT(*) FROM _migrations").Scan(&versions); err != nil {
		t.Fatal(err)
	}
	if versions != 2 {
		t.Errorf("recorded migrations = %d, want 2", versions)
	}
	if _, err := drv.Exec(ctx, "INSERT INTO b (id) VALUES (1)"); err != nil {
		t.Errorf("table from second migration missing: %v", err)
	}
	if _, err := drv.Exec(ctx, "INSERT INTO c (id) VALUES (1)"); err == nil {
		t.Error("migration for another schema type was applied")
	}
}

func TestExtractVersion(t *testing.T) {
	if v := extractVersion("project_012.sql", "project_"); v != 12 {
		t.Errorf("extractVersion = %d, want 12", v)
	}
}
