// Package db provides the authoritative persistence for storyloop: PRDs and
// their stories, iteration records, and failure snapshots.
//
// The default backend is SQLite at .storyloop/storyloop.db; PostgreSQL is
// available through the pgx driver.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/randalmurphal/storyloop/internal/config"
	"github.com/randalmurphal/storyloop/internal/db/driver"
)

// SchemaProject is the migration set for a project database.
const SchemaProject = "project"

//go:embed schema/*.sql schema/postgres/*.sql
var schemaFS embed.FS

// embedFSAdapter wraps embed.FS to implement driver.SchemaFS.
type embedFSAdapter struct {
	fs embed.FS
}

func (e *embedFSAdapter) ReadDir(name string) ([]driver.DirEntry, error) {
	entries, err := e.fs.ReadDir(name)
	if err != nil {
		return nil, err
	}
	result := make([]driver.DirEntry, len(entries))
	for i, entry := range entries {
		result[i] = dirEntryAdapter{entry}
	}
	return result, nil
}

func (e *embedFSAdapter) ReadFile(name string) ([]byte, error) {
	return e.fs.ReadFile(name)
}

type dirEntryAdapter struct {
	fs.DirEntry
}

// DB wraps a database connection with driver abstraction.
type DB struct {
	driver driver.Driver
	path   string
}

// Open opens a SQLite database at path, creating the parent directory.
func Open(path string) (*DB, error) {
	return OpenWithDialect(path, driver.DialectSQLite)
}

// OpenInMemory opens an isolated in-memory SQLite database.
func OpenInMemory() (*DB, error) {
	drv := driver.NewSQLite()
	if err := drv.Open(driver.MemoryDSN); err != nil {
		return nil, err
	}
	return &DB{driver: drv, path: driver.MemoryDSN}, nil
}

// OpenWithDialect opens a database with a specific dialect.
func OpenWithDialect(dsn string, dialect driver.Dialect) (*DB, error) {
	if dialect == driver.DialectSQLite && dsn != driver.MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	drv, err := driver.New(dialect)
	if err != nil {
		return nil, err
	}
	if err := drv.Open(dsn); err != nil {
		return nil, err
	}
	return &DB{driver: drv, path: dsn}, nil
}

// OpenProject opens and migrates the database configured for a project.
func OpenProject(ctx context.Context, projectRoot string, cfg *config.Config) (*DB, error) {
	dialect, err := driver.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.Database.DSN
	if dialect == driver.DialectSQLite {
		dsn = cfg.DatabasePath(projectRoot)
		if dsn != driver.MemoryDSN && !filepath.IsAbs(dsn) {
			dsn = filepath.Join(projectRoot, dsn)
		}
	}

	d, err := OpenWithDialect(dsn, dialect)
	if err != nil {
		return nil, err
	}
	if err := d.MigrateContext(ctx, SchemaProject); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.driver.Close()
}

// Path returns the database DSN/path.
func (d *DB) Path() string {
	return d.path
}

// Driver returns the underlying driver for dialect-specific operations.
func (d *DB) Driver() driver.Driver {
	return d.driver
}

// Dialect returns the database dialect.
func (d *DB) Dialect() driver.Dialect {
	return d.driver.Dialect()
}

// Migrate runs all migrations for the given schema type.
// Schema files are named {type}_NNN.sql (e.g. project_001.sql).
func (d *DB) Migrate(schemaType string) error {
	return d.MigrateContext(context.Background(), schemaType)
}

// MigrateContext is Migrate with a caller-supplied context.
func (d *DB) MigrateContext(ctx context.Context, schemaType string) error {
	return d.driver.Migrate(ctx, &embedFSAdapter{fs: schemaFS}, schemaType)
}

// ExecContext executes a query without returning rows.
func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.driver.Exec(ctx, query, args...)
}

// QueryContext executes a query that returns rows.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.driver.Query(ctx, query, args...)
}

// QueryRowContext executes a query that returns at most one row.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.driver.QueryRow(ctx, query, args...)
}

// BeginTx starts a transaction.
func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (driver.Tx, error) {
	return d.driver.BeginTx(ctx, opts)
}
