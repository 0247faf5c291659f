// Package engine opens the embedded DuckDB database and describes its
// schema for the validator.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

// MemoryPath selects an in-memory database.
const MemoryPath = ":memory:"

// Open opens a DuckDB database at path. An empty path or MemoryPath opens
// an in-memory database. maxConns, when positive, caps open connections;
// leave headroom above the pool size for callers that use the *sql.DB
// directly, such as LoadSchema. All connections of an in-memory database
// share the same catalog.
func Open(ctx context.Context, path string, maxConns int) (*sql.DB, error) {
	dsn := strings.TrimSpace(path)
	if dsn == MemoryPath {
		dsn = ""
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return db, nil
}

// Version returns the engine's library version string.
func Version(ctx context.Context, db *sql.DB) (string, error) {
	var v string
	if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&v); err != nil {
		return "", fmt.Errorf("duckdb version: %w", err)
	}
	return v, nil
}
