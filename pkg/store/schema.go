package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"     // postgres driver
	_ "modernc.org/sqlite"    // sqlite driver
)

// EnsureSchema provisions the three logical tables if absent. It is
// idempotent and safe to run at every boot and via the migrate endpoint.
func EnsureSchema(ctx context.Context, c Client) error {
	stmts := make([]Statement, 0, len(schemaSQLite))
	ddl := schemaSQLite
	if sc, ok := c.(*SQLClient); ok && sc.dialect == DialectPostgres {
		ddl = schemaPostgres
	}
	for _, q := range ddl {
		stmts = append(stmts, Statement{Q: q, Params: []any{}})
	}
	if _, err := c.Execute(ctx, stmts); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

var schemaSQLite = []string{
	`CREATE TABLE IF NOT EXISTS vaults (
  key TEXT NOT NULL,
  token TEXT NOT NULL,
  cid TEXT NOT NULL,
  data TEXT NOT NULL,
  inherit TEXT,
  parents TEXT,
  PRIMARY KEY (key, cid)
)`,
	`CREATE TABLE IF NOT EXISTS codes (
  cid TEXT NOT NULL,
  code TEXT NOT NULL,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (cid)
)`,
	`CREATE TABLE IF NOT EXISTS logs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  script_id TEXT NOT NULL,
  request_id TEXT NOT NULL,
  level TEXT NOT NULL,
  message TEXT NOT NULL,
  created_at INTEGER NOT NULL
)`,
}

var schemaPostgres = []string{
	`CREATE TABLE IF NOT EXISTS vaults (
  key TEXT NOT NULL,
  token TEXT NOT NULL,
  cid TEXT NOT NULL,
  data TEXT NOT NULL,
  inherit TEXT,
  parents TEXT,
  PRIMARY KEY (key, cid)
)`,
	`CREATE TABLE IF NOT EXISTS codes (
  cid TEXT NOT NULL,
  code TEXT NOT NULL,
  created_at TIMESTAMPTZ DEFAULT NOW(),
  PRIMARY KEY (cid)
)`,
	`CREATE TABLE IF NOT EXISTS logs (
  id BIGSERIAL PRIMARY KEY,
  script_id TEXT NOT NULL,
  request_id TEXT NOT NULL,
  level TEXT NOT NULL,
  message TEXT NOT NULL,
  created_at BIGINT NOT NULL
)`,
}

// Open opens a local database handle from a DSN and returns a SQLClient
// for it. Postgres DSNs are recognized by scheme; anything else is
// treated as a sqlite path or URI.
func Open(dsn string) (*SQLClient, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return NewSQLClient(db, DialectPostgres), nil
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// table-lock errors under concurrent request handling.
	db.SetMaxOpenConns(1)
	return NewSQLClient(db, DialectSQLite), nil
}
