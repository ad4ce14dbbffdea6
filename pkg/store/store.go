// Package store provides the client for the shared relational store
// backing the code cache, the vault and the execution logs.
//
// The store accepts batches of parameterized statements and returns one
// result set per statement. Two client implementations exist: an HTTP
// client speaking the sqld batch protocol (production), and a
// database/sql client (sqlite or postgres) for local development and
// tests. Both honor the same batch semantics: a multi-statement batch
// is one network round trip.
package store

import (
	"context"
	"fmt"
)

// Statement is a single parameterized SQL statement.
type Statement struct {
	Q      string `json:"q"`
	Params []any  `json:"params"`
}

// QueryResult is the result set of one statement in a batch.
type QueryResult struct {
	Columns     []string
	Rows        [][]any
	RowsRead    int64
	RowsWritten int64
	DurationMs  float64
}

// Client executes a batch of statements against the store.
// Execute returns exactly one QueryResult per input statement, in order.
type Client interface {
	Execute(ctx context.Context, stmts []Statement) ([]QueryResult, error)
}

// Error indicates the remote store was unreachable or returned
// malformed data. Callers decide whether it is fatal to the request
// (code/vault resolution) or swallowed (log persistence).
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Zip pairs a result's columns with one of its rows.
func Zip(cols []string, row []any) map[string]any {
	m := make(map[string]any, len(cols))
	for i, c := range cols {
		if i < len(row) {
			m[c] = row[i]
		}
	}
	return m
}
