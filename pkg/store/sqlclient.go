package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// SQLClient implements Client on top of database/sql for local
// development and tests. Batches with more than one statement run in a
// single transaction so the batch stays atomic like a remote round trip.
type SQLClient struct {
	db      *sql.DB
	dialect Dialect
}

// Dialect selects placeholder style and DDL flavor.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// NewSQLClient wraps an open database handle. Statements are written in
// `?` placeholder style; for postgres they are rebound to `$n`.
func NewSQLClient(db *sql.DB, dialect Dialect) *SQLClient {
	return &SQLClient{db: db, dialect: dialect}
}

func (c *SQLClient) Execute(ctx context.Context, stmts []Statement) ([]QueryResult, error) {
	if len(stmts) == 1 {
		res, err := c.run(ctx, c.db, stmts[0])
		if err != nil {
			return nil, err
		}
		return []QueryResult{res}, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &Error{Op: "begin batch", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]QueryResult, 0, len(stmts))
	for _, s := range stmts {
		res, err := c.run(ctx, tx, s)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := tx.Commit(); err != nil {
		return nil, &Error{Op: "commit batch", Err: err}
	}
	return out, nil
}

// runner is satisfied by both *sql.DB and *sql.Tx.
type runner interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *SQLClient) run(ctx context.Context, r runner, s Statement) (QueryResult, error) {
	started := time.Now()
	q := s.Q
	if c.dialect == DialectPostgres {
		q = Rebind(q)
	}

	if isQuery(q) {
		rows, err := r.QueryContext(ctx, q, s.Params...)
		if err != nil {
			return QueryResult{}, &Error{Op: "query", Err: err}
		}
		defer func() { _ = rows.Close() }()

		cols, err := rows.Columns()
		if err != nil {
			return QueryResult{}, &Error{Op: "columns", Err: err}
		}

		result := QueryResult{Columns: cols}
		for rows.Next() {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return QueryResult{}, &Error{Op: "scan", Err: err}
			}
			for i, v := range values {
				// database/sql yields []byte for TEXT under some
				// drivers; normalize to string like the remote store.
				if b, ok := v.([]byte); ok {
					values[i] = string(b)
				}
			}
			result.Rows = append(result.Rows, values)
		}
		if err := rows.Err(); err != nil {
			return QueryResult{}, &Error{Op: "rows", Err: err}
		}
		result.RowsRead = int64(len(result.Rows))
		result.DurationMs = float64(time.Since(started)) / float64(time.Millisecond)
		return result, nil
	}

	res, err := r.ExecContext(ctx, q, s.Params...)
	if err != nil {
		return QueryResult{}, &Error{Op: "exec", Err: err}
	}
	written, _ := res.RowsAffected()
	return QueryResult{
		RowsWritten: written,
		DurationMs:  float64(time.Since(started)) / float64(time.Millisecond),
	}, nil
}

func isQuery(q string) bool {
	head := strings.ToUpper(strings.TrimSpace(q))
	return strings.HasPrefix(head, "SELECT") || strings.HasPrefix(head, "WITH")
}

// Rebind rewrites `?` placeholders to postgres-style `$1..$n`.
// Question marks inside single-quoted literals are left alone.
func Rebind(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	inLiteral := false
	for i := 0; i < len(q); i++ {
		ch := q[i]
		switch {
		case ch == '\'':
			inLiteral = !inLiteral
			b.WriteByte(ch)
		case ch == '?' && !inLiteral:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}
