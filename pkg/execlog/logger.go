// Package execlog persists structured execution logs keyed by script
// identity and per-request correlation id. All records for one
// execution are written as a single batched round trip; persistence is
// best-effort and never changes an already-computed response.
package execlog

import (
	"context"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/codegate/pkg/sandbox"
	"github.com/Mindburn-Labs/codegate/pkg/store"
)

const insertLog = "INSERT INTO logs (script_id, request_id, level, message, created_at) VALUES (?, ?, ?, ?, ?)"

// Logger reads and writes execution logs on the shared store.
type Logger struct {
	store store.Client
}

// NewLogger creates a Logger over the given store client.
func NewLogger(c store.Client) *Logger {
	return &Logger{store: c}
}

// Batch accumulates the append operations for one execution. Records
// are buffered in call order and flushed in one store round trip; every
// record carries the same timestamp, the execution's end time.
type Batch struct {
	scriptID  string
	requestID string
	entries   []batchEntry
}

type batchEntry struct {
	level   Level
	message string
}

// NewBatch starts a batch for one execution.
func (l *Logger) NewBatch(scriptID, requestID string) *Batch {
	return &Batch{scriptID: scriptID, requestID: requestID}
}

// BeginRequest appends the opening REPORT record.
func (b *Batch) BeginRequest(method, path string) {
	b.entries = append(b.entries, batchEntry{
		level:   LevelReport,
		message: fmt.Sprintf("START Request: %s %s", method, path),
	})
}

// RecordSandboxLogs translates guest log entries into typed records.
func (b *Batch) RecordSandboxLogs(logs []sandbox.LogEntry) {
	for _, log := range logs {
		b.entries = append(b.entries, batchEntry{
			level:   FromSandboxLevel(log.Level),
			message: log.Message,
		})
	}
}

// RecordError appends an ERROR record. Call only when the execution
// outcome was an error.
func (b *Batch) RecordError(message string) {
	b.entries = append(b.entries, batchEntry{level: LevelError, message: message})
}

// EndRequest appends the closing REPORT record with the duration.
func (b *Batch) EndRequest(duration time.Duration) {
	b.entries = append(b.entries, batchEntry{
		level:   LevelReport,
		message: fmt.Sprintf("END Request: Duration: %dms", duration.Milliseconds()),
	})
}

// Flush writes the whole batch in one round trip, stamping every record
// with at (the execution's end time). The caller owns failure handling:
// a flush failure is an operator diagnostic, never a request failure.
func (l *Logger) Flush(ctx context.Context, b *Batch, at time.Time) error {
	if len(b.entries) == 0 {
		return nil
	}
	stmts := make([]store.Statement, 0, len(b.entries))
	for _, e := range b.entries {
		stmts = append(stmts, store.Statement{
			Q:      insertLog,
			Params: []any{b.scriptID, b.requestID, string(e.level), e.message, at.UnixMilli()},
		})
	}
	if _, err := l.store.Execute(ctx, stmts); err != nil {
		return fmt.Errorf("flush log batch: %w", err)
	}
	return nil
}

// maxPage bounds both page and limit for replay queries.
const maxPage = 100

// clampPage forces v into [1,100].
func clampPage(v int) int {
	if v < 1 {
		return 1
	}
	if v > maxPage {
		return maxPage
	}
	return v
}

// Query returns records for a script, optionally filtered by request
// id, newest first (ties broken by insertion order), paginated with
// offset (page-1)*limit. page and limit are clamped to [1,100].
func (l *Logger) Query(ctx context.Context, scriptID, requestID string, page, limit int) ([]Record, error) {
	page = clampPage(page)
	limit = clampPage(limit)
	offset := (page - 1) * limit

	var stmt store.Statement
	if requestID != "" {
		stmt = store.Statement{
			Q:      "SELECT id, script_id, request_id, level, message, created_at FROM logs WHERE script_id = ? AND request_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
			Params: []any{scriptID, requestID, limit, offset},
		}
	} else {
		stmt = store.Statement{
			Q:      "SELECT id, script_id, request_id, level, message, created_at FROM logs WHERE script_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
			Params: []any{scriptID, limit, offset},
		}
	}

	results, err := l.store.Execute(ctx, []store.Statement{stmt})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	records := make([]Record, 0, len(results[0].Rows))
	for _, row := range results[0].Rows {
		m := store.Zip(results[0].Columns, row)
		records = append(records, Record{
			ScriptID:  asString(m["script_id"]),
			RequestID: asString(m["request_id"]),
			Level:     Level(asString(m["level"])),
			Message:   asString(m["message"]),
			CreatedAt: time.UnixMilli(asInt64(m["created_at"])).UTC(),
		})
	}
	return records, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asInt64 tolerates the two numeric wire forms: int64 from database/sql
// and float64 from the JSON batch protocol.
func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
