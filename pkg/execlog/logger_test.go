package execlog

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/codegate/pkg/sandbox"
	"github.com/Mindburn-Labs/codegate/pkg/store"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)
	client := store.NewSQLClient(db, store.DialectSQLite)
	require.NoError(t, store.EnsureSchema(context.Background(), client))
	return NewLogger(client)
}

func TestFromSandboxLevel(t *testing.T) {
	assert.Equal(t, LevelInfo, FromSandboxLevel(2))
	assert.Equal(t, LevelWarn, FromSandboxLevel(3))
	assert.Equal(t, LevelError, FromSandboxLevel(4))
	assert.Equal(t, Level("UNKNOWN(7)"), FromSandboxLevel(7), "unmapped levels must not vanish")
}

func TestBatch_FullEnvelope(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()
	ended := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b := l.NewBatch("ipfs/bafyabc", "req-1")
	b.BeginRequest("GET", "/hello?x=1")
	b.RecordSandboxLogs([]sandbox.LogEntry{
		{Level: 2, Message: "guest says hi"},
		{Level: 4, Message: "guest complains"},
	})
	b.RecordError("boom")
	b.EndRequest(42 * time.Millisecond)
	require.NoError(t, l.Flush(ctx, b, ended))

	records, err := l.Query(ctx, "ipfs/bafyabc", "req-1", 1, 100)
	require.NoError(t, err)
	require.Len(t, records, 5)

	// Newest-first with ties broken by insertion order: reversal of
	// the append order.
	assert.Equal(t, "END Request: Duration: 42ms", records[0].Message)
	assert.Equal(t, LevelReport, records[0].Level)
	assert.Equal(t, "boom", records[1].Message)
	assert.Equal(t, LevelError, records[1].Level)
	assert.Equal(t, "guest complains", records[2].Message)
	assert.Equal(t, "guest says hi", records[3].Message)
	assert.Equal(t, LevelInfo, records[3].Level)
	assert.Equal(t, "START Request: GET /hello?x=1", records[4].Message)

	for _, r := range records {
		assert.Equal(t, ended, r.CreatedAt, "all records stamped with the execution end time")
	}
}

func TestQuery_Pagination(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	// 25 single-record batches, increasing timestamps.
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		b := l.NewBatch("scriptA", fmt.Sprintf("req-%02d", i))
		b.RecordSandboxLogs([]sandbox.LogEntry{{Level: 2, Message: fmt.Sprintf("msg-%02d", i)}})
		require.NoError(t, l.Flush(ctx, b, base.Add(time.Duration(i)*time.Second)))
	}

	page2, err := l.Query(ctx, "scriptA", "", 2, 10)
	require.NoError(t, err)
	require.Len(t, page2, 10)
	// Newest-first: page 2 holds records 11-20, i.e. msg-14 .. msg-05.
	assert.Equal(t, "msg-14", page2[0].Message)
	assert.Equal(t, "msg-05", page2[9].Message)

	page3, err := l.Query(ctx, "scriptA", "", 3, 10)
	require.NoError(t, err)
	assert.Len(t, page3, 5)
}

func TestQuery_ClampsPageAndLimit(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	b := l.NewBatch("scriptA", "req-1")
	b.RecordSandboxLogs([]sandbox.LogEntry{{Level: 2, Message: "only"}})
	require.NoError(t, l.Flush(ctx, b, time.Now()))

	// page=0 clamps to 1, limit=0 clamps to 1, limit=101 clamps to 100.
	records, err := l.Query(ctx, "scriptA", "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	records, err = l.Query(ctx, "scriptA", "", 1, 101)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	assert.Equal(t, 1, clampPage(-5))
	assert.Equal(t, 100, clampPage(101))
	assert.Equal(t, 42, clampPage(42))
}

func TestQuery_FiltersByRequestID(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()
	now := time.Now()

	b1 := l.NewBatch("scriptA", "req-1")
	b1.RecordSandboxLogs([]sandbox.LogEntry{{Level: 2, Message: "first"}})
	require.NoError(t, l.Flush(ctx, b1, now))

	b2 := l.NewBatch("scriptA", "req-2")
	b2.RecordSandboxLogs([]sandbox.LogEntry{{Level: 2, Message: "second"}})
	require.NoError(t, l.Flush(ctx, b2, now))

	records, err := l.Query(ctx, "scriptA", "req-2", 1, 100)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "second", records[0].Message)

	all, err := l.Query(ctx, "scriptA", "", 1, 100)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRecord_Rendering(t *testing.T) {
	r := Record{
		ScriptID:  "ipfs/bafy",
		RequestID: "req-9",
		Level:     LevelInfo,
		Message:   "hello",
		CreatedAt: time.Date(2026, 3, 1, 12, 30, 45, 123e6, time.UTC),
	}
	assert.Equal(t, "2026-03-01T12:30:45.123Z [req-9] [INFO] hello", r.Text())

	raw, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"script_id":"ipfs/bafy","request_id":"req-9","level":"INFO","message":"hello","created_at":"2026-03-01T12:30:45.123Z"}`, string(raw))
}
