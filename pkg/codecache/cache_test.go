package codecache

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/codegate/pkg/store"
)

func newTestStore(t *testing.T) store.Client {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)
	client := store.NewSQLClient(db, store.DialectSQLite)
	require.NoError(t, store.EnsureSchema(context.Background(), client))
	return client
}

func TestCache_GetOrFetch_FetchesOnceThenHits(t *testing.T) {
	cache := New(newTestStore(t))
	ctx := context.Background()

	var fetches atomic.Int32
	fetch := func(ctx context.Context, cid string) (string, error) {
		fetches.Add(1)
		return "source-of-" + cid, nil
	}

	code, err := cache.GetOrFetch(ctx, "bafyabc", fetch)
	require.NoError(t, err)
	assert.Equal(t, "source-of-bafyabc", code)
	assert.Equal(t, int32(1), fetches.Load())

	code, err = cache.GetOrFetch(ctx, "bafyabc", fetch)
	require.NoError(t, err)
	assert.Equal(t, "source-of-bafyabc", code)
	assert.Equal(t, int32(1), fetches.Load(), "second request must not refetch")
}

func TestCache_FetchFailurePropagatesWithoutWrite(t *testing.T) {
	cache := New(newTestStore(t))
	ctx := context.Background()

	boom := errors.New("gateway down")
	_, err := cache.GetOrFetch(ctx, "bafymissing", func(ctx context.Context, cid string) (string, error) {
		return "", boom
	})
	require.ErrorIs(t, err, boom)

	_, ok, err := cache.Get(ctx, "bafymissing")
	require.NoError(t, err)
	assert.False(t, ok, "no partial write and no negative caching on fetch failure")
}

func TestCache_DuplicateWritesAreIdempotent(t *testing.T) {
	cache := New(newTestStore(t))
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "bafydup", "same source"))
	require.NoError(t, cache.Put(ctx, "bafydup", "same source"))

	code, ok, err := cache.Get(ctx, "bafydup")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "same source", code)
}

func TestCache_ConcurrentFirstWriters(t *testing.T) {
	cache := New(newTestStore(t))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.GetOrFetch(ctx, "bafyrace", func(ctx context.Context, cid string) (string, error) {
				return "raced source", nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	code, ok, err := cache.Get(ctx, "bafyrace")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "raced source", code)

	results, err := cache.store.Execute(ctx, []store.Statement{{Q: "SELECT COUNT(*) AS n FROM codes WHERE cid = ?", Params: []any{"bafyrace"}}})
	require.NoError(t, err)
	require.Len(t, results[0].Rows, 1)
	assert.EqualValues(t, int64(1), results[0].Rows[0][0])
}

func TestHotCache_RedisFailureFallsThrough(t *testing.T) {
	inner := New(newTestStore(t))
	ctx := context.Background()
	require.NoError(t, inner.Put(ctx, "bafyhot", "hot source"))

	// Unreachable redis: every redis op errors, inner store still serves.
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
	})
	hot := NewHotCache(rdb, inner, time.Minute)

	code, ok, err := hot.Get(ctx, "bafyhot")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hot source", code)
}
