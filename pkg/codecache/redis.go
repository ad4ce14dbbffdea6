package codecache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/codegate/pkg/codesource"
)

// HotCache layers Redis in front of another Store. Code is immutable
// per cid, so entries never need invalidation; a TTL bounds memory.
// Redis failures are soft: every operation falls through to the inner
// store, since this is a cache of a cache.
type HotCache struct {
	rdb    *redis.Client
	inner  Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewHotCache wraps inner with a Redis layer.
func NewHotCache(rdb *redis.Client, inner Store, ttl time.Duration) *HotCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &HotCache{
		rdb:    rdb,
		inner:  inner,
		ttl:    ttl,
		logger: slog.Default().With("component", "codecache"),
	}
}

func (h *HotCache) key(cid string) string { return "code:" + cid }

func (h *HotCache) Get(ctx context.Context, cid string) (string, bool, error) {
	code, err := h.rdb.Get(ctx, h.key(cid)).Result()
	if err == nil {
		return code, true, nil
	}
	if err != redis.Nil {
		h.logger.Warn("redis get failed, falling through", "cid", cid, "error", err)
	}
	code, ok, err := h.inner.Get(ctx, cid)
	if err != nil || !ok {
		return code, ok, err
	}
	h.backfill(ctx, cid, code)
	return code, true, nil
}

func (h *HotCache) Put(ctx context.Context, cid, code string) error {
	if err := h.inner.Put(ctx, cid, code); err != nil {
		return err
	}
	h.backfill(ctx, cid, code)
	return nil
}

func (h *HotCache) GetOrFetch(ctx context.Context, cid string, fetch codesource.FetchFunc) (string, error) {
	code, ok, err := h.Get(ctx, cid)
	if err != nil {
		return "", err
	}
	if ok {
		return code, nil
	}
	code, err = fetch(ctx, cid)
	if err != nil {
		return "", err
	}
	if err := h.Put(ctx, cid, code); err != nil {
		return "", err
	}
	return code, nil
}

func (h *HotCache) backfill(ctx context.Context, cid, code string) {
	if err := h.rdb.Set(ctx, h.key(cid), code, h.ttl).Err(); err != nil {
		h.logger.Warn("redis backfill failed", "cid", cid, "error", err)
	}
}
