// Package codecache is the content-addressed store for guest code.
// Identifiers are assumed content-derived, so writes are idempotent
// upserts and concurrent duplicate fills converge safely without locks.
package codecache

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/codegate/pkg/codesource"
	"github.com/Mindburn-Labs/codegate/pkg/store"
)

// Store resolves code by content identifier with read-through fill.
type Store interface {
	Get(ctx context.Context, cid string) (string, bool, error)
	Put(ctx context.Context, cid, code string) error
	GetOrFetch(ctx context.Context, cid string, fetch codesource.FetchFunc) (string, error)
}

// Cache persists code in the shared relational store.
type Cache struct {
	store store.Client
}

// New creates a Cache over the given store client.
func New(c store.Client) *Cache {
	return &Cache{store: c}
}

// Get returns the cached code for cid, reporting presence explicitly.
func (c *Cache) Get(ctx context.Context, cid string) (string, bool, error) {
	results, err := c.store.Execute(ctx, []store.Statement{
		{Q: "SELECT cid, code FROM codes WHERE cid = ? LIMIT 1", Params: []any{cid}},
	})
	if err != nil {
		return "", false, err
	}
	if len(results) == 0 || len(results[0].Rows) == 0 {
		return "", false, nil
	}
	row := store.Zip(results[0].Columns, results[0].Rows[0])
	code, ok := row["code"].(string)
	if !ok {
		return "", false, &store.Error{Op: "read code", Err: fmt.Errorf("malformed row for cid %s", cid)}
	}
	return code, true, nil
}

// Put upserts the code for cid. cid is a content hash of code, so the
// last write is equivalent to the first and racing writers are safe.
func (c *Cache) Put(ctx context.Context, cid, code string) error {
	_, err := c.store.Execute(ctx, []store.Statement{
		{Q: "INSERT INTO codes (cid, code) VALUES (?, ?) ON CONFLICT (cid) DO NOTHING", Params: []any{cid, code}},
	})
	return err
}

// GetOrFetch returns the cached code, filling from fetch on a miss.
// A fetch failure propagates untouched; nothing is written on failure.
// Two concurrent misses may both fetch and both write, which is fine
// given the idempotent upsert.
func (c *Cache) GetOrFetch(ctx context.Context, cid string, fetch codesource.FetchFunc) (string, error) {
	code, ok, err := c.Get(ctx, cid)
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
	if err := c.Put(ctx, cid, code); err != nil {
		return "", err
	}
	return code, nil
}
