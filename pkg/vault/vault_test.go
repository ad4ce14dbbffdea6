package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/codegate/pkg/store"
)

func newTestVault(t *testing.T) (*Vault, store.Client) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)
	client := store.NewSQLClient(db, store.DialectSQLite)
	require.NoError(t, store.EnsureSchema(context.Background(), client))
	return New(client), client
}

func TestVault_SaveAndReadBack(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	key, token, err := v.Save(ctx, Secret{CID: "abc", Data: map[string]any{"k": "v"}})
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	assert.NotEmpty(t, token)
	assert.NotEqual(t, key, token)

	item, err := v.GetItem(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "abc", item.CID)
	assert.Equal(t, map[string]any{"k": "v"}, item.Data)
	assert.Equal(t, map[string]any{"k": "v"}, item.Secret)
}

func TestVault_CapabilityGating(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	key, token, err := v.Save(ctx, Secret{CID: "abc", Data: map[string]any{"k": "v"}})
	require.NoError(t, err)

	item, err := v.GetItemByAccessToken(ctx, key, token)
	require.NoError(t, err)
	require.NotNil(t, item)

	// Wrong token is indistinguishable from an unknown key.
	item, err = v.GetItemByAccessToken(ctx, key, "deadbeefdeadbeef")
	require.NoError(t, err)
	assert.Nil(t, item)

	item, err = v.GetItemByAccessToken(ctx, "unknown-key", token)
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestVault_InheritanceMerge(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	parentKey, _, err := v.Save(ctx, Secret{
		CID:  "owner",
		Data: map[string]any{"a": float64(1), "list": []any{float64(1), float64(2)}},
	})
	require.NoError(t, err)

	childKey, _, err := v.Save(ctx, Secret{
		CID:     "owner",
		Data:    map[string]any{"list": []any{float64(3)}, "b": float64(2)},
		Inherit: parentKey,
	})
	require.NoError(t, err)

	child, err := v.GetItem(ctx, childKey)
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Equal(t, parentKey, child.Inherit)
	assert.Equal(t, map[string]any{
		"a":    float64(1),
		"b":    float64(2),
		"list": []any{float64(1), float64(2), float64(3)},
	}, child.Secret)
}

func TestVault_GrandparentChainIsFlattened(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	gpKey, _, err := v.Save(ctx, Secret{CID: "o", Data: map[string]any{"root": "gp", "depth": float64(0)}})
	require.NoError(t, err)
	pKey, _, err := v.Save(ctx, Secret{CID: "o", Data: map[string]any{"depth": float64(1)}, Inherit: gpKey})
	require.NoError(t, err)
	cKey, _, err := v.Save(ctx, Secret{CID: "o", Data: map[string]any{"leaf": true}, Inherit: pKey})
	require.NoError(t, err)

	child, err := v.GetItem(ctx, cKey)
	require.NoError(t, err)
	require.NotNil(t, child)
	// Grandparent values arrive via the pre-merged snapshot, not a
	// live walk of the chain.
	assert.Equal(t, map[string]any{"root": "gp", "depth": float64(1)}, child.Parents)
	assert.Equal(t, map[string]any{"root": "gp", "depth": float64(1), "leaf": true}, child.Secret)
}

func TestVault_SnapshotFrozenAtCreation(t *testing.T) {
	v, client := newTestVault(t)
	ctx := context.Background()

	parentKey, _, err := v.Save(ctx, Secret{CID: "o", Data: map[string]any{"shared": "original"}})
	require.NoError(t, err)
	childKey, _, err := v.Save(ctx, Secret{CID: "o", Data: map[string]any{"own": "x"}, Inherit: parentKey})
	require.NoError(t, err)

	// Items are immutable in the API, but the design must tolerate an
	// out-of-band ancestor mutation without it leaking into children.
	mutated, _ := json.Marshal(map[string]any{"shared": "mutated"})
	_, err = client.Execute(ctx, []store.Statement{{
		Q:      "UPDATE vaults SET data = ? WHERE key = ?",
		Params: []any{string(mutated), parentKey},
	}})
	require.NoError(t, err)

	child, err := v.GetItem(ctx, childKey)
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Equal(t, "original", child.Secret["shared"], "child snapshot is frozen at creation time")
}

func TestVault_MissingParentDowngradesToPlainWrite(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	key, _, err := v.Save(ctx, Secret{
		CID:     "o",
		Data:    map[string]any{"k": "v"},
		Inherit: "no-such-parent",
	})
	require.NoError(t, err, "dangling inherit must not fail the write")

	item, err := v.GetItem(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Empty(t, item.Inherit)
	assert.Nil(t, item.Parents)
	assert.Equal(t, map[string]any{"k": "v"}, item.Secret)
}

func TestVault_Validation(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	_, _, err := v.Save(ctx, Secret{Data: map[string]any{"k": "v"}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "cid", verr.Field)

	_, _, err = v.Save(ctx, Secret{CID: "o"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "data", verr.Field)
}

func TestVault_DistinctWritesYieldDistinctCapabilities(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	k1, t1, err := v.Save(ctx, Secret{CID: "o", Data: map[string]any{"n": float64(1)}})
	require.NoError(t, err)
	k2, t2, err := v.Save(ctx, Secret{CID: "o", Data: map[string]any{"n": float64(1)}})
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, t1, t2)
}
