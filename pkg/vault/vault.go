// Package vault is a capability-addressed secret store. A write yields
// a (key, token) pair; reading requires both. Secrets may inherit from
// a parent item: the ancestor chain is flattened eagerly at write time
// into a frozen snapshot, so later changes to an ancestor never
// propagate to existing children.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/Mindburn-Labs/codegate/pkg/store"
)

// Secret is a write request.
type Secret struct {
	CID     string         `json:"cid"`
	Data    map[string]any `json:"data"`
	Inherit string         `json:"inherit,omitempty"`
}

// Item is a stored vault entry. Secret is the effective secret,
// computed at read time as Merge(Parents, Data); it is never stored.
type Item struct {
	Key     string
	Token   string
	CID     string
	Data    map[string]any
	Inherit string
	Parents map[string]any
	Secret  map[string]any
}

// ValidationError rejects malformed input before any store call.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("vault: invalid %s: %s", e.Field, e.Msg)
}

// Vault persists items in the shared relational store.
type Vault struct {
	store store.Client
	now   func() time.Time
}

// New creates a Vault over the given store client.
func New(c store.Client) *Vault {
	return &Vault{store: c, now: time.Now}
}

// deriveToken and deriveKey use xxhash64, a fast non-cryptographic
// hash, over semi-predictable inputs (random nonce + wall-clock time).
// KNOWN WEAKNESS: these are capability tokens for low-stakes secret
// distribution, not secure credentials. A redesign should draw tokens
// from crypto/rand instead; kept as-is for compatibility with issued
// capabilities.
func deriveToken(cid string, nonce string, now time.Time) string {
	sum := xxhash.Sum64String(cid + ":" + nonce + ":" + strconv.FormatInt(now.UnixMilli(), 10))
	return fmt.Sprintf("%016x", sum)
}

func deriveKey(cid, token string, data map[string]any) string {
	raw, _ := json.Marshal(struct {
		Token string         `json:"token"`
		CID   string         `json:"cid"`
		Data  map[string]any `json:"data"`
	}{token, cid, data})
	sum := xxhash.Sum64String(cid + ":" + string(raw))
	return fmt.Sprintf("%016x", sum)
}

// Save validates and persists a secret, returning its capability pair.
// A dangling Inherit reference downgrades to a non-inheriting write
// rather than failing.
func (v *Vault) Save(ctx context.Context, s Secret) (key, token string, err error) {
	if s.CID == "" {
		return "", "", &ValidationError{Field: "cid", Msg: "required"}
	}
	if s.Data == nil {
		return "", "", &ValidationError{Field: "data", Msg: "required"}
	}

	token = deriveToken(s.CID, uuid.NewString(), v.now())
	key = deriveKey(s.CID, token, s.Data)

	dataJSON, err := json.Marshal(s.Data)
	if err != nil {
		return "", "", &ValidationError{Field: "data", Msg: err.Error()}
	}

	if s.Inherit != "" {
		parent, err := v.GetItem(ctx, s.Inherit)
		if err != nil {
			return "", "", err
		}
		if parent != nil {
			base := parent.Parents
			if base == nil {
				base = map[string]any{}
			}
			parents := Merge(base, parent.Data)
			parentsJSON, merr := json.Marshal(parents)
			if merr != nil {
				return "", "", fmt.Errorf("encode parents: %w", merr)
			}
			_, err = v.store.Execute(ctx, []store.Statement{{
				Q:      "INSERT INTO vaults (key, token, cid, data, inherit, parents) VALUES (?, ?, ?, ?, ?, ?)",
				Params: []any{key, token, s.CID, string(dataJSON), s.Inherit, string(parentsJSON)},
			}})
			if err != nil {
				return "", "", err
			}
			return key, token, nil
		}
	}

	_, err = v.store.Execute(ctx, []store.Statement{{
		Q:      "INSERT INTO vaults (key, token, cid, data) VALUES (?, ?, ?, ?)",
		Params: []any{key, token, s.CID, string(dataJSON)},
	}})
	if err != nil {
		return "", "", err
	}
	return key, token, nil
}

// GetItem looks up an item by key. Absence is (nil, nil). The returned
// item carries the effective secret, merged lazily from the frozen
// parent snapshot (O(1), the snapshot is already flat).
func (v *Vault) GetItem(ctx context.Context, key string) (*Item, error) {
	results, err := v.store.Execute(ctx, []store.Statement{{
		Q:      "SELECT key, token, cid, data, inherit, parents FROM vaults WHERE key = ? LIMIT 1",
		Params: []any{key},
	}})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || len(results[0].Rows) == 0 {
		return nil, nil
	}
	row := store.Zip(results[0].Columns, results[0].Rows[0])

	item := &Item{
		Key:   asString(row["key"]),
		Token: asString(row["token"]),
		CID:   asString(row["cid"]),
	}
	if err := json.Unmarshal([]byte(asString(row["data"])), &item.Data); err != nil {
		return nil, &store.Error{Op: "read vault item", Err: fmt.Errorf("malformed data for key %s: %w", key, err)}
	}
	item.Inherit = asString(row["inherit"])
	item.Secret = item.Data
	if parentsRaw := asString(row["parents"]); parentsRaw != "" {
		if err := json.Unmarshal([]byte(parentsRaw), &item.Parents); err != nil {
			return nil, &store.Error{Op: "read vault item", Err: fmt.Errorf("malformed parents for key %s: %w", key, err)}
		}
		item.Secret = Merge(item.Parents, item.Data)
	}
	return item, nil
}

// GetItemByAccessToken returns the item only when both capability parts
// match. A wrong token behaves exactly like an unknown key so callers
// cannot distinguish the two.
func (v *Vault) GetItemByAccessToken(ctx context.Context, key, token string) (*Item, error) {
	item, err := v.GetItem(ctx, key)
	if err != nil {
		return nil, err
	}
	if item == nil || item.Token != token {
		return nil, nil
	}
	return item, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
