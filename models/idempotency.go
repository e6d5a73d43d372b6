package models

import "time"

// IdempotencyKey deduplicates order-creation requests on the external
// intake. Matching is exact on (token, key, request hash): the same key
// with a different body misses and creates a new order. That is the
// long-standing intake contract and is preserved deliberately.
type IdempotencyKey struct {
	TokenID     string    `json:"token_id"`
	Key         string    `json:"key"`
	RequestHash string    `json:"request_hash"`
	OrderID     string    `json:"order_id"`
	TTLSeconds  int64     `json:"ttl_seconds"`
	CreatedAt   time.Time `json:"created_at"`
}

// Expired reports whether the key row is past its TTL at now.
func (k IdempotencyKey) Expired(now time.Time) bool {
	return now.After(k.CreatedAt.Add(time.Duration(k.TTLSeconds) * time.Second))
}

// APIToken authenticates the external intake. Tokens are stored hashed;
// lookup is by prefix first, then full hash comparison.
type APIToken struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Prefix    string    `json:"prefix"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}
