package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"reseller-order-engine/models"
)

// GetIdempotencyKey looks up an exact (token, key, hash) triple. Expired
// rows behave as misses.
func (s *Store) GetIdempotencyKey(ctx context.Context, tokenID, key, requestHash string) (models.IdempotencyKey, bool, error) {
	var (
		row       models.IdempotencyKey
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT token_id, idem_key, request_hash, order_id, ttl_seconds, created_at
FROM idempotency_keys WHERE token_id = ? AND idem_key = ? AND request_hash = ?`,
		tokenID, key, requestHash,
	).Scan(&row.TokenID, &row.Key, &row.RequestHash, &row.OrderID, &row.TTLSeconds, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.IdempotencyKey{}, false, nil
	}
	if err != nil {
		return models.IdempotencyKey{}, false, fmt.Errorf("load idempotency key: %w", err)
	}
	row.CreatedAt = fromMillis(createdAt)
	if row.Expired(time.Now().UTC()) {
		return models.IdempotencyKey{}, false, nil
	}
	return row, true, nil
}

// UpsertIdempotencyKey points the triple at an order id.
func (s *Store) UpsertIdempotencyKey(ctx context.Context, row models.IdempotencyKey) error {
	if row.TTLSeconds <= 0 {
		row.TTLSeconds = 86400
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO idempotency_keys (token_id, idem_key, request_hash, order_id, ttl_seconds, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(token_id, idem_key, request_hash) DO UPDATE SET
  order_id = excluded.order_id,
  ttl_seconds = excluded.ttl_seconds,
  created_at = excluded.created_at`,
		row.TokenID, row.Key, row.RequestHash, row.OrderID, row.TTLSeconds, toMillis(row.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert idempotency key: %w", err)
	}
	return nil
}

// APITokensByPrefix loads candidate tokens sharing a prefix; the caller
// compares full hashes.
func (s *Store) APITokensByPrefix(ctx context.Context, prefix string) ([]models.APIToken, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, tenant_id, prefix, hash, created_at FROM api_tokens WHERE prefix = ?`, prefix)
	if err != nil {
		return nil, fmt.Errorf("query api tokens: %w", err)
	}
	defer rows.Close()

	var tokens []models.APIToken
	for rows.Next() {
		var (
			t         models.APIToken
			createdAt int64
		)
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Prefix, &t.Hash, &createdAt); err != nil {
			return nil, fmt.Errorf("scan api token: %w", err)
		}
		t.CreatedAt = fromMillis(createdAt)
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// SaveAPIToken upserts an API token row.
func (s *Store) SaveAPIToken(ctx context.Context, t models.APIToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO api_tokens (id, tenant_id, prefix, hash, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  tenant_id = excluded.tenant_id,
  prefix = excluded.prefix,
  hash = excluded.hash`,
		t.ID, t.TenantID, t.Prefix, t.Hash, toMillis(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("save api token: %w", err)
	}
	return nil
}
