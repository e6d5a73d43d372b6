package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CodeReferencePrefix marks external references minted by the code
// allocator instead of a provider.
const CodeReferencePrefix = "codes-"

// AddCodes loads pins into a code group's pool.
func (s *Store) AddCodes(ctx context.Context, groupID string, pins []string) error {
	return s.InTx(ctx, func(tx *sql.Tx) error {
		now := toMillis(time.Now().UTC())
		for _, pin := range pins {
			_, err := tx.Exec(
				`INSERT INTO codes (id, group_id, pin, created_at) VALUES (?, ?, ?, ?)`,
				uuid.NewString(), groupID, pin, now,
			)
			if err != nil {
				return fmt.Errorf("insert code: %w", err)
			}
		}
		return nil
	})
}

// Allocate claims quantity unused pins from the group atomically and
// returns a fresh allocation reference. Claimed pins are tagged with the
// reference so a crash between claim and submission is auditable.
func (s *Store) Allocate(ctx context.Context, codeGroupID string, quantity int) (string, []string, error) {
	if quantity <= 0 {
		return "", nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}
	reference := CodeReferencePrefix + uuid.NewString()
	var pins []string
	err := s.InTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.Query(
			`SELECT id, pin FROM codes WHERE group_id = ? AND order_id IS NULL ORDER BY created_at LIMIT ?`,
			codeGroupID, quantity,
		)
		if err != nil {
			return fmt.Errorf("select free codes: %w", err)
		}
		defer rows.Close()

		var ids []string
		for rows.Next() {
			var id, pin string
			if err := rows.Scan(&id, &pin); err != nil {
				return fmt.Errorf("scan code: %w", err)
			}
			ids = append(ids, id)
			pins = append(pins, pin)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(pins) < quantity {
			return fmt.Errorf("code group %s has %d free codes, need %d", codeGroupID, len(pins), quantity)
		}

		now := toMillis(time.Now().UTC())
		for _, id := range ids {
			if _, err := tx.Exec(
				`UPDATE codes SET order_id = ?, used_at = ? WHERE id = ?`,
				reference, now, id,
			); err != nil {
				return fmt.Errorf("claim code: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return reference, pins, nil
}
