package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"reseller-order-engine/models"
)

// LegacyUserTx loads a legacy-ledger user inside an open transaction.
func (s *Store) LegacyUserTx(tx *sql.Tx, tenantID, userID string) (models.LegacyUser, error) {
	var (
		u                       models.LegacyUser
		balance, overdraftLimit string
	)
	err := tx.QueryRow(
		`SELECT tenant_id, user_id, balance, overdraft_limit FROM legacy_users WHERE tenant_id = ? AND user_id = ?`,
		tenantID, userID,
	).Scan(&u.TenantID, &u.UserID, &balance, &overdraftLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LegacyUser{}, models.ErrLegacyUserMissing
	}
	if err != nil {
		return models.LegacyUser{}, fmt.Errorf("load legacy user: %w", err)
	}
	if u.Balance, err = decimal.NewFromString(balance); err != nil {
		return models.LegacyUser{}, fmt.Errorf("decode legacy balance: %w", err)
	}
	if u.OverdraftLimit, err = decimal.NewFromString(overdraftLimit); err != nil {
		return models.LegacyUser{}, fmt.Errorf("decode legacy overdraft limit: %w", err)
	}
	return u, nil
}

// LedgerAccountTx loads a modern-ledger account inside an open
// transaction.
func (s *Store) LedgerAccountTx(tx *sql.Tx, tenantID, userID string) (models.LedgerAccount, error) {
	var (
		a                       models.LedgerAccount
		balance, overdraftLimit string
	)
	err := tx.QueryRow(
		`SELECT tenant_id, user_id, balance, overdraft_limit FROM ledger_accounts WHERE tenant_id = ? AND user_id = ?`,
		tenantID, userID,
	).Scan(&a.TenantID, &a.UserID, &balance, &overdraftLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LedgerAccount{}, models.ErrLegacyUserMissing
	}
	if err != nil {
		return models.LedgerAccount{}, fmt.Errorf("load ledger account: %w", err)
	}
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return models.LedgerAccount{}, fmt.Errorf("decode account balance: %w", err)
	}
	if a.OverdraftLimit, err = decimal.NewFromString(overdraftLimit); err != nil {
		return models.LedgerAccount{}, fmt.Errorf("decode account overdraft limit: %w", err)
	}
	return a, nil
}

// SetLegacyBalanceTx writes a legacy user's balance inside an open
// transaction.
func (s *Store) SetLegacyBalanceTx(tx *sql.Tx, tenantID, userID string, balance decimal.Decimal) error {
	res, err := tx.Exec(
		`UPDATE legacy_users SET balance = ? WHERE tenant_id = ? AND user_id = ?`,
		balance.String(), tenantID, userID,
	)
	if err != nil {
		return fmt.Errorf("set legacy balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrLegacyUserMissing
	}
	return nil
}

// SetAccountBalanceTx writes a modern-ledger balance inside an open
// transaction.
func (s *Store) SetAccountBalanceTx(tx *sql.Tx, tenantID, userID string, balance decimal.Decimal) error {
	res, err := tx.Exec(
		`UPDATE ledger_accounts SET balance = ? WHERE tenant_id = ? AND user_id = ?`,
		balance.String(), tenantID, userID,
	)
	if err != nil {
		return fmt.Errorf("set account balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrLegacyUserMissing
	}
	return nil
}

// SaveLegacyUser upserts a legacy-ledger user row.
func (s *Store) SaveLegacyUser(ctx context.Context, u models.LegacyUser) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO legacy_users (tenant_id, user_id, balance, overdraft_limit)
VALUES (?, ?, ?, ?)
ON CONFLICT(tenant_id, user_id) DO UPDATE SET
  balance = excluded.balance,
  overdraft_limit = excluded.overdraft_limit`,
		u.TenantID, u.UserID, u.Balance.String(), u.OverdraftLimit.String())
	if err != nil {
		return fmt.Errorf("save legacy user: %w", err)
	}
	return nil
}

// SaveLedgerAccount upserts a modern-ledger account row.
func (s *Store) SaveLedgerAccount(ctx context.Context, a models.LedgerAccount) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO ledger_accounts (tenant_id, user_id, balance, overdraft_limit)
VALUES (?, ?, ?, ?)
ON CONFLICT(tenant_id, user_id) DO UPDATE SET
  balance = excluded.balance,
  overdraft_limit = excluded.overdraft_limit`,
		a.TenantID, a.UserID, a.Balance.String(), a.OverdraftLimit.String())
	if err != nil {
		return fmt.Errorf("save ledger account: %w", err)
	}
	return nil
}

// LegacyUser loads a legacy-ledger user outside a transaction.
func (s *Store) LegacyUser(ctx context.Context, tenantID, userID string) (models.LegacyUser, error) {
	var u models.LegacyUser
	err := s.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		u, err = s.LegacyUserTx(tx, tenantID, userID)
		return err
	})
	return u, err
}

// LedgerAccount loads a modern-ledger account outside a transaction.
func (s *Store) LedgerAccount(ctx context.Context, tenantID, userID string) (models.LedgerAccount, error) {
	var a models.LedgerAccount
	err := s.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		a, err = s.LedgerAccountTx(tx, tenantID, userID)
		return err
	})
	return a, err
}
