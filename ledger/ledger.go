// Package ledger owns order status transitions and the wallet balances
// tied to them. Nothing else in the engine writes Order.Status.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"reseller-order-engine/models"
	"reseller-order-engine/storage"
)

const (
	legacyPlaces = 2
	modernPlaces = 6
)

// Service applies order status changes atomically across the order row,
// the legacy ledger, and the modern ledger.
type Service struct {
	store  *storage.Store
	logger *slog.Logger
}

// NewService builds the ledger service.
func NewService(store *storage.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// ApplyOrderStatusChange transitions an order to next inside one
// transaction, locking order, legacy user, and modern account in that
// order. Rejecting refunds the sell price; approving from rejected
// re-charges it, subject to the overdraft limit on both ledgers.
func (s *Service) ApplyOrderStatusChange(ctx context.Context, orderID string, next models.OrderStatus, expectedTenantID, note string) error {
	if !next.Terminal() {
		return fmt.Errorf("%w: %q", models.ErrInvalidTargetStatus, next)
	}
	return s.store.InTx(ctx, func(tx *sql.Tx) error {
		order, err := s.store.GetOrderTx(tx, orderID)
		if err != nil {
			return err
		}
		if expectedTenantID != "" && order.TenantID != expectedTenantID {
			return fmt.Errorf("%w: order %s belongs to %s", models.ErrTenantMismatch, orderID, order.TenantID)
		}
		if order.Status == next {
			if note != "" {
				return s.store.AppendNoteTx(tx, orderID, models.Note{By: "engine", Text: note})
			}
			return nil
		}

		legacyUser, err := s.store.LegacyUserTx(tx, order.TenantID, order.UserID)
		if err != nil {
			return err
		}
		account, err := s.store.LedgerAccountTx(tx, order.TenantID, order.UserID)
		if err != nil {
			return err
		}

		amountLegacy := quantize(order.SellPrice, legacyPlaces)
		amountModern := quantize(order.SellPrice, modernPlaces)

		switch {
		case next == models.OrderStatusRejected:
			// Refund: the user was charged at order creation.
			legacyUser.Balance = quantize(legacyUser.Balance.Add(amountLegacy), legacyPlaces)
			account.Balance = quantize(account.Balance.Add(amountModern), modernPlaces)
		case next == models.OrderStatusApproved && order.Status == models.OrderStatusRejected:
			// Re-charge after a correction; both ledgers must stay
			// within the overdraft limit or nothing moves.
			nextLegacy := quantize(legacyUser.Balance.Sub(amountLegacy), legacyPlaces)
			nextModern := quantize(account.Balance.Sub(amountModern), modernPlaces)
			if nextLegacy.LessThan(legacyUser.OverdraftLimit.Neg()) {
				return fmt.Errorf("%w: legacy balance %s after charge of %s", models.ErrOverdraftExceeded, nextLegacy, amountLegacy)
			}
			if nextModern.LessThan(account.OverdraftLimit.Neg()) {
				return fmt.Errorf("%w: ledger balance %s after charge of %s", models.ErrOverdraftExceeded, nextModern, amountModern)
			}
			legacyUser.Balance = nextLegacy
			account.Balance = nextModern
		}

		if err := s.store.SetLegacyBalanceTx(tx, legacyUser.TenantID, legacyUser.UserID, legacyUser.Balance); err != nil {
			return err
		}
		if err := s.store.SetAccountBalanceTx(tx, account.TenantID, account.UserID, account.Balance); err != nil {
			return err
		}

		now := time.Now().UTC()
		order.Status = next
		if next == models.OrderStatusApproved {
			order.ExternalStatus = models.ExternalStatusDone
		} else {
			order.ExternalStatus = models.ExternalStatusFailed
		}
		order.CompletedAt = &now
		order.LastSyncAt = &now
		if order.SentAt != nil {
			duration := now.Sub(*order.SentAt).Milliseconds()
			order.DurationMS = &duration
		}
		if err := s.store.ApplyTransitionTx(tx, order); err != nil {
			return err
		}
		if note != "" {
			if err := s.store.AppendNoteTx(tx, orderID, models.Note{By: "engine", Text: note}); err != nil {
				return err
			}
		}
		s.logger.Info("order status transition applied",
			"order_id", orderID, "status", string(next),
			"legacy_balance", legacyUser.Balance.String(),
			"ledger_balance", account.Balance.String())
		return nil
	})
}

// BulkItem is one entry of an admin bulk approve/reject request.
type BulkItem struct {
	OrderID string             `json:"orderId"`
	Next    models.OrderStatus `json:"status"`
}

// BulkResult reports the outcome for one bulk item.
type BulkResult struct {
	OrderID string `json:"orderId"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// ApplyBulk applies every item independently and reports per-item
// results; one item's failure never aborts the batch.
func (s *Service) ApplyBulk(ctx context.Context, tenantID string, items []BulkItem, note string) []BulkResult {
	results := make([]BulkResult, 0, len(items))
	for _, item := range items {
		result := BulkResult{OrderID: item.OrderID, OK: true}
		if err := s.ApplyOrderStatusChange(ctx, item.OrderID, item.Next, tenantID, note); err != nil {
			result.OK = false
			result.Error = err.Error()
			s.logger.Warn("bulk status change failed", "order_id", item.OrderID, "error", err)
		}
		results = append(results, result)
	}
	return results
}

// quantize rounds half up to the given number of decimal places.
func quantize(value decimal.Decimal, places int32) decimal.Decimal {
	return value.Round(places)
}
