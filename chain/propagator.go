// Package chain repeats a terminal order outcome across the ancestor
// orders that forwarded it between tenants.
package chain

import (
	"context"
	"fmt"
	"log/slog"

	"reseller-order-engine/ledger"
	"reseller-order-engine/models"
	"reseller-order-engine/storage"
)

// Origins tagged onto propagation notes.
const (
	OriginStatusPoll = "status_poll"
	OriginTimeout    = "timeout"
)

// Propagator walks an order's chain path and applies the same terminal
// outcome to every ancestor not already terminal. It runs synchronously
// inside the poller call; chain depth is bounded by one call stack.
type Propagator struct {
	store  *storage.Store
	ledger *ledger.Service
	logger *slog.Logger
}

// NewPropagator builds the chain propagator.
func NewPropagator(store *storage.Store, ledgerSvc *ledger.Service, logger *slog.Logger) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Propagator{store: store, ledger: ledgerSvc, logger: logger}
}

// Propagate applies order's terminal status to each ancestor in its
// chain path, oldest first. Already-terminal ancestors are skipped, so
// re-running is a no-op. A seen set guards against a corrupted cyclic
// chain path; acyclicity is also enforced at write time.
func (p *Propagator) Propagate(ctx context.Context, order models.Order, origin string) error {
	if !order.Status.Terminal() {
		return fmt.Errorf("%w: cannot propagate non-terminal status %q", models.ErrInvalidTargetStatus, order.Status)
	}
	note := fmt.Sprintf("propagated %s from order %s (origin: %s)", order.Status, order.ID, origin)

	seen := map[string]bool{order.ID: true}
	var firstErr error
	for _, ancestorID := range order.ChainPath {
		if seen[ancestorID] {
			p.logger.Warn("chain path revisits an order, skipping",
				"order_id", order.ID, "ancestor_id", ancestorID, "error", models.ErrChainCycle)
			continue
		}
		seen[ancestorID] = true

		ancestor, err := p.store.GetOrder(ctx, ancestorID)
		if err != nil {
			p.logger.Warn("chain ancestor not loadable", "ancestor_id", ancestorID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ancestor.Status.Terminal() {
			continue
		}
		if err := p.ledger.ApplyOrderStatusChange(ctx, ancestorID, order.Status, ancestor.TenantID, note); err != nil {
			p.logger.Warn("chain propagation failed for ancestor",
				"ancestor_id", ancestorID, "status", string(order.Status), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		p.logger.Info("chain outcome propagated",
			"order_id", order.ID, "ancestor_id", ancestorID,
			"status", string(order.Status), "origin", origin)
	}
	return firstErr
}
