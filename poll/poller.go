// Package poll queries providers until an order reaches a terminal
// state. Each execution is re-entrant and idempotent; scheduling is
// left to the task runtime.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"reseller-order-engine/chain"
	"reseller-order-engine/ledger"
	"reseller-order-engine/models"
	"reseller-order-engine/providers"
	"reseller-order-engine/routing"
	"reseller-order-engine/storage"
)

// DispatchDeadline is the data-driven timeout: an order still
// non-terminal this long after sent_at is forced to failed.
const DispatchDeadline = 24 * time.Hour

// Outcome tells the task runtime what one poll execution decided.
type Outcome struct {
	OrderID string `json:"orderId"`
	// Done means no further polling: terminal, timed out, or nothing
	// to poll.
	Done bool `json:"done"`
	// NextDelay is the base delay before the next poll when not done.
	// The workflow adds jitter.
	NextDelay time.Duration `json:"nextDelay"`
	// Degraded is set when a terminal signal had to bypass the ledger.
	Degraded bool   `json:"degraded"`
	Message  string `json:"message,omitempty"`
}

// Poller resolves the order's provider and applies one status
// observation per execution.
type Poller struct {
	store      *storage.Store
	resolver   *routing.Resolver
	registry   *providers.Registry
	ledger     *ledger.Service
	propagator *chain.Propagator
	backoff    Backoff
	logger     *slog.Logger
}

// NewPoller builds the status poller.
func NewPoller(store *storage.Store, resolver *routing.Resolver, registry *providers.Registry, ledgerSvc *ledger.Service, propagator *chain.Propagator, backoff Backoff, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		store:      store,
		resolver:   resolver,
		registry:   registry,
		ledger:     ledgerSvc,
		propagator: propagator,
		backoff:    backoff,
		logger:     logger,
	}
}

// ExecuteOnce performs one poll step for an order. Transport errors
// propagate so the task runtime retries; everything else is captured in
// the outcome.
func (p *Poller) ExecuteOnce(ctx context.Context, orderID string, attempt int) (Outcome, error) {
	order, err := p.store.GetOrder(ctx, orderID)
	if err != nil {
		return Outcome{}, err
	}

	// Never dispatched: nothing to poll, no retry scheduled.
	if order.ExternalOrderID == "" {
		return Outcome{OrderID: orderID, Done: true, Message: "order was never dispatched"}, nil
	}
	// Already terminal: earlier execution (or an operator) finished it.
	if order.ExternalStatus.Terminal() {
		return Outcome{OrderID: orderID, Done: true, Message: "already terminal"}, nil
	}
	// Orders fulfilled from the code inventory have no provider to ask:
	// the pins were delivered at dispatch time, so the first poll step
	// settles them.
	if order.ProviderID == nil && strings.HasPrefix(order.ExternalOrderID, storage.CodeReferencePrefix) {
		return p.settleCodes(ctx, order)
	}

	now := time.Now().UTC()
	if order.SentAt != nil && now.Sub(*order.SentAt) > DispatchDeadline {
		return p.timeOut(ctx, order)
	}

	adapter, err := p.bindAdapter(ctx, order)
	if err != nil {
		return Outcome{}, err
	}
	reference := order.ProviderRef
	if reference == "" {
		reference = order.ExternalOrderID
	}
	status, err := adapter.FetchStatus(ctx, reference)
	if err != nil {
		return Outcome{}, err
	}

	next, terminal := models.MapOutcome(string(status.Status))
	if !terminal {
		obs := storage.Observation{
			ExternalStatus:  status.Status.ExternalStatus(),
			PinCode:         status.Pin,
			ProviderMessage: status.Message,
			LastMessage:     status.Message,
			LastSyncAt:      now,
		}
		if err := p.store.RecordObservation(ctx, orderID, obs); err != nil {
			return Outcome{}, err
		}
		return Outcome{
			OrderID:   orderID,
			NextDelay: p.backoff.Delay(attempt),
		}, nil
	}

	note := fmt.Sprintf("provider reported %s (origin: %s)", status.Status, chain.OriginStatusPoll)
	degraded := false
	if err := p.ledger.ApplyOrderStatusChange(ctx, orderID, next, order.TenantID, note); err != nil {
		if !isDomainError(err) {
			return Outcome{}, err
		}
		// The terminal signal must not be lost: fall back to a direct
		// status write without touching balances.
		p.logger.Error("ledger transition failed, degrading to direct status write",
			"order_id", orderID, "status", string(next), "error", err)
		if werr := p.store.ForceExternalStatus(ctx, orderID, status.Status.ExternalStatus(), status.Message); werr != nil {
			return Outcome{}, werr
		}
		degraded = true
	}
	if status.Pin != "" || status.Message != "" {
		obs := storage.Observation{
			ExternalStatus:  status.Status.ExternalStatus(),
			PinCode:         status.Pin,
			ProviderMessage: status.Message,
			LastMessage:     status.Message,
			LastSyncAt:      now,
		}
		if err := p.store.RecordObservation(ctx, orderID, obs); err != nil {
			return Outcome{}, err
		}
	}

	order.Status = next
	if err := p.propagator.Propagate(ctx, order, chain.OriginStatusPoll); err != nil {
		p.logger.Warn("chain propagation incomplete", "order_id", orderID, "error", err)
	}
	return Outcome{
		OrderID:  orderID,
		Done:     true,
		Degraded: degraded,
		Message:  fmt.Sprintf("terminal: %s", next),
	}, nil
}

// settleCodes approves an order whose pins came from the inventory.
// Delivery happened at dispatch; this closes the books on it.
func (p *Poller) settleCodes(ctx context.Context, order models.Order) (Outcome, error) {
	note := fmt.Sprintf("codes delivered from inventory (origin: %s)", chain.OriginStatusPoll)
	degraded := false
	if err := p.ledger.ApplyOrderStatusChange(ctx, order.ID, models.OrderStatusApproved, order.TenantID, note); err != nil {
		if !isDomainError(err) {
			return Outcome{}, err
		}
		p.logger.Error("ledger transition failed, degrading to direct status write",
			"order_id", order.ID, "status", string(models.OrderStatusApproved), "error", err)
		if werr := p.store.ForceExternalStatus(ctx, order.ID, models.ExternalStatusDone, "codes delivered from inventory"); werr != nil {
			return Outcome{}, werr
		}
		degraded = true
	}

	order.Status = models.OrderStatusApproved
	if err := p.propagator.Propagate(ctx, order, chain.OriginStatusPoll); err != nil {
		p.logger.Warn("chain propagation incomplete", "order_id", order.ID, "error", err)
	}
	return Outcome{
		OrderID:  order.ID,
		Done:     true,
		Degraded: degraded,
		Message:  "codes delivered",
	}, nil
}

// timeOut forces the external status to failed and propagates the
// rejected outcome with origin timeout. Not retried further.
func (p *Poller) timeOut(ctx context.Context, order models.Order) (Outcome, error) {
	message := fmt.Sprintf("no terminal status within %s of dispatch", DispatchDeadline)
	if err := p.store.ForceExternalStatus(ctx, order.ID, models.ExternalStatusFailed, message); err != nil {
		return Outcome{}, err
	}
	p.logger.Warn("order timed out", "order_id", order.ID, "sent_at", order.SentAt)

	order.Status = models.OrderStatusRejected
	if err := p.propagator.Propagate(ctx, order, chain.OriginTimeout); err != nil {
		p.logger.Warn("chain propagation incomplete after timeout", "order_id", order.ID, "error", err)
	}
	return Outcome{OrderID: order.ID, Done: true, Message: message}, nil
}

// bindAdapter prefers the provider recorded on the order and falls back
// to re-resolving routing.
func (p *Poller) bindAdapter(ctx context.Context, order models.Order) (providers.Adapter, error) {
	integrationID := ""
	if order.ProviderID != nil {
		integrationID = *order.ProviderID
	}
	if integrationID == "" {
		route, err := p.resolver.Resolve(ctx, order.TenantID, order.PackageID)
		if err != nil {
			return nil, err
		}
		if route == nil || route.PrimaryProviderID == "" {
			return nil, fmt.Errorf("%w: order %s has no provider to poll", models.ErrAdapterUnavailable, order.ID)
		}
		integrationID = route.PrimaryProviderID
	}
	integration, err := p.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	return p.registry.Bind(integration)
}

func isDomainError(err error) bool {
	return errors.Is(err, models.ErrOrderNotFound) ||
		errors.Is(err, models.ErrTenantMismatch) ||
		errors.Is(err, models.ErrLegacyUserMissing) ||
		errors.Is(err, models.ErrOverdraftExceeded) ||
		errors.Is(err, models.ErrInvalidTargetStatus)
}
