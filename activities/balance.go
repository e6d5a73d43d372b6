package activities

import (
	"context"

	"reseller-order-engine/providers"
	"reseller-order-engine/storage"
)

// BalanceRefresher pulls a provider's balance and debt into the
// integration row.
type BalanceRefresher struct {
	store    *storage.Store
	registry *providers.Registry
}

// NewBalanceRefresher builds the refresher.
func NewBalanceRefresher(store *storage.Store, registry *providers.Registry) *BalanceRefresher {
	return &BalanceRefresher{store: store, registry: registry}
}

// Refresh fetches the balance through the bound adapter and stores it.
func (r *BalanceRefresher) Refresh(ctx context.Context, integrationID string) error {
	integration, err := r.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return err
	}
	adapter, err := r.registry.Bind(integration)
	if err != nil {
		return err
	}
	balance, err := adapter.GetBalance(ctx)
	if err != nil {
		return err
	}
	return r.store.RefreshIntegrationBalance(ctx, integrationID, balance.Balance, balance.Debt)
}
