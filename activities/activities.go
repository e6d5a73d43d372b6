// Package activities exposes the engine's operations to the Temporal
// worker.
package activities

import (
	"context"

	"go.temporal.io/sdk/activity"

	"reseller-order-engine/dispatch"
	"reseller-order-engine/poll"
	"reseller-order-engine/storage"
)

// Activities bundles the engine services invoked from workflows.
type Activities struct {
	coordinator *dispatch.Coordinator
	poller      *poll.Poller
	store       *storage.Store
	refresher   *BalanceRefresher
}

// NewActivities creates an Activities instance over the wired services.
func NewActivities(coordinator *dispatch.Coordinator, poller *poll.Poller, store *storage.Store, refresher *BalanceRefresher) *Activities {
	return &Activities{
		coordinator: coordinator,
		poller:      poller,
		store:       store,
		refresher:   refresher,
	}
}

// DispatchInput identifies the order to submit.
type DispatchInput struct {
	OrderID  string `json:"order_id"`
	TenantID string `json:"tenant_id"`
}

// DispatchOrder performs the order's first submission. Dispatch
// failures are captured in the result; only infrastructure errors
// surface to Temporal's retry policy.
func (a *Activities) DispatchOrder(ctx context.Context, input DispatchInput) (dispatch.Result, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Dispatching order", "order_id", input.OrderID)

	activity.RecordHeartbeat(ctx, "dispatching")
	result, err := a.coordinator.Dispatch(ctx, input.OrderID, input.TenantID)
	if err != nil {
		return dispatch.Result{}, err
	}
	logger.Info("Dispatch finished",
		"order_id", input.OrderID, "dispatched", result.Dispatched,
		"fallback_triggered", result.FallbackTriggered, "message", result.Message)
	return result, nil
}

// PollInput identifies one poll step.
type PollInput struct {
	OrderID string `json:"order_id"`
	Attempt int    `json:"attempt"`
}

// PollOrder performs one status poll. Transport errors surface so the
// retry policy re-runs the step.
func (a *Activities) PollOrder(ctx context.Context, input PollInput) (poll.Outcome, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Polling order", "order_id", input.OrderID, "attempt", input.Attempt)

	activity.RecordHeartbeat(ctx, "polling provider")
	outcome, err := a.poller.ExecuteOnce(ctx, input.OrderID, input.Attempt)
	if err != nil {
		return poll.Outcome{}, err
	}
	logger.Info("Poll step finished",
		"order_id", input.OrderID, "done", outcome.Done,
		"degraded", outcome.Degraded, "message", outcome.Message)
	return outcome, nil
}

// RefreshBalance updates one integration's balance snapshot from the
// provider.
func (a *Activities) RefreshBalance(ctx context.Context, integrationID string) error {
	logger := activity.GetLogger(ctx)
	logger.Info("Refreshing integration balance", "integration_id", integrationID)

	activity.RecordHeartbeat(ctx, "fetching balance")
	return a.refresher.Refresh(ctx, integrationID)
}
