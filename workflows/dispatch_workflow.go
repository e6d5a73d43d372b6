// Package workflows orchestrates order dispatch and status polling on
// Temporal.
package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"reseller-order-engine/activities"
	"reseller-order-engine/dispatch"
)

const (
	// TaskQueueName is shared by the worker, the starter, and the API.
	TaskQueueName = "order-dispatch-queue"

	QueryDispatchResult = "dispatch_result"
)

// DispatchRequest starts one order's dispatch lifecycle.
type DispatchRequest struct {
	OrderID  string `json:"order_id"`
	TenantID string `json:"tenant_id"`
}

// DispatchWorkflow submits an order once and, if anything was actually
// sent out, hands it to the polling child workflow until a terminal
// state is reached.
func DispatchWorkflow(ctx workflow.Context, req DispatchRequest) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("DispatchWorkflow started", "order_id", req.OrderID)

	var result dispatch.Result
	err := workflow.SetQueryHandler(ctx, QueryDispatchResult, func() (dispatch.Result, error) {
		return result, nil
	})
	if err != nil {
		return fmt.Errorf("failed to set query handler: %w", err)
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		HeartbeatTimeout:    15 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    1 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var act *activities.Activities

	// Step 1: Submit the order. Dispatch failures land in the result;
	// the order stays pending either way.
	input := activities.DispatchInput{OrderID: req.OrderID, TenantID: req.TenantID}
	err = workflow.ExecuteActivity(ctx, act.DispatchOrder, input).Get(ctx, &result)
	if err != nil {
		logger.Error("Dispatch activity failed", "order_id", req.OrderID, "error", err)
		return fmt.Errorf("dispatch failed: %w", err)
	}

	if !result.Dispatched {
		// Manual orders and captured dispatch failures have nothing to
		// poll; an operator takes over.
		logger.Info("Order not dispatched, leaving pending",
			"order_id", req.OrderID, "message", result.Message)
		return nil
	}

	// Step 2: Poll until terminal via the child workflow.
	childOptions := workflow.ChildWorkflowOptions{
		WorkflowID: fmt.Sprintf("poll-%s", req.OrderID),
	}
	childCtx := workflow.WithChildOptions(ctx, childOptions)

	err = workflow.ExecuteChildWorkflow(childCtx, StatusPollWorkflow, PollRequest{OrderID: req.OrderID}).Get(ctx, nil)
	if err != nil {
		logger.Error("Status polling failed", "order_id", req.OrderID, "error", err)
		return fmt.Errorf("status polling failed: %w", err)
	}

	logger.Info("DispatchWorkflow completed", "order_id", req.OrderID,
		"fallback_triggered", result.FallbackTriggered)
	return nil
}
