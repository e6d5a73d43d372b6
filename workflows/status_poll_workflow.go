package workflows

import (
	"fmt"
	"math/rand"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"reseller-order-engine/activities"
	"reseller-order-engine/poll"
)

const QueryPollState = "poll_state"

// PollRequest identifies the order to poll.
type PollRequest struct {
	OrderID string `json:"order_id"`
}

// StatusPollWorkflow repeatedly executes one poll step until the order
// is terminal, sleeping the poller's jittered delay between steps. Two
// overlapping executions for the same order are harmless: every step is
// idempotent and an already-terminal order short-circuits.
func StatusPollWorkflow(ctx workflow.Context, req PollRequest) (poll.Outcome, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("StatusPollWorkflow started", "order_id", req.OrderID)

	var last poll.Outcome
	err := workflow.SetQueryHandler(ctx, QueryPollState, func() (poll.Outcome, error) {
		return last, nil
	})
	if err != nil {
		return poll.Outcome{}, fmt.Errorf("failed to set query handler: %w", err)
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 45 * time.Second,
		HeartbeatTimeout:    15 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    1 * time.Minute,
			MaximumAttempts:    5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var act *activities.Activities
	start := workflow.Now(ctx)
	// The polling budget lives on the backoff policy; past it the order
	// is left non-terminal for operators to inspect.
	policy := poll.DefaultBackoff()

	for attempt := 0; ; attempt++ {
		input := activities.PollInput{OrderID: req.OrderID, Attempt: attempt}
		err := workflow.ExecuteActivity(ctx, act.PollOrder, input).Get(ctx, &last)
		if err != nil {
			// Activity retries are exhausted. The order stays
			// non-terminal; surfacing the error keeps the gap visible.
			logger.Error("Poll step failed permanently", "order_id", req.OrderID, "error", err)
			return last, fmt.Errorf("poll step failed: %w", err)
		}
		if last.Done {
			break
		}

		elapsed := workflow.Now(ctx).Sub(start)
		if policy.Exhausted(elapsed) {
			logger.Warn("Polling budget exhausted, leaving order non-terminal",
				"order_id", req.OrderID, "elapsed", elapsed)
			last.Message = "polling budget exhausted"
			break
		}

		delay := last.NextDelay
		if delay <= 0 {
			delay = 5 * time.Second
		}
		// Jitter must come from a side effect to keep the workflow
		// deterministic on replay.
		var jitter time.Duration
		encoded := workflow.SideEffect(ctx, func(ctx workflow.Context) interface{} {
			return time.Duration(rand.Int63n(int64(delay)/4 + 1))
		})
		if err := encoded.Get(&jitter); err != nil {
			return last, fmt.Errorf("failed to draw jitter: %w", err)
		}

		if err := workflow.Sleep(ctx, delay+jitter); err != nil {
			return last, err
		}
	}

	logger.Info("StatusPollWorkflow completed",
		"order_id", req.OrderID, "degraded", last.Degraded, "message", last.Message)
	return last, nil
}
