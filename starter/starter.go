package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"

	"reseller-order-engine/dispatch"
	"reseller-order-engine/poll"
	"reseller-order-engine/workflows"
)

func main() {
	orderID := flag.String("order-id", "", "Order ID to dispatch")
	tenantID := flag.String("tenant-id", "", "Tenant the order belongs to")
	query := flag.String("query", "", "Query workflow state (dispatch or poll)")
	describe := flag.Bool("describe", false, "Describe workflow execution status")
	workflowID := flag.String("workflow-id", "", "Workflow ID for query/describe operations")
	wait := flag.Bool("wait", false, "Wait for the dispatch workflow to complete")
	flag.Parse()

	temporalAddress := os.Getenv("TEMPORAL_ADDRESS")
	if temporalAddress == "" {
		temporalAddress = "localhost:7233"
	}

	c, err := client.Dial(client.Options{HostPort: temporalAddress})
	if err != nil {
		log.Fatalf("Unable to create Temporal client: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch {
	case *query != "":
		if *workflowID == "" {
			log.Fatal("-workflow-id is required with -query")
		}
		queryWorkflow(ctx, c, *workflowID, *query)
	case *describe:
		if *workflowID == "" {
			log.Fatal("-workflow-id is required with -describe")
		}
		describeWorkflow(ctx, c, *workflowID)
	default:
		if *orderID == "" {
			log.Fatal("-order-id is required")
		}
		startDispatch(ctx, c, *orderID, *tenantID, *wait)
	}
}

func startDispatch(ctx context.Context, c client.Client, orderID, tenantID string, wait bool) {
	we, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "dispatch-" + orderID,
		TaskQueue: workflows.TaskQueueName,
	}, workflows.DispatchWorkflow, workflows.DispatchRequest{OrderID: orderID, TenantID: tenantID})
	if err != nil {
		log.Fatalf("Failed to start workflow: %v", err)
	}

	log.Printf("Started dispatch workflow")
	log.Printf("WorkflowID: %s", we.GetID())
	log.Printf("RunID: %s", we.GetRunID())
	log.Println("\nTo query dispatch state, run:")
	log.Printf("  go run starter/starter.go -query dispatch -workflow-id %s", we.GetID())

	if !wait {
		return
	}
	log.Println("Waiting for workflow to complete...")
	if err := we.Get(ctx, nil); err != nil {
		log.Printf("Workflow completed with error: %v", err)
	} else {
		log.Println("Workflow completed successfully")
	}
}

func queryWorkflow(ctx context.Context, c client.Client, workflowID, kind string) {
	var queryType string
	switch kind {
	case "dispatch":
		queryType = workflows.QueryDispatchResult
	case "poll":
		queryType = workflows.QueryPollState
	default:
		log.Fatalf("Unknown query %q. Valid queries: dispatch, poll", kind)
	}

	resp, err := c.QueryWorkflow(ctx, workflowID, "", queryType)
	if err != nil {
		log.Fatalf("Failed to query workflow: %v", err)
	}

	var pretty []byte
	switch kind {
	case "dispatch":
		var result dispatch.Result
		if err := resp.Get(&result); err != nil {
			log.Fatalf("Failed to decode query result: %v", err)
		}
		pretty, _ = json.MarshalIndent(result, "", "  ")
	case "poll":
		var outcome poll.Outcome
		if err := resp.Get(&outcome); err != nil {
			log.Fatalf("Failed to decode query result: %v", err)
		}
		pretty, _ = json.MarshalIndent(outcome, "", "  ")
	}
	fmt.Println(string(pretty))
}

func describeWorkflow(ctx context.Context, c client.Client, workflowID string) {
	resp, err := c.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		log.Fatalf("Failed to describe workflow: %v", err)
	}
	info := resp.GetWorkflowExecutionInfo()
	status := info.GetStatus()
	log.Printf("Workflow: %s", workflowID)
	log.Printf("Status: %s", enumspb.WorkflowExecutionStatus_name[int32(status)])
	if start := info.GetStartTime(); start != nil {
		log.Printf("Started: %s", start.AsTime().Format(time.RFC3339))
	}
	if close := info.GetCloseTime(); close != nil {
		log.Printf("Closed: %s", close.AsTime().Format(time.RFC3339))
	}
}
