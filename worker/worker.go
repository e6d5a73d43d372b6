package main

import (
	"log"
	"net/http"
	"time"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"reseller-order-engine/activities"
	"reseller-order-engine/api"
	"reseller-order-engine/chain"
	"reseller-order-engine/config"
	"reseller-order-engine/dispatch"
	"reseller-order-engine/ledger"
	"reseller-order-engine/logging"
	"reseller-order-engine/poll"
	"reseller-order-engine/providers"
	"reseller-order-engine/ratelimit"
	"reseller-order-engine/routing"
	"reseller-order-engine/storage"
	"reseller-order-engine/workflows"
)

func main() {
	logger := logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, err := storage.Open(cfg.StoragePath)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	registry := providers.NewDefaultRegistry()
	resolver := routing.NewResolver(store, logger)
	store.OnRoutingWrite(resolver.Invalidate)

	ledgerSvc := ledger.NewService(store, logger)
	propagator := chain.NewPropagator(store, ledgerSvc, logger)
	// The store doubles as the code allocator for internal_codes routing.
	coordinator := dispatch.NewCoordinator(store, resolver, registry, store, logger)
	poller := poll.NewPoller(store, resolver, registry, ledgerSvc, propagator, poll.DefaultBackoff(), logger)
	refresher := activities.NewBalanceRefresher(store, registry)
	acts := activities.NewActivities(coordinator, poller, store, refresher)

	c, err := client.Dial(client.Options{
		HostPort: cfg.TemporalAddress,
		Logger:   tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		log.Fatalf("Unable to create Temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, workflows.TaskQueueName, worker.Options{
		MaxConcurrentActivityExecutionSize:     cfg.MaxConcurrentActivities,
		MaxConcurrentWorkflowTaskExecutionSize: cfg.MaxConcurrentWorkflowTasks,
	})

	w.RegisterWorkflow(workflows.DispatchWorkflow)
	w.RegisterWorkflow(workflows.StatusPollWorkflow)

	w.RegisterActivity(acts.DispatchOrder)
	w.RegisterActivity(acts.PollOrder)
	w.RegisterActivity(acts.RefreshBalance)

	limiter := ratelimit.New(cfg.RateLimitPerMinute, time.Minute)
	srv := api.NewServer(store, ledgerSvc, c, limiter, cfg.IdempotencyTTL, logger)
	go func() {
		logger.Info("http intake listening", "addr", cfg.HTTPListenAddr)
		if err := http.ListenAndServe(cfg.HTTPListenAddr, srv.Router()); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	logger.Info("starting worker",
		"temporal_address", cfg.TemporalAddress,
		"task_queue", workflows.TaskQueueName,
		"storage_path", cfg.StoragePath)

	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("Unable to start worker: %v", err)
	}
}
