// Package dispatch orchestrates an order's first submission to a
// provider. It never finalizes order status; that belongs to the
// ledger, invoked later by the poller.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"reseller-order-engine/models"
	"reseller-order-engine/providers"
	"reseller-order-engine/routing"
	"reseller-order-engine/storage"
)

// CodeAllocator dispenses pre-loaded codes for internal_codes routing.
// It is an external collaborator of the engine.
type CodeAllocator interface {
	Allocate(ctx context.Context, codeGroupID string, quantity int) (reference string, pins []string, err error)
}

// Result is the structured outcome of one dispatch attempt. Dispatch
// failures are captured here instead of aborting order creation.
type Result struct {
	OrderID           string              `json:"orderId"`
	Mode              models.DispatchMode `json:"mode"`
	ProviderID        string              `json:"providerId,omitempty"`
	Reference         string              `json:"reference,omitempty"`
	Dispatched        bool                `json:"dispatched"`
	FallbackTriggered bool                `json:"fallbackTriggered"`
	Message           string              `json:"message,omitempty"`
}

// Coordinator validates routing, submits through the bound adapter, and
// records the external reference.
type Coordinator struct {
	store     *storage.Store
	resolver  *routing.Resolver
	registry  *providers.Registry
	allocator CodeAllocator
	logger    *slog.Logger
}

// NewCoordinator builds the dispatch coordinator.
func NewCoordinator(store *storage.Store, resolver *routing.Resolver, registry *providers.Registry, allocator CodeAllocator, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:     store,
		resolver:  resolver,
		registry:  registry,
		allocator: allocator,
		logger:    logger,
	}
}

// Dispatch performs an order's first submission. Re-entrant: an order
// that already carries an external reference returns immediately.
func (c *Coordinator) Dispatch(ctx context.Context, orderID, tenantID string) (Result, error) {
	order, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	if tenantID != "" && order.TenantID != tenantID {
		return Result{}, models.ErrTenantMismatch
	}
	if order.ExternalOrderID != "" {
		return Result{
			OrderID:    orderID,
			Mode:       order.Mode,
			ProviderID: deref(order.ProviderID),
			Reference:  order.ExternalOrderID,
			Dispatched: true,
			Message:    "already dispatched",
		}, nil
	}

	route, err := c.resolver.Resolve(ctx, order.TenantID, order.PackageID)
	if err != nil {
		return Result{}, err
	}
	if route == nil || route.Mode == models.RoutingModeManual || route.ProviderType == models.ProviderTypeManual {
		return c.dispatchManual(ctx, order)
	}
	if route.ProviderType == models.ProviderTypeInternalCodes {
		return c.dispatchCodes(ctx, order, *route)
	}
	return c.dispatchExternal(ctx, order, *route)
}

// dispatchManual leaves the order pending for an operator and persists
// the manual cost snapshot: the tenant's price-group USD unit price,
// no FX conversion.
func (c *Coordinator) dispatchManual(ctx context.Context, order models.Order) (Result, error) {
	sub := storage.Submission{
		Mode:           models.ModeManual,
		ProviderID:     nil,
		ExternalStatus: models.ExternalStatusNotSent,
		CostSource:     models.CostSourceManualPriceGroupUSD,
		CostCurrency:   "USD",
	}
	tenant, err := c.store.GetTenant(ctx, order.TenantID)
	if err == nil {
		if price, perr := c.store.GetPackagePrice(ctx, order.TenantID, order.PackageID, tenant.PriceGroupID); perr == nil {
			sub.CostPriceUSD = price.UnitPriceUSD
			sub.OriginalAmount = price.UnitPriceUSD
		} else {
			c.logger.Warn("manual cost snapshot unavailable", "order_id", order.ID, "error", perr)
		}
	} else {
		c.logger.Warn("tenant lookup failed for manual cost snapshot", "order_id", order.ID, "error", err)
	}
	if err := c.store.RecordSubmission(ctx, order.ID, sub); err != nil {
		return Result{}, err
	}
	c.logger.Info("order left for manual fulfillment", "order_id", order.ID)
	return Result{OrderID: order.ID, Mode: models.ModeManual, Message: "no automatic routing"}, nil
}

// dispatchCodes fulfills through the code-group allocator instead of a
// network adapter.
func (c *Coordinator) dispatchCodes(ctx context.Context, order models.Order, route models.PackageRouting) (Result, error) {
	if c.allocator == nil {
		return c.recordFailure(ctx, order, route, "", "code allocator not configured")
	}
	reference, pins, err := c.allocator.Allocate(ctx, route.CodeGroupID, order.Quantity)
	if err != nil {
		return c.recordFailure(ctx, order, route, "", "code allocation failed: "+err.Error())
	}
	now := time.Now().UTC()
	sub := storage.Submission{
		Mode:            models.ModeAuto,
		ExternalOrderID: reference,
		ExternalStatus:  models.ExternalStatusSent,
		SentAt:          &now,
		CostSource:      models.CostSourceManualPriceGroupUSD,
		CostCurrency:    "USD",
	}
	tenant, terr := c.store.GetTenant(ctx, order.TenantID)
	if terr == nil {
		if price, perr := c.store.GetPackagePrice(ctx, order.TenantID, order.PackageID, tenant.PriceGroupID); perr == nil {
			sub.CostPriceUSD = price.UnitPriceUSD
			sub.OriginalAmount = price.UnitPriceUSD
		}
	}
	if err := c.store.RecordSubmission(ctx, order.ID, sub); err != nil {
		return Result{}, err
	}
	if len(pins) > 0 {
		obs := storage.Observation{
			ExternalStatus: models.ExternalStatusSent,
			PinCode:        strings.Join(pins, ","),
			LastSyncAt:     now,
		}
		if err := c.store.RecordObservation(ctx, order.ID, obs); err != nil {
			return Result{}, err
		}
	}
	c.logger.Info("order dispatched via code group",
		"order_id", order.ID, "code_group_id", route.CodeGroupID, "reference", reference)
	return Result{OrderID: order.ID, Mode: models.ModeAuto, Reference: reference, Dispatched: true}, nil
}

// dispatchExternal submits through the primary provider, retrying once
// against the fallback on failure. The fallback marker is durable:
// an order never gets a second fallback attempt, even across restarts.
func (c *Coordinator) dispatchExternal(ctx context.Context, order models.Order, route models.PackageRouting) (Result, error) {
	result, err := c.placeVia(ctx, order, route, route.PrimaryProviderID)
	if err == nil {
		return result, nil
	}
	c.logger.Warn("primary provider dispatch failed",
		"order_id", order.ID, "provider_id", route.PrimaryProviderID, "error", err)

	if route.FallbackProviderID == "" {
		return c.recordFailure(ctx, order, route, route.PrimaryProviderID, err.Error())
	}
	already, markErr := c.store.MarkFallbackAttempted(ctx, order.ID)
	if markErr != nil {
		return Result{}, markErr
	}
	if already {
		return c.recordFailure(ctx, order, route, route.PrimaryProviderID, "fallback already attempted: "+err.Error())
	}

	fallbackResult, fallbackErr := c.placeVia(ctx, order, route, route.FallbackProviderID)
	if fallbackErr != nil {
		c.logger.Warn("fallback provider dispatch failed",
			"order_id", order.ID, "provider_id", route.FallbackProviderID, "error", fallbackErr)
		result, err := c.recordFailure(ctx, order, route, route.FallbackProviderID, fallbackErr.Error())
		result.FallbackTriggered = true
		return result, err
	}
	fallbackResult.FallbackTriggered = true
	return fallbackResult, nil
}

// placeVia binds the integration's adapter and performs one placement.
func (c *Coordinator) placeVia(ctx context.Context, order models.Order, route models.PackageRouting, integrationID string) (Result, error) {
	integration, err := c.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return Result{}, err
	}
	mapping, err := c.store.GetProviderPackage(ctx, integrationID, order.PackageID)
	if err != nil {
		return Result{}, err
	}
	adapter, err := c.registry.Bind(integration)
	if err != nil {
		return Result{}, err
	}

	req := providers.OrderRequest{
		Quantity:  order.Quantity,
		Payload:   order.Payload,
		ChainPath: append(append([]string{}, order.ChainPath...), order.ID),
	}
	placed, err := adapter.PlaceOrder(ctx, mapping.ProviderPackageID, req)
	if err != nil {
		return Result{}, err
	}

	reference := placed.Reference
	if reference == "" {
		// Forwarded orders without a downstream reference get a local
		// stub so the poller has something to key on.
		reference = "stub-" + uuid.NewString()
	}
	now := time.Now().UTC()
	providerID := integrationID
	sub := storage.Submission{
		Mode:            models.ModeAuto,
		ProviderID:      &providerID,
		ExternalOrderID: reference,
		ProviderRef:     placed.Reference,
		ExternalStatus:  models.ExternalStatusSent,
		ProviderMessage: placed.Message,
		SentAt:          &now,
	}
	sub.CostPriceUSD, sub.OriginalAmount, sub.CostCurrency, sub.FXRate, sub.CostSource =
		c.costSnapshot(ctx, order, placed)

	if err := c.store.RecordSubmission(ctx, order.ID, sub); err != nil {
		return Result{}, err
	}
	c.logger.Info("order dispatched",
		"order_id", order.ID, "provider_id", integrationID, "reference", reference)
	return Result{
		OrderID:    order.ID,
		Mode:       models.ModeAuto,
		ProviderID: integrationID,
		Reference:  reference,
		Dispatched: true,
		Message:    placed.Message,
	}, nil
}

// costSnapshot captures the provider-reported cost once, converting to
// USD through the tenant's FX rate when the provider bills in another
// currency. Never recomputed later.
func (c *Coordinator) costSnapshot(ctx context.Context, order models.Order, placed providers.DispatchResult) (costUSD, original decimal.Decimal, currency string, fxRate decimal.Decimal, source string) {
	if placed.Cost.IsZero() {
		return decimal.Zero, decimal.Zero, "", decimal.Zero, ""
	}
	currency = placed.CostCurrency
	original = placed.Cost
	source = models.CostSourceProviderResponse
	if currency == "" || strings.EqualFold(currency, "USD") {
		return placed.Cost, original, "USD", decimal.NewFromInt(1), source
	}
	tenant, err := c.store.GetTenant(ctx, order.TenantID)
	if err != nil || tenant.FXRate.IsZero() {
		c.logger.Warn("fx rate unavailable, storing original cost only",
			"order_id", order.ID, "currency", currency, "error", err)
		return decimal.Zero, original, currency, decimal.Zero, source
	}
	return placed.Cost.Div(tenant.FXRate), original, currency, tenant.FXRate, source
}

// recordFailure persists a structured dispatch failure, leaving the
// order pending. Terminal status is never written from this path.
func (c *Coordinator) recordFailure(ctx context.Context, order models.Order, route models.PackageRouting, providerID, message string) (Result, error) {
	sub := storage.Submission{
		Mode:            models.ModeAuto,
		ExternalStatus:  models.ExternalStatusNotSent,
		ProviderMessage: message,
	}
	if providerID != "" {
		sub.ProviderID = &providerID
	}
	if err := c.store.RecordSubmission(ctx, order.ID, sub); err != nil {
		return Result{}, err
	}
	return Result{
		OrderID:    order.ID,
		Mode:       models.ModeAuto,
		ProviderID: providerID,
		Message:    message,
	}, nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
