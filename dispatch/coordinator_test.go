package dispatch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reseller-order-engine/dispatch"
	"reseller-order-engine/models"
	"reseller-order-engine/providers"
	"reseller-order-engine/routing"
	"reseller-order-engine/storage"
)

type fixture struct {
	store       *storage.Store
	coordinator *dispatch.Coordinator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	resolver := routing.NewResolver(store, nil)
	store.OnRoutingWrite(resolver.Invalidate)
	registry := providers.NewDefaultRegistry()
	coordinator := dispatch.NewCoordinator(store, resolver, registry, store, nil)
	return fixture{store: store, coordinator: coordinator}
}

func (f fixture) seedTenant(t *testing.T, fxRate string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.SaveTenant(ctx, models.Tenant{
		ID: "t1", Host: "t1.example", Currency: "TRY",
		FXRate:       decimal.RequireFromString(fxRate),
		PriceGroupID: "pg-1",
	}))
	require.NoError(t, f.store.SavePackagePrice(ctx, models.PackagePrice{
		TenantID: "t1", PackageID: "p1", PriceGroupID: "pg-1",
		UnitPriceUSD: decimal.RequireFromString("3.50"),
	}))
}

func (f fixture) seedOrder(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.store.CreateOrder(context.Background(), models.Order{
		ID: id, TenantID: "t1", PackageID: "p1", UserID: "u1", Quantity: 1,
		SellPrice: decimal.RequireFromString("5.00"),
	}))
}

func (f fixture) seedIntegration(t *testing.T, id, kind, baseURL string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.SaveIntegration(ctx, models.Integration{
		ID: id, TenantID: "t1", Provider: kind, BaseURL: baseURL,
		APIKey: "key", APISecret: "secret",
	}))
	require.NoError(t, f.store.SaveProviderPackage(ctx, models.ProviderPackage{
		IntegrationID: id, PackageID: "p1", ProviderPackageID: "remote-p1",
	}))
}

func (f fixture) seedRouting(t *testing.T, r models.PackageRouting) {
	t.Helper()
	r.TenantID, r.PackageID = "t1", "p1"
	require.NoError(t, f.store.SaveRouting(context.Background(), r))
}

// No routing configured: the order stays pending in manual mode with a
// price-group cost snapshot. Status is never touched.
func TestDispatchManualWhenUnrouted(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "42.0")
	f.seedOrder(t, "ord-1")

	result, err := f.coordinator.Dispatch(context.Background(), "ord-1", "t1")
	require.NoError(t, err)
	assert.False(t, result.Dispatched)
	assert.Equal(t, models.ModeManual, result.Mode)

	order, err := f.store.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.ExternalStatusNotSent, order.ExternalStatus)
	assert.Equal(t, models.ModeManual, order.Mode)
	assert.Equal(t, "3.5", order.CostPriceUSD.String())
	assert.Equal(t, models.CostSourceManualPriceGroupUSD, order.CostSource)
	assert.Equal(t, "USD", order.CostCurrency)
	assert.True(t, order.FXRate.IsZero(), "manual snapshots skip FX")
}

func TestDispatchExternalNeverWritesTerminalStatus(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "42.0")
	f.seedOrder(t, "ord-1")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"OK","orderId":"ext-1","cost":"1.25","costCurrency":"USD"}`))
	}))
	t.Cleanup(server.Close)
	f.seedIntegration(t, "int-json", providers.KindJSONRest, server.URL)
	f.seedRouting(t, models.PackageRouting{
		ID: "r-1", Mode: models.RoutingModeAuto,
		ProviderType: models.ProviderTypeExternal, PrimaryProviderID: "int-json",
	})

	result, err := f.coordinator.Dispatch(context.Background(), "ord-1", "t1")
	require.NoError(t, err)
	assert.True(t, result.Dispatched)
	assert.Equal(t, "ext-1", result.Reference)

	order, err := f.store.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status, "dispatch never finalizes status")
	assert.Equal(t, models.ExternalStatusSent, order.ExternalStatus)
	assert.Equal(t, models.ModeAuto, order.Mode)
	require.NotNil(t, order.ProviderID)
	assert.Equal(t, "int-json", *order.ProviderID)
	require.NotNil(t, order.SentAt)
	assert.Equal(t, "1.25", order.CostPriceUSD.String())
	assert.Equal(t, "1", order.FXRate.String())
}

func TestDispatchIsReentrant(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "42.0")
	f.seedOrder(t, "ord-1")

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"status":"OK","orderId":"ext-1"}`))
	}))
	t.Cleanup(server.Close)
	f.seedIntegration(t, "int-json", providers.KindJSONRest, server.URL)
	f.seedRouting(t, models.PackageRouting{
		ID: "r-1", Mode: models.RoutingModeAuto,
		ProviderType: models.ProviderTypeExternal, PrimaryProviderID: "int-json",
	})

	_, err := f.coordinator.Dispatch(context.Background(), "ord-1", "t1")
	require.NoError(t, err)

	result, err := f.coordinator.Dispatch(context.Background(), "ord-1", "t1")
	require.NoError(t, err)
	assert.True(t, result.Dispatched)
	assert.Equal(t, "already dispatched", result.Message)
	assert.Equal(t, 1, calls, "a retried dispatch must not resubmit")
}

// Primary rejects the order; the fallback provider takes it. The
// fallback flag is durable, so a later failure never retries it.
func TestDispatchFallback(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "42.0")
	f.seedOrder(t, "ord-1")

	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("100|Insufficient balance"))
	}))
	t.Cleanup(primary.Close)

	var fallbackCalls int
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackCalls++
		w.Write([]byte(`{"status":"OK","orderId":"ext-fb","cost":"2.00","costCurrency":"USD"}`))
	}))
	t.Cleanup(fallback.Close)

	f.seedIntegration(t, "int-legacy", providers.KindLegacy, primary.URL)
	f.seedIntegration(t, "int-json", providers.KindJSONRest, fallback.URL)
	f.seedRouting(t, models.PackageRouting{
		ID: "r-1", Mode: models.RoutingModeAuto, ProviderType: models.ProviderTypeExternal,
		PrimaryProviderID: "int-legacy", FallbackProviderID: "int-json",
	})

	result, err := f.coordinator.Dispatch(context.Background(), "ord-1", "t1")
	require.NoError(t, err)
	assert.True(t, result.Dispatched)
	assert.True(t, result.FallbackTriggered)
	assert.Equal(t, "int-json", result.ProviderID)
	assert.Equal(t, "ext-fb", result.Reference)

	order, err := f.store.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.True(t, order.FallbackAttempted)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, 1, fallbackCalls)
}

func TestDispatchFallbackOnlyOnce(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "42.0")
	f.seedOrder(t, "ord-1")

	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("100|Insufficient balance"))
	}))
	t.Cleanup(primary.Close)

	var fallbackCalls int
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackCalls++
		w.Write([]byte(`{"status":"ERROR","message":"down for maintenance"}`))
	}))
	t.Cleanup(fallback.Close)

	f.seedIntegration(t, "int-legacy", providers.KindLegacy, primary.URL)
	f.seedIntegration(t, "int-json", providers.KindJSONRest, fallback.URL)
	f.seedRouting(t, models.PackageRouting{
		ID: "r-1", Mode: models.RoutingModeAuto, ProviderType: models.ProviderTypeExternal,
		PrimaryProviderID: "int-legacy", FallbackProviderID: "int-json",
	})
	ctx := context.Background()

	result, err := f.coordinator.Dispatch(ctx, "ord-1", "t1")
	require.NoError(t, err)
	assert.False(t, result.Dispatched)
	assert.True(t, result.FallbackTriggered)
	assert.Equal(t, 1, fallbackCalls)

	order, err := f.store.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status, "dispatch failure leaves the order for operators")
	assert.True(t, order.FallbackAttempted)

	// Retrying the dispatch never gives the fallback a second shot.
	result, err = f.coordinator.Dispatch(ctx, "ord-1", "t1")
	require.NoError(t, err)
	assert.False(t, result.Dispatched)
	assert.Contains(t, result.Message, "fallback already attempted")
	assert.Equal(t, 1, fallbackCalls)
}

// Provider bills 348.94 TRY; with a tenant rate of 42 TRY/USD the USD
// snapshot is about 8.308.
func TestDispatchCostSnapshotConvertsFX(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "42.0")
	f.seedOrder(t, "ord-1")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"OK","orderId":"ext-1","cost":"348.94","costCurrency":"TRY"}`))
	}))
	t.Cleanup(server.Close)
	f.seedIntegration(t, "int-json", providers.KindJSONRest, server.URL)
	f.seedRouting(t, models.PackageRouting{
		ID: "r-1", Mode: models.RoutingModeAuto,
		ProviderType: models.ProviderTypeExternal, PrimaryProviderID: "int-json",
	})

	_, err := f.coordinator.Dispatch(context.Background(), "ord-1", "t1")
	require.NoError(t, err)

	order, err := f.store.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "8.308", order.CostPriceUSD.Round(3).String())
	assert.Equal(t, "348.94", order.OriginalAmount.String())
	assert.Equal(t, "TRY", order.CostCurrency)
	assert.Equal(t, "42", order.FXRate.String())
	assert.Equal(t, models.CostSourceProviderResponse, order.CostSource)
}

func TestDispatchInternalCodes(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "42.0")
	f.seedOrder(t, "ord-1")
	ctx := context.Background()

	require.NoError(t, f.store.AddCodes(ctx, "grp-1", []string{"PIN-A", "PIN-B"}))
	f.seedRouting(t, models.PackageRouting{
		ID: "r-1", Mode: models.RoutingModeAuto,
		ProviderType: models.ProviderTypeInternalCodes, CodeGroupID: "grp-1",
	})

	result, err := f.coordinator.Dispatch(ctx, "ord-1", "t1")
	require.NoError(t, err)
	assert.True(t, result.Dispatched)
	assert.True(t, strings.HasPrefix(result.Reference, "codes-"))

	order, err := f.store.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExternalStatusSent, order.ExternalStatus)
	assert.Contains(t, []string{"PIN-A", "PIN-B"}, order.PinCode)
	assert.Equal(t, models.OrderStatusPending, order.Status)
}

func TestDispatchTenantMismatch(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "42.0")
	f.seedOrder(t, "ord-1")

	_, err := f.coordinator.Dispatch(context.Background(), "ord-1", "other-tenant")
	assert.ErrorIs(t, err, models.ErrTenantMismatch)
}
