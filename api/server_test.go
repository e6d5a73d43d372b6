package api_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"

	"reseller-order-engine/api"
	"reseller-order-engine/ledger"
	"reseller-order-engine/models"
	"reseller-order-engine/ratelimit"
	"reseller-order-engine/storage"
)

type fakeStarter struct {
	workflowIDs []string
	err         error
}

func (f *fakeStarter) ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error) {
	f.workflowIDs = append(f.workflowIDs, options.ID)
	return nil, f.err
}

type apiFixture struct {
	store   *storage.Store
	starter *fakeStarter
	server  *httptest.Server
}

const rawToken = "tok_abcdef123456"

func newAPIFixture(t *testing.T, limiter *ratelimit.Limiter) apiFixture {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sum := sha256.Sum256([]byte(rawToken))
	require.NoError(t, store.SaveAPIToken(context.Background(), models.APIToken{
		ID:       "tok-1",
		TenantID: "t1",
		Prefix:   rawToken[:8],
		Hash:     hex.EncodeToString(sum[:]),
	}))
	require.NoError(t, store.SaveTenant(context.Background(), models.Tenant{
		ID: "t1", Host: "t1.example", Currency: "USD",
		FXRate: decimal.NewFromInt(1), PriceGroupID: "pg-1",
	}))

	starter := &fakeStarter{}
	srv := api.NewServer(store, ledger.NewService(store, nil), starter, limiter, time.Hour, nil)
	server := httptest.NewServer(srv.Router())
	t.Cleanup(server.Close)
	return apiFixture{store: store, starter: starter, server: server}
}

func (f apiFixture) post(t *testing.T, path, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestExternalOrderRequiresToken(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp, body := f.post(t, "/external/orders", `{"packageId":"p1","userId":"u1","quantity":1}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, false, body["ok"])

	resp, _ = f.post(t, "/external/orders", `{"packageId":"p1","userId":"u1","quantity":1}`,
		map[string]string{"X-API-Token": "tok_abcdWRONG"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestExternalOrderCreatesAndDispatches(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp, body := f.post(t, "/external/orders",
		`{"packageId":"p1","userId":"u1","quantity":2,"sellPrice":"9.90","payload":"player=44"}`,
		map[string]string{"X-API-Token": rawToken})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	orderID, _ := body["orderId"].(string)
	require.NotEmpty(t, orderID)
	require.Len(t, f.starter.workflowIDs, 1)
	assert.Equal(t, "dispatch-"+orderID, f.starter.workflowIDs[0])

	order, err := f.store.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, "t1", order.TenantID)
	assert.Equal(t, 2, order.Quantity)
	assert.Equal(t, "9.9", order.SellPrice.String())
	assert.Equal(t, models.OrderStatusPending, order.Status)
}

func TestExternalOrderIdempotentReplay(t *testing.T) {
	f := newAPIFixture(t, nil)
	body := `{"packageId":"p1","userId":"u1","quantity":1,"sellPrice":"5"}`
	headers := map[string]string{"X-API-Token": rawToken, "Idempotency-Key": "req-001"}

	resp, first := f.post(t, "/external/orders", body, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, second := f.post(t, "/external/orders", body, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first["orderId"], second["orderId"])
	assert.Equal(t, true, second["idempotent"])
	assert.Len(t, f.starter.workflowIDs, 1, "a replay must not dispatch again")

	// Same key with a different body is a different request.
	resp, third := f.post(t, "/external/orders",
		`{"packageId":"p1","userId":"u1","quantity":3,"sellPrice":"5"}`, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEqual(t, first["orderId"], third["orderId"])
}

func TestExternalOrderValidation(t *testing.T) {
	f := newAPIFixture(t, nil)
	headers := map[string]string{"X-API-Token": rawToken}

	resp, _ := f.post(t, "/external/orders", `{"userId":"u1","quantity":1}`, headers)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.post(t, "/external/orders", `{"packageId":"p1","userId":"u1","quantity":0}`, headers)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.post(t, "/external/orders", `not json`, headers)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExternalOrderRateLimit(t *testing.T) {
	f := newAPIFixture(t, ratelimit.New(2, time.Minute))
	body := `{"packageId":"p1","userId":"u1","quantity":1}`
	headers := map[string]string{"X-API-Token": rawToken}

	resp, _ := f.post(t, "/external/orders", body, headers)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = f.post(t, "/external/orders", body, headers)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = f.post(t, "/external/orders", body, headers)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestChainNewOrder(t *testing.T) {
	f := newAPIFixture(t, nil)
	headers := map[string]string{"api-token": rawToken, "X-Tenant-Host": "t1.example"}

	require.NoError(t, f.store.SavePackagePrice(context.Background(), models.PackagePrice{
		TenantID: "t1", PackageID: "p1", PriceGroupID: "pg-1",
		UnitPriceUSD: decimal.RequireFromString("2.00"),
	}))

	resp, body := f.post(t, "/client/api/newOrder/p1/params",
		`{"quantity":3,"chain_path":["up-1","up-2"]}`, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	orderID, _ := body["orderId"].(string)
	require.NotEmpty(t, orderID)

	order, err := f.store.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, []string{"up-1", "up-2"}, order.ChainPath)
	assert.Equal(t, "tok-1", order.UserID)
	assert.Equal(t, "6", order.SellPrice.String())
	require.Len(t, f.starter.workflowIDs, 1)
}

func TestChainNewOrderRejectsCycles(t *testing.T) {
	f := newAPIFixture(t, nil)
	headers := map[string]string{"api-token": rawToken, "X-Tenant-Host": "t1.example"}

	resp, _ := f.post(t, "/client/api/newOrder/p1/params",
		`{"quantity":1,"chain_path":["up-1","up-1"]}`, headers)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Empty(t, f.starter.workflowIDs)
}

func TestChainNewOrderHostValidation(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp, _ := f.post(t, "/client/api/newOrder/p1/params", `{"quantity":1}`,
		map[string]string{"api-token": rawToken, "X-Tenant-Host": "unknown.example"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChainCheck(t *testing.T) {
	f := newAPIFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.store.CreateOrder(ctx, models.Order{
		ID: "ord-1", TenantID: "t1", UserID: "u1",
		Status:         models.OrderStatusApproved,
		ExternalStatus: models.ExternalStatusDone,
		PinCode:        "PIN-7",
	}))

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/client/api/check?id=ord-1", nil)
	require.NoError(t, err)
	req.Header.Set("api-token", rawToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "PIN-7", body["pin"])
}

func TestBulkStatusChange(t *testing.T) {
	f := newAPIFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.store.SaveLegacyUser(ctx, models.LegacyUser{
		TenantID: "t1", UserID: "u1", Balance: decimal.RequireFromString("10"),
	}))
	require.NoError(t, f.store.SaveLedgerAccount(ctx, models.LedgerAccount{
		TenantID: "t1", UserID: "u1", Balance: decimal.RequireFromString("10"),
	}))
	require.NoError(t, f.store.CreateOrder(ctx, models.Order{
		ID: "ord-1", TenantID: "t1", UserID: "u1", SellPrice: decimal.RequireFromString("2"),
	}))

	resp, body := f.post(t, "/admin/orders/bulk",
		`{"note":"ops sweep","items":[{"orderId":"ord-1","status":"approved"},{"orderId":"ghost","status":"approved"}]}`,
		map[string]string{"X-API-Token": rawToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	results, ok := body["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	second := results[1].(map[string]any)
	assert.Equal(t, true, first["ok"])
	assert.Equal(t, false, second["ok"])

	order, err := f.store.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusApproved, order.Status)
}
