package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reseller-order-engine/models"
)

// InternalAdapter speaks to the platform's own externally-facing client
// API, used when one tenant forwards an order to another tenant acting
// as a provider. The downstream tenant's own order id becomes the
// externally-visible reference.
type InternalAdapter struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
	tenantHost string
}

// NewInternalAdapter binds the cross-tenant adapter to one integration.
func NewInternalAdapter(in models.Integration) *InternalAdapter {
	return &InternalAdapter{
		httpClient: newHTTPClient(5*time.Second, 30*time.Second),
		baseURL:    strings.TrimRight(in.BaseURL, "/"),
		apiToken:   in.APIKey,
		tenantHost: in.TenantHost,
	}
}

// GetBalance is not exposed by the downstream tenant API.
func (a *InternalAdapter) GetBalance(ctx context.Context) (BalanceResult, error) {
	return BalanceResult{}, fmt.Errorf("%w: downstream tenants do not expose balance", models.ErrAdapterUnavailable)
}

// ListProducts is not exposed by the downstream tenant API.
func (a *InternalAdapter) ListProducts(ctx context.Context) ([]Product, error) {
	return nil, fmt.Errorf("%w: downstream tenants do not expose a catalog", models.ErrAdapterUnavailable)
}

type internalNewOrderResponse struct {
	OK      bool   `json:"ok"`
	OrderID string `json:"orderId"`
	Message string `json:"message"`
}

// PlaceOrder submits via POST /client/api/newOrder/{packageID}/params.
func (a *InternalAdapter) PlaceOrder(ctx context.Context, providerPackageID string, req OrderRequest) (DispatchResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return DispatchResult{Status: models.CanonicalFailed, Message: err.Error()},
			fmt.Errorf("%w: marshal request: %v", models.ErrAdapterTransport, err)
	}
	endpoint := fmt.Sprintf("%s/client/api/newOrder/%s/params", a.baseURL, url.PathEscape(providerPackageID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return DispatchResult{Status: models.CanonicalFailed, Message: err.Error()},
			fmt.Errorf("%w: build request: %v", models.ErrAdapterTransport, err)
	}
	a.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return DispatchResult{Status: models.CanonicalFailed, Message: err.Error()},
			fmt.Errorf("%w: %v", models.ErrAdapterTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		message := fmt.Sprintf("status %d: %s", resp.StatusCode, string(raw))
		return DispatchResult{Status: models.CanonicalFailed, Message: message},
			fmt.Errorf("%w: %s", models.ErrAdapterTransport, message)
	}
	var decoded internalNewOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return DispatchResult{Status: models.CanonicalFailed, Message: err.Error()},
			fmt.Errorf("%w: decode response: %v", models.ErrAdapterTransport, err)
	}
	if !decoded.OK || decoded.OrderID == "" {
		return DispatchResult{Status: models.CanonicalFailed, Message: decoded.Message},
			fmt.Errorf("%w: %s", models.ErrAdapterHardFailure, decoded.Message)
	}
	return DispatchResult{
		Status:    models.CanonicalPending,
		Reference: decoded.OrderID,
		Message:   decoded.Message,
	}, nil
}

type internalCheckResponse struct {
	OK      bool   `json:"ok"`
	Status  string `json:"status"`
	Pin     string `json:"pin"`
	Message string `json:"message"`
}

// FetchStatus queries GET /client/api/check for the downstream order.
func (a *InternalAdapter) FetchStatus(ctx context.Context, reference string) (StatusResult, error) {
	endpoint := a.baseURL + "/client/api/check?id=" + url.QueryEscape(reference)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return StatusResult{}, fmt.Errorf("%w: build request: %v", models.ErrAdapterTransport, err)
	}
	a.setHeaders(httpReq)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return StatusResult{}, fmt.Errorf("%w: %v", models.ErrAdapterTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return StatusResult{}, fmt.Errorf("%w: status %d: %s", models.ErrAdapterTransport, resp.StatusCode, string(raw))
	}
	var decoded internalCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return StatusResult{}, fmt.Errorf("%w: decode response: %v", models.ErrAdapterTransport, err)
	}
	result := StatusResult{Pin: decoded.Pin, Message: decoded.Message}
	switch models.CanonicalStatus(decoded.Status) {
	case models.CanonicalCompleted, models.CanonicalProcessing, models.CanonicalFailed:
		result.Status = models.CanonicalStatus(decoded.Status)
	default:
		result.Status = models.CanonicalPending
	}
	return result, nil
}

func (a *InternalAdapter) setHeaders(req *http.Request) {
	req.Header.Set("api-token", a.apiToken)
	req.Header.Set("X-Tenant-Host", a.tenantHost)
}
