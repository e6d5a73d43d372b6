package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"reseller-order-engine/models"
)

// failureKeywords are scanned in free-text message fields because the
// remote system sometimes returns HTTP 200 with an embedded error.
var failureKeywords = []string{
	"insufficient balance",
	"yetersiz bakiye",
	"unauthorized",
	"invalid api",
	"hata",
	"not allowed",
}

// JSONRestAdapter speaks the JSON REST protocol over HTTPS with an
// api-token header. Success requires a top-level status of "OK" and an
// absence of failure keywords in message fields.
type JSONRestAdapter struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
}

// NewJSONRestAdapter binds the JSON adapter to one integration.
func NewJSONRestAdapter(in models.Integration) *JSONRestAdapter {
	return &JSONRestAdapter{
		httpClient: newHTTPClient(5*time.Second, 30*time.Second),
		baseURL:    strings.TrimRight(in.BaseURL, "/"),
		apiToken:   in.APIKey,
	}
}

type jsonBalanceResponse struct {
	Status   string          `json:"status"`
	Balance  decimal.Decimal `json:"balance"`
	Debt     decimal.Decimal `json:"debt"`
	Currency string          `json:"currency"`
	Message  string          `json:"message"`
}

// GetBalance fetches the account balance snapshot.
func (a *JSONRestAdapter) GetBalance(ctx context.Context) (BalanceResult, error) {
	var resp jsonBalanceResponse
	if err := a.do(ctx, http.MethodGet, "/api/v1/balance", nil, &resp); err != nil {
		return BalanceResult{}, err
	}
	if err := checkEmbeddedFailure(resp.Status, resp.Message); err != nil {
		return BalanceResult{}, err
	}
	return BalanceResult{Balance: resp.Balance, Debt: resp.Debt, Currency: resp.Currency}, nil
}

type jsonProduct struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Quantity struct {
		Type   string `json:"type"`
		Min    int    `json:"min"`
		Max    int    `json:"max"`
		Values []int  `json:"values"`
	} `json:"quantity"`
}

type jsonProductsResponse struct {
	Status   string        `json:"status"`
	Message  string        `json:"message"`
	Products []jsonProduct `json:"products"`
}

// ListProducts fetches the catalog, preserving each product's quantity
// schema (range or discrete set) as given.
func (a *JSONRestAdapter) ListProducts(ctx context.Context) ([]Product, error) {
	var resp jsonProductsResponse
	if err := a.do(ctx, http.MethodGet, "/api/v1/products", nil, &resp); err != nil {
		return nil, err
	}
	if err := checkEmbeddedFailure(resp.Status, resp.Message); err != nil {
		return nil, err
	}
	products := make([]Product, 0, len(resp.Products))
	for _, p := range resp.Products {
		schema := QuantitySchema{Kind: p.Quantity.Type, Min: p.Quantity.Min, Max: p.Quantity.Max}
		if p.Quantity.Type == "set" {
			schema.Values = p.Quantity.Values
		}
		products = append(products, Product{
			ID:       p.ID,
			Name:     p.Name,
			Price:    p.Price,
			Currency: p.Currency,
			Quantity: schema,
		})
	}
	return products, nil
}

type jsonOrderResponse struct {
	Status       string          `json:"status"`
	OrderID      string          `json:"orderId"`
	Cost         decimal.Decimal `json:"cost"`
	CostCurrency string          `json:"costCurrency"`
	Message      string          `json:"message"`
}

// PlaceOrder submits one order.
func (a *JSONRestAdapter) PlaceOrder(ctx context.Context, providerPackageID string, req OrderRequest) (DispatchResult, error) {
	payload := map[string]any{
		"productId": providerPackageID,
		"quantity":  req.Quantity,
	}
	if req.Payload != "" {
		payload["params"] = req.Payload
	}
	var resp jsonOrderResponse
	if err := a.do(ctx, http.MethodPost, "/api/v1/order", payload, &resp); err != nil {
		return DispatchResult{Status: models.CanonicalFailed, Message: err.Error()}, err
	}
	if err := checkEmbeddedFailure(resp.Status, resp.Message); err != nil {
		return DispatchResult{Status: models.CanonicalFailed, Message: resp.Message}, err
	}
	return DispatchResult{
		Status:       models.CanonicalPending,
		Reference:    resp.OrderID,
		Cost:         resp.Cost,
		CostCurrency: resp.CostCurrency,
		Message:      resp.Message,
	}, nil
}

type jsonStatusResponse struct {
	Status      string `json:"status"`
	OrderStatus string `json:"orderStatus"`
	Pin         string `json:"pin"`
	Message     string `json:"message"`
}

// FetchStatus queries one order. Unrecognized provider vocabulary maps
// to pending, never to completed.
func (a *JSONRestAdapter) FetchStatus(ctx context.Context, reference string) (StatusResult, error) {
	var resp jsonStatusResponse
	if err := a.do(ctx, http.MethodGet, "/api/v1/order/"+reference, nil, &resp); err != nil {
		return StatusResult{}, err
	}
	if err := checkEmbeddedFailure(resp.Status, resp.Message); err != nil {
		return StatusResult{Status: models.CanonicalFailed, Message: resp.Message}, nil
	}
	result := StatusResult{Pin: resp.Pin, Message: resp.Message}
	switch strings.ToLower(resp.OrderStatus) {
	case "completed", "done", "success", "delivered":
		result.Status = models.CanonicalCompleted
	case "processing", "in_progress", "partial":
		result.Status = models.CanonicalProcessing
	case "failed", "error", "cancelled", "canceled", "refunded":
		result.Status = models.CanonicalFailed
	default:
		result.Status = models.CanonicalPending
	}
	return result, nil
}

func (a *JSONRestAdapter) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: marshal body: %v", models.ErrAdapterTransport, err)
		}
		reader = bytes.NewReader(data)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", models.ErrAdapterTransport, err)
	}
	httpReq.Header.Set("api-token", a.apiToken)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrAdapterTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", models.ErrAdapterTransport, resp.StatusCode, string(raw))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", models.ErrAdapterTransport, err)
	}
	return nil
}

// checkEmbeddedFailure enforces the success gate: top-level status must
// be OK and message fields must not carry failure keywords.
func checkEmbeddedFailure(status, message string) error {
	if !strings.EqualFold(status, "OK") {
		return fmt.Errorf("%w: status %q: %s", models.ErrAdapterHardFailure, status, message)
	}
	lowered := strings.ToLower(message)
	for _, keyword := range failureKeywords {
		if strings.Contains(lowered, keyword) {
			return fmt.Errorf("%w: %s", models.ErrAdapterHardFailure, message)
		}
	}
	return nil
}
