package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"reseller-order-engine/models"
)

// LegacyAdapter speaks the pipe-delimited text protocol over plain HTTP
// GET. Success frames start with "OK|"; anything else is
// "<code>|<message>". Authentication travels in query parameters, not
// headers.
type LegacyAdapter struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
}

// NewLegacyAdapter binds the legacy adapter to one integration.
func NewLegacyAdapter(in models.Integration) *LegacyAdapter {
	return &LegacyAdapter{
		httpClient: newHTTPClient(5*time.Second, 20*time.Second),
		baseURL:    strings.TrimRight(in.BaseURL, "/"),
		username:   in.APIKey,
		password:   in.APISecret,
	}
}

// GetBalance expects "OK|<balance>".
func (a *LegacyAdapter) GetBalance(ctx context.Context) (BalanceResult, error) {
	fields, err := a.call(ctx, url.Values{"action": {"balance"}})
	if err != nil {
		return BalanceResult{}, err
	}
	if len(fields) < 2 {
		return BalanceResult{}, fmt.Errorf("%w: short balance frame", models.ErrAdapterTransport)
	}
	balance, err := decimal.NewFromString(fields[1])
	if err != nil {
		return BalanceResult{}, fmt.Errorf("%w: bad balance %q", models.ErrAdapterTransport, fields[1])
	}
	return BalanceResult{Balance: balance}, nil
}

// ListProducts expects "OK|id:name:price;id:name:price;...".
func (a *LegacyAdapter) ListProducts(ctx context.Context) ([]Product, error) {
	fields, err := a.call(ctx, url.Values{"action": {"services"}})
	if err != nil {
		return nil, err
	}
	if len(fields) < 2 {
		return nil, nil
	}
	var products []Product
	for _, entry := range strings.Split(fields[1], ";") {
		parts := strings.Split(entry, ":")
		if len(parts) < 3 {
			continue
		}
		price, err := decimal.NewFromString(parts[2])
		if err != nil {
			continue
		}
		products = append(products, Product{
			ID:       parts[0],
			Name:     parts[1],
			Price:    price,
			Quantity: QuantitySchema{Kind: "range", Min: 1, Max: 1},
		})
	}
	return products, nil
}

// PlaceOrder expects "OK|<cost>|<remaining_balance>" on success, or
// "<code>|<message>" on a business rejection.
func (a *LegacyAdapter) PlaceOrder(ctx context.Context, providerPackageID string, req OrderRequest) (DispatchResult, error) {
	query := url.Values{
		"action":  {"order"},
		"service": {providerPackageID},
		"qty":     {fmt.Sprintf("%d", req.Quantity)},
	}
	if req.Payload != "" {
		query.Set("data", req.Payload)
	}
	fields, err := a.call(ctx, query)
	if err != nil {
		var rejection *rejectionError
		if ok := asRejection(err, &rejection); ok {
			return DispatchResult{Status: models.CanonicalFailed, Message: rejection.message},
				fmt.Errorf("%w: %s (code %s)", models.ErrAdapterHardFailure, rejection.message, rejection.code)
		}
		return DispatchResult{Status: models.CanonicalFailed, Message: err.Error()}, err
	}
	result := DispatchResult{Status: models.CanonicalPending}
	if len(fields) > 1 {
		if cost, err := decimal.NewFromString(fields[1]); err == nil {
			result.Cost = cost
		}
	}
	if len(fields) > 2 {
		if remaining, err := decimal.NewFromString(fields[2]); err == nil {
			result.RemainingBalance = remaining
		}
	}
	return result, nil
}

// FetchStatus expects "OK|<state_code>|<pin>|<description>"; state
// codes map 2 completed, 1 processing, 3 failed, anything else pending.
func (a *LegacyAdapter) FetchStatus(ctx context.Context, reference string) (StatusResult, error) {
	fields, err := a.call(ctx, url.Values{"action": {"status"}, "order": {reference}})
	if err != nil {
		var rejection *rejectionError
		if ok := asRejection(err, &rejection); ok {
			return StatusResult{Status: models.CanonicalFailed, Message: rejection.message}, nil
		}
		return StatusResult{}, err
	}
	result := StatusResult{Status: models.CanonicalPending}
	if len(fields) > 1 {
		switch fields[1] {
		case "2":
			result.Status = models.CanonicalCompleted
		case "1":
			result.Status = models.CanonicalProcessing
		case "3":
			result.Status = models.CanonicalFailed
		}
	}
	if len(fields) > 2 {
		result.Pin = fields[2]
	}
	if len(fields) > 3 {
		result.Message = fields[3]
	}
	return result, nil
}

// call performs one GET, splits the pipe frame, and converts non-OK
// frames into rejection errors.
func (a *LegacyAdapter) call(ctx context.Context, query url.Values) ([]string, error) {
	query.Set("username", a.username)
	query.Set("password", a.password)

	endpoint := a.baseURL + "/api?" + query.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", models.ErrAdapterTransport, err)
	}
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAdapterTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", models.ErrAdapterTransport, resp.StatusCode, string(body))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", models.ErrAdapterTransport, err)
	}
	frame := strings.TrimSpace(string(body))
	fields := strings.Split(frame, "|")
	if len(fields) == 0 || fields[0] != "OK" {
		code, message := "?", frame
		if len(fields) >= 2 {
			code, message = fields[0], fields[1]
		}
		return nil, &rejectionError{code: code, message: message}
	}
	return fields, nil
}

// rejectionError carries a provider's business-level rejection frame.
type rejectionError struct {
	code    string
	message string
}

func (e *rejectionError) Error() string {
	return fmt.Sprintf("provider rejected: %s (code %s)", e.message, e.code)
}

func asRejection(err error, target **rejectionError) bool {
	rej, ok := err.(*rejectionError)
	if ok {
		*target = rej
	}
	return ok
}
