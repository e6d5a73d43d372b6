// Package providers normalizes external fulfillment systems behind one
// adapter interface with a canonical status vocabulary.
package providers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"reseller-order-engine/models"
)

// Adapter is the protocol-specific client contract. Credentials are
// bound at construction time via the registry.
type Adapter interface {
	GetBalance(ctx context.Context) (BalanceResult, error)
	ListProducts(ctx context.Context) ([]Product, error)
	PlaceOrder(ctx context.Context, providerPackageID string, req OrderRequest) (DispatchResult, error)
	FetchStatus(ctx context.Context, reference string) (StatusResult, error)
}

// OrderRequest is the normalized placement payload.
type OrderRequest struct {
	Quantity  int      `json:"quantity"`
	Payload   string   `json:"payload,omitempty"`
	ChainPath []string `json:"chain_path,omitempty"`
}

// DispatchResult is the normalized outcome of a placement call.
// Business-level rejections are captured here together with an
// ErrAdapterHardFailure error; they never panic past the boundary.
type DispatchResult struct {
	Status           models.CanonicalStatus `json:"status"`
	Reference        string                 `json:"reference,omitempty"`
	Cost             decimal.Decimal        `json:"cost"`
	CostCurrency     string                 `json:"cost_currency,omitempty"`
	RemainingBalance decimal.Decimal        `json:"remaining_balance"`
	Message          string                 `json:"message,omitempty"`
}

// StatusResult is the normalized outcome of a status query.
type StatusResult struct {
	Status  models.CanonicalStatus `json:"status"`
	Pin     string                 `json:"pin,omitempty"`
	Message string                 `json:"message,omitempty"`
}

// BalanceResult is the normalized balance snapshot.
type BalanceResult struct {
	Balance  decimal.Decimal `json:"balance"`
	Debt     decimal.Decimal `json:"debt"`
	Currency string          `json:"currency,omitempty"`
}

// QuantitySchema preserves the provider's quantity constraints as
// given: either a [Min, Max] range or a discrete value set. Never
// flattened to a single number.
type QuantitySchema struct {
	Kind   string `json:"kind"` // "range" or "set"
	Min    int    `json:"min,omitempty"`
	Max    int    `json:"max,omitempty"`
	Values []int  `json:"values,omitempty"`
}

// Product is a provider catalog entry.
type Product struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Quantity QuantitySchema  `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency,omitempty"`
}

// Adapter kinds stored on Integration.Provider.
const (
	KindLegacy   = "legacy"
	KindJSONRest = "jsonrest"
	KindInternal = "internal"
)

// Factory builds an adapter bound to one integration's credentials.
type Factory func(in models.Integration) Adapter

// Registry resolves a provider kind plus stored credentials to a bound
// adapter instance.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDefaultRegistry returns a registry with the closed set of adapter
// kinds the engine supports.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindLegacy, func(in models.Integration) Adapter { return NewLegacyAdapter(in) })
	r.Register(KindJSONRest, func(in models.Integration) Adapter { return NewJSONRestAdapter(in) })
	r.Register(KindInternal, func(in models.Integration) Adapter { return NewInternalAdapter(in) })
	return r
}

// Register stores a factory for a provider kind.
func (r *Registry) Register(kind string, factory Factory) {
	r.factories[kind] = factory
}

// Bind resolves the integration's provider kind to a credential-bound
// adapter.
func (r *Registry) Bind(in models.Integration) (Adapter, error) {
	factory, ok := r.factories[in.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrAdapterUnavailable, in.Provider)
	}
	return factory(in), nil
}

// newHTTPClient builds an HTTP client with a split connect/read budget.
func newHTTPClient(connectTimeout, totalTimeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: totalTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		},
	}
}
