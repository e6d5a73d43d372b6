package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Integration is a configured provider credential set owned by a tenant.
// Read-mostly from the engine's perspective; only balance and debt are
// refreshed here.
type Integration struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`

	// Provider selects the adapter kind (legacy, jsonrest, internal).
	Provider string `json:"provider"`
	BaseURL  string `json:"base_url"`

	// Opaque credential fields; which ones are used depends on the
	// adapter kind.
	APIKey     string `json:"api_key,omitempty"`
	APISecret  string `json:"api_secret,omitempty"`
	TenantHost string `json:"tenant_host,omitempty"`

	Balance            decimal.Decimal `json:"balance"`
	Debt               decimal.Decimal `json:"debt"`
	BalanceRefreshedAt *time.Time      `json:"balance_refreshed_at,omitempty"`
}

// ProviderPackage maps a local package to the provider's own package id
// for one integration.
type ProviderPackage struct {
	IntegrationID     string `json:"integration_id"`
	PackageID         string `json:"package_id"`
	ProviderPackageID string `json:"provider_package_id"`
}

// Tenant carries the currency context the engine needs for cost
// snapshots. Full tenant administration lives outside the engine.
type Tenant struct {
	ID           string          `json:"id"`
	Host         string          `json:"host"`
	Currency     string          `json:"currency"`
	FXRate       decimal.Decimal `json:"fx_rate"`
	PriceGroupID string          `json:"price_group_id"`
}

// PackagePrice is the price-group USD unit price used for manual cost
// snapshots.
type PackagePrice struct {
	TenantID     string          `json:"tenant_id"`
	PackageID    string          `json:"package_id"`
	PriceGroupID string          `json:"price_group_id"`
	UnitPriceUSD decimal.Decimal `json:"unit_price_usd"`
}

// LegacyUser is a row in the legacy money ledger. Balances are quantized
// to 2 decimal places.
type LegacyUser struct {
	TenantID       string          `json:"tenant_id"`
	UserID         string          `json:"user_id"`
	Balance        decimal.Decimal `json:"balance"`
	OverdraftLimit decimal.Decimal `json:"overdraft_limit"`
}

// LedgerAccount is the mirrored modern-ledger row. Balances are
// quantized to 6 decimal places.
type LedgerAccount struct {
	TenantID       string          `json:"tenant_id"`
	UserID         string          `json:"user_id"`
	Balance        decimal.Decimal `json:"balance"`
	OverdraftLimit decimal.Decimal `json:"overdraft_limit"`
}
