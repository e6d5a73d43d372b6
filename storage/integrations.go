package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"reseller-order-engine/models"
)

// GetIntegration loads one provider credential set.
func (s *Store) GetIntegration(ctx context.Context, id string) (models.Integration, error) {
	var (
		in            models.Integration
		balance, debt string
		refreshedAt   sql.NullInt64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id, tenant_id, provider, base_url, api_key, api_secret, tenant_host, balance, debt, balance_refreshed_at
FROM integrations WHERE id = ?`, id).Scan(
		&in.ID, &in.TenantID, &in.Provider, &in.BaseURL, &in.APIKey, &in.APISecret,
		&in.TenantHost, &balance, &debt, &refreshedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Integration{}, fmt.Errorf("integration %s: %w", id, models.ErrAdapterUnavailable)
	}
	if err != nil {
		return models.Integration{}, fmt.Errorf("load integration: %w", err)
	}
	if in.Balance, err = decimal.NewFromString(balance); err != nil {
		return models.Integration{}, fmt.Errorf("decode balance: %w", err)
	}
	if in.Debt, err = decimal.NewFromString(debt); err != nil {
		return models.Integration{}, fmt.Errorf("decode debt: %w", err)
	}
	in.BalanceRefreshedAt = fromMillisPtr(refreshedAt)
	return in, nil
}

// SaveIntegration upserts a provider credential set.
func (s *Store) SaveIntegration(ctx context.Context, in models.Integration) error {
	if in.ID == "" {
		return fmt.Errorf("integration id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO integrations (id, tenant_id, provider, base_url, api_key, api_secret, tenant_host, balance, debt, balance_refreshed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  tenant_id = excluded.tenant_id,
  provider = excluded.provider,
  base_url = excluded.base_url,
  api_key = excluded.api_key,
  api_secret = excluded.api_secret,
  tenant_host = excluded.tenant_host`,
		in.ID, in.TenantID, in.Provider, in.BaseURL, in.APIKey, in.APISecret,
		in.TenantHost, in.Balance.String(), in.Debt.String(), toMillisPtr(in.BalanceRefreshedAt),
	)
	if err != nil {
		return fmt.Errorf("save integration: %w", err)
	}
	return nil
}

// RefreshIntegrationBalance stores the latest provider balance snapshot.
func (s *Store) RefreshIntegrationBalance(ctx context.Context, id string, balance, debt decimal.Decimal) error {
	_, err := s.sqlDB.ExecContext(ctx, `
UPDATE integrations SET balance = ?, debt = ?, balance_refreshed_at = ? WHERE id = ?`,
		balance.String(), debt.String(), toMillis(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("refresh integration balance: %w", err)
	}
	return nil
}

// GetProviderPackage resolves the provider-side package id for a local
// package under one integration.
func (s *Store) GetProviderPackage(ctx context.Context, integrationID, packageID string) (models.ProviderPackage, error) {
	var pp models.ProviderPackage
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT integration_id, package_id, provider_package_id
FROM provider_packages WHERE integration_id = ? AND package_id = ?`,
		integrationID, packageID).Scan(&pp.IntegrationID, &pp.PackageID, &pp.ProviderPackageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ProviderPackage{}, models.ErrProviderPackageUnset
	}
	if err != nil {
		return models.ProviderPackage{}, fmt.Errorf("load provider package: %w", err)
	}
	return pp, nil
}

// SaveProviderPackage upserts a provider package mapping.
func (s *Store) SaveProviderPackage(ctx context.Context, pp models.ProviderPackage) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO provider_packages (integration_id, package_id, provider_package_id)
VALUES (?, ?, ?)
ON CONFLICT(integration_id, package_id) DO UPDATE SET provider_package_id = excluded.provider_package_id`,
		pp.IntegrationID, pp.PackageID, pp.ProviderPackageID)
	if err != nil {
		return fmt.Errorf("save provider package: %w", err)
	}
	return nil
}

// GetTenant loads a tenant's currency context.
func (s *Store) GetTenant(ctx context.Context, id string) (models.Tenant, error) {
	var (
		t      models.Tenant
		fxRate string
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, host, currency, fx_rate, price_group_id FROM tenants WHERE id = ?`, id,
	).Scan(&t.ID, &t.Host, &t.Currency, &fxRate, &t.PriceGroupID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Tenant{}, fmt.Errorf("tenant %s not found", id)
	}
	if err != nil {
		return models.Tenant{}, fmt.Errorf("load tenant: %w", err)
	}
	if t.FXRate, err = decimal.NewFromString(fxRate); err != nil {
		return models.Tenant{}, fmt.Errorf("decode fx rate: %w", err)
	}
	return t, nil
}

// GetTenantByHost resolves a tenant from the cross-tenant host header.
func (s *Store) GetTenantByHost(ctx context.Context, host string) (models.Tenant, error) {
	var id string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT id FROM tenants WHERE host = ?`, host).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Tenant{}, fmt.Errorf("no tenant for host %s", host)
	}
	if err != nil {
		return models.Tenant{}, fmt.Errorf("load tenant by host: %w", err)
	}
	return s.GetTenant(ctx, id)
}

// SaveTenant upserts a tenant row.
func (s *Store) SaveTenant(ctx context.Context, t models.Tenant) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO tenants (id, host, currency, fx_rate, price_group_id)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  host = excluded.host,
  currency = excluded.currency,
  fx_rate = excluded.fx_rate,
  price_group_id = excluded.price_group_id`,
		t.ID, t.Host, t.Currency, t.FXRate.String(), t.PriceGroupID)
	if err != nil {
		return fmt.Errorf("save tenant: %w", err)
	}
	return nil
}

// GetPackagePrice loads the price-group USD unit price for a package.
func (s *Store) GetPackagePrice(ctx context.Context, tenantID, packageID, priceGroupID string) (models.PackagePrice, error) {
	var (
		p     models.PackagePrice
		price string
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT tenant_id, package_id, price_group_id, unit_price_usd
FROM package_prices WHERE tenant_id = ? AND package_id = ? AND price_group_id = ?`,
		tenantID, packageID, priceGroupID).Scan(&p.TenantID, &p.PackageID, &p.PriceGroupID, &price)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PackagePrice{}, fmt.Errorf("no price for package %s in group %s", packageID, priceGroupID)
	}
	if err != nil {
		return models.PackagePrice{}, fmt.Errorf("load package price: %w", err)
	}
	if p.UnitPriceUSD, err = decimal.NewFromString(price); err != nil {
		return models.PackagePrice{}, fmt.Errorf("decode unit price: %w", err)
	}
	return p, nil
}

// SavePackagePrice upserts a price-group unit price.
func (s *Store) SavePackagePrice(ctx context.Context, p models.PackagePrice) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO package_prices (tenant_id, package_id, price_group_id, unit_price_usd)
VALUES (?, ?, ?, ?)
ON CONFLICT(tenant_id, package_id, price_group_id) DO UPDATE SET unit_price_usd = excluded.unit_price_usd`,
		p.TenantID, p.PackageID, p.PriceGroupID, p.UnitPriceUSD.String())
	if err != nil {
		return fmt.Errorf("save package price: %w", err)
	}
	return nil
}
