package storage

import (
	"context"
	"fmt"

	"reseller-order-engine/models"
)

// RoutingRows loads every routing row for the (tenant, package) pair.
// More than one row can exist due to configuration drift; the resolver
// handles conflict detection.
func (s *Store) RoutingRows(ctx context.Context, tenantID, packageID string) ([]models.PackageRouting, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, tenant_id, package_id, mode, provider_type, primary_provider_id, fallback_provider_id, code_group_id
FROM package_routing WHERE tenant_id = ? AND package_id = ?`, tenantID, packageID)
	if err != nil {
		return nil, fmt.Errorf("query routing rows: %w", err)
	}
	defer rows.Close()

	var result []models.PackageRouting
	for rows.Next() {
		var r models.PackageRouting
		var mode, providerType string
		if err := rows.Scan(&r.ID, &r.TenantID, &r.PackageID, &mode, &providerType,
			&r.PrimaryProviderID, &r.FallbackProviderID, &r.CodeGroupID); err != nil {
			return nil, fmt.Errorf("scan routing row: %w", err)
		}
		r.Mode = models.RoutingMode(mode)
		r.ProviderType = models.ProviderType(providerType)
		result = append(result, r)
	}
	return result, rows.Err()
}

// SaveRouting upserts a routing row and fires the routing-write hook so
// the resolver cache invalidates the pair. The hook runs after the
// write commits; the cache can never outlive a routing update.
func (s *Store) SaveRouting(ctx context.Context, r models.PackageRouting) error {
	if r.ID == "" {
		return fmt.Errorf("routing id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO package_routing (id, tenant_id, package_id, mode, provider_type, primary_provider_id, fallback_provider_id, code_group_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  tenant_id = excluded.tenant_id,
  package_id = excluded.package_id,
  mode = excluded.mode,
  provider_type = excluded.provider_type,
  primary_provider_id = excluded.primary_provider_id,
  fallback_provider_id = excluded.fallback_provider_id,
  code_group_id = excluded.code_group_id`,
		r.ID, r.TenantID, r.PackageID, string(r.Mode), string(r.ProviderType),
		r.PrimaryProviderID, r.FallbackProviderID, r.CodeGroupID,
	)
	if err != nil {
		return fmt.Errorf("save routing: %w", err)
	}
	if s.onRoutingWrite != nil {
		s.onRoutingWrite(r.TenantID, r.PackageID)
	}
	return nil
}

// DeleteRouting removes a routing row and invalidates the pair.
func (s *Store) DeleteRouting(ctx context.Context, id string) error {
	var tenantID, packageID string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT tenant_id, package_id FROM package_routing WHERE id = ?`, id,
	).Scan(&tenantID, &packageID)
	if err != nil {
		return fmt.Errorf("load routing for delete: %w", err)
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM package_routing WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete routing: %w", err)
	}
	if s.onRoutingWrite != nil {
		s.onRoutingWrite(tenantID, packageID)
	}
	return nil
}
