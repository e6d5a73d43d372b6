// Package routing selects the fulfillment channel for a (tenant,
// package) pair.
package routing

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"reseller-order-engine/models"
)

// Source loads routing rows; satisfied by the storage package.
type Source interface {
	RoutingRows(ctx context.Context, tenantID, packageID string) ([]models.PackageRouting, error)
}

type pairKey struct {
	tenantID  string
	packageID string
}

type cached struct {
	routing *models.PackageRouting
}

// Resolver picks the routing row to use, detects conflicting
// configuration, and caches resolutions per pair. The cache has no TTL:
// it is invalidated on routing writes, never expired.
type Resolver struct {
	source Source
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[pairKey]cached
}

// NewResolver builds a resolver over the given source.
func NewResolver(source Source, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		source: source,
		logger: logger,
		cache:  make(map[pairKey]cached),
	}
}

// Resolve returns the chosen routing row, or nil when no usable row
// exists. Conflicts are reported but never abort resolution.
func (r *Resolver) Resolve(ctx context.Context, tenantID, packageID string) (*models.PackageRouting, error) {
	key := pairKey{tenantID: tenantID, packageID: packageID}

	r.mu.RLock()
	if hit, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return hit.routing, nil
	}
	r.mu.RUnlock()

	rows, err := r.source.RoutingRows(ctx, tenantID, packageID)
	if err != nil {
		return nil, err
	}

	r.reportConflicts(tenantID, packageID, rows)

	chosen := selectCandidate(rows, func(candidate models.PackageRouting, err error) {
		r.logger.Warn("routing candidate failed validation",
			"tenant_id", tenantID, "package_id", packageID,
			"routing_id", candidate.ID, "error", err)
	})

	r.mu.Lock()
	r.cache[key] = cached{routing: chosen}
	r.mu.Unlock()
	return chosen, nil
}

// Invalidate drops the cached resolution for a pair. Wired to the
// store's routing-write hook.
func (r *Resolver) Invalidate(tenantID, packageID string) {
	r.mu.Lock()
	delete(r.cache, pairKey{tenantID: tenantID, packageID: packageID})
	r.mu.Unlock()
}

// reportConflicts flags data drift: an external and an internal_codes
// row for the same package, or two rows sharing a primary provider.
func (r *Resolver) reportConflicts(tenantID, packageID string, rows []models.PackageRouting) {
	var hasExternal, hasInternalCodes bool
	primaries := make(map[string]string)
	for _, row := range rows {
		switch row.ProviderType {
		case models.ProviderTypeExternal:
			hasExternal = true
		case models.ProviderTypeInternalCodes:
			hasInternalCodes = true
		}
		if row.PrimaryProviderID != "" {
			if otherID, dup := primaries[row.PrimaryProviderID]; dup {
				r.logger.Warn("routing conflict: duplicate primary provider",
					"tenant_id", tenantID, "package_id", packageID,
					"provider_id", row.PrimaryProviderID,
					"routing_ids", []string{otherID, row.ID},
					"error", models.ErrRoutingConflict)
			} else {
				primaries[row.PrimaryProviderID] = row.ID
			}
		}
	}
	if hasExternal && hasInternalCodes {
		r.logger.Warn("routing conflict: external and internal_codes rows for same package",
			"tenant_id", tenantID, "package_id", packageID,
			"error", models.ErrRoutingConflict)
	}
}

// selectCandidate sorts by provider type (external first, then
// internal_codes, then manual), tie-broken by mode (auto before
// manual), and picks the first row that validates.
func selectCandidate(rows []models.PackageRouting, onInvalid func(models.PackageRouting, error)) *models.PackageRouting {
	candidates := make([]models.PackageRouting, len(rows))
	copy(candidates, rows)
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ProviderType.Rank() != candidates[j].ProviderType.Rank() {
			return candidates[i].ProviderType.Rank() < candidates[j].ProviderType.Rank()
		}
		return candidates[i].Mode == models.RoutingModeAuto && candidates[j].Mode != models.RoutingModeAuto
	})
	for _, candidate := range candidates {
		if err := candidate.Validate(); err != nil {
			if onInvalid != nil {
				onInvalid(candidate, err)
			}
			continue
		}
		chosen := candidate
		return &chosen
	}
	return nil
}
