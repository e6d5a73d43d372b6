package models

import "fmt"

// RoutingMode selects automatic or manual fulfillment for a package.
type RoutingMode string

const (
	RoutingModeManual RoutingMode = "manual"
	RoutingModeAuto   RoutingMode = "auto"
)

// ProviderType identifies the fulfillment channel of a routing row.
type ProviderType string

const (
	ProviderTypeManual        ProviderType = "manual"
	ProviderTypeExternal      ProviderType = "external"
	ProviderTypeInternalCodes ProviderType = "internal_codes"
)

// Rank orders provider types for candidate selection: external is
// preferred over internal_codes, which is preferred over manual.
func (t ProviderType) Rank() int {
	switch t {
	case ProviderTypeExternal:
		return 0
	case ProviderTypeInternalCodes:
		return 1
	default:
		return 2
	}
}

// PackageRouting is the per (tenant, package) fulfillment configuration.
// Owned by tenant-admin CRUD; the engine only reads it.
type PackageRouting struct {
	ID                 string       `json:"id"`
	TenantID           string       `json:"tenant_id"`
	PackageID          string       `json:"package_id"`
	Mode               RoutingMode  `json:"mode"`
	ProviderType       ProviderType `json:"provider_type"`
	PrimaryProviderID  string       `json:"primary_provider_id,omitempty"`
	FallbackProviderID string       `json:"fallback_provider_id,omitempty"`
	CodeGroupID        string       `json:"code_group_id,omitempty"`
}

// Validate checks the routing row's internal consistency. Auto mode
// requires a usable target, and a provider cannot be its own fallback.
func (r PackageRouting) Validate() error {
	if r.Mode == RoutingModeAuto {
		switch r.ProviderType {
		case ProviderTypeExternal:
			if r.PrimaryProviderID == "" {
				return fmt.Errorf("%w: auto external routing without primary provider", ErrRoutingInvalid)
			}
		case ProviderTypeInternalCodes:
			if r.CodeGroupID == "" {
				return fmt.Errorf("%w: auto internal_codes routing without code group", ErrRoutingInvalid)
			}
		}
	}
	if r.PrimaryProviderID != "" && r.PrimaryProviderID == r.FallbackProviderID {
		return fmt.Errorf("%w: primary and fallback provider are the same", ErrRoutingInvalid)
	}
	return nil
}
