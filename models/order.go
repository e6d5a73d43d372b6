package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is the unit of work owned by the dispatch engine from creation
// until it reaches a terminal status.
type Order struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`

	PackageID string          `json:"package_id"`
	UserID    string          `json:"user_id"`
	Quantity  int             `json:"quantity"`
	SellPrice decimal.Decimal `json:"sell_price"`
	Payload   string          `json:"payload,omitempty"`

	Status         OrderStatus    `json:"status"`
	ExternalStatus ExternalStatus `json:"external_status"`
	Mode           DispatchMode   `json:"mode"`

	ProviderID      *string `json:"provider_id,omitempty"`
	ExternalOrderID string  `json:"external_order_id,omitempty"`
	ProviderRef     string  `json:"provider_ref,omitempty"`

	// ChainPath lists ancestor order ids across tenants that forwarded
	// this order, oldest first. Append-only and acyclic.
	ChainPath []string `json:"chain_path,omitempty"`

	// FallbackAttempted survives process restarts so an order is never
	// retried against the fallback provider more than once.
	FallbackAttempted bool `json:"fallback_attempted"`

	// Cost snapshot, captured once at dispatch/approval time.
	CostPriceUSD   decimal.Decimal `json:"cost_price_usd"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	CostCurrency   string          `json:"cost_currency"`
	FXRate         decimal.Decimal `json:"fx_rate"`
	CostSource     string          `json:"cost_source"`

	PinCode         string `json:"pin_code,omitempty"`
	ProviderMessage string `json:"provider_message,omitempty"`
	LastMessage     string `json:"last_message,omitempty"`
	NotesCount      int    `json:"notes_count"`

	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  *int64     `json:"duration_ms,omitempty"`
}

// Note is an append-only order annotation.
type Note struct {
	By   string    `json:"by"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// OrderStatus is the ledger-affecting lifecycle status. It moves from
// pending to approved or rejected exactly once; the ledger may later
// correct approved to rejected (refund) or rejected to approved
// (re-charge), always through OrderStatusTransition.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusApproved OrderStatus = "approved"
	OrderStatusRejected OrderStatus = "rejected"
)

// Terminal reports whether the status is ledger-terminal.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusApproved || s == OrderStatusRejected
}

// ExternalStatus is the provider-facing status, normalized from each
// adapter's wire vocabulary.
type ExternalStatus string

const (
	ExternalStatusNotSent    ExternalStatus = "not_sent"
	ExternalStatusSent       ExternalStatus = "sent"
	ExternalStatusProcessing ExternalStatus = "processing"
	ExternalStatusDone       ExternalStatus = "done"
	ExternalStatusFailed     ExternalStatus = "failed"
)

// Terminal reports whether the external status is terminal.
func (s ExternalStatus) Terminal() bool {
	return s == ExternalStatusDone || s == ExternalStatusFailed
}

// DispatchMode records how an order is fulfilled.
type DispatchMode string

const (
	ModeManual DispatchMode = "MANUAL"
	ModeAuto   DispatchMode = "AUTO"
)

// CanonicalStatus is the four-value vocabulary every provider adapter
// maps its wire format into.
type CanonicalStatus string

const (
	CanonicalPending    CanonicalStatus = "pending"
	CanonicalProcessing CanonicalStatus = "processing"
	CanonicalCompleted  CanonicalStatus = "completed"
	CanonicalFailed     CanonicalStatus = "failed"
)

// Terminal reports whether the canonical status ends the poll loop.
func (s CanonicalStatus) Terminal() bool {
	return s == CanonicalCompleted || s == CanonicalFailed
}

// ExternalStatus converts a canonical status to the normalized
// provider-facing status persisted on the order.
func (s CanonicalStatus) ExternalStatus() ExternalStatus {
	switch s {
	case CanonicalCompleted:
		return ExternalStatusDone
	case CanonicalFailed:
		return ExternalStatusFailed
	case CanonicalProcessing:
		return ExternalStatusProcessing
	default:
		return ExternalStatusSent
	}
}

// MapOutcome maps a free-form provider or canonical status string to the
// order-status transition it demands. The boolean is false when the
// string implies no terminal transition.
func MapOutcome(status string) (OrderStatus, bool) {
	switch status {
	case "completed", "done", "success", "delivered", "approved", "accept":
		return OrderStatusApproved, true
	case "failed", "rejected", "error", "cancelled":
		return OrderStatusRejected, true
	default:
		return "", false
	}
}

// CostSource values recorded in the order's cost snapshot.
const (
	CostSourceManualPriceGroupUSD = "manual_price_group_usd"
	CostSourceProviderResponse    = "provider_response"
)
