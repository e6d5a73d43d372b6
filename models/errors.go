package models

import "errors"

// Engine error taxonomy. Callers branch on these with errors.Is and
// decide per call site whether to degrade or surface.
var (
	// ErrRoutingInvalid marks bad or missing routing configuration.
	ErrRoutingInvalid = errors.New("routing configuration invalid")

	// ErrRoutingConflict marks conflicting routing rows. Non-fatal:
	// reported, never aborts resolution.
	ErrRoutingConflict = errors.New("routing configuration conflict")

	// ErrAdapterUnavailable means no adapter binding exists for the
	// provider kind.
	ErrAdapterUnavailable = errors.New("no adapter for provider kind")

	// ErrAdapterTransport marks timeouts, connection failures, and
	// non-2xx HTTP responses from a provider.
	ErrAdapterTransport = errors.New("provider transport error")

	// ErrAdapterHardFailure marks a business-level rejection returned
	// by a provider.
	ErrAdapterHardFailure = errors.New("provider rejected request")

	ErrOrderNotFound        = errors.New("order not found")
	ErrTenantMismatch       = errors.New("order belongs to a different tenant")
	ErrLegacyUserMissing    = errors.New("linked ledger user missing")
	ErrOverdraftExceeded    = errors.New("overdraft limit exceeded")
	ErrInvalidTargetStatus  = errors.New("invalid target order status")
	ErrIdempotencyConflict  = errors.New("idempotency key conflict")
	ErrChainCycle           = errors.New("chain path would form a cycle")
	ErrProviderPackageUnset = errors.New("no provider package mapping")
)
