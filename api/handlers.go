package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.temporal.io/sdk/client"

	"reseller-order-engine/ledger"
	"reseller-order-engine/models"
	"reseller-order-engine/workflows"
)

type externalOrderRequest struct {
	PackageID string          `json:"packageId"`
	UserID    string          `json:"userId"`
	Quantity  int             `json:"quantity"`
	SellPrice decimal.Decimal `json:"sellPrice"`
	Payload   string          `json:"payload,omitempty"`
}

// handleExternalOrder is the reseller intake. Supports an optional
// Idempotency-Key header: a replay with the same key and an identical
// body returns the original order instead of creating a new one.
func (s *Server) handleExternalOrder(w http.ResponseWriter, r *http.Request) {
	token, ok := s.authenticate(r, "X-API-Token")
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "invalid api token")
		return
	}
	if s.limiter != nil && !s.limiter.Allow(token.ID) {
		s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	var req externalOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "decode body: "+err.Error())
		return
	}
	if req.PackageID == "" || req.UserID == "" || req.Quantity <= 0 {
		s.writeError(w, http.StatusBadRequest, "packageId, userId and a positive quantity are required")
		return
	}

	sum := sha256.Sum256(body)
	requestHash := hex.EncodeToString(sum[:])
	idemKey := r.Header.Get("Idempotency-Key")

	if idemKey != "" {
		row, found, err := s.store.GetIdempotencyKey(r.Context(), token.ID, idemKey, requestHash)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "idempotency lookup failed")
			return
		}
		if found {
			s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "orderId": row.OrderID, "idempotent": true})
			return
		}
	}

	now := s.now()
	order := models.Order{
		ID:        uuid.NewString(),
		TenantID:  token.TenantID,
		PackageID: req.PackageID,
		UserID:    req.UserID,
		Quantity:  req.Quantity,
		SellPrice: req.SellPrice,
		Payload:   req.Payload,
		CreatedAt: now,
	}
	if err := s.store.CreateOrder(r.Context(), order); err != nil {
		s.logger.Error("create order failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "create order failed")
		return
	}
	if idemKey != "" {
		row := models.IdempotencyKey{
			TokenID:     token.ID,
			Key:         idemKey,
			RequestHash: requestHash,
			OrderID:     order.ID,
			TTLSeconds:  int64(s.idemTTL.Seconds()),
			CreatedAt:   now,
		}
		if err := s.store.UpsertIdempotencyKey(r.Context(), row); err != nil {
			s.logger.Error("persist idempotency key failed", "order_id", order.ID, "error", err)
		}
	}

	if err := s.startDispatch(r, order.ID, order.TenantID); err != nil {
		s.logger.Error("start dispatch workflow failed", "order_id", order.ID, "error", err)
		s.writeError(w, http.StatusBadGateway, "order accepted but dispatch could not be scheduled: "+order.ID)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "orderId": order.ID})
}

type chainOrderRequest struct {
	Quantity  int      `json:"quantity"`
	Payload   string   `json:"payload,omitempty"`
	ChainPath []string `json:"chain_path,omitempty"`
}

// handleChainNewOrder is the downstream side of cross-tenant forwarding:
// an upstream tenant places an order here as if it were an end client.
// The upstream chain path is preserved so loops are detected no matter
// how many hops the order has taken.
func (s *Server) handleChainNewOrder(w http.ResponseWriter, r *http.Request) {
	token, ok := s.authenticate(r, "api-token")
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "message": "invalid api token"})
		return
	}
	host := r.Header.Get("X-Tenant-Host")
	tenant, err := s.store.GetTenantByHost(r.Context(), host)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "unknown tenant host"})
		return
	}
	if tenant.ID != token.TenantID {
		s.writeJSON(w, http.StatusForbidden, map[string]any{"ok": false, "message": "token does not belong to tenant"})
		return
	}

	var req chainOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "decode body: " + err.Error()})
		return
	}
	if req.Quantity <= 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "a positive quantity is required"})
		return
	}
	if err := validateChainPath(req.ChainPath); err != nil {
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"ok": false, "message": err.Error()})
		return
	}

	packageID := chi.URLParam(r, "packageID")
	sellPrice := decimal.Zero
	if price, err := s.store.GetPackagePrice(r.Context(), tenant.ID, packageID, tenant.PriceGroupID); err == nil {
		sellPrice = price.UnitPriceUSD.Mul(decimal.NewFromInt(int64(req.Quantity)))
	}

	order := models.Order{
		ID:        uuid.NewString(),
		TenantID:  tenant.ID,
		PackageID: packageID,
		// Chain orders bill the upstream reseller's account, keyed by
		// its API token.
		UserID:    token.ID,
		Quantity:  req.Quantity,
		SellPrice: sellPrice,
		Payload:   req.Payload,
		ChainPath: req.ChainPath,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateOrder(r.Context(), order); err != nil {
		s.logger.Error("create chain order failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "create order failed"})
		return
	}
	if err := s.startDispatch(r, order.ID, order.TenantID); err != nil {
		s.logger.Error("start dispatch workflow failed", "order_id", order.ID, "error", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "message": "dispatch could not be scheduled"})
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "orderId": order.ID})
}

// handleChainCheck reports a downstream order's status in the canonical
// vocabulary, for the upstream tenant's poller.
func (s *Server) handleChainCheck(w http.ResponseWriter, r *http.Request) {
	token, ok := s.authenticate(r, "api-token")
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "message": "invalid api token"})
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "id is required"})
		return
	}
	order, err := s.store.GetOrder(r.Context(), id)
	if err != nil || order.TenantID != token.TenantID {
		s.writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "order not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"status":  string(canonicalOf(order)),
		"pin":     order.PinCode,
		"message": order.LastMessage,
	})
}

type bulkRequest struct {
	Note  string            `json:"note,omitempty"`
	Items []ledger.BulkItem `json:"items"`
}

// handleBulk applies terminal status changes to many orders at once,
// reporting per-item outcomes.
func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	token, ok := s.authenticate(r, "X-API-Token")
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "invalid api token")
		return
	}
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "decode body: "+err.Error())
		return
	}
	if len(req.Items) == 0 {
		s.writeError(w, http.StatusBadRequest, "items is required")
		return
	}
	results := s.ledger.ApplyBulk(r.Context(), token.TenantID, req.Items, req.Note)
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "results": results})
}

func (s *Server) startDispatch(r *http.Request, orderID, tenantID string) error {
	_, err := s.temporal.ExecuteWorkflow(r.Context(), client.StartWorkflowOptions{
		ID:        "dispatch-" + orderID,
		TaskQueue: workflows.TaskQueueName,
	}, workflows.DispatchWorkflow, workflows.DispatchRequest{OrderID: orderID, TenantID: tenantID})
	return err
}

func validateChainPath(path []string) error {
	seen := make(map[string]struct{}, len(path))
	for _, id := range path {
		if id == "" {
			return errors.New("chain path contains an empty id")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s repeats in chain path", models.ErrChainCycle, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func canonicalOf(order models.Order) models.CanonicalStatus {
	switch order.Status {
	case models.OrderStatusApproved:
		return models.CanonicalCompleted
	case models.OrderStatusRejected:
		return models.CanonicalFailed
	}
	switch order.ExternalStatus {
	case models.ExternalStatusProcessing, models.ExternalStatusSent:
		return models.CanonicalProcessing
	case models.ExternalStatusDone:
		return models.CanonicalCompleted
	case models.ExternalStatusFailed:
		return models.CanonicalFailed
	}
	return models.CanonicalPending
}
