// Package api exposes the HTTP intake surfaces: the external reseller
// API, the cross-tenant client API, and the admin bulk endpoint.
package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.temporal.io/sdk/client"

	"reseller-order-engine/ledger"
	"reseller-order-engine/models"
	"reseller-order-engine/ratelimit"
	"reseller-order-engine/storage"
)

// WorkflowStarter is the slice of the Temporal client the server needs.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Server wires the HTTP handlers to storage, the ledger, and Temporal.
type Server struct {
	store    *storage.Store
	ledger   *ledger.Service
	temporal WorkflowStarter
	limiter  *ratelimit.Limiter
	idemTTL  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewServer builds a Server. limiter may be nil to disable rate limiting.
func NewServer(store *storage.Store, ldg *ledger.Service, temporal WorkflowStarter, limiter *ratelimit.Limiter, idemTTL time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &Server{
		store:    store,
		ledger:   ldg,
		temporal: temporal,
		limiter:  limiter,
		idemTTL:  idemTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// Router builds the chi router for all intake surfaces.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/external/orders", s.handleExternalOrder)
	r.Post("/client/api/newOrder/{packageID}/params", s.handleChainNewOrder)
	r.Get("/client/api/check", s.handleChainCheck)
	r.Post("/admin/orders/bulk", s.handleBulk)
	return r
}

const tokenPrefixLen = 8

// authenticate resolves the raw token from header into its stored row.
// Tokens are stored as sha256 hashes; candidate rows are narrowed by
// plaintext prefix, then compared in constant time.
func (s *Server) authenticate(r *http.Request, header string) (models.APIToken, bool) {
	raw := r.Header.Get(header)
	if raw == "" {
		return models.APIToken{}, false
	}
	prefix := raw
	if len(prefix) > tokenPrefixLen {
		prefix = prefix[:tokenPrefixLen]
	}
	sum := sha256.Sum256([]byte(raw))
	hash := hex.EncodeToString(sum[:])

	candidates, err := s.store.APITokensByPrefix(r.Context(), prefix)
	if err != nil {
		s.logger.Error("token lookup failed", "error", err)
		return models.APIToken{}, false
	}
	for _, t := range candidates {
		if subtle.ConstantTimeCompare([]byte(hash), []byte(t.Hash)) == 1 {
			return t, true
		}
	}
	return models.APIToken{}, false
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("write response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"ok": false, "error": message})
}
