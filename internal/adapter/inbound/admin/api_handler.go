// Package admin provides the JSON API for the out-of-band admin surface:
// service-override writes, Grant revocation, and dashboard aggregation
// queries over the Audit Store. The dashboard's HTML/JS is out of scope;
// this package is the testable query/mutation layer an (unbuilt)
// dashboard would sit in front of.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/clawguard/clawguard/internal/domain/approval"
	"github.com/clawguard/clawguard/internal/domain/audit"
	"github.com/clawguard/clawguard/internal/domain/guard"
	"github.com/clawguard/clawguard/internal/domain/service"
)

// AdminAPIHandler serves the admin JSON API: service-table CRUD through
// the override path, Grant listing/revocation, and audit queries.
type AdminAPIHandler struct {
	table       *service.Table
	coordinator *approval.Coordinator
	auditStore  audit.Store
	queryStore  audit.QueryStore
	guardConfig guard.Config
	pinHash     string // hashed session PIN, verified via secret.Verify
	logger      *slog.Logger
	startTime   time.Time
	version     string

	allowlistMu sync.RWMutex
	ipAllowlist []string
}

// IPAllowlist returns the current admin IP allowlist. Safe for concurrent
// use with SetIPAllowlist, which the config watcher calls on reload.
func (h *AdminAPIHandler) IPAllowlist() []string {
	h.allowlistMu.RLock()
	defer h.allowlistMu.RUnlock()
	return h.ipAllowlist
}

// SetIPAllowlist replaces the admin IP allowlist in place, letting the
// config watcher hot-reload it without restarting the server.
func (h *AdminAPIHandler) SetIPAllowlist(entries []string) {
	h.allowlistMu.Lock()
	defer h.allowlistMu.Unlock()
	h.ipAllowlist = entries
}

// Option configures an AdminAPIHandler at construction.
type Option func(*AdminAPIHandler)

func WithTable(t *service.Table) Option {
	return func(h *AdminAPIHandler) { h.table = t }
}

func WithCoordinator(c *approval.Coordinator) Option {
	return func(h *AdminAPIHandler) { h.coordinator = c }
}

func WithAuditStore(s audit.Store) Option {
	return func(h *AdminAPIHandler) { h.auditStore = s }
}

func WithQueryStore(s audit.QueryStore) Option {
	return func(h *AdminAPIHandler) { h.queryStore = s }
}

func WithGuardConfig(c guard.Config) Option {
	return func(h *AdminAPIHandler) { h.guardConfig = c }
}

// WithIPAllowlist sets the admin surface's own IP allowlist (distinct
// from the Security Guard's upstream allowlist).
func WithIPAllowlist(entries []string) Option {
	return func(h *AdminAPIHandler) { h.SetIPAllowlist(entries) }
}

// WithPINHash sets the hashed session PIN (any format secret.Verify
// accepts) required on every admin request via X-Admin-PIN.
func WithPINHash(hash string) Option {
	return func(h *AdminAPIHandler) { h.pinHash = hash }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *AdminAPIHandler) { h.logger = l }
}

func WithVersion(v string) Option {
	return func(h *AdminAPIHandler) { h.version = v }
}

// New constructs an AdminAPIHandler.
func New(opts ...Option) *AdminAPIHandler {
	h := &AdminAPIHandler{
		logger:    slog.Default(),
		startTime: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the admin API's http.Handler, wrapped with the IP
// allowlist + session PIN gate, CSRF protection, CSP headers, and the
// per-IP rate limiter.
func (h *AdminAPIHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /__admin/api/v1/stats", h.handleStats)
	mux.HandleFunc("GET /__admin/api/v1/services", h.handleListServices)
	mux.HandleFunc("GET /__admin/api/v1/services/export", h.handleExportServicesYAML)
	mux.HandleFunc("PUT /__admin/api/v1/services/{name}", h.handlePutServiceOverride)
	mux.HandleFunc("DELETE /__admin/api/v1/services/{name}", h.handleDeleteServiceOverride)
	mux.HandleFunc("GET /__admin/api/v1/approvals", h.handleListApprovals)
	mux.HandleFunc("POST /__admin/api/v1/approvals/{service}/revoke", h.handleRevokeApproval)
	mux.HandleFunc("POST /__admin/api/v1/approvals/revoke-all", h.handleRevokeAllApprovals)
	mux.HandleFunc("GET /__admin/api/v1/audit", h.handleQueryAudit)

	protected := h.adminAuthMiddleware(mux)
	rateLimited := apiRateLimitMiddleware(60, time.Minute, protected)
	csrfProtected := csrfMiddleware(rateLimited)
	return cspMiddleware(csrfProtected)
}

// --- JSON helpers ---

func (h *AdminAPIHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("admin: failed to encode JSON response", "error", err)
	}
}

func (h *AdminAPIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func (h *AdminAPIHandler) readJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (h *AdminAPIHandler) pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
