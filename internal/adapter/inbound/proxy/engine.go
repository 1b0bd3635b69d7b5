package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/clawguard/clawguard/internal/domain/audit"
	"github.com/clawguard/clawguard/internal/domain/approval"
	"github.com/clawguard/clawguard/internal/domain/guard"
	"github.com/clawguard/clawguard/internal/domain/service"
)

// reservedPrefix marks introspection and admin paths. Request targets
// beginning with it are never treated as services.
const reservedPrefix = "__"

// CanonicalAgentHeader and LegacyAgentHeader are the agent secret header
// names. The legacy alias must be accepted on input but stripped, along
// with the canonical header, before forwarding upstream.
const (
	CanonicalAgentHeader = "X-ClawGuard-Key"
	LegacyAgentHeader    = "X-AgentGate-Key"
)

// defaultMaxBodyBytes caps inbound body size at the HTTP framing layer to
// prevent trivial memory exhaustion. No other rate limiting is in scope.
const defaultMaxBodyBytes = 10 << 20 // 10 MiB

// Engine is the Proxy Engine. It owns no long-lived state beyond the
// shared live service Table and a reference to the Approval Coordinator
// and Audit Store; everything else is resolved per request.
type Engine struct {
	table       *service.Table
	coordinator *approval.Coordinator
	auditStore  audit.Store
	guard       guard.Config
	logger      *slog.Logger

	agentSecretHash   string // see internal/domain/secret; compared via secret.Verify
	legacyAliasAccept bool

	httpClient *http.Client

	followRedirects bool
	maxBodyBytes    int64
	captureEnabled  atomic.Bool // hot-reloadable by the config watcher
	maxPayloadBytes atomic.Int64
	version         string
}

// Config bundles the Engine's construction-time options.
type Config struct {
	Guard              guard.Config
	AgentSecretHash    string
	LegacyAliasAccept  bool
	UpstreamTimeout    time.Duration
	MaxBodyBytes       int64
	PayloadCaptureOn   bool
	MaxPayloadLogBytes int
}

// New constructs a Proxy Engine.
func New(table *service.Table, coordinator *approval.Coordinator, auditStore audit.Store, cfg Config, logger *slog.Logger) *Engine {
	timeout := cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	maxPayload := cfg.MaxPayloadLogBytes
	if maxPayload <= 0 {
		maxPayload = 4096
	}

	e := &Engine{
		table:             table,
		coordinator:       coordinator,
		auditStore:        auditStore,
		guard:             cfg.Guard,
		logger:            logger,
		agentSecretHash:   cfg.AgentSecretHash,
		legacyAliasAccept: cfg.LegacyAliasAccept,
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxBodyBytes: maxBody,
		version:      "dev",
	}
	e.captureEnabled.Store(cfg.PayloadCaptureOn)
	e.maxPayloadBytes.Store(int64(maxPayload))
	return e
}

// SetPayloadCapture updates the payload-capture toggle and size cap in
// place, letting the config watcher hot-reload them without restarting
// the server.
func (e *Engine) SetPayloadCapture(enabled bool, maxBytes int) {
	e.captureEnabled.Store(enabled)
	if maxBytes > 0 {
		e.maxPayloadBytes.Store(int64(maxBytes))
	}
}

// ServeHTTP is the front door: identity check, routing, guard, approval,
// forward, audit.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("proxy engine: recovered panic", "panic", rec)
			writeError(w, http.StatusInternalServerError, "Internal error")
		}
	}()

	r.Body = http.MaxBytesReader(w, r.Body, e.maxBodyBytes)

	if !e.checkIdentity(r) {
		writeError(w, http.StatusUnauthorized, errInvalidAgentSecret)
		return
	}

	switch {
	case isIntrospection(r.URL.Path, "__status"):
		e.handleStatus(w, r)
		return
	case isIntrospection(r.URL.Path, "__audit"):
		e.handleAudit(w, r)
		return
	}

	svc, upstreamPath, ok, notFoundMsg := e.resolveRoute(r)
	if !ok {
		writeError(w, http.StatusNotFound, notFoundMsg)
		return
	}

	e.forward(r.Context(), w, r, svc, upstreamPath)
}

func isIntrospection(path, name string) bool {
	trimmed := strings.TrimPrefix(path, "/")
	return trimmed == name || strings.HasPrefix(trimmed, name+"/")
}

// checkIdentity verifies the shared agent secret header. The canonical
// header always wins; the legacy alias is honored only if configured to
// be accepted.
func (e *Engine) checkIdentity(r *http.Request) bool {
	value := r.Header.Get(CanonicalAgentHeader)
	if value == "" && e.legacyAliasAccept {
		value = r.Header.Get(LegacyAgentHeader)
	}
	if value == "" {
		return false
	}
	ok, err := verifySecretConstantTime(value, e.agentSecretHash)
	return err == nil && ok
}

// resolveRoute implements the two routing strategies. Path-prefix mode is
// tried first; if the first segment doesn't name a configured service,
// host-header mode is tried against the Host header.
func (e *Engine) resolveRoute(r *http.Request) (svc service.ServiceDefinition, upstreamPath string, ok bool, notFoundMsg string) {
	path := r.URL.Path
	trimmed := strings.TrimPrefix(path, "/")
	firstSlash := strings.IndexByte(trimmed, '/')

	var firstSegment, rest string
	if firstSlash == -1 {
		firstSegment = trimmed
		rest = ""
	} else {
		firstSegment = trimmed[:firstSlash]
		rest = trimmed[firstSlash:]
	}

	if firstSegment != "" && !strings.HasPrefix(firstSegment, reservedPrefix) {
		if def, found := e.table.Get(firstSegment); found {
			upstreamPath = rest
			if upstreamPath == "" {
				upstreamPath = "/"
			}
			if r.URL.RawQuery != "" {
				upstreamPath += "?" + r.URL.RawQuery
			}
			if r.URL.Fragment != "" {
				upstreamPath += "#" + r.URL.Fragment
			}
			return def, upstreamPath, true, ""
		}
		// The first segment named no configured service. Fall through to
		// host-header mode below rather than 404ing immediately, in case
		// the request target was never meant to be a service-prefixed path.
	}

	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if def, found := e.table.ByHost(host); found {
		full := r.URL.Path
		if r.URL.RawQuery != "" {
			full += "?" + r.URL.RawQuery
		}
		if r.URL.Fragment != "" {
			full += "#" + r.URL.Fragment
		}
		return def, full, true, ""
	}

	if firstSegment != "" {
		return service.ServiceDefinition{}, "", false, errUnknownService(firstSegment)
	}
	return service.ServiceDefinition{}, "", false, errUnknownHost()
}

// handleStatus serves GET /__status.
func (e *Engine) handleStatus(w http.ResponseWriter, r *http.Request) {
	grants := e.coordinator.ActiveGrants()
	approvalsView := make(map[string]statusApproval, len(grants))
	now := time.Now()
	for svc, gr := range grants {
		approvalsView[svc] = statusApproval{
			ExpiresAt:        gr.ExpiresAt,
			ApprovedBy:       gr.ApprovedBy,
			RemainingMinutes: int(gr.ExpiresAt.Sub(now).Minutes()),
		}
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:    "ok",
		Version:   e.version,
		Services:  e.table.Names(),
		Approvals: approvalsView,
	})
}

// handleAudit serves GET /__audit.
func (e *Engine) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 1000 {
		limit = 1000
	}

	queryStore, ok := e.auditStore.(interface {
		Recent(ctx context.Context, filter audit.Filter) ([]audit.Record, error)
	})
	if !ok {
		writeJSON(w, http.StatusOK, []audit.Record{})
		return
	}
	records, err := queryStore.Recent(r.Context(), audit.Filter{Limit: limit})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// SetVersion lets the wiring service stamp the build version reported by
// /__status.
func (e *Engine) SetVersion(v string) { e.version = v }

type statusApproval struct {
	ExpiresAt        time.Time `json:"expiresAt"`
	ApprovedBy       string    `json:"approvedBy"`
	RemainingMinutes int       `json:"remainingMinutes"`
}

type statusResponse struct {
	Status    string                    `json:"status"`
	Version   string                    `json:"version"`
	Services  []string                  `json:"services"`
	Approvals map[string]statusApproval `json:"approvals"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// buildUpstreamURL resolves upstreamPath against the service's base URL.
func buildUpstreamURL(base *url.URL, upstreamPath string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimRight(base.Path, "/") + upstreamPath)
	if err != nil {
		return nil, err
	}
	resolved := *base
	resolved.Path = ""
	resolved.RawQuery = ""
	combined := base.ResolveReference(&url.URL{Path: ref.Path, RawQuery: ref.RawQuery, Fragment: ref.Fragment})
	return combined, nil
}
