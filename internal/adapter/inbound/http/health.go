package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/clawguard/clawguard/internal/domain/audit"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// GrantSnapshot reports the Approval Coordinator's live state for a health
// check, without the health package importing the approval package.
type GrantSnapshot struct {
	ActiveGrants     int
	PendingApprovals int
}

// HealthChecker verifies component health: the Audit Store is reachable,
// and a best-effort report of goroutine count.
type HealthChecker struct {
	auditStore   audit.Store
	snapshotFunc func() GrantSnapshot
	version      string
}

// NewHealthChecker creates a HealthChecker. snapshotFunc may be nil if the
// Approval Coordinator isn't available yet (e.g. during early boot).
func NewHealthChecker(auditStore audit.Store, snapshotFunc func() GrantSnapshot, version string) *HealthChecker {
	return &HealthChecker{
		auditStore:   auditStore,
		snapshotFunc: snapshotFunc,
		version:      version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.auditStore != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.auditStore.Flush(ctx); err != nil {
			checks["audit_store"] = fmt.Sprintf("unreachable: %v", err)
			healthy = false
		} else {
			checks["audit_store"] = "ok"
		}
	} else {
		checks["audit_store"] = "not configured"
		healthy = false
	}

	if h.snapshotFunc != nil {
		snap := h.snapshotFunc()
		checks["active_grants"] = fmt.Sprintf("%d", snap.ActiveGrants)
		checks["pending_approvals"] = fmt.Sprintf("%d", snap.PendingApprovals)
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
