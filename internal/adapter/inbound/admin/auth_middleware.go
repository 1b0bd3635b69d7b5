package admin

import (
	"net/http"

	ambienthttp "github.com/clawguard/clawguard/internal/adapter/inbound/http"
	"github.com/clawguard/clawguard/internal/domain/guard"
	"github.com/clawguard/clawguard/internal/domain/secret"
)

// adminAuthMiddleware enforces the admin surface's two-factor gate: the
// client IP must match the configured allowlist (exact or CIDR, per
// guard.AdminIPAllowed) and the request must carry a valid session PIN in
// X-Admin-PIN, verified against the hashed PIN with constant-time
// comparison via secret.Verify. Either failure is reported identically
// as 403 so an unauthorized caller cannot distinguish which check failed.
func (h *AdminAPIHandler) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := ambienthttp.ExtractRealIP(r)
		if !guard.AdminIPAllowed(clientIP, h.IPAllowlist()) {
			h.respondError(w, http.StatusForbidden, "admin API requires a valid session PIN")
			return
		}

		presented := r.Header.Get("X-Admin-PIN")
		if presented == "" || h.pinHash == "" {
			h.respondError(w, http.StatusForbidden, "admin API requires a valid session PIN")
			return
		}
		ok, err := secret.Verify(presented, h.pinHash)
		if err != nil || !ok {
			h.respondError(w, http.StatusForbidden, "admin API requires a valid session PIN")
			return
		}

		next.ServeHTTP(w, r)
	})
}
