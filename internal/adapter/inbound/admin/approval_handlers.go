package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"gopkg.in/yaml.v3"

	"github.com/clawguard/clawguard/internal/domain/audit"
	"github.com/clawguard/clawguard/internal/domain/service"
)

// serviceDTO is the JSON/YAML representation of a ServiceDefinition on
// the admin read path: token-masked per the round-trip invariant.
type serviceDTO struct {
	Name               string                   `json:"name" yaml:"name"`
	UpstreamBaseURL    string                   `json:"upstreamBaseURL" yaml:"upstream_base_url"`
	InterceptHostnames []string                 `json:"interceptHostnames,omitempty" yaml:"intercept_hostnames,omitempty"`
	Credential         service.CredentialRecipe `json:"credential" yaml:"credential"`
	Policy             service.Policy           `json:"policy" yaml:"policy"`
}

func toServiceDTO(d service.ServiceDefinition) serviceDTO {
	redacted := d.Redacted()
	return serviceDTO{
		Name:               redacted.Name,
		UpstreamBaseURL:     redacted.UpstreamBaseURL,
		InterceptHostnames: redacted.InterceptHostnames,
		Credential:         redacted.Credential,
		Policy:             redacted.Policy,
	}
}

// handleListServices returns every ServiceDefinition currently live,
// token-masked.
// GET /__admin/api/v1/services
func (h *AdminAPIHandler) handleListServices(w http.ResponseWriter, r *http.Request) {
	if h.table == nil {
		h.respondJSON(w, http.StatusOK, []serviceDTO{})
		return
	}
	defs := h.table.All()
	dtos := make([]serviceDTO, len(defs))
	for i, d := range defs {
		dtos[i] = toServiceDTO(d)
	}
	h.respondJSON(w, http.StatusOK, dtos)
}

// handleExportServicesYAML renders the live service table — config-
// sourced definitions plus any admin overrides layered on top — as YAML,
// token-masked the same as the JSON listing. Meant for an operator to
// copy into a clawguard.yaml `services:` block: the admin surface only
// persists overrides through the Audit Store (no file is ever written by
// ClawGuard itself), so this is the human-review path for promoting a
// live override into the checked-in config.
// GET /__admin/api/v1/services/export
func (h *AdminAPIHandler) handleExportServicesYAML(w http.ResponseWriter, r *http.Request) {
	var dtos []serviceDTO
	if h.table != nil {
		defs := h.table.All()
		dtos = make([]serviceDTO, len(defs))
		for i, d := range defs {
			dtos[i] = toServiceDTO(d)
		}
	}
	out, err := yaml.Marshal(struct {
		Services []serviceDTO `yaml:"services"`
	}{Services: dtos})
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to render services as YAML")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	if _, err := w.Write(out); err != nil {
		h.logger.Error("admin: failed to write YAML response", "error", err)
	}
}

// handlePutServiceOverride re-validates the submitted ServiceDefinition
// against the Security Guard, then persists it as a service_overrides row
// before installing it into the live table (persist-then-install, the
// same ordering the Approval Coordinator uses for Grants). The hostname
// must already be present in the guard's allowlist or the write is
// rejected.
// PUT /__admin/api/v1/services/{name}
func (h *AdminAPIHandler) handlePutServiceOverride(w http.ResponseWriter, r *http.Request) {
	name := h.pathParam(r, "name")
	if name == "" {
		h.respondError(w, http.StatusBadRequest, "service name is required")
		return
	}

	var def service.ServiceDefinition
	if err := h.readJSON(r, &def); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid service definition: "+err.Error())
		return
	}
	def.Name = name

	base, err := url.Parse(def.UpstreamBaseURL)
	if err != nil || base.Host == "" {
		h.respondError(w, http.StatusBadRequest, "invalid upstreamBaseURL")
		return
	}
	if ok, reason := h.guardConfig.ValidateUpstream(base, base); !ok {
		h.respondError(w, http.StatusForbidden, "service rejected by security guard: "+reason)
		return
	}

	if h.auditStore != nil {
		payload, err := json.Marshal(def)
		if err != nil {
			h.respondError(w, http.StatusInternalServerError, "failed to encode override")
			return
		}
		row := audit.ServiceOverrideRow{ServiceName: name, ConfigJSON: string(payload)}
		if err := h.auditStore.PutServiceOverride(r.Context(), row); err != nil {
			h.logger.Error("admin: failed to persist service override", "service", name, "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to persist override")
			return
		}
	}

	if h.table != nil {
		h.table.Upsert(def)
	}

	h.respondJSON(w, http.StatusOK, toServiceDTO(def))
}

// handleDeleteServiceOverride removes a service_overrides row and the
// corresponding entry from the live table.
// DELETE /__admin/api/v1/services/{name}
func (h *AdminAPIHandler) handleDeleteServiceOverride(w http.ResponseWriter, r *http.Request) {
	name := h.pathParam(r, "name")
	if name == "" {
		h.respondError(w, http.StatusBadRequest, "service name is required")
		return
	}
	if h.auditStore != nil {
		if err := h.auditStore.DeleteServiceOverride(r.Context(), name); err != nil {
			h.logger.Error("admin: failed to delete service override", "service", name, "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to delete override")
			return
		}
	}
	if h.table != nil {
		h.table.Delete(name)
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
}

// grantDTO is the JSON representation of a live Grant.
type grantDTO struct {
	Service    string `json:"service"`
	ApprovedBy string `json:"approvedBy"`
	ExpiresAt  string `json:"expiresAt"`
}

// handleListApprovals returns every currently live Grant.
// GET /__admin/api/v1/approvals
func (h *AdminAPIHandler) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		h.respondJSON(w, http.StatusOK, []grantDTO{})
		return
	}
	grants := h.coordinator.ActiveGrants()
	dtos := make([]grantDTO, 0, len(grants))
	for svc, g := range grants {
		dtos = append(dtos, grantDTO{
			Service:    svc,
			ApprovedBy: g.ApprovedBy,
			ExpiresAt:  g.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	h.respondJSON(w, http.StatusOK, dtos)
}

// handleRevokeApproval revokes the live Grant for one service.
// POST /__admin/api/v1/approvals/{service}/revoke
func (h *AdminAPIHandler) handleRevokeApproval(w http.ResponseWriter, r *http.Request) {
	svc := h.pathParam(r, "service")
	if svc == "" {
		h.respondError(w, http.StatusBadRequest, "service name is required")
		return
	}
	if h.coordinator == nil {
		h.respondError(w, http.StatusServiceUnavailable, "approval coordinator not configured")
		return
	}
	revoked, err := h.coordinator.Revoke(r.Context(), svc)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !revoked {
		h.respondError(w, http.StatusNotFound, fmt.Sprintf("no live grant for service %q", svc))
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "revoked", "service": svc})
}

// handleRevokeAllApprovals revokes every live Grant.
// POST /__admin/api/v1/approvals/revoke-all
func (h *AdminAPIHandler) handleRevokeAllApprovals(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		h.respondError(w, http.StatusServiceUnavailable, "approval coordinator not configured")
		return
	}
	n, err := h.coordinator.RevokeAll(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]int{"revoked": n})
}
