package admin

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/clawguard/clawguard/internal/domain/audit"
)

// recordDTO is the JSON representation of an audit Record.
type recordDTO struct {
	ID             int64   `json:"id"`
	Timestamp      string  `json:"timestamp"`
	Service        string  `json:"service"`
	Method         string  `json:"method"`
	Path           string  `json:"path"`
	Approved       bool    `json:"approved"`
	ResponseStatus *int    `json:"responseStatus,omitempty"`
	AgentIP        string  `json:"agentIP"`
	RequestBody    *string `json:"requestBody,omitempty"`
	ResponseBody   *string `json:"responseBody,omitempty"`
}

func toRecordDTO(r audit.Record) recordDTO {
	return recordDTO{
		ID:             r.ID,
		Timestamp:      r.Timestamp.UTC().Format(time.RFC3339),
		Service:        r.Service,
		Method:         r.Method,
		Path:           r.Path,
		Approved:       r.Approved,
		ResponseStatus: r.ResponseStatus,
		AgentIP:        r.AgentIP,
		RequestBody:    r.RequestBody,
		ResponseBody:   r.ResponseBody,
	}
}

// handleQueryAudit returns recent AuditRecords matching the query filter.
// GET /__admin/api/v1/audit
func (h *AdminAPIHandler) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	if h.queryStore == nil {
		h.respondError(w, http.StatusServiceUnavailable, "audit query store not configured")
		return
	}
	filter, err := parseAuditFilter(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := h.queryStore.Recent(r.Context(), filter)
	if err != nil {
		h.logger.Error("admin: audit query failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	dtos := make([]recordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toRecordDTO(rec)
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"records": dtos,
		"count":   len(dtos),
	})
}

// statsDTO is the JSON response for the dashboard aggregation query.
type statsDTO struct {
	Since         string           `json:"since"`
	TotalSince    int64            `json:"totalSince"`
	ByService     map[string]int64 `json:"byService"`
	ByHourOfDay   map[int]int64    `json:"byHourOfDay"`
	ByMethod      map[string]int64 `json:"byMethod"`
	ApprovedCount int64            `json:"approvedCount"`
	DeniedCount   int64            `json:"deniedCount"`
}

// handleStats computes the dashboard's "since T" aggregation, default
// window 24h, overridable with ?since=<RFC3339>.
// GET /__admin/api/v1/stats
func (h *AdminAPIHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	if h.queryStore == nil {
		h.respondError(w, http.StatusServiceUnavailable, "audit query store not configured")
		return
	}
	since := time.Now().UTC().Add(-24 * time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid since: "+err.Error())
			return
		}
		since = t
	}
	stats, err := h.queryStore.QueryStats(r.Context(), since)
	if err != nil {
		h.logger.Error("admin: stats query failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "stats query failed")
		return
	}
	h.respondJSON(w, http.StatusOK, statsDTO{
		Since:         since.UTC().Format(time.RFC3339),
		TotalSince:    stats.TotalSince,
		ByService:     stats.ByService,
		ByHourOfDay:   stats.ByHourOfDay,
		ByMethod:      stats.ByMethod,
		ApprovedCount: stats.ApprovedCount,
		DeniedCount:   stats.DeniedCount,
	})
}

func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{}

	filter.Service = q.Get("service")
	filter.Method = q.Get("method")

	if approved := q.Get("approved"); approved != "" {
		v, err := strconv.ParseBool(approved)
		if err != nil {
			return filter, fmt.Errorf("invalid approved filter: must be true or false")
		}
		filter.Approved = &v
	}

	if startStr := q.Get("start"); startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return filter, fmt.Errorf("invalid start time: %w", err)
		}
		filter.StartTime = t
	} else {
		filter.StartTime = time.Now().UTC().Add(-24 * time.Hour)
	}

	if endStr := q.Get("end"); endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return filter, fmt.Errorf("invalid end time: %w", err)
		}
		filter.EndTime = t
	} else {
		filter.EndTime = time.Now().UTC()
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return filter, fmt.Errorf("invalid limit: must be a positive integer")
		}
		if limit > 1000 {
			limit = 1000
		}
		filter.Limit = limit
	} else {
		filter.Limit = 50
	}

	return filter, nil
}
