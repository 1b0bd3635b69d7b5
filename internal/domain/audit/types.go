// Package audit contains domain types for the Audit Store: the durable,
// append-only record of every terminal request outcome, plus the mutable
// approval-grant, paired-approver, and service-override tables it also
// owns persistence for.
package audit

import "time"

// maxPayloadLogSize is the default cap, in bytes, on captured request and
// response bodies. Configurable; see internal/config.
const maxPayloadLogSize = 4096

// truncationSuffix marks a captured payload that exceeded the cap.
const truncationSuffix = "... [truncated]"

// TruncatePayload returns body capped at maxBytes, appending
// truncationSuffix when the original was longer. Used identically for
// request and response capture.
func TruncatePayload(body string, maxBytes int) string {
	if maxBytes <= 0 || len(body) <= maxBytes {
		return body
	}
	return body[:maxBytes] + truncationSuffix
}

// Record is one append-only row in the `requests` table: the terminal
// outcome of a single proxied request.
type Record struct {
	ID             int64
	Timestamp      time.Time
	Service        string
	Method         string
	Path           string
	Approved       bool
	ResponseStatus *int
	AgentIP        string
	RequestBody    *string
	ResponseBody   *string
}

// ApprovalRow is one row in the mutable `approvals` table: a persisted
// Grant. Revoked is the only field ever mutated after insert.
type ApprovalRow struct {
	ID         int64
	Timestamp  time.Time
	Service    string
	ApprovedBy string
	TTLSeconds int64
	ExpiresAt  time.Time
	Revoked    bool
}

// PairedApproverRow is one row in the `paired_approvers` table.
type PairedApproverRow struct {
	ChatID   string
	Name     string
	PairedAt time.Time
}

// ServiceOverrideRow is one row in the `service_overrides` table, upserted
// by the admin plane.
type ServiceOverrideRow struct {
	ServiceName string
	ConfigJSON  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Filter specifies query parameters for recent-record and dashboard
// queries.
type Filter struct {
	StartTime time.Time
	EndTime   time.Time
	Service   string
	Method    string
	Approved  *bool
	Limit     int
}

// Stats is the aggregation the dashboard's "since T" queries produce.
type Stats struct {
	TotalSince     int64
	ByService      map[string]int64
	ByHourOfDay    map[int]int64
	ByMethod       map[string]int64
	ApprovedCount  int64
	DeniedCount    int64
}
