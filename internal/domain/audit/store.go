package audit

import (
	"context"
	"time"
)

// Store is the durable persistence port: one atomic append per terminal
// request outcome, plus the mutable approval/paired-approver/override
// tables it shares custody of. Implementations must support additive
// schema evolution and a write-ahead durability mode suitable for a
// single-writer workload.
type Store interface {
	// AppendRequest writes one requests row. Must be non-blocking from the
	// caller's perspective in the sense that it never waits on another
	// request's approval; the write itself may block on disk I/O.
	AppendRequest(ctx context.Context, rec Record) error

	// PutApproval inserts a new approvals row for a freshly granted Grant.
	// Per the "persist then install" ordering, this must return before the
	// Approval Coordinator installs the Grant in its in-memory map.
	PutApproval(ctx context.Context, row ApprovalRow) error

	// RevokeApproval marks the live approvals row for service as revoked.
	RevokeApproval(ctx context.Context, service string) error

	// RevokeAllApprovals marks every live approvals row as revoked and
	// returns the count affected.
	RevokeAllApprovals(ctx context.Context) (int, error)

	// DeleteExpiredApprovals deletes approvals rows with expires_at <= now.
	// Called once at hydration as the GC pass.
	DeleteExpiredApprovals(ctx context.Context, now time.Time) error

	// ListLiveApprovals returns non-revoked approvals rows ordered
	// newest-first, for hydration.
	ListLiveApprovals(ctx context.Context) ([]ApprovalRow, error)

	// PutPairedApprover upserts a PairedApprover by chat ID.
	PutPairedApprover(ctx context.Context, row PairedApproverRow) error

	// DeletePairedApprover removes a PairedApprover by chat ID.
	DeletePairedApprover(ctx context.Context, chatID string) error

	// GetPairedApprover looks up a PairedApprover by chat ID.
	GetPairedApprover(ctx context.Context, chatID string) (PairedApproverRow, bool, error)

	// PutServiceOverride upserts a service_overrides row.
	PutServiceOverride(ctx context.Context, row ServiceOverrideRow) error

	// DeleteServiceOverride removes a service_overrides row.
	DeleteServiceOverride(ctx context.Context, serviceName string) error

	// ListServiceOverrides returns every service_overrides row, read at
	// startup and after every admin mutation.
	ListServiceOverrides(ctx context.Context) ([]ServiceOverrideRow, error)

	// Flush forces any buffered writes to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// QueryStore is the read-side port for recent records and dashboard
// aggregations. Separate from Store so a read replica or cache could
// implement only this half.
type QueryStore interface {
	// Recent returns the N most recent Records, newest first, honoring
	// Filter.Limit (default 50, capped).
	Recent(ctx context.Context, filter Filter) ([]Record, error)

	// QueryStats computes the dashboard aggregations since start.
	QueryStats(ctx context.Context, start time.Time) (*Stats, error)
}
