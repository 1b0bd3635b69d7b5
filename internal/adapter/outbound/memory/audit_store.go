// Package memory provides in-memory implementations of outbound ports,
// used in dev mode and by tests in place of the durable SQLite store.
package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/clawguard/clawguard/internal/domain/audit"
)

const defaultRecentCap = 1000

// AuditStore implements audit.Store and audit.QueryStore entirely
// in-memory, optionally echoing every request row as JSON to a writer.
type AuditStore struct {
	mu sync.Mutex

	encoder *json.Encoder
	writer  io.Writer

	recent []audit.Record
	cap    int

	approvals       []audit.ApprovalRow
	pairedApprovers map[string]audit.PairedApproverRow
	overrides       map[string]audit.ServiceOverrideRow
}

// NewAuditStore creates an in-memory audit store echoing to stdout.
func NewAuditStore(capacity ...int) *AuditStore {
	return NewAuditStoreWithWriter(os.Stdout, capacity...)
}

// NewAuditStoreWithWriter creates an in-memory audit store echoing to w.
func NewAuditStoreWithWriter(w io.Writer, capacity ...int) *AuditStore {
	cap := defaultRecentCap
	if len(capacity) > 0 && capacity[0] > 0 {
		cap = capacity[0]
	}
	return &AuditStore{
		encoder:         json.NewEncoder(w),
		writer:          w,
		recent:          make([]audit.Record, 0, cap),
		cap:             cap,
		pairedApprovers: make(map[string]audit.PairedApproverRow),
		overrides:       make(map[string]audit.ServiceOverrideRow),
	}
}

// AppendRequest writes one requests row.
func (s *AuditStore) AppendRequest(ctx context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.encoder.Encode(rec); err != nil {
		return err
	}
	if len(s.recent) >= s.cap {
		copy(s.recent, s.recent[1:])
		s.recent[len(s.recent)-1] = rec
	} else {
		s.recent = append(s.recent, rec)
	}
	return nil
}

// PutApproval inserts a new approvals row.
func (s *AuditStore) PutApproval(ctx context.Context, row audit.ApprovalRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals = append(s.approvals, row)
	return nil
}

// RevokeApproval marks the live approvals row for service as revoked.
func (s *AuditStore) RevokeApproval(ctx context.Context, service string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.approvals {
		if s.approvals[i].Service == service && !s.approvals[i].Revoked {
			s.approvals[i].Revoked = true
		}
	}
	return nil
}

// RevokeAllApprovals marks every live approvals row as revoked.
func (s *AuditStore) RevokeAllApprovals(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.approvals {
		if !s.approvals[i].Revoked {
			s.approvals[i].Revoked = true
			n++
		}
	}
	return n, nil
}

// DeleteExpiredApprovals deletes rows with expires_at <= now.
func (s *AuditStore) DeleteExpiredApprovals(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.approvals[:0]
	for _, row := range s.approvals {
		if row.ExpiresAt.After(now) {
			kept = append(kept, row)
		}
	}
	s.approvals = kept
	return nil
}

// ListLiveApprovals returns non-revoked rows ordered newest-first.
func (s *AuditStore) ListLiveApprovals(ctx context.Context) ([]audit.ApprovalRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.ApprovalRow, 0, len(s.approvals))
	for i := len(s.approvals) - 1; i >= 0; i-- {
		if !s.approvals[i].Revoked {
			out = append(out, s.approvals[i])
		}
	}
	return out, nil
}

// PutPairedApprover upserts a PairedApprover by chat ID.
func (s *AuditStore) PutPairedApprover(ctx context.Context, row audit.PairedApproverRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairedApprovers[row.ChatID] = row
	return nil
}

// DeletePairedApprover removes a PairedApprover by chat ID.
func (s *AuditStore) DeletePairedApprover(ctx context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pairedApprovers, chatID)
	return nil
}

// GetPairedApprover looks up a PairedApprover by chat ID.
func (s *AuditStore) GetPairedApprover(ctx context.Context, chatID string) (audit.PairedApproverRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.pairedApprovers[chatID]
	return row, ok, nil
}

// PutServiceOverride upserts a service_overrides row.
func (s *AuditStore) PutServiceOverride(ctx context.Context, row audit.ServiceOverrideRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[row.ServiceName] = row
	return nil
}

// DeleteServiceOverride removes a service_overrides row.
func (s *AuditStore) DeleteServiceOverride(ctx context.Context, serviceName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, serviceName)
	return nil
}

// ListServiceOverrides returns every service_overrides row.
func (s *AuditStore) ListServiceOverrides(ctx context.Context) ([]audit.ServiceOverrideRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.ServiceOverrideRow, 0, len(s.overrides))
	for _, row := range s.overrides {
		out = append(out, row)
	}
	return out, nil
}

// Recent returns the N most recent records, newest first, from the
// in-memory ring buffer.
func (s *AuditStore) Recent(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	var result []audit.Record
	for i := len(s.recent) - 1; i >= 0 && len(result) < limit; i-- {
		rec := s.recent[i]
		if filter.Service != "" && rec.Service != filter.Service {
			continue
		}
		if filter.Method != "" && rec.Method != filter.Method {
			continue
		}
		if filter.Approved != nil && rec.Approved != *filter.Approved {
			continue
		}
		if !filter.StartTime.IsZero() && rec.Timestamp.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && rec.Timestamp.After(filter.EndTime) {
			continue
		}
		result = append(result, rec)
	}
	return result, nil
}

// QueryStats computes the dashboard aggregations over the ring buffer.
func (s *AuditStore) QueryStats(ctx context.Context, start time.Time) (*audit.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &audit.Stats{
		ByService:   make(map[string]int64),
		ByHourOfDay: make(map[int]int64),
		ByMethod:    make(map[string]int64),
	}
	for _, rec := range s.recent {
		if rec.Timestamp.Before(start) {
			continue
		}
		stats.TotalSince++
		stats.ByService[rec.Service]++
		stats.ByMethod[rec.Method]++
		stats.ByHourOfDay[rec.Timestamp.Hour()]++
		if rec.Approved {
			stats.ApprovedCount++
		} else {
			stats.DeniedCount++
		}
	}
	return stats, nil
}

// Flush is a no-op; there is nothing buffered beyond the ring buffer.
func (s *AuditStore) Flush(ctx context.Context) error { return nil }

// Close releases the underlying writer if it is a non-standard file.
func (s *AuditStore) Close() error {
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

var (
	_ audit.Store      = (*AuditStore)(nil)
	_ audit.QueryStore = (*AuditStore)(nil)
)
