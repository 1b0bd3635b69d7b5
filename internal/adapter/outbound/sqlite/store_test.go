package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/clawguard/clawguard/internal/domain/audit"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clawguard.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_AppendAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := store.AppendRequest(ctx, audit.Record{Service: "gh", Method: "GET", Path: "/repos", Timestamp: now, Approved: true, AgentIP: "1.2.3.4"}); err != nil {
		t.Fatalf("AppendRequest: %v", err)
	}
	if err := store.AppendRequest(ctx, audit.Record{Service: "slack", Method: "POST", Path: "/api", Timestamp: now.Add(time.Second), Approved: false, AgentIP: "1.2.3.4"}); err != nil {
		t.Fatalf("AppendRequest: %v", err)
	}

	recs, err := store.Recent(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Service != "slack" {
		t.Fatalf("expected newest-first ordering, got %s first", recs[0].Service)
	}
}

func TestStore_RecentFiltersByService(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = store.AppendRequest(ctx, audit.Record{Service: "gh", Method: "GET", Timestamp: now})
	_ = store.AppendRequest(ctx, audit.Record{Service: "slack", Method: "GET", Timestamp: now})

	recs, err := store.Recent(ctx, audit.Filter{Service: "gh"})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 1 || recs[0].Service != "gh" {
		t.Fatalf("expected only the gh record, got %v", recs)
	}
}

func TestStore_ApprovalLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	row := audit.ApprovalRow{Timestamp: time.Now().UTC(), Service: "gh", ApprovedBy: "alex", TTLSeconds: 3600, ExpiresAt: time.Now().Add(time.Hour).UTC()}
	if err := store.PutApproval(ctx, row); err != nil {
		t.Fatalf("PutApproval: %v", err)
	}

	live, err := store.ListLiveApprovals(ctx)
	if err != nil || len(live) != 1 {
		t.Fatalf("expected 1 live approval, got %d (err %v)", len(live), err)
	}
	if live[0].ApprovedBy != "alex" {
		t.Fatalf("unexpected approver: %s", live[0].ApprovedBy)
	}

	if err := store.RevokeApproval(ctx, "gh"); err != nil {
		t.Fatalf("RevokeApproval: %v", err)
	}
	live, _ = store.ListLiveApprovals(ctx)
	if len(live) != 0 {
		t.Fatalf("expected 0 live approvals after revoke, got %d", len(live))
	}
}

func TestStore_RevokeAllApprovals(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = store.PutApproval(ctx, audit.ApprovalRow{Timestamp: now, Service: "gh", ExpiresAt: now.Add(time.Hour)})
	_ = store.PutApproval(ctx, audit.ApprovalRow{Timestamp: now, Service: "slack", ExpiresAt: now.Add(time.Hour)})

	n, err := store.RevokeAllApprovals(ctx)
	if err != nil {
		t.Fatalf("RevokeAllApprovals: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked, got %d", n)
	}
}

func TestStore_DeleteExpiredApprovals(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = store.PutApproval(ctx, audit.ApprovalRow{Timestamp: now, Service: "expired", ExpiresAt: now.Add(-time.Hour)})
	_ = store.PutApproval(ctx, audit.ApprovalRow{Timestamp: now, Service: "live", ExpiresAt: now.Add(time.Hour)})

	if err := store.DeleteExpiredApprovals(ctx, now); err != nil {
		t.Fatalf("DeleteExpiredApprovals: %v", err)
	}
	live, _ := store.ListLiveApprovals(ctx)
	if len(live) != 1 || live[0].Service != "live" {
		t.Fatalf("expected only the live row to remain, got %v", live)
	}
}

func TestStore_PairedApprovers(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	row := audit.PairedApproverRow{ChatID: "123", Name: "Alex", PairedAt: time.Now().UTC()}
	if err := store.PutPairedApprover(ctx, row); err != nil {
		t.Fatalf("PutPairedApprover: %v", err)
	}
	got, ok, err := store.GetPairedApprover(ctx, "123")
	if err != nil || !ok || got.Name != "Alex" {
		t.Fatalf("expected to find paired approver, got %v, %v, %v", got, ok, err)
	}

	// Upsert should replace the name, not duplicate the row.
	row.Name = "Alexandra"
	if err := store.PutPairedApprover(ctx, row); err != nil {
		t.Fatalf("PutPairedApprover (upsert): %v", err)
	}
	got, _, _ = store.GetPairedApprover(ctx, "123")
	if got.Name != "Alexandra" {
		t.Fatalf("expected upsert to replace the name, got %s", got.Name)
	}

	if err := store.DeletePairedApprover(ctx, "123"); err != nil {
		t.Fatalf("DeletePairedApprover: %v", err)
	}
	_, ok, _ = store.GetPairedApprover(ctx, "123")
	if ok {
		t.Fatal("expected paired approver to be gone after delete")
	}
}

func TestStore_ServiceOverrides(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	row := audit.ServiceOverrideRow{ServiceName: "gh", ConfigJSON: `{"name":"gh"}`, CreatedAt: now, UpdatedAt: now}
	if err := store.PutServiceOverride(ctx, row); err != nil {
		t.Fatalf("PutServiceOverride: %v", err)
	}
	rows, err := store.ListServiceOverrides(ctx)
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected 1 override, got %d (err %v)", len(rows), err)
	}

	if err := store.DeleteServiceOverride(ctx, "gh"); err != nil {
		t.Fatalf("DeleteServiceOverride: %v", err)
	}
	rows, _ = store.ListServiceOverrides(ctx)
	if len(rows) != 0 {
		t.Fatalf("expected 0 overrides after delete, got %d", len(rows))
	}
}

func TestStore_QueryStats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	start := time.Now().Add(-time.Hour).UTC()

	_ = store.AppendRequest(ctx, audit.Record{Service: "gh", Method: "GET", Approved: true, Timestamp: time.Now().UTC()})
	_ = store.AppendRequest(ctx, audit.Record{Service: "gh", Method: "POST", Approved: false, Timestamp: time.Now().UTC()})

	stats, err := store.QueryStats(ctx, start)
	if err != nil {
		t.Fatalf("QueryStats: %v", err)
	}
	if stats.TotalSince != 2 {
		t.Fatalf("expected 2 total, got %d", stats.TotalSince)
	}
	if stats.ApprovedCount != 1 || stats.DeniedCount != 1 {
		t.Fatalf("expected 1 approved / 1 denied, got %d / %d", stats.ApprovedCount, stats.DeniedCount)
	}
	if stats.ByService["gh"] != 2 {
		t.Fatalf("expected 2 records attributed to gh, got %d", stats.ByService["gh"])
	}
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clawguard.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = store.Close()

	// Reopening an existing database re-runs every CREATE TABLE IF NOT
	// EXISTS / CREATE INDEX IF NOT EXISTS statement; it must not error.
	store2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store2.Close()
}
