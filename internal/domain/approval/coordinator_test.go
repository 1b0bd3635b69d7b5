package approval

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/clawguard/clawguard/internal/adapter/outbound/memory"
	"github.com/clawguard/clawguard/internal/domain/notifier"
	"github.com/clawguard/clawguard/internal/domain/service"
)

// fakeNotifier is a test double for notifier.OutboundNotifier that lets a
// test script the decision delivered for each Send, mirroring the
// Telegram adapter's Send-then-reply-on-a-separate-goroutine shape
// without any real chat transport.
type fakeNotifier struct {
	handler notifier.DecisionHandler

	sendErr    error
	onSend     func(prompt notifier.Prompt)
	resolved   []string
	sendCalled int
}

func (f *fakeNotifier) Send(ctx context.Context, prompt notifier.Prompt) error {
	f.sendCalled++
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.onSend != nil {
		f.onSend(prompt)
	}
	return nil
}

func (f *fakeNotifier) Resolve(ctx context.Context, requestID string, decision notifier.Decision, reason string) error {
	f.resolved = append(f.resolved, requestID)
	return nil
}

func (f *fakeNotifier) SetDecisionHandler(handler notifier.DecisionHandler) {
	f.handler = handler
}

func newTestCoordinator(n notifier.OutboundNotifier, deadline time.Duration) *Coordinator {
	store := memory.NewAuditStoreWithWriter(io.Discard)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, n, logger, deadline)
}

func TestCoordinator_Check_AutoApprove(t *testing.T) {
	n := &fakeNotifier{}
	c := newTestCoordinator(n, time.Second)

	ok, err := c.Check(context.Background(), service.ActionAutoApprove, "gh", "GET", "/repos", "1.2.3.4")
	if err != nil || !ok {
		t.Fatalf("expected auto-approve to pass through, got ok=%v err=%v", ok, err)
	}
	if n.sendCalled != 0 {
		t.Fatal("auto-approve must never prompt the notifier")
	}
}

func TestCoordinator_Check_ApprovedGrantsAndReuses(t *testing.T) {
	n := &fakeNotifier{}
	n.onSend = func(prompt notifier.Prompt) {
		go func() {
			n.handler(context.Background(), prompt.RequestID, notifier.Decision{Approved: true, TTLSeconds: 3600, ApproverName: "alex"})
		}()
	}
	c := newTestCoordinator(n, 5*time.Second)

	ok, err := c.Check(context.Background(), service.ActionRequireApproval, "gh", "GET", "/repos", "1.2.3.4")
	if err != nil || !ok {
		t.Fatalf("expected approval to succeed, got ok=%v err=%v", ok, err)
	}

	// A second Check against the same service should now reuse the live
	// Grant without prompting the notifier again.
	ok, err = c.Check(context.Background(), service.ActionRequireApproval, "gh", "GET", "/repos", "1.2.3.4")
	if err != nil || !ok {
		t.Fatalf("expected the live grant to be reused, got ok=%v err=%v", ok, err)
	}
	if n.sendCalled != 1 {
		t.Fatalf("expected exactly 1 Send call, got %d", n.sendCalled)
	}
}

func TestCoordinator_Check_Denied(t *testing.T) {
	n := &fakeNotifier{}
	n.onSend = func(prompt notifier.Prompt) {
		go func() {
			n.handler(context.Background(), prompt.RequestID, notifier.Decision{Approved: false, ApproverName: "alex"})
		}()
	}
	c := newTestCoordinator(n, 5*time.Second)

	ok, err := c.Check(context.Background(), service.ActionRequireApproval, "gh", "GET", "/repos", "1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected denial to block the request")
	}
}

func TestCoordinator_Check_DeadlineTimesOut(t *testing.T) {
	n := &fakeNotifier{} // never delivers a decision
	c := newTestCoordinator(n, 20*time.Millisecond)

	ok, err := c.Check(context.Background(), service.ActionRequireApproval, "gh", "GET", "/repos", "1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected a deadline timeout to deny the request")
	}
	if len(n.resolved) != 1 {
		t.Fatalf("expected Resolve to be called once for the timeout, got %d", len(n.resolved))
	}
}

func TestCoordinator_Check_SendFailureDeniesWithoutPending(t *testing.T) {
	n := &fakeNotifier{sendErr: context.DeadlineExceeded}
	c := newTestCoordinator(n, time.Second)

	ok, err := c.Check(context.Background(), service.ActionRequireApproval, "gh", "GET", "/repos", "1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected prompt delivery failure to deny the request")
	}
}

func TestCoordinator_RevokeAndRevokeAll(t *testing.T) {
	n := &fakeNotifier{}
	n.onSend = func(prompt notifier.Prompt) {
		go func() {
			n.handler(context.Background(), prompt.RequestID, notifier.Decision{Approved: true, TTLSeconds: 3600, ApproverName: "alex"})
		}()
	}
	c := newTestCoordinator(n, 5*time.Second)

	if _, err := c.Check(context.Background(), service.ActionRequireApproval, "gh", "GET", "/repos", "1.2.3.4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	existed, err := c.Revoke(context.Background(), "gh")
	if err != nil || !existed {
		t.Fatalf("expected revoke to find the live grant, got existed=%v err=%v", existed, err)
	}
	if len(c.ActiveGrants()) != 0 {
		t.Fatal("expected no active grants after revoke")
	}

	if _, err := c.Check(context.Background(), service.ActionRequireApproval, "gh", "GET", "/repos", "1.2.3.4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Check(context.Background(), service.ActionRequireApproval, "slack", "GET", "/api", "1.2.3.4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n2 := c.RevokeAllCount(t)
	if n2 != 2 {
		t.Fatalf("expected RevokeAll to drop 2 grants, got %d", n2)
	}
}

// RevokeAllCount is a small test helper wrapping Coordinator.RevokeAll so
// callers don't need to thread *testing.T through unrelated signatures.
func (c *Coordinator) RevokeAllCount(t *testing.T) int {
	t.Helper()
	n, err := c.RevokeAll(context.Background())
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	return n
}
