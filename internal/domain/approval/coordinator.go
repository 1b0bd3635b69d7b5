// Package approval implements the Approval Coordinator: the Grant state
// machine and the registry of in-flight PendingApprovals that bridge a
// suspended request to a human decision delivered on the out-of-band
// channel.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clawguard/clawguard/internal/domain/audit"
	"github.com/clawguard/clawguard/internal/domain/grant"
	"github.com/clawguard/clawguard/internal/domain/notifier"
	"github.com/clawguard/clawguard/internal/domain/service"
)

// DefaultPipelineDeadline is the per-request approval wait deadline. It is
// independent of any Grant TTL. Exposing it via config is a reasonable
// extension the source leaves as an open question; this implementation
// wires it through Config instead of hardcoding the call site.
const DefaultPipelineDeadline = 120 * time.Second

// PendingApproval is a single in-flight request awaiting a human decision.
// Its reply channel is fulfilled exactly once, by whichever of {approver
// decision, deadline} happens first.
type PendingApproval struct {
	RequestID string
	Service   string
	Method    string
	Path      string
	AgentIP   string
	CreatedAt time.Time

	result chan notifier.Decision
}

// registry is the shared map of in-flight PendingApprovals, looked up by
// the Notifier's reply handler and inserted/awaited by request tasks.
type registry struct {
	mu      sync.Mutex
	pending map[string]*PendingApproval
}

func newRegistry() *registry {
	return &registry{pending: make(map[string]*PendingApproval)}
}

func (r *registry) add(p *PendingApproval) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[p.RequestID] = p
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
}

// fulfill delivers decision to the PendingApproval identified by id,
// exactly once. Returns false if no such pending approval exists (already
// resolved, or unknown id).
func (r *registry) fulfill(id string, decision notifier.Decision) bool {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case p.result <- decision:
	default:
	}
	return true
}

// grantMap is the in-memory live Grants map, at most one live entry per
// service (I3, testable property on uniqueness).
type grantMap struct {
	mu    sync.Mutex
	grants map[string]grant.Grant
}

func newGrantMap() *grantMap {
	return &grantMap{grants: make(map[string]grant.Grant)}
}

// live returns the live Grant for service, removing it in place if it was
// found stale (lazily discovered expiry).
func (g *grantMap) live(svc string, now time.Time) (grant.Grant, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	gr, ok := g.grants[svc]
	if !ok {
		return grant.Grant{}, false
	}
	if !gr.Live(now) {
		delete(g.grants, svc)
		return grant.Grant{}, false
	}
	return gr, true
}

func (g *grantMap) install(gr grant.Grant) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grants[gr.Service] = gr
}

func (g *grantMap) drop(svc string) (grant.Grant, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	gr, ok := g.grants[svc]
	if ok {
		delete(g.grants, svc)
	}
	return gr, ok
}

func (g *grantMap) dropAll() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.grants)
	g.grants = make(map[string]grant.Grant)
	return n
}

// Coordinator enforces the Grant state machine. Concurrent checks for the
// same service are neither serialized nor coalesced: each one without a
// live Grant sends its own prompt.
type Coordinator struct {
	store           audit.Store
	notifier        notifier.OutboundNotifier
	logger          *slog.Logger
	pipelineDeadline time.Duration

	reg    *registry
	grants *grantMap

	now func() time.Time
}

// New constructs a Coordinator. pipelineDeadline <= 0 uses
// DefaultPipelineDeadline.
func New(store audit.Store, n notifier.OutboundNotifier, logger *slog.Logger, pipelineDeadline time.Duration) *Coordinator {
	if pipelineDeadline <= 0 {
		pipelineDeadline = DefaultPipelineDeadline
	}
	c := &Coordinator{
		store:            store,
		notifier:         n,
		logger:           logger,
		pipelineDeadline: pipelineDeadline,
		reg:              newRegistry(),
		grants:           newGrantMap(),
		now:              time.Now,
	}
	n.SetDecisionHandler(c.handleDecision)
	return c
}

// Hydrate reconstructs the live Grants map from the Audit Store at
// startup: GC rows with expires-at <= now, then for each service keep
// only the first (newest) non-revoked row encountered.
func (c *Coordinator) Hydrate(ctx context.Context) error {
	now := c.now()
	if err := c.store.DeleteExpiredApprovals(ctx, now); err != nil {
		return fmt.Errorf("approval: hydrate gc: %w", err)
	}
	rows, err := c.store.ListLiveApprovals(ctx)
	if err != nil {
		return fmt.Errorf("approval: hydrate list: %w", err)
	}
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if seen[row.Service] {
			continue
		}
		seen[row.Service] = true
		gr := grant.Grant{
			Service:    row.Service,
			ApprovedBy: row.ApprovedBy,
			GrantedAt:  row.Timestamp,
			ExpiresAt:  row.ExpiresAt,
			Revoked:    row.Revoked,
		}
		if gr.Live(now) {
			c.grants.install(gr)
		}
	}
	return nil
}

// Check runs the on-check algorithm: resolve auto_approve, consult the
// live Grants map, or suspend on a PendingApproval. Returns true iff the
// request may be forwarded.
func (c *Coordinator) Check(ctx context.Context, action service.Action, svc, method, path, agentIP string) (bool, error) {
	if action == service.ActionAutoApprove {
		return true, nil
	}

	if _, ok := c.grants.live(svc, c.now()); ok {
		return true, nil
	}

	pending := &PendingApproval{
		RequestID: uuid.New().String(),
		Service:   svc,
		Method:    method,
		Path:      path,
		AgentIP:   agentIP,
		CreatedAt: c.now(),
		result:    make(chan notifier.Decision, 1),
	}
	c.reg.add(pending)

	prompt := notifier.Prompt{
		RequestID: pending.RequestID,
		Service:   svc,
		Method:    method,
		Path:      path,
		AgentIP:   agentIP,
		At:        pending.CreatedAt,
	}
	if err := c.notifier.Send(ctx, prompt); err != nil {
		c.reg.remove(pending.RequestID)
		c.logger.Error("approval prompt delivery failed", "request_id", pending.RequestID, "service", svc, "by", notifier.ReasonTelegramError, "error", err)
		return false, nil
	}

	timer := time.NewTimer(c.pipelineDeadline)
	defer timer.Stop()

	var decision notifier.Decision
	var timedOut bool

	// The agent's request context is deliberately not in this select: a
	// disconnected agent must not cancel a pending approval. The approver
	// may still tap a decision after the agent gives up, and that decision
	// must still install a Grant and produce an audit row — only the
	// (now-dead) response write below can fail silently.
	select {
	case decision = <-pending.result:
	case <-timer.C:
		timedOut = true
		c.reg.remove(pending.RequestID)
		decision = notifier.Decision{Approved: false, ApproverName: notifier.ReasonTimeout}
	}

	if timedOut {
		_ = c.notifier.Resolve(context.Background(), pending.RequestID, decision, notifier.ReasonTimeout)
	}

	if !decision.Approved {
		c.logger.Info("approval denied", "request_id", pending.RequestID, "service", svc, "by", decision.ApproverName)
		return false, nil
	}

	expiresAt := c.now().Add(time.Duration(decision.TTLSeconds) * time.Second)
	row := audit.ApprovalRow{
		Timestamp:  c.now(),
		Service:    svc,
		ApprovedBy: decision.ApproverName,
		TTLSeconds: decision.TTLSeconds,
		ExpiresAt:  expiresAt,
	}
	// Persist then install: a crash between these two leaves a persisted
	// grant that the next hydration pass picks up. Uses a background
	// context, not ctx, since ctx may belong to an agent that has already
	// disconnected by the time the approver's decision arrives.
	if err := c.store.PutApproval(context.Background(), row); err != nil {
		c.logger.Error("approval persist failed", "request_id", pending.RequestID, "service", svc, "error", err)
		return false, fmt.Errorf("approval: persist grant: %w", err)
	}
	c.grants.install(grant.Grant{
		Service:    svc,
		ApprovedBy: decision.ApproverName,
		GrantedAt:  c.now(),
		ExpiresAt:  expiresAt,
	})
	c.logger.Info("approval granted", "request_id", pending.RequestID, "service", svc, "by", decision.ApproverName, "ttl_seconds", decision.TTLSeconds)
	return true, nil
}

// handleDecision is the Notifier's reply-routing entrypoint: look up the
// request id in the pending registry and fulfill its channel, or report
// that it has expired.
func (c *Coordinator) handleDecision(ctx context.Context, requestID string, decision notifier.Decision) bool {
	return c.reg.fulfill(requestID, decision)
}

// Revoke drops the live Grant for svc, if any, and marks it revoked in
// the Audit Store (persistence-first, matching the install ordering).
func (c *Coordinator) Revoke(ctx context.Context, svc string) (bool, error) {
	if err := c.store.RevokeApproval(ctx, svc); err != nil {
		return false, fmt.Errorf("approval: revoke persist: %w", err)
	}
	_, existed := c.grants.drop(svc)
	return existed, nil
}

// RevokeAll drops every live Grant and marks all approvals rows revoked,
// returning the count affected.
func (c *Coordinator) RevokeAll(ctx context.Context) (int, error) {
	if _, err := c.store.RevokeAllApprovals(ctx); err != nil {
		return 0, fmt.Errorf("approval: revoke all persist: %w", err)
	}
	return c.grants.dropAll(), nil
}

// ActiveGrants returns a snapshot of every currently live Grant, for the
// /__status introspection endpoint.
func (c *Coordinator) ActiveGrants() map[string]grant.Grant {
	now := c.now()
	c.grants.mu.Lock()
	defer c.grants.mu.Unlock()
	out := make(map[string]grant.Grant, len(c.grants.grants))
	for svc, gr := range c.grants.grants {
		if gr.Live(now) {
			out[svc] = gr
		}
	}
	return out
}
