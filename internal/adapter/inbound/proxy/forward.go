package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clawguard/clawguard/internal/domain/audit"
	"github.com/clawguard/clawguard/internal/domain/secret"
	"github.com/clawguard/clawguard/internal/domain/service"
)

// hopByHopHeaders are stripped before forwarding in either direction, per
// RFC 7230 §6.1 plus the agent identity headers this gateway consumes
// itself.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	CanonicalAgentHeader,
	LegacyAgentHeader,
	"Host",
}

func verifySecretConstantTime(presented, hashed string) (bool, error) {
	return secret.Verify(presented, hashed)
}

// forward runs the Security Guard, the policy+approval decision, and then
// performs the upstream call, emitting exactly one audit record for the
// outcome.
func (e *Engine) forward(ctx context.Context, w http.ResponseWriter, r *http.Request, svc service.ServiceDefinition, upstreamPath string) {
	base, err := url.Parse(svc.UpstreamBaseURL)
	if err != nil {
		e.logger.Error("proxy: invalid upstream base url", "service", svc.Name, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	target, err := buildUpstreamURL(base, upstreamPath)
	if err != nil {
		writeError(w, http.StatusBadGateway, errUpstream("could not construct target URL"))
		return
	}

	if ok, reason := e.guard.ValidateUpstream(target, base); !ok {
		blockedStatus := http.StatusForbidden
		e.emitAudit(ctx, svc.Name, r, nil, false, &blockedStatus, "")
		e.logger.Info("proxy: security guard blocked request", "service", svc.Name, "reason", reason)
		writeError(w, http.StatusForbidden, errBlockedByPolicy)
		return
	}

	upstreamPathOnly := stripQueryFragment(upstreamPath)
	action := svc.Policy.Resolve(r.Method, upstreamPathOnly)
	agentIP := clientIP(r)

	var reqBodyCapture *string
	bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, e.maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Could not read request body")
		return
	}
	if e.captureEnabled.Load() && len(bodyBytes) > 0 {
		captured := audit.TruncatePayload(string(bodyBytes), int(e.maxPayloadBytes.Load()))
		reqBodyCapture = &captured
	}

	if action == service.ActionRequireApproval {
		approved, err := e.coordinator.Check(ctx, action, svc.Name, r.Method, upstreamPathOnly, agentIP)
		if err != nil {
			e.logger.Error("proxy: approval coordinator error", "service", svc.Name, "err", err)
			writeError(w, http.StatusInternalServerError, "Internal error")
			return
		}
		if !approved {
			deniedStatus := http.StatusForbidden
			e.emitAuditWithBody(ctx, svc.Name, r, nil, false, &deniedStatus, agentIP, reqBodyCapture, nil)
			writeError(w, http.StatusForbidden, errApprovalDenied)
			return
		}
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		writeError(w, http.StatusBadGateway, errUpstream("could not build upstream request"))
		return
	}
	copyHeaders(upstreamReq.Header, r.Header)
	injectCredential(upstreamReq, svc.Credential)
	upstreamReq.Header.Set("X-Forwarded-For", agentIP)
	upstreamReq.Header.Set("X-Forwarded-Host", r.Host)
	upstreamReq.Header.Set("X-Forwarded-Proto", schemeOf(r))

	resp, err := e.httpClient.Do(upstreamReq)
	if err != nil {
		upstreamFailureStatus := http.StatusBadGateway
		e.emitAuditWithBody(ctx, svc.Name, r, nil, true, &upstreamFailureStatus, agentIP, reqBodyCapture, nil)
		writeError(w, http.StatusBadGateway, errUpstream(err.Error()))
		return
	}
	defer resp.Body.Close()

	if isRedirect(resp.StatusCode) {
		if loc := resp.Header.Get("Location"); loc != "" {
			locURL, err := url.Parse(loc)
			if err == nil {
				resolved := target.ResolveReference(locURL)
				if ok, reason := e.guard.ValidateRedirect(resolved, base); !ok {
					redirectBlockedStatus := http.StatusForbidden
					e.emitAuditWithBody(ctx, svc.Name, r, nil, true, &redirectBlockedStatus, agentIP, reqBodyCapture, nil)
					e.logger.Info("proxy: redirect blocked", "service", svc.Name, "reason", reason, "location", loc)
					writeError(w, http.StatusForbidden, errRedirectBlocked)
					return
				}
			}
		}
	}

	respBodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBodyBytes))
	if err != nil {
		readFailureStatus := http.StatusBadGateway
		e.emitAuditWithBody(ctx, svc.Name, r, nil, true, &readFailureStatus, agentIP, reqBodyCapture, nil)
		writeError(w, http.StatusBadGateway, errUpstream("could not read upstream response"))
		return
	}

	var respBodyCapture *string
	if e.captureEnabled.Load() && len(respBodyBytes) > 0 {
		captured := audit.TruncatePayload(string(respBodyBytes), int(e.maxPayloadBytes.Load()))
		respBodyCapture = &captured
	}

	copyHeaders(w.Header(), resp.Header)
	status := resp.StatusCode
	w.WriteHeader(status)
	_, _ = w.Write(respBodyBytes)

	e.emitAuditWithBody(ctx, svc.Name, r, &status, true, &status, agentIP, reqBodyCapture, respBodyCapture)
}

// stripQueryFragment trims the query string and fragment engine.go appends
// to upstreamPath, leaving the bare upstream path a PolicyRule's
// PathPrefix is meant to match against.
func stripQueryFragment(upstreamPath string) string {
	if idx := strings.IndexAny(upstreamPath, "?#"); idx != -1 {
		return upstreamPath[:idx]
	}
	return upstreamPath
}

func isRedirect(status int) bool {
	return status == http.StatusMovedPermanently ||
		status == http.StatusFound ||
		status == http.StatusSeeOther ||
		status == http.StatusTemporaryRedirect ||
		status == http.StatusPermanentRedirect
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHop(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isHopByHop(header string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}

func injectCredential(req *http.Request, cred service.CredentialRecipe) {
	switch cred.Kind {
	case service.CredentialBearer:
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	case service.CredentialHeader:
		if cred.Name != "" {
			req.Header.Set(cred.Name, cred.Token)
		}
	case service.CredentialQuery:
		if cred.Name != "" {
			q := req.URL.Query()
			q.Set(cred.Name, cred.Token)
			req.URL.RawQuery = q.Encode()
		}
	}
}

func schemeOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}

// clientIP extracts the agent's source address from RemoteAddr, stripping
// the port and any IPv6 brackets. X-Forwarded-For is not consulted; for a
// gateway mediating a single local agent process, RemoteAddr is usually
// authoritative.
func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx != -1 {
		host = host[:idx]
	}
	return strings.Trim(host, "[]")
}

func (e *Engine) emitAudit(ctx context.Context, svcName string, r *http.Request, status *int, approved bool, respStatus *int, agentIP string) {
	e.emitAuditWithBody(ctx, svcName, r, status, approved, respStatus, agentIP, nil, nil)
}

func (e *Engine) emitAuditWithBody(ctx context.Context, svcName string, r *http.Request, _ *int, approved bool, respStatus *int, agentIP string, reqBody, respBody *string) {
	if agentIP == "" {
		agentIP = clientIP(r)
	}
	rec := audit.Record{
		Timestamp:      time.Now(),
		Service:        svcName,
		Method:         r.Method,
		Path:           r.URL.Path,
		Approved:       approved,
		ResponseStatus: respStatus,
		AgentIP:        agentIP,
		RequestBody:    reqBody,
		ResponseBody:   respBody,
	}
	if err := e.auditStore.AppendRequest(ctx, rec); err != nil {
		e.logger.Error("proxy: failed to write audit record", "service", svcName, "err", err)
	}
}
