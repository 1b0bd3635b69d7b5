// Package proxy implements the Proxy Engine: the front HTTP server that
// authenticates the agent, routes to a service, runs the Security Guard
// and Approval Coordinator, injects credentials, and forwards upstream.
package proxy

import (
	"encoding/json"
	"net/http"
)

// errorBody is the standard machine-readable error payload.
type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message})
}

const (
	errInvalidAgentSecret = "Invalid or missing X-ClawGuard-Key"
	errBlockedByPolicy    = "Request blocked by security policy"
	errApprovalDenied     = "Approval denied or timed out"
	errRedirectBlocked    = "Redirect blocked by security policy"
)

func errUnknownService(name string) string { return "Unknown service: " + name }
func errUnknownHost() string                { return "Unknown host. No service intercepts this Host header." }
func errUpstream(msg string) string         { return "Upstream error: " + msg }
