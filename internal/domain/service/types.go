// Package service defines the live, mutable table of routing targets the
// Proxy Engine dispatches against.
package service

import (
	"strings"
	"time"
)

// Action is the resolved disposition of a policy match.
type Action string

const (
	// ActionAutoApprove forwards the request without consulting the
	// Approval Coordinator.
	ActionAutoApprove Action = "auto_approve"
	// ActionRequireApproval suspends the request pending a human decision.
	ActionRequireApproval Action = "require_approval"
)

// CredentialKind selects how the upstream credential is attached to a
// forwarded request.
type CredentialKind string

const (
	// CredentialBearer sets "Authorization: Bearer <token>".
	CredentialBearer CredentialKind = "bearer"
	// CredentialHeader sets a named header to the token value.
	CredentialHeader CredentialKind = "header"
	// CredentialQuery appends a named query parameter carrying the token.
	CredentialQuery CredentialKind = "query"
)

// CredentialRecipe describes how to inject the upstream credential into a
// forwarded request. Token is never logged or returned by the admin surface
// in cleartext; see the override round-trip masking in the admin adapter.
type CredentialRecipe struct {
	Kind CredentialKind `json:"kind" yaml:"kind"`
	// Name is the header or query parameter name. Unused for CredentialBearer.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Token is the upstream secret value.
	Token string `json:"token" yaml:"token"`
}

// PolicyRule is one ordered predicate in a ServiceDefinition's policy.
// Rules are evaluated in declared order; the first match wins.
type PolicyRule struct {
	// Method, if non-empty, must equal the request method case-insensitively.
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	// PathPrefix, if non-empty, must prefix-match the upstream path.
	PathPrefix string `json:"pathPrefix,omitempty" yaml:"pathPrefix,omitempty"`
	Action     Action `json:"action" yaml:"action"`
}

// Matches reports whether the rule's predicate matches the given method and
// upstream path. An empty Method or PathPrefix is a wildcard for that field.
func (r PolicyRule) Matches(method, path string) bool {
	if r.Method != "" && !strings.EqualFold(r.Method, method) {
		return false
	}
	if r.PathPrefix != "" && !strings.HasPrefix(path, r.PathPrefix) {
		return false
	}
	return true
}

// Policy is an ordered rule list plus the fallback action when nothing
// matches.
type Policy struct {
	DefaultAction Action       `json:"defaultAction" yaml:"defaultAction"`
	Rules         []PolicyRule `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// Resolve walks the rules in order and returns the first match's action, or
// the policy default if nothing matches.
func (p Policy) Resolve(method, path string) Action {
	for _, rule := range p.Rules {
		if rule.Matches(method, path) {
			return rule.Action
		}
	}
	return p.DefaultAction
}

// ServiceDefinition is a named routing target: an upstream base URL, the
// credential recipe used to authenticate to it, and the policy governing
// which requests need approval.
type ServiceDefinition struct {
	Name string `json:"name" yaml:"name"`
	// UpstreamBaseURL is the base the request path is resolved against.
	UpstreamBaseURL string `json:"upstreamBaseURL" yaml:"upstreamBaseURL"`
	// InterceptHostnames lists Host header values that route to this
	// service in host-header mode. Optional.
	InterceptHostnames []string         `json:"interceptHostnames,omitempty" yaml:"interceptHostnames,omitempty"`
	Credential         CredentialRecipe `json:"credential" yaml:"credential"`
	Policy             Policy           `json:"policy" yaml:"policy"`
}

// Redacted returns a copy of the ServiceDefinition with the credential
// token masked, for display on the admin read path (round trip modulo
// token masking, per the override testable property).
func (s ServiceDefinition) Redacted() ServiceDefinition {
	out := s
	if out.Credential.Token != "" {
		out.Credential.Token = "***REDACTED***"
	}
	return out
}

// ServiceOverride is the admin-plane record mutating the live table.
type ServiceOverride struct {
	ServiceName string
	Definition  ServiceDefinition
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
