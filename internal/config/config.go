// Package config provides the configuration schema for ClawGuard.
//
// Configuration is file-based (YAML) with environment variable overrides,
// via a viper-backed loader and validator.v10 struct-tag validation.
// ClawGuard intentionally excludes:
//
//   - NO Redis/Postgres-backed state (SQLite or in-memory only)
//   - NO SIEM integration
//   - NO HTML admin dashboard (JSON admin API only)
//   - NO SSO/SAML/SCIM
//   - NO multi-tenant support
//   - NO general expression-language policies (method + path-prefix only)
//   - NO TLS termination (handle via a reverse proxy in front of ClawGuard)
package config

import (
	"os"

	"github.com/spf13/viper"
)

// Config is the top-level ClawGuard configuration.
type Config struct {
	// Server configures the HTTP listener the Proxy Engine binds to.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Services defines the catalog of upstream services this gateway
	// mediates. May be empty; dev mode seeds a default service when none
	// is configured.
	Services []ServiceConfig `yaml:"services" mapstructure:"services" validate:"omitempty,dive"`

	// Agent configures how the untrusted agent authenticates to the
	// gateway.
	Agent AgentAuthConfig `yaml:"agent" mapstructure:"agent"`

	// Notifier configures the Out-of-Band Notifier (Telegram today; the
	// structure leaves room for another provider without reshaping the
	// rest of the config).
	Notifier NotifierConfig `yaml:"notifier" mapstructure:"notifier"`

	// Audit configures the Audit Store backend and payload capture.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Admin configures the JSON admin API surface.
	Admin AdminConfig `yaml:"admin" mapstructure:"admin"`

	// Guard configures the Security Guard's SSRF defenses and the
	// Approval Coordinator's pipeline deadline.
	Guard GuardConfig `yaml:"guard" mapstructure:"guard"`

	// DevMode enables permissive defaults and verbose logging for local
	// iteration. Never set true in a deployment that mediates a real
	// agent.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g. "127.0.0.1:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// RoutingMode selects how the Proxy Engine resolves a request's
	// target service: "path_prefix" (default) or "host_header".
	RoutingMode string `yaml:"routing_mode" mapstructure:"routing_mode" validate:"omitempty,oneof=path_prefix host_header"`
}

// ServiceConfig defines one upstream service and its policy.
type ServiceConfig struct {
	// Name identifies the service in path-prefix routing
	// (e.g. "/gh/..." routes to the service named "gh").
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// UpstreamBaseURL is the base URL requests are forwarded to.
	UpstreamBaseURL string `yaml:"upstream_base_url" mapstructure:"upstream_base_url" validate:"required,url"`

	// InterceptHostnames lists Host header values that route to this
	// service in host-header routing mode.
	InterceptHostnames []string `yaml:"intercept_hostnames" mapstructure:"intercept_hostnames"`

	// Credential is injected into every forwarded request.
	Credential CredentialConfig `yaml:"credential" mapstructure:"credential"`

	// Policy decides, per request, whether it is auto-approved or
	// requires a human decision.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`
}

// CredentialConfig configures how a service's credential is injected
// into forwarded requests.
type CredentialConfig struct {
	// Kind is "bearer", "header", or "query". Defaults to "bearer".
	Kind string `yaml:"kind" mapstructure:"kind" validate:"omitempty,oneof=bearer header query"`
	// Name is the header or query parameter name. Required for "header"
	// and "query" kinds; ignored for "bearer".
	Name string `yaml:"name" mapstructure:"name"`
	// Token is the credential value. In production this should be
	// sourced from an environment variable via viper's env binding, not
	// committed to the config file.
	Token string `yaml:"token" mapstructure:"token"`
}

// PolicyConfig defines a service's method/path-prefix access rules.
type PolicyConfig struct {
	// DefaultAction applies when no rule matches. Defaults to
	// "require_approval" (fail closed).
	DefaultAction string `yaml:"default_action" mapstructure:"default_action" validate:"omitempty,oneof=auto_approve require_approval"`

	// Rules are evaluated in order; first match wins.
	Rules []PolicyRuleConfig `yaml:"rules" mapstructure:"rules" validate:"omitempty,dive"`
}

// PolicyRuleConfig defines a single method/path-prefix predicate.
type PolicyRuleConfig struct {
	// Method is an HTTP method to match, case-insensitive. Empty
	// matches any method.
	Method string `yaml:"method" mapstructure:"method"`
	// PathPrefix is a path prefix to match. Empty matches any path.
	PathPrefix string `yaml:"path_prefix" mapstructure:"path_prefix"`
	// Action is "auto_approve" or "require_approval".
	Action string `yaml:"action" mapstructure:"action" validate:"required,oneof=auto_approve require_approval"`
}

// AgentAuthConfig configures the shared secret the untrusted agent
// authenticates with.
type AgentAuthConfig struct {
	// SecretHash is the hashed agent secret, in the format
	// internal/domain/secret produces ("sha256:<hex>" or an Argon2id
	// encoded hash). Generate with the `clawguard hash-key` command.
	// Required unless DevMode is set; enforced in Validate() rather than
	// a struct tag, since required_unless cannot reach a sibling field on
	// the enclosing Config from a nested struct.
	SecretHash string `yaml:"secret_hash" mapstructure:"secret_hash"`

	// AcceptLegacyHeaderAlias, when true, also accepts the
	// X-AgentGate-Key header name in addition to the canonical
	// X-ClawGuard-Key. Defaults to false; existing deployments carrying
	// the old header name must opt in explicitly.
	AcceptLegacyHeaderAlias bool `yaml:"accept_legacy_header_alias" mapstructure:"accept_legacy_header_alias"`
}

// NotifierConfig configures the Out-of-Band Notifier.
type NotifierConfig struct {
	Telegram TelegramConfig `yaml:"telegram" mapstructure:"telegram"`
}

// TelegramConfig configures the Telegram Bot API adapter.
type TelegramConfig struct {
	// BotToken authenticates against the Telegram Bot API. Source this
	// from an environment variable, not the config file. Required unless
	// DevMode is set; see SecretHash for why this isn't a struct tag.
	BotToken string `yaml:"bot_token" mapstructure:"bot_token"`

	// ChatID is the chat (direct message or group) approval prompts are
	// sent to. Required unless DevMode is set.
	ChatID string `yaml:"chat_id" mapstructure:"chat_id"`

	// PairingEnabled requires an approver to present PairingSecretHash
	// via the /pair command before their decisions are honored.
	PairingEnabled bool `yaml:"pairing_enabled" mapstructure:"pairing_enabled"`

	// PairingSecretHash is the hashed pairing secret (same format as
	// AgentAuthConfig.SecretHash). Required when PairingEnabled is true;
	// checked in Validate().
	PairingSecretHash string `yaml:"pairing_secret_hash" mapstructure:"pairing_secret_hash"`
}

// AuditConfig configures the Audit Store.
type AuditConfig struct {
	// Backend selects the Audit Store implementation: "sqlite" (durable,
	// default) or "memory" (dev/test only, lost on restart).
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=sqlite memory"`

	// DBPath is the SQLite database file path. Defaults to
	// "./clawguard-audit.db".
	DBPath string `yaml:"db_path" mapstructure:"db_path"`

	// PayloadCaptureEnabled controls whether request/response bodies are
	// captured in audit records at all. Defaults to true; set false to
	// audit metadata only.
	PayloadCaptureEnabled *bool `yaml:"payload_capture_enabled" mapstructure:"payload_capture_enabled"`

	// MaxPayloadLogBytes caps how much of a captured body is retained.
	// Defaults to 4096.
	MaxPayloadLogBytes int `yaml:"max_payload_log_bytes" mapstructure:"max_payload_log_bytes" validate:"omitempty,min=1"`

	// BufferSize is the ring-buffer capacity for the in-memory backend
	// and for recent-record serving. Defaults to 1000.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`
}

// AdminConfig configures the JSON admin API.
type AdminConfig struct {
	// IPAllowlist restricts which client IPs may reach the admin API.
	// Empty denies all admin access (fail closed) until configured.
	IPAllowlist []string `yaml:"ip_allowlist" mapstructure:"ip_allowlist"`

	// SessionPINHash is the hashed PIN required to establish an admin
	// session, in the same hash format as AgentAuthConfig.SecretHash.
	SessionPINHash string `yaml:"session_pin_hash" mapstructure:"session_pin_hash"`
}

// GuardConfig configures the Security Guard and the Approval
// Coordinator's pipeline timing.
type GuardConfig struct {
	// Allowlist restricts upstream hostnames a ServiceConfig may point
	// at. Empty allows any hostname (subject to BlockPrivateIPs).
	Allowlist []string `yaml:"allowlist" mapstructure:"allowlist"`

	// BlockPrivateIPs rejects upstream URLs whose host is a private,
	// loopback, or link-local IP literal. Defaults to true.
	BlockPrivateIPs *bool `yaml:"block_private_ips" mapstructure:"block_private_ips"`

	// ApprovalPipelineDeadline bounds how long a require_approval
	// request waits for a human decision before timing out
	// (e.g. "120s"). Defaults to "120s".
	ApprovalPipelineDeadline string `yaml:"approval_pipeline_deadline" mapstructure:"approval_pipeline_deadline" validate:"omitempty"`
}

// SetDevDefaults applies permissive defaults for development mode,
// applied before validation so required fields are satisfied without a
// full config file.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	if c.Agent.SecretHash == "" {
		// SHA-256 of "dev-agent-secret", for local iteration only.
		c.Agent.SecretHash = "sha256:bc483e058dea4fb7657cd795e42cbc1ee586482a985e7678abf2c38c45be1a9e"
	}

	if c.Notifier.Telegram.BotToken == "" {
		c.Notifier.Telegram.BotToken = "dev-disabled"
	}
	if c.Notifier.Telegram.ChatID == "" {
		c.Notifier.Telegram.ChatID = "0"
	}

	if c.Audit.Backend == "" {
		c.Audit.Backend = "memory"
	}

	if len(c.Services) == 0 {
		c.Services = []ServiceConfig{
			{
				Name:            "httpbin",
				UpstreamBaseURL: "https://httpbin.org",
				Policy: PolicyConfig{
					DefaultAction: "require_approval",
				},
			},
		}
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.RoutingMode == "" {
		c.Server.RoutingMode = "path_prefix"
	}

	for i := range c.Services {
		if c.Services[i].Credential.Kind == "" {
			c.Services[i].Credential.Kind = "bearer"
		}
		if c.Services[i].Policy.DefaultAction == "" {
			c.Services[i].Policy.DefaultAction = "require_approval"
		}
	}

	if c.Audit.Backend == "" {
		c.Audit.Backend = "sqlite"
	}
	if c.Audit.DBPath == "" {
		c.Audit.DBPath = "./clawguard-audit.db"
	}
	if c.Audit.PayloadCaptureEnabled == nil {
		enabled := true
		c.Audit.PayloadCaptureEnabled = &enabled
	}
	if c.Audit.MaxPayloadLogBytes == 0 {
		c.Audit.MaxPayloadLogBytes = 4096
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1000
	}

	if c.Guard.BlockPrivateIPs == nil {
		blocked := true
		c.Guard.BlockPrivateIPs = &blocked
	}
	if c.Guard.ApprovalPipelineDeadline == "" {
		c.Guard.ApprovalPipelineDeadline = "120s"
	}

	// Admin IP allowlist defaults to localhost only when unset, rather
	// than to fully closed, so a fresh install's admin API is reachable
	// from the same host it runs on without extra config. Only applied
	// when the user hasn't explicitly set an (even empty) allowlist.
	if !viper.IsSet("admin.ip_allowlist") {
		c.Admin.IPAllowlist = []string{"127.0.0.1", "::1"}
	}
}

// homeDirFallback is used by the CLI's default config-search path; kept
// here so loader.go and config.go agree on the fallback without a second
// os.UserHomeDir call site drifting out of sync.
func homeDirFallback() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
