package config

import (
	"strings"
	"testing"
)

// minimalValidConfig returns a minimal valid Config for testing.
func minimalValidConfig() *Config {
	return &Config{
		Server: ServerConfig{HTTPAddr: "127.0.0.1:8080"},
		Services: []ServiceConfig{
			{
				Name:            "gh",
				UpstreamBaseURL: "https://api.github.com",
				Credential:      CredentialConfig{Kind: "bearer", Token: "placeholder"},
				Policy: PolicyConfig{
					DefaultAction: "require_approval",
					Rules: []PolicyRuleConfig{
						{Method: "GET", PathPrefix: "/user", Action: "auto_approve"},
					},
				},
			},
		},
		Agent: AgentAuthConfig{SecretHash: "sha256:2b5ba8d1be7ba1678b9a4ecb2d1e8fe4e14d0a6d8c63b60efe5f7ca5fefadf96"},
		Notifier: NotifierConfig{
			Telegram: TelegramConfig{BotToken: "123:abc", ChatID: "42"},
		},
		Audit: AuditConfig{Backend: "memory"},
		Guard: GuardConfig{ApprovalPipelineDeadline: "120s"},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_DuplicateServiceName(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Services = append(cfg.Services, cfg.Services[0])

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for duplicate service name, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate service name") {
		t.Errorf("error = %q, want to contain 'duplicate service name'", err.Error())
	}
}

func TestValidate_MissingUpstreamBaseURL(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Services[0].UpstreamBaseURL = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for missing upstream_base_url, got nil")
	}
}

func TestValidate_InvalidUpstreamBaseURL(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Services[0].UpstreamBaseURL = "not a url"

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for invalid upstream_base_url, got nil")
	}
}

func TestValidate_HeaderCredentialMissingName(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Services[0].Credential = CredentialConfig{Kind: "header", Token: "x"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for header credential with no name, got nil")
	}
	if !strings.Contains(err.Error(), "credential.name is required") {
		t.Errorf("error = %q, want to contain 'credential.name is required'", err.Error())
	}
}

func TestValidate_QueryCredentialMissingName(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Services[0].Credential = CredentialConfig{Kind: "query", Token: "x"}

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for query credential with no name, got nil")
	}
}

func TestValidate_BearerCredentialNoNameRequired(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Services[0].Credential = CredentialConfig{Kind: "bearer", Token: "x"}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() bearer credential with no name: unexpected error: %v", err)
	}
}

func TestValidate_InvalidPolicyRuleMethod(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Services[0].Policy.Rules[0].Method = "FETCH"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for unrecognized method, got nil")
	}
	if !strings.Contains(err.Error(), "unrecognized method") {
		t.Errorf("error = %q, want to contain 'unrecognized method'", err.Error())
	}
}

func TestValidate_InvalidPolicyRuleAction(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Services[0].Policy.Rules[0].Action = "maybe"

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for invalid rule action, got nil")
	}
}

func TestValidate_AdminAllowlistWithoutPIN(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Admin.IPAllowlist = []string{"127.0.0.1"}
	cfg.Admin.SessionPINHash = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for admin allowlist without PIN hash, got nil")
	}
	if !strings.Contains(err.Error(), "session_pin_hash is required") {
		t.Errorf("error = %q, want to contain 'session_pin_hash is required'", err.Error())
	}
}

func TestValidate_AdminNoAllowlistNoPINOK(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Admin.IPAllowlist = nil
	cfg.Admin.SessionPINHash = ""

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with no admin allowlist configured: unexpected error: %v", err)
	}
}

func TestValidate_PairingEnabledWithoutSecretHash(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Notifier.Telegram.PairingEnabled = true
	cfg.Notifier.Telegram.PairingSecretHash = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for pairing enabled without secret hash, got nil")
	}
	if !strings.Contains(err.Error(), "pairing_secret_hash is required") {
		t.Errorf("error = %q, want to contain 'pairing_secret_hash is required'", err.Error())
	}
}

func TestValidate_PairingEnabledWithSecretHash(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Notifier.Telegram.PairingEnabled = true
	cfg.Notifier.Telegram.PairingSecretHash = "sha256:abc123"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() pairing enabled with secret hash: unexpected error: %v", err)
	}
}

func TestValidate_InvalidApprovalPipelineDeadline(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Guard.ApprovalPipelineDeadline = "not-a-duration"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid approval_pipeline_deadline, got nil")
	}
	if !strings.Contains(err.Error(), "approval_pipeline_deadline") {
		t.Errorf("error = %q, want to contain 'approval_pipeline_deadline'", err.Error())
	}
}

func TestValidate_ZeroConfig_DevMode(t *testing.T) {
	t.Parallel()

	cfg := &Config{DevMode: true}
	cfg.SetDevDefaults()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() dev-mode zero config: unexpected error: %v", err)
	}
}

func TestValidate_MissingAgentSecretHash(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Agent.SecretHash = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for missing agent.secret_hash, got nil")
	}
}

func TestValidate_MissingTelegramBotToken(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Notifier.Telegram.BotToken = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for missing telegram bot_token, got nil")
	}
}

func TestValidate_InvalidAuditBackend(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Backend = "postgres"

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for unsupported audit backend, got nil")
	}
}

func TestValidate_InvalidHTTPAddr(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Server.HTTPAddr = "not an addr"

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for invalid http_addr, got nil")
	}
}

func TestValidate_EmptyServicesOK(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Services = nil

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with no services configured: unexpected error: %v", err)
	}
}
