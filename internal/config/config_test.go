package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.Server.LogLevel, "info")
	}
	if cfg.Server.RoutingMode != "path_prefix" {
		t.Errorf("RoutingMode = %q, want %q", cfg.Server.RoutingMode, "path_prefix")
	}
	if cfg.Audit.Backend != "sqlite" {
		t.Errorf("Audit.Backend = %q, want %q", cfg.Audit.Backend, "sqlite")
	}
	if cfg.Audit.DBPath != "./clawguard-audit.db" {
		t.Errorf("Audit.DBPath = %q, want %q", cfg.Audit.DBPath, "./clawguard-audit.db")
	}
	if cfg.Audit.PayloadCaptureEnabled == nil || !*cfg.Audit.PayloadCaptureEnabled {
		t.Error("Audit.PayloadCaptureEnabled should default to true")
	}
	if cfg.Audit.MaxPayloadLogBytes != 4096 {
		t.Errorf("MaxPayloadLogBytes = %d, want 4096", cfg.Audit.MaxPayloadLogBytes)
	}
	if cfg.Audit.BufferSize != 1000 {
		t.Errorf("BufferSize = %d, want 1000", cfg.Audit.BufferSize)
	}
	if cfg.Guard.BlockPrivateIPs == nil || !*cfg.Guard.BlockPrivateIPs {
		t.Error("Guard.BlockPrivateIPs should default to true")
	}
	if cfg.Guard.ApprovalPipelineDeadline != "120s" {
		t.Errorf("ApprovalPipelineDeadline = %q, want %q", cfg.Guard.ApprovalPipelineDeadline, "120s")
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	blockPrivate := false
	cfg := Config{
		Server: ServerConfig{HTTPAddr: ":9090"},
		Audit:  AuditConfig{Backend: "memory", DBPath: "/custom/path.db", MaxPayloadLogBytes: 99, BufferSize: 42},
		Guard:  GuardConfig{BlockPrivateIPs: &blockPrivate, ApprovalPipelineDeadline: "30s"},
	}

	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr was overwritten: got %q, want %q", cfg.Server.HTTPAddr, ":9090")
	}
	if cfg.Audit.Backend != "memory" {
		t.Errorf("Audit.Backend was overwritten: got %q, want %q", cfg.Audit.Backend, "memory")
	}
	if cfg.Audit.DBPath != "/custom/path.db" {
		t.Errorf("Audit.DBPath was overwritten: got %q", cfg.Audit.DBPath)
	}
	if cfg.Audit.MaxPayloadLogBytes != 99 {
		t.Errorf("MaxPayloadLogBytes was overwritten: got %d, want 99", cfg.Audit.MaxPayloadLogBytes)
	}
	if cfg.Audit.BufferSize != 42 {
		t.Errorf("BufferSize was overwritten: got %d, want 42", cfg.Audit.BufferSize)
	}
	if cfg.Guard.BlockPrivateIPs == nil || *cfg.Guard.BlockPrivateIPs {
		t.Error("Guard.BlockPrivateIPs was overwritten, want preserved false")
	}
	if cfg.Guard.ApprovalPipelineDeadline != "30s" {
		t.Errorf("ApprovalPipelineDeadline was overwritten: got %q, want %q", cfg.Guard.ApprovalPipelineDeadline, "30s")
	}
}

func TestConfig_SetDefaults_ServiceDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Services: []ServiceConfig{
			{Name: "gh", UpstreamBaseURL: "https://api.github.com"},
			{
				Name:            "slack",
				UpstreamBaseURL: "https://slack.com/api",
				Credential:      CredentialConfig{Kind: "header", Name: "X-Slack-Token"},
				Policy:          PolicyConfig{DefaultAction: "auto_approve"},
			},
		},
	}
	cfg.SetDefaults()

	if cfg.Services[0].Credential.Kind != "bearer" {
		t.Errorf("Services[0].Credential.Kind = %q, want %q", cfg.Services[0].Credential.Kind, "bearer")
	}
	if cfg.Services[0].Policy.DefaultAction != "require_approval" {
		t.Errorf("Services[0].Policy.DefaultAction = %q, want %q", cfg.Services[0].Policy.DefaultAction, "require_approval")
	}

	// Existing values on the second service should not be clobbered.
	if cfg.Services[1].Credential.Kind != "header" {
		t.Errorf("Services[1].Credential.Kind was overwritten: got %q", cfg.Services[1].Credential.Kind)
	}
	if cfg.Services[1].Policy.DefaultAction != "auto_approve" {
		t.Errorf("Services[1].Policy.DefaultAction was overwritten: got %q", cfg.Services[1].Policy.DefaultAction)
	}
}

func TestConfig_SetDevDefaults_NoOpWhenDisabled(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	cfg.SetDevDefaults()

	if cfg.Agent.SecretHash != "" {
		t.Error("SetDevDefaults should be a no-op when DevMode is false")
	}
}

func TestConfig_SetDevDefaults_FillsPlaceholders(t *testing.T) {
	t.Parallel()

	cfg := Config{DevMode: true}
	cfg.SetDevDefaults()

	if cfg.Agent.SecretHash == "" {
		t.Error("SetDevDefaults should fill Agent.SecretHash in dev mode")
	}
	if cfg.Notifier.Telegram.BotToken != "dev-disabled" {
		t.Errorf("Notifier.Telegram.BotToken = %q, want %q", cfg.Notifier.Telegram.BotToken, "dev-disabled")
	}
	if cfg.Audit.Backend != "memory" {
		t.Errorf("Audit.Backend = %q, want %q", cfg.Audit.Backend, "memory")
	}
	if len(cfg.Services) != 1 || cfg.Services[0].Name != "httpbin" {
		t.Errorf("expected one default httpbin service, got %+v", cfg.Services)
	}
}

func TestConfig_SetDevDefaults_PreservesExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		DevMode: true,
		Agent:   AgentAuthConfig{SecretHash: "sha256:custom"},
		Services: []ServiceConfig{
			{Name: "custom-svc", UpstreamBaseURL: "https://example.com"},
		},
	}
	cfg.SetDevDefaults()

	if cfg.Agent.SecretHash != "sha256:custom" {
		t.Errorf("Agent.SecretHash was overwritten: got %q", cfg.Agent.SecretHash)
	}
	if len(cfg.Services) != 1 || cfg.Services[0].Name != "custom-svc" {
		t.Errorf("Services was overwritten: got %+v", cfg.Services)
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "clawguard.yaml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "clawguard.yml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "clawguard"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "clawguard.yaml")
	ymlPath := filepath.Join(dir, "clawguard.yml")
	_ = os.WriteFile(yamlPath, []byte("server:\n  http_addr: :8080\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}
