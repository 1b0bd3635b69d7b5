package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Validate validates the Config using struct tags and cross-field rules
// that validator.v10 tags alone cannot express.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateServices(); err != nil {
		return err
	}
	if err := c.validateAgentAuth(); err != nil {
		return err
	}
	if err := c.validateAdmin(); err != nil {
		return err
	}
	if err := c.validateTelegram(); err != nil {
		return err
	}
	if _, err := time.ParseDuration(c.Guard.ApprovalPipelineDeadline); err != nil {
		return fmt.Errorf("guard.approval_pipeline_deadline: %w", err)
	}

	return nil
}

// validateServices checks service-catalog invariants struct tags can't
// express: unique names, and a credential name present wherever the
// credential kind requires one.
func (c *Config) validateServices() error {
	seen := make(map[string]struct{}, len(c.Services))
	for i, svc := range c.Services {
		if _, dup := seen[svc.Name]; dup {
			return fmt.Errorf("services[%d]: duplicate service name %q", i, svc.Name)
		}
		seen[svc.Name] = struct{}{}

		switch svc.Credential.Kind {
		case "header", "query":
			if svc.Credential.Name == "" {
				return fmt.Errorf("services[%d] (%s): credential.name is required for kind %q", i, svc.Name, svc.Credential.Kind)
			}
		}

		if err := validatePolicyRules(svc.Policy.Rules); err != nil {
			return fmt.Errorf("services[%d] (%s): %w", i, svc.Name, err)
		}
	}
	return nil
}

func validatePolicyRules(rules []PolicyRuleConfig) error {
	for i, rule := range rules {
		if rule.Method != "" {
			upper := strings.ToUpper(rule.Method)
			switch upper {
			case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS":
			default:
				return fmt.Errorf("policy.rules[%d]: unrecognized method %q", i, rule.Method)
			}
		}
	}
	return nil
}

// validateAgentAuth requires a secret hash for the untrusted agent to
// authenticate with, unless running in dev mode.
func (c *Config) validateAgentAuth() error {
	if c.DevMode {
		return nil
	}
	if c.Agent.SecretHash == "" {
		return errors.New("agent.secret_hash is required (unless dev_mode is true)")
	}
	return nil
}

// validateAdmin requires the session PIN hash whenever the admin API's IP
// allowlist is non-empty, unless running in dev mode. With no PIN hash the
// admin auth middleware rejects every request, so the allowlist alone
// would leave the admin surface unusable.
func (c *Config) validateAdmin() error {
	if c.DevMode || len(c.Admin.IPAllowlist) == 0 {
		return nil
	}
	if c.Admin.SessionPINHash == "" {
		return errors.New("admin.session_pin_hash is required when admin.ip_allowlist is non-empty")
	}
	return nil
}

// validateTelegram requires a bot token and chat ID unless dev mode is set,
// and a pairing secret hash whenever pairing is enabled. Go code, not a
// struct tag, because validator.v10 resolves required_unless/required_if's
// named field within the struct being validated, and TelegramConfig has no
// DevMode field of its own to reference.
func (c *Config) validateTelegram() error {
	tg := c.Notifier.Telegram
	if !c.DevMode {
		if tg.BotToken == "" {
			return errors.New("notifier.telegram.bot_token is required (unless dev_mode is true)")
		}
		if tg.ChatID == "" {
			return errors.New("notifier.telegram.chat_id is required (unless dev_mode is true)")
		}
	}
	if tg.PairingEnabled && tg.PairingSecretHash == "" {
		return errors.New("notifier.telegram.pairing_secret_hash is required when pairing_enabled is true")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly
// messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_unless":
		return fmt.Sprintf("%s is required", field)
	case "required_if":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s items", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
