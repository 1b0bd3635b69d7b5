// Package config provides configuration loading for ClawGuard.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for clawguard.yaml/.yml
// in standard locations. The search requires an explicit YAML extension
// to avoid matching the binary itself, which Viper's built-in
// SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("clawguard")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: CLAWGUARD_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("CLAWGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a clawguard config file
// with an explicit YAML extension (.yaml or .yml). This prevents Viper
// from matching the binary "clawguard" (no extension) in the current
// directory.
func findConfigFile() string {
	home := homeDirFallback()
	paths := []string{
		".",
		filepath.Join(home, ".clawguard"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "clawguard"))
		}
	} else {
		paths = append(paths, "/etc/clawguard")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for clawguard.yaml
// or .yml. Returns the full path of the first match, or empty string if
// none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "clawguard"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds the config keys most useful to override via
// environment variables — credentials and tokens above all, since those
// should not live in a checked-in config file.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.routing_mode")

	_ = viper.BindEnv("agent.secret_hash")
	_ = viper.BindEnv("agent.accept_legacy_header_alias")

	_ = viper.BindEnv("notifier.telegram.bot_token")
	_ = viper.BindEnv("notifier.telegram.chat_id")
	_ = viper.BindEnv("notifier.telegram.pairing_enabled")
	_ = viper.BindEnv("notifier.telegram.pairing_secret_hash")

	_ = viper.BindEnv("audit.backend")
	_ = viper.BindEnv("audit.db_path")
	_ = viper.BindEnv("audit.payload_capture_enabled")

	_ = viper.BindEnv("admin.session_pin_hash")

	_ = viper.BindEnv("guard.block_private_ips")
	_ = viper.BindEnv("guard.approval_pipeline_deadline")

	// Note: services, guard.allowlist, and admin.ip_allowlist are arrays
	// or slices of structs, complex to override via env. Use the config
	// file for these.

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the Config. Callers needing to apply CLI
// flag overrides (e.g. --dev) before validation should use LoadConfigRaw
// instead, then call SetDevDefaults/Validate themselves.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but
// does NOT apply dev defaults or validate. Use this when CLI flags may
// override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded. Returns an empty string if no config file was found (env vars
// only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
