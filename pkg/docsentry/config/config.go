// Package config defines DocSentry's configuration structures and the YAML
// loader with environment variable expansion and .env support.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/docsentry/pkg/docsentry/channels/discord"
	"github.com/jholhewres/docsentry/pkg/docsentry/gateway"
	"github.com/jholhewres/docsentry/pkg/docsentry/health"
	"github.com/jholhewres/docsentry/pkg/docsentry/poller"
	"github.com/jholhewres/docsentry/pkg/docsentry/provider"
	"github.com/jholhewres/docsentry/pkg/docsentry/tracking"
)

// Config holds all DocSentry configuration.
type Config struct {
	// Provider configures the document platform API client.
	Provider provider.Config `yaml:"provider"`

	// Poller configures the periodic metadata sweep.
	Poller poller.Config `yaml:"poller"`

	// Debounce configures notification coalescing.
	Debounce DebounceConfig `yaml:"debounce"`

	// Health configures the health reporter thresholds.
	Health health.Config `yaml:"health"`

	// Gateway configures the HTTP API and webhook endpoint.
	Gateway gateway.Config `yaml:"gateway"`

	// Discord configures the Discord channel.
	Discord discord.Config `yaml:"discord"`

	// HistoryPath is the SQLite file for the change-event history.
	HistoryPath string `yaml:"history_path"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// DebounceConfig is the YAML shape of the coalescing rules. Durations are
// strings ("90s") so operators can write them naturally.
type DebounceConfig struct {
	Window          string   `yaml:"window"`
	CoalesceClasses []string `yaml:"coalesce_classes"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with working defaults for everything except
// credentials.
func DefaultConfig() *Config {
	return &Config{
		Provider:    provider.DefaultConfig(),
		Poller:      poller.DefaultConfig(),
		Health:      health.DefaultConfig(),
		Gateway:     gateway.Config{Address: ":8086"},
		Discord:     discord.DefaultConfig(),
		HistoryPath: "docsentry.db",
		Debounce: DebounceConfig{
			Window: "90s",
			CoalesceClasses: []string{
				string(tracking.ChangeSameEditor),
				string(tracking.ChangeMetadataOnly),
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// TrackingDebounce converts the YAML debounce section into the engine's
// config, falling back to defaults on a malformed window.
func (c *Config) TrackingDebounce() (tracking.DebounceConfig, error) {
	out := tracking.DefaultDebounceConfig()
	if c.Debounce.Window != "" {
		d, err := time.ParseDuration(c.Debounce.Window)
		if err != nil {
			return out, fmt.Errorf("parsing debounce window %q: %w", c.Debounce.Window, err)
		}
		if d <= 0 {
			return out, fmt.Errorf("debounce window must be positive, got %q", c.Debounce.Window)
		}
		out.Window = d
	}
	if len(c.Debounce.CoalesceClasses) > 0 {
		out.CoalesceClasses = nil
		for _, cls := range c.Debounce.CoalesceClasses {
			switch tracking.ChangeType(cls) {
			case tracking.ChangeSameEditor, tracking.ChangeMetadataOnly:
				out.CoalesceClasses = append(out.CoalesceClasses, tracking.ChangeType(cls))
			case tracking.ChangeDifferentEditor:
				return out, fmt.Errorf("different-editor-edit cannot be coalesced")
			default:
				return out, fmt.Errorf("unknown coalesce class %q", cls)
			}
		}
	}
	return out, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} references in the YAML.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// LoadFromFile reads and parses a YAML configuration file. .env files are
// loaded first (without overwriting existing variables), then ${VAR}
// references in the YAML are expanded before parsing.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(expandEnvVars(data))
	if err != nil {
		return nil, err
	}

	resolveSecrets(cfg)
	checkFilePermissions(path)
	return cfg, nil
}

// Parse parses YAML bytes into a Config, overlaying defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// Save writes the config as YAML with owner-only permissions. Secrets are
// replaced with environment variable references so the file stays shareable.
func Save(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.Provider.AppSecret = sanitizeSecret(cfg.Provider.AppSecret, "DOCSENTRY_APP_SECRET")
	sanitized.Discord.Token = sanitizeSecret(cfg.Discord.Token, "DOCSENTRY_DISCORD_TOKEN")
	sanitized.Gateway.AuthToken = sanitizeSecret(cfg.Gateway.AuthToken, "DOCSENTRY_AUTH_TOKEN")

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches standard locations for a config file.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"docsentry.yaml",
		"docsentry.yml",
		"configs/docsentry.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		// godotenv.Load does not overwrite existing env vars.
		_ = godotenv.Load(f)
	}
}

func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		groups := envVarPattern.FindSubmatch(match)
		name, def := string(groups[1]), string(groups[2])
		if val, ok := os.LookupEnv(name); ok {
			return []byte(val)
		}
		return []byte(def)
	})
}

// resolveSecrets fills empty credential fields from the keyring and well
// known environment variables. Explicit config values win.
func resolveSecrets(cfg *Config) {
	if cfg.Provider.AppSecret == "" {
		cfg.Provider.AppSecret = firstNonEmpty(
			GetKeyring(KeyAppSecret),
			os.Getenv("DOCSENTRY_APP_SECRET"),
		)
	}
	if cfg.Discord.Token == "" {
		cfg.Discord.Token = firstNonEmpty(
			GetKeyring(KeyDiscordToken),
			os.Getenv("DOCSENTRY_DISCORD_TOKEN"),
		)
	}
	if cfg.Gateway.AuthToken == "" {
		cfg.Gateway.AuthToken = os.Getenv("DOCSENTRY_AUTH_TOKEN")
	}
	if cfg.Gateway.WebhookVerifyToken == "" {
		cfg.Gateway.WebhookVerifyToken = os.Getenv("DOCSENTRY_VERIFY_TOKEN")
	}
}

func sanitizeSecret(value, envVar string) string {
	if value == "" {
		return ""
	}
	return "${" + envVar + "}"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// checkFilePermissions warns when the config file is group or world
// readable, since it may carry credentials.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0o077 != 0 {
		fmt.Fprintf(os.Stderr, "warning: %s is readable by other users; consider chmod 600\n", path)
	}
}
