// Package config loads the bot configuration from YAML or JSON5 files, .env
// files and COGBOT_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Config is the main configuration structure for cogbot.
type Config struct {
	Bot        BotConfig        `yaml:"bot" envPrefix:"BOT_"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Extensions ExtensionsConfig `yaml:"extensions" envPrefix:"EXTENSIONS_"`
	Storage    StorageConfig    `yaml:"storage" envPrefix:"STORAGE_"`
	Logging    LoggingConfig    `yaml:"logging" envPrefix:"LOG_"`
	Metrics    MetricsConfig    `yaml:"metrics" envPrefix:"METRICS_"`
	Tracing    TracingConfig    `yaml:"tracing" envPrefix:"TRACING_"`
}

type BotConfig struct {
	// Prefix starts every command, "/" by default
	Prefix string `yaml:"prefix" env:"PREFIX"`

	// Username is the bot's own handle; "/cmd@username" addressed to other
	// bots is ignored when set
	Username string `yaml:"username" env:"USERNAME"`

	// Owners are user ids allowed to run owner-only commands
	Owners []string `yaml:"owners" env:"OWNERS" envSeparator:","`

	// StateDir holds the instance lock file; the system temp dir when empty
	StateDir string `yaml:"state_dir" env:"STATE_DIR"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram" envPrefix:"TELEGRAM_"`
	Discord  DiscordConfig  `yaml:"discord" envPrefix:"DISCORD_"`
	Slack    SlackConfig    `yaml:"slack" envPrefix:"SLACK_"`
}

// ThrottleConfig limits outbound messages per transport.
type ThrottleConfig struct {
	// RateLimit is sends per second; 0 disables throttling
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	Burst     int     `yaml:"burst" env:"BURST"`
}

type TelegramConfig struct {
	Enabled  bool           `yaml:"enabled" env:"ENABLED"`
	Token    string         `yaml:"token" env:"TOKEN"`
	Throttle ThrottleConfig `yaml:"throttle"`
}

type DiscordConfig struct {
	Enabled  bool           `yaml:"enabled" env:"ENABLED"`
	Token    string         `yaml:"token" env:"TOKEN"`
	Throttle ThrottleConfig `yaml:"throttle"`
}

type SlackConfig struct {
	Enabled  bool           `yaml:"enabled" env:"ENABLED"`
	BotToken string         `yaml:"bot_token" env:"BOT_TOKEN"`
	AppToken string         `yaml:"app_token" env:"APP_TOKEN"`
	Throttle ThrottleConfig `yaml:"throttle"`
}

type ExtensionsConfig struct {
	// Builtins are in-process extensions to load at startup
	Builtins []string `yaml:"builtins" env:"BUILTINS" envSeparator:","`

	// Manifests are declarative extension files loaded at startup
	Manifests []string `yaml:"manifests" env:"MANIFESTS" envSeparator:","`

	// Paths are directories searched for *.cog.yaml / *.cog.json5 manifests
	Paths []string `yaml:"paths" env:"PATHS" envSeparator:","`

	// SharedObjects are Go plugin (.so) files exporting Setup
	SharedObjects []string `yaml:"shared_objects" env:"SHARED_OBJECTS" envSeparator:","`

	Watch         bool          `yaml:"watch" env:"WATCH"`
	WatchDebounce time.Duration `yaml:"watch_debounce" env:"WATCH_DEBOUNCE"`

	// Settings holds per-extension configuration keyed by extension id
	Settings map[string]map[string]any `yaml:"settings"`
}

type StorageConfig struct {
	// Driver is memory, sqlite or postgres
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Addr    string `yaml:"addr" env:"ADDR"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" env:"ENABLED"`
	Endpoint    string  `yaml:"endpoint" env:"ENDPOINT"`
	Insecure    bool    `yaml:"insecure" env:"INSECURE"`
	SampleRate  float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME"`
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed: " + strings.Join(e.Issues, "; ")
}

// Load reads the configuration at path (if any), applies .env files,
// COGBOT_* overrides and defaults, and validates the result. An empty path
// yields a configuration built from the environment alone.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(dotEnvCandidates(path)...); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg, err = decodeRawConfig(raw)
		if err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Bot.Prefix == "" {
		cfg.Bot.Prefix = "/"
	}
	if cfg.Extensions.Builtins == nil {
		cfg.Extensions.Builtins = []string{"core"}
	}
	if cfg.Extensions.WatchDebounce == 0 {
		cfg.Extensions.WatchDebounce = 250 * time.Millisecond
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "auto"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Tracing.SampleRate == 0 {
		cfg.Tracing.SampleRate = 1
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "cogbot"
	}
	for _, t := range []*ThrottleConfig{
		&cfg.Channels.Telegram.Throttle,
		&cfg.Channels.Discord.Throttle,
		&cfg.Channels.Slack.Throttle,
	} {
		if t.RateLimit > 0 && t.Burst <= 0 {
			t.Burst = 1
		}
	}
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	var issues []string

	if strings.IndexFunc(c.Bot.Prefix, unicode.IsSpace) >= 0 || c.Bot.Prefix == "" {
		issues = append(issues, "bot.prefix must be non-empty and contain no whitespace")
	}

	if c.Channels.Telegram.Enabled && strings.TrimSpace(c.Channels.Telegram.Token) == "" {
		issues = append(issues, "channels.telegram.token is required when telegram is enabled")
	}
	if c.Channels.Discord.Enabled && strings.TrimSpace(c.Channels.Discord.Token) == "" {
		issues = append(issues, "channels.discord.token is required when discord is enabled")
	}
	if c.Channels.Slack.Enabled {
		if strings.TrimSpace(c.Channels.Slack.BotToken) == "" {
			issues = append(issues, "channels.slack.bot_token is required when slack is enabled")
		}
		if !strings.HasPrefix(c.Channels.Slack.AppToken, "xapp-") {
			issues = append(issues, "channels.slack.app_token must be an xapp- app-level token for socket mode")
		}
	}
	for _, t := range []struct {
		name     string
		throttle ThrottleConfig
	}{
		{"telegram", c.Channels.Telegram.Throttle},
		{"discord", c.Channels.Discord.Throttle},
		{"slack", c.Channels.Slack.Throttle},
	} {
		if t.throttle.RateLimit < 0 {
			issues = append(issues, fmt.Sprintf("channels.%s.throttle.rate_limit must be >= 0", t.name))
		}
	}

	if c.Extensions.WatchDebounce < 0 {
		issues = append(issues, "extensions.watch_debounce must be >= 0")
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "memory":
	case "sqlite", "sqlite3", "postgres", "postgresql", "pq":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			issues = append(issues, "storage.dsn is required for driver "+c.Storage.Driver)
		}
	default:
		issues = append(issues, fmt.Sprintf("storage.driver %q must be memory, sqlite or postgres", c.Storage.Driver))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		issues = append(issues, fmt.Sprintf("logging.level %q is invalid", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text", "auto":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be json, text or auto", c.Logging.Format))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing.sample_rate must be between 0 and 1")
	}
	if c.Tracing.Enabled && strings.TrimSpace(c.Tracing.Endpoint) == "" {
		issues = append(issues, "tracing.endpoint is required when tracing is enabled")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
