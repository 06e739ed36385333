package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bot.Prefix != "/" || cfg.Storage.Driver != "memory" || cfg.Logging.Format != "auto" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if diff := cmp.Diff([]string{"core"}, cfg.Extensions.Builtins); diff != "" {
		t.Errorf("builtins mismatch (-want +got):\n%s", diff)
	}
	if cfg.Extensions.WatchDebounce != 250*time.Millisecond {
		t.Errorf("watch_debounce = %v", cfg.Extensions.WatchDebounce)
	}
}

func TestLoadValidConfig(t *testing.T) {
	t.Setenv("TEST_TG_TOKEN", "123:abc")
	path := writeConfig(t, "cogbot.yaml", `
bot:
  prefix: "!"
  username: cogbot
  owners: ["42"]
channels:
  telegram:
    enabled: true
    token: ${TEST_TG_TOKEN}
    throttle:
      rate_limit: 30
extensions:
  builtins: []
  paths: [./extensions]
  watch: true
  watch_debounce: 1s
  settings:
    greetings:
      greeting: hey
storage:
  driver: sqlite
  dsn: cogbot.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bot.Prefix != "!" || cfg.Channels.Telegram.Token != "123:abc" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Channels.Telegram.Throttle.Burst != 1 {
		t.Errorf("throttle burst default = %d, want 1", cfg.Channels.Telegram.Throttle.Burst)
	}
	if len(cfg.Extensions.Builtins) != 0 {
		t.Errorf("explicit empty builtins replaced: %v", cfg.Extensions.Builtins)
	}
	if cfg.Extensions.WatchDebounce != time.Second {
		t.Errorf("watch_debounce = %v", cfg.Extensions.WatchDebounce)
	}
	if got := cfg.Extensions.Settings["greetings"]["greeting"]; got != "hey" {
		t.Errorf("settings = %v", cfg.Extensions.Settings)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "cogbot.yaml", `
bot:
  prefix: /
  colour: blue
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		wantErr string
	}{
		{"prefix with space", "bot:\n  prefix: \"! \"", "bot.prefix"},
		{"telegram without token", "channels:\n  telegram:\n    enabled: true", "channels.telegram.token"},
		{"discord without token", "channels:\n  discord:\n    enabled: true", "channels.discord.token"},
		{"slack bad app token", "channels:\n  slack:\n    enabled: true\n    bot_token: xoxb-1\n    app_token: nope", "app_token"},
		{"negative rate", "channels:\n  discord:\n    throttle:\n      rate_limit: -1", "rate_limit"},
		{"unknown driver", "storage:\n  driver: mysql", "storage.driver"},
		{"sqlite without dsn", "storage:\n  driver: sqlite", "storage.dsn"},
		{"bad level", "logging:\n  level: loud", "logging.level"},
		{"bad format", "logging:\n  format: xml", "logging.format"},
		{"sample rate", "tracing:\n  sample_rate: 2", "sample_rate"},
		{"tracing without endpoint", "tracing:\n  enabled: true", "tracing.endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "cogbot.yaml", tt.config))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Load() error = %v, want ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRawIncludes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "base.yaml"), []byte("bot:\n  prefix: \"!\"\n  owners: [\"1\"]\nlogging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "storage.json5"), []byte("{storage: {driver: 'memory'}, /* comment */}"), 0o644); err != nil {
		t.Fatal(err)
	}
	main := filepath.Join(dir, "main.yaml")
	if err := os.WriteFile(main, []byte("$include: [base.yaml, storage.json5]\nbot:\n  owners: [\"2\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bot.Prefix != "!" || cfg.Logging.Level != "debug" {
		t.Errorf("included values missing: %+v", cfg)
	}
	if diff := cmp.Diff([]string{"2"}, cfg.Bot.Owners); diff != "" {
		t.Errorf("owners mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRawIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	os.WriteFile(a, []byte("$include: b.yaml\n"), 0o644)
	os.WriteFile(b, []byte("$include: a.yaml\n"), 0o644)

	if _, err := LoadRaw(a); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("LoadRaw() error = %v, want cycle error", err)
	}
}

func TestLoadRawRejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "multi.yaml", "bot: {}\n---\nbot: {}\n")
	if _, err := LoadRaw(path); err == nil {
		t.Error("expected error for multiple documents")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COGBOT_BOT_PREFIX", "?")
	t.Setenv("COGBOT_BOT_OWNERS", "1,2")
	t.Setenv("COGBOT_DISCORD_ENABLED", "true")
	t.Setenv("COGBOT_DISCORD_TOKEN", "secret")
	t.Setenv("COGBOT_DISCORD_RATE_LIMIT", "5")
	t.Setenv("COGBOT_STORAGE_DRIVER", "postgres")
	t.Setenv("COGBOT_STORAGE_DSN", "postgres://localhost/cogbot")
	t.Setenv("COGBOT_EXTENSIONS_WATCH_DEBOUNCE", "2s")

	path := writeConfig(t, "cogbot.yaml", "bot:\n  prefix: \"!\"\n  username: cogbot\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bot.Prefix != "?" || cfg.Bot.Username != "cogbot" {
		t.Errorf("bot = %+v", cfg.Bot)
	}
	if diff := cmp.Diff([]string{"1", "2"}, cfg.Bot.Owners); diff != "" {
		t.Errorf("owners mismatch (-want +got):\n%s", diff)
	}
	if !cfg.Channels.Discord.Enabled || cfg.Channels.Discord.Token != "secret" || cfg.Channels.Discord.Throttle.RateLimit != 5 {
		t.Errorf("discord = %+v", cfg.Channels.Discord)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Extensions.WatchDebounce != 2*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("COGBOT_TEST_DOTENV=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COGBOT_TEST_DOTENV", "")
	os.Unsetenv("COGBOT_TEST_DOTENV")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), envFile); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("COGBOT_TEST_DOTENV"); got != "from-file" {
		t.Errorf("COGBOT_TEST_DOTENV = %q", got)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	for _, def := range []string{"Config", "BotConfig", "ExtensionsConfig"} {
		if !strings.Contains(string(data), `"`+def+`"`) {
			t.Errorf("schema missing %s", def)
		}
	}
}
