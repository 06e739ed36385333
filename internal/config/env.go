package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix is the prefix of every environment override, e.g.
// COGBOT_TELEGRAM_TOKEN or COGBOT_STORAGE_DSN.
const EnvPrefix = "COGBOT_"

// LoadDotEnv loads each existing .env file into the process environment.
// Variables that are already set are not overridden. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// dotEnvCandidates returns .env in the working directory and, when it
// differs, next to the config file.
func dotEnvCandidates(configPath string) []string {
	paths := []string{".env"}
	if strings.TrimSpace(configPath) == "" {
		return paths
	}
	dir := filepath.Dir(configPath)
	if abs, err := filepath.Abs(dir); err == nil {
		if wd, err := filepath.Abs("."); err == nil && abs == wd {
			return paths
		}
	}
	return append(paths, filepath.Join(dir, ".env"))
}

// ApplyEnv overrides cfg with COGBOT_* environment variables.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("apply environment overrides: %w", err)
	}
	return nil
}
