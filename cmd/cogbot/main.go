// Package main provides the CLI entry point for cogbot, a chat bot whose
// commands live in hot-reloadable extensions.
//
// # Basic Usage
//
// Start the bot:
//
//	cogbot serve --config cogbot.yaml
//
// Inspect what the configured extensions register:
//
//	cogbot commands
//	cogbot extensions list
//
// Check manifest files before deploying them:
//
//	cogbot extensions validate extensions/*.cog.yaml
//
// # Environment Variables
//
//   - COGBOT_CONFIG: path to the configuration file (default: cogbot.yaml)
//   - COGBOT_TELEGRAM_TOKEN, COGBOT_DISCORD_TOKEN, COGBOT_SLACK_BOT_TOKEN,
//     COGBOT_SLACK_APP_TOKEN: channel credentials
//   - COGBOT_BOT_OWNERS: comma-separated owner user ids
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/cogbot/internal/observability"
)

// Build information, set with -ldflags "-X main.version=v1.0.0 -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "cogbot.yaml"

func main() {
	slog.SetDefault(observability.NewLogger(observability.LogConfig{Level: "info", Format: "auto"}))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cogbot",
		Short: "cogbot - extensible chat command bot",
		Long: `cogbot answers prefixed commands on Telegram, Discord and Slack.

Commands are grouped into plugins and shipped as extensions: built into the
binary, declared in *.cog.yaml manifests, or compiled as Go plugins. Extensions
can be loaded, unloaded and reloaded while the bot runs.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildCommandsCmd(),
		buildExtensionsCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}

// resolveConfigPath falls back to $COGBOT_CONFIG, then to cogbot.yaml when
// that file exists. An empty result means environment-only configuration.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("COGBOT_CONFIG")); env != "" {
		return env
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}
