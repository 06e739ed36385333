package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/cogbot/internal/commands"
	"github.com/haasonsaas/cogbot/internal/config"
	"github.com/haasonsaas/cogbot/internal/gateway"
	"github.com/haasonsaas/cogbot/internal/observability"
	"github.com/haasonsaas/cogbot/internal/plugins"
)

func newLogger(cfg *config.Config, debug bool) *slog.Logger {
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
}

// runServe loads configuration, starts the bot and blocks until a shutdown
// signal or a channel failure.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg, debug)
	slog.SetDefault(logger)
	logger.Info("starting cogbot",
		"version", version,
		"commit", commit,
		"config", configPath,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server, err := gateway.NewServer(ctx, cfg, logger,
		gateway.WithConfigPath(configPath),
		gateway.WithVersion(version),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize bot: %w", err)
	}

	runErr := server.Start(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("bot stopped with error", "error", runErr)
	} else {
		runErr = nil
		logger.Info("shutdown signal received, initiating graceful shutdown")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown failed: %w", err))
	}
	logger.Info("cogbot stopped")
	return runErr
}

// offlineServer builds the bot and loads its extensions without connecting
// to any chat platform. Logs go to stderr at warn level so they do not mix
// with command output.
func offlineServer(cmd *cobra.Command, configPath string) (*gateway.Server, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Metrics.Enabled = false
	cfg.Tracing.Enabled = false
	logger := observability.NewLogger(observability.LogConfig{
		Level:  "warn",
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})

	server, err := gateway.NewServer(cmd.Context(), cfg, logger, gateway.WithConfigPath(configPath))
	if err != nil {
		return nil, nil, err
	}
	if err := server.LoadExtensions(cmd.Context()); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	return server, cfg, nil
}

func runCommands(cmd *cobra.Command, configPath string) error {
	server, cfg, err := offlineServer(cmd, configPath)
	if err != nil {
		return err
	}
	defer server.Stop(context.Background())

	printCommandTree(cmd.OutOrStdout(), server.Registry(), cfg.Bot.Prefix)
	return nil
}

// printCommandTree writes every command, grouped by plugin, with
// sub-commands indented under their group.
func printCommandTree(out io.Writer, reg *commands.Registry, prefix string) {
	names := reg.Names()
	if len(names) == 0 {
		fmt.Fprintln(out, "No commands registered.")
		return
	}
	byPlugin := make(map[string][]*commands.Command)
	var order []string
	for _, cmd := range reg.Commands() {
		plugin := "(no plugin)"
		if p := cmd.Plugin(); p != nil {
			plugin = p.Name
			if !p.Enabled() {
				plugin += " (disabled)"
			}
		}
		if _, seen := byPlugin[plugin]; !seen {
			order = append(order, plugin)
		}
		byPlugin[plugin] = append(byPlugin[plugin], cmd)
	}

	for i, plugin := range order {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, plugin)
		for _, root := range byPlugin[plugin] {
			root.Walk(func(c *commands.Command) bool {
				depth := strings.Count(c.QualifiedName(), " ")
				line := strings.Repeat("  ", depth+1) + prefix + c.QualifiedName()
				if sig := c.Signature(); sig != "" {
					line += " " + sig
				}
				if len(c.Aliases) > 0 {
					line += " (aliases: " + strings.Join(c.Aliases, ", ") + ")"
				}
				if c.Hidden {
					line += " [hidden]"
				}
				if c.Description != "" {
					line += " - " + c.Description
				}
				fmt.Fprintln(out, line)
				return true
			})
		}
	}
}

func runExtensionsList(cmd *cobra.Command, configPath string, jsonOutput bool) error {
	server, _, err := offlineServer(cmd, configPath)
	if err != nil {
		return err
	}
	defer server.Stop(context.Background())

	exts := server.Manager().Extensions()
	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(exts)
	}
	if len(exts) == 0 {
		fmt.Fprintln(out, "No extensions loaded.")
		return nil
	}
	fmt.Fprintf(out, "Loaded extensions (%d):\n\n", len(exts))
	for _, ext := range exts {
		fmt.Fprintf(out, "  %s\n", ext.ID)
		if len(ext.Plugins) > 0 {
			fmt.Fprintf(out, "    Plugins: %s\n", strings.Join(ext.Plugins, ", "))
		}
		if len(ext.Commands) > 0 {
			fmt.Fprintf(out, "    Commands: %s\n", strings.Join(ext.Commands, ", "))
		}
		if ext.Listeners > 0 || ext.Schedules > 0 {
			fmt.Fprintf(out, "    Listeners: %d, schedules: %d\n", ext.Listeners, ext.Schedules)
		}
	}
	return nil
}

// runExtensionsValidate checks each manifest file, or every manifest under
// each directory argument.
func runExtensionsValidate(cmd *cobra.Command, args []string) error {
	files, err := plugins.Discover(args)
	if err != nil {
		return err
	}
	for _, arg := range args {
		if info, err := os.Stat(arg); err == nil && !info.IsDir() && !plugins.IsManifestFile(arg) {
			files = append(files, arg)
		} else if err != nil {
			return fmt.Errorf("%s: %w", arg, err)
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("no manifest files found")
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, file := range files {
		m, err := plugins.DecodeManifestFile(file)
		if err == nil {
			_, err = m.SetupFunc()
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s\n  %v\n", file, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s (%s)\n", file, plugins.ManifestID(file))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d manifests failed validation", failed, len(files))
	}
	return nil
}

func runExtensionsSchema(cmd *cobra.Command) error {
	schema, err := plugins.ManifestSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}

func runConfigCheck(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			for _, issue := range verr.Issues {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", issue)
			}
		}
		return err
	}
	out := cmd.OutOrStdout()
	source := configPath
	if source == "" {
		source = "environment"
	}
	fmt.Fprintf(out, "Configuration OK (%s)\n", source)
	fmt.Fprintf(out, "  prefix: %s\n", cfg.Bot.Prefix)
	fmt.Fprintf(out, "  channels: %s\n", strings.Join(enabledChannelNames(cfg), ", "))
	fmt.Fprintf(out, "  storage: %s\n", cfg.Storage.Driver)
	fmt.Fprintf(out, "  builtins: %s\n", strings.Join(cfg.Extensions.Builtins, ", "))
	return nil
}

func enabledChannelNames(cfg *config.Config) []string {
	var names []string
	if cfg.Channels.Telegram.Enabled {
		names = append(names, "telegram")
	}
	if cfg.Channels.Discord.Enabled {
		names = append(names, "discord")
	}
	if cfg.Channels.Slack.Enabled {
		names = append(names, "slack")
	}
	if len(names) == 0 {
		names = []string{"none"}
	}
	return names
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}
