package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that runs the bot.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot",
		Long: `Run the bot with every configured channel.

The bot will:
1. Load configuration from the given file, .env files and COGBOT_* variables
2. Open the plugin toggle store
3. Load the builtin, manifest and shared-object extensions
4. Connect the enabled channels (Telegram, Discord, Slack)
5. Serve /metrics and /healthz when metrics are enabled

SIGINT and SIGTERM shut the bot down gracefully.`,
		Example: `  # Start with cogbot.yaml from the working directory
  cogbot serve

  # Start with a specific config and verbose logs
  cogbot serve --config /etc/cogbot/prod.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML or JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// buildCommandsCmd creates the "commands" command that prints the command tree.
func buildCommandsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "commands",
		Short: "List the commands the configured extensions register",
		Long:  "Load every configured extension without connecting to any chat platform and print the command tree.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommands(cmd, resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

// buildExtensionsCmd creates the "extensions" command group.
func buildExtensionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "extensions",
		Aliases: []string{"ext"},
		Short:   "Inspect and validate extensions",
	}
	cmd.AddCommand(buildExtensionsListCmd(), buildExtensionsValidateCmd(), buildExtensionsSchemaCmd())
	return cmd
}

func buildExtensionsListCmd() *cobra.Command {
	var (
		configPath string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Load the configured extensions and list them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtensionsList(cmd, resolveConfigPath(configPath), jsonOutput)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")
	return cmd
}

func buildExtensionsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest>...",
		Short: "Validate extension manifest files",
		Example: `  cogbot extensions validate extensions/greetings.cog.yaml
  cogbot extensions validate extensions/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtensionsValidate(cmd, args)
		},
	}
}

func buildExtensionsSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of extension manifests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtensionsSchema(cmd)
		},
	}
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	var configPath string
	check := &cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigCheck(cmd, resolveConfigPath(configPath))
		},
	}
	check.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}

	cmd.AddCommand(check, schema)
	return cmd
}
