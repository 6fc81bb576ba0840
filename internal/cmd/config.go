package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/issueforge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify issueforge configuration",
	Long: `View or modify issueforge configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  issueforge config set execution.max_replans 3
  issueforge config set execution.coder_timeout 20m
  issueforge config set logging.level debug

The value is checked against the full configuration before it is saved.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/issueforge/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "# Config file: %s\n", used)
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	_, err = out.Write(data)
	return err
}

// parseConfigValue converts value to the type of the key's default.
func parseConfigValue(key, value string) (any, error) {
	if !viper.IsSet(key) {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'issueforge config show' to see valid keys", key)
	}
	switch viper.Get(key).(type) {
	case bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		return n, nil
	case float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected number", key)
		}
		return f, nil
	case time.Duration:
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected duration like 10m", key)
		}
		return d.String(), nil
	case []string, []any:
		return strings.Fields(value), nil
	case string:
		return value, nil
	default:
		return nil, fmt.Errorf("%s cannot be set from the command line; edit %s instead", key, config.ConfigFile())
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := strings.ToLower(args[0])
	typedValue, err := parseConfigValue(key, args[1])
	if err != nil {
		return err
	}

	viper.Set(key, typedValue)
	if _, err := config.Load(); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	// Ensure config directory exists
	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)
	return nil
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'issueforge config set' to modify values", configFile)
	}
	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintln(out, used)
		return nil
	}
	fmt.Fprintln(out, config.ConfigFile())
	return nil
}

const defaultConfigTemplate = `# issueforge configuration

execution:
  # Coder -> review cycles per advisor round
  max_coding_iterations: 5
  # Issue advisor consultations per issue
  max_advisor_invocations: 2
  enable_issue_advisor: true
  # Outer replanner invocations per build
  max_replans: 2
  enable_replanning: true
  enable_integration_testing: true
  max_integration_test_retries: 1
  # Give every issue its own branch and worktree
  enable_git_isolation: true
  # Issues running at once within a level (0 = unbounded)
  max_concurrent_issues: 0
  capability_timeout: 30m
  coder_timeout: 45m
  merge_timeout: 20m
  integration_test_timeout: 30m
  # Capability calls per second (0 = unlimited)
  capability_rate_limit: 0
  capability_burst: 1

capabilities:
  # Command serving agent capabilities. It reads
  # {"capability": "<name>", "payload": {...}} on stdin and writes the
  # result as JSON on stdout.
  command: []
  # Per-capability commands, e.g.
  # overrides:
  #   coder: ["my-coder", "--fast"]
  overrides: {}
  # Serve workspace-setup, workspace-cleanup, merger and git-init in-process
  native_git: true
  env: []

workspace:
  # Empty means .issueforge/worktrees inside each repository
  worktree_dir: ""
  integration_branch_prefix: integration
  # Multi-repository builds list their repositories here:
  # repos:
  #   - name: api
  #     path: ../api
  #     role: primary
  repos: []

logging:
  # debug, info, warn, error
  level: info
  max_size_mb: 10
  max_backups: 3

telemetry:
  tracing: false
  # Empty means <artifacts>/execution/traces.jsonl
  trace_file: ""
  # e.g. ":9090" to serve /metrics
  metrics_addr: ""
`
