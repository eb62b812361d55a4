package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/conductor/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify conductor configuration",
	Long: `View or modify conductor configuration.

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
  conductor config set fanout.concurrency 8
  conductor config set worker.timeout 30m
  conductor config set campaign.max_heal_cycles 1

Run 'conductor config show' to see every key.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/conductor/config.yaml with all available options.`,
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

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "# Config file: (none - using defaults)\n")
	}

	data, err := yaml.Marshal(configView(cfg))
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// configView mirrors Config with the mapstructure key names, so show
// prints keys exactly as they are set.
func configView(c *config.Config) map[string]any {
	return map[string]any{
		"worker": map[string]any{
			"command":       c.Worker.Command,
			"extra_args":    c.Worker.ExtraArgs,
			"models":        c.Worker.Models,
			"allowed_tools": c.Worker.AllowedTools,
			"timeout":       c.Worker.Timeout.String(),
		},
		"depth": map[string]any{"max": c.Depth.Max},
		"circuit": map[string]any{
			"failure_threshold": c.Circuit.FailureThreshold,
			"success_threshold": c.Circuit.SuccessThreshold,
			"reset_timeout":     c.Circuit.ResetTimeout.String(),
		},
		"stage": map[string]any{
			"retries": c.Stage.Retries,
			"timeout": c.Stage.Timeout.String(),
			"tier":    c.Stage.Tier,
		},
		"fanout": map[string]any{
			"concurrency":        c.Fanout.Concurrency,
			"overall_timeout":    c.Fanout.OverallTimeout.String(),
			"worker_timeout":     c.Fanout.WorkerTimeout.String(),
			"consolidation_tier": c.Fanout.ConsolidationTier,
		},
		"phase": map[string]any{
			"retries": c.Phase.Retries,
			"timeout": c.Phase.Timeout.String(),
		},
		"campaign": map[string]any{
			"max_research_rounds": c.Campaign.MaxResearchRounds,
			"max_heal_cycles":     c.Campaign.MaxHealCycles,
			"domains":             c.Campaign.Domains,
			"research_tier":       c.Campaign.ResearchTier,
			"plan_tier":           c.Campaign.PlanTier,
			"evaluate_tier":       c.Campaign.EvaluateTier,
		},
		"signals": map[string]any{"poll_interval": c.Signals.PollInterval.String()},
		"logging": map[string]any{
			"enabled":     c.Logging.Enabled,
			"level":       c.Logging.Level,
			"max_size_mb": c.Logging.MaxSizeMB,
			"max_backups": c.Logging.MaxBackups,
		},
		"paths": map[string]any{
			"pipelines":    c.Paths.Pipelines,
			"sessions_dir": c.Paths.SessionsDir,
		},
	}
}

// settableKeys maps every scalar key to its value type.
var settableKeys = map[string]string{
	"worker.command":               "string",
	"worker.timeout":               "duration",
	"depth.max":                    "int",
	"circuit.failure_threshold":    "int",
	"circuit.success_threshold":    "int",
	"circuit.reset_timeout":        "duration",
	"stage.retries":                "int",
	"stage.timeout":                "duration",
	"stage.tier":                   "string",
	"fanout.concurrency":           "int",
	"fanout.overall_timeout":       "duration",
	"fanout.worker_timeout":        "duration",
	"fanout.consolidation_tier":    "string",
	"phase.retries":                "int",
	"phase.timeout":                "duration",
	"campaign.max_research_rounds": "int",
	"campaign.max_heal_cycles":     "int",
	"campaign.research_tier":       "string",
	"campaign.plan_tier":           "string",
	"campaign.evaluate_tier":       "string",
	"signals.poll_interval":        "duration",
	"logging.enabled":              "bool",
	"logging.level":                "string",
	"logging.max_size_mb":          "int",
	"logging.max_backups":          "int",
	"paths.pipelines":              "string",
	"paths.sessions_dir":           "string",
}

// parseConfigValue converts value to the type registered for key.
func parseConfigValue(key, value string) (any, error) {
	keyType, ok := settableKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'conductor config show' to see valid keys", key)
	}
	switch keyType {
	case "bool":
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return value == "true", nil
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	case "duration":
		if _, err := time.ParseDuration(value); err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected a duration like 90s or 20m", key)
		}
		return value, nil
	}
	if strings.HasSuffix(key, "tier") && !slices.Contains(config.ValidTiers(), value) {
		return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
			key, value, strings.Join(config.ValidTiers(), ", "))
	}
	return value, nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	typedValue, err := parseConfigValue(key, args[1])
	if err != nil {
		return err
	}

	// Validate the whole config with the new value before saving it
	viper.Set(key, typedValue)
	if _, err := config.Load(); err != nil {
		return err
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

const defaultConfigContent = `# Conductor configuration

# The worker process every layer spawns
worker:
  command: claude
  # Model per tier
  models:
    low: haiku
    medium: sonnet
    high: opus
  timeout: 20m

# Maximum nesting of worker invocations
depth:
  max: 5

# Per-agent-type circuit breaker
circuit:
  failure_threshold: 3
  success_threshold: 1
  reset_timeout: 60s

stage:
  retries: 1
  timeout: 20m
  tier: medium

fanout:
  concurrency: 4
  overall_timeout: 30m
  worker_timeout: 15m
  consolidation_tier: high

phase:
  retries: 1
  timeout: 2h

campaign:
  max_research_rounds: 3
  max_heal_cycles: 2
  domains: [architecture, risks, prior-art]
  research_tier: medium
  plan_tier: high
  evaluate_tier: medium

signals:
  poll_interval: 2s

logging:
  enabled: true
  level: info
  max_size_mb: 10
  max_backups: 3

paths:
  # YAML file with extra pipelines and worker sets
  pipelines: ""
  sessions_dir: .conductor/sessions
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'conductor config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. $HOME/.config/conductor/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: CONDUCTOR_* (e.g., CONDUCTOR_FANOUT_CONCURRENCY)")
	return nil
}
