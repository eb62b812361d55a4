package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/conductor/internal/circuit"
)

// Config represents the complete conductor configuration
type Config struct {
	Worker   WorkerConfig   `mapstructure:"worker"`
	Depth    DepthConfig    `mapstructure:"depth"`
	Circuit  circuit.Config `mapstructure:"circuit"`
	Stage    StageConfig    `mapstructure:"stage"`
	Fanout   FanoutConfig   `mapstructure:"fanout"`
	Phase    PhaseConfig    `mapstructure:"phase"`
	Campaign CampaignConfig `mapstructure:"campaign"`
	Signals  SignalsConfig  `mapstructure:"signals"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Paths    PathsConfig    `mapstructure:"paths"`
}

// WorkerConfig describes the external worker command
type WorkerConfig struct {
	// Command is the worker executable (default: "claude")
	Command string `mapstructure:"command"`
	// ExtraArgs are appended to every invocation
	ExtraArgs []string `mapstructure:"extra_args"`
	// Models maps tiers (low, medium, high) to concrete model identifiers
	Models map[string]string `mapstructure:"models"`
	// AllowedTools is the default capability list passed to workers
	AllowedTools []string `mapstructure:"allowed_tools"`
	// Timeout bounds a single invocation (0 disables)
	Timeout time.Duration `mapstructure:"timeout"`
}

// DepthConfig bounds recursive invocation
type DepthConfig struct {
	// Max is the depth at which invocations are refused (default: 5)
	Max int `mapstructure:"max"`
}

// StageConfig holds defaults for stage descriptors that omit them
type StageConfig struct {
	Retries int           `mapstructure:"retries"`
	Timeout time.Duration `mapstructure:"timeout"`
	Tier    string        `mapstructure:"tier"`
}

// FanoutConfig controls the parallel orchestrator
type FanoutConfig struct {
	// Concurrency is the number of workers running at once (default: 4)
	Concurrency int `mapstructure:"concurrency"`
	// OverallTimeout bounds the whole fan-out, distinct from WorkerTimeout
	OverallTimeout time.Duration `mapstructure:"overall_timeout"`
	WorkerTimeout  time.Duration `mapstructure:"worker_timeout"`
	// ConsolidationTier is the tier used for the merge invocation
	ConsolidationTier string `mapstructure:"consolidation_tier"`
}

// PhaseConfig controls the phase coordinator
type PhaseConfig struct {
	// Retries is how often a failed phase is re-run (default: 1)
	Retries int `mapstructure:"retries"`
	// Timeout bounds a single phase subprocess (0 disables)
	Timeout time.Duration `mapstructure:"timeout"`
}

// CampaignConfig controls the campaign state machine
type CampaignConfig struct {
	MaxResearchRounds int `mapstructure:"max_research_rounds"`
	MaxHealCycles     int `mapstructure:"max_heal_cycles"`
	// Domains are the research fan-out workers for each round
	Domains      []string `mapstructure:"domains"`
	ResearchTier string   `mapstructure:"research_tier"`
	PlanTier     string   `mapstructure:"plan_tier"`
	EvaluateTier string   `mapstructure:"evaluate_tier"`
}

// SignalsConfig controls signal polling
type SignalsConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// LoggingConfig controls debug logging into the session directory
type LoggingConfig struct {
	// Enabled controls whether debug.log is written (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the minimum level: debug, info, warn, error (default: "info")
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// PathsConfig controls file locations
type PathsConfig struct {
	// Pipelines is the YAML file with pipeline and worker set definitions.
	// Empty means the built-in definitions.
	Pipelines string `mapstructure:"pipelines"`
	// SessionsDir is where named sessions live, relative to the working
	// directory unless absolute (default: ".conductor/sessions")
	SessionsDir string `mapstructure:"sessions_dir"`
}

// ResolveSessionsDir returns the absolute sessions directory, expanding ~.
func (p *PathsConfig) ResolveSessionsDir(baseDir string) string {
	path := p.SessionsDir
	if path == "" {
		return filepath.Join(baseDir, ".conductor", "sessions")
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			Command: "claude",
			Models: map[string]string{
				"low":    "haiku",
				"medium": "sonnet",
				"high":   "opus",
			},
			Timeout: 20 * time.Minute,
		},
		Depth:   DepthConfig{Max: 5},
		Circuit: circuit.DefaultConfig(),
		Stage: StageConfig{
			Retries: 1,
			Timeout: 20 * time.Minute,
			Tier:    "medium",
		},
		Fanout: FanoutConfig{
			Concurrency:       4,
			OverallTimeout:    30 * time.Minute,
			WorkerTimeout:     15 * time.Minute,
			ConsolidationTier: "high",
		},
		Phase: PhaseConfig{
			Retries: 1,
			Timeout: 2 * time.Hour,
		},
		Campaign: CampaignConfig{
			MaxResearchRounds: 3,
			MaxHealCycles:     2,
			Domains:           []string{"architecture", "risks", "prior-art"},
			ResearchTier:      "medium",
			PlanTier:          "high",
			EvaluateTier:      "medium",
		},
		Signals: SignalsConfig{PollInterval: 2 * time.Second},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Paths: PathsConfig{SessionsDir: ".conductor/sessions"},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("worker.command", defaults.Worker.Command)
	viper.SetDefault("worker.extra_args", defaults.Worker.ExtraArgs)
	for tier, model := range defaults.Worker.Models {
		viper.SetDefault("worker.models."+tier, model)
	}
	viper.SetDefault("worker.allowed_tools", defaults.Worker.AllowedTools)
	viper.SetDefault("worker.timeout", defaults.Worker.Timeout)

	viper.SetDefault("depth.max", defaults.Depth.Max)

	viper.SetDefault("circuit.failure_threshold", defaults.Circuit.FailureThreshold)
	viper.SetDefault("circuit.success_threshold", defaults.Circuit.SuccessThreshold)
	viper.SetDefault("circuit.reset_timeout", defaults.Circuit.ResetTimeout)

	viper.SetDefault("stage.retries", defaults.Stage.Retries)
	viper.SetDefault("stage.timeout", defaults.Stage.Timeout)
	viper.SetDefault("stage.tier", defaults.Stage.Tier)

	viper.SetDefault("fanout.concurrency", defaults.Fanout.Concurrency)
	viper.SetDefault("fanout.overall_timeout", defaults.Fanout.OverallTimeout)
	viper.SetDefault("fanout.worker_timeout", defaults.Fanout.WorkerTimeout)
	viper.SetDefault("fanout.consolidation_tier", defaults.Fanout.ConsolidationTier)

	viper.SetDefault("phase.retries", defaults.Phase.Retries)
	viper.SetDefault("phase.timeout", defaults.Phase.Timeout)

	viper.SetDefault("campaign.max_research_rounds", defaults.Campaign.MaxResearchRounds)
	viper.SetDefault("campaign.max_heal_cycles", defaults.Campaign.MaxHealCycles)
	viper.SetDefault("campaign.domains", defaults.Campaign.Domains)
	viper.SetDefault("campaign.research_tier", defaults.Campaign.ResearchTier)
	viper.SetDefault("campaign.plan_tier", defaults.Campaign.PlanTier)
	viper.SetDefault("campaign.evaluate_tier", defaults.Campaign.EvaluateTier)

	viper.SetDefault("signals.poll_interval", defaults.Signals.PollInterval)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	viper.SetDefault("paths.pipelines", defaults.Paths.Pipelines)
	viper.SetDefault("paths.sessions_dir", defaults.Paths.SessionsDir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when it
// cannot be loaded
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "conductor")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conductor"
	}
	return filepath.Join(home, ".config", "conductor")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidTiers returns the model tiers understood by the invocation layer
func ValidTiers() []string {
	return []string{"low", "medium", "high"}
}
